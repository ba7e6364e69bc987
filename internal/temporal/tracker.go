// Package temporal maintains point-in-time entity state, bi-temporal in
// the SCD-2 style: each value carries an explicit validity interval, and
// for any state key at most one row is current.
package temporal

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hindsight-dev/hindsight/internal/model"
)

// Store is the transactional state storage, backed by the relational DB.
type Store interface {
	RecordStateChange(s *model.TemporalState) error
	GetCurrentState(workspaceID, entityType, entityID, stateType string) (*model.TemporalState, error)
	GetStateAt(workspaceID, entityType, entityID, stateType string, t time.Time) (*model.TemporalState, error)
	ListStateHistory(workspaceID, entityType, entityID, stateType string) ([]model.TemporalState, error)
}

// lockStripes bounds memory for per-key serialization; writers for
// distinct keys rarely collide on a stripe.
const lockStripes = 64

// Tracker serializes state transitions per key. Concurrent writers on
// the same (workspace, entityType, entityId, stateType) key would
// otherwise race the close-then-insert and leave two current rows.
type Tracker struct {
	store Store
	locks [lockStripes]sync.Mutex
}

// NewTracker creates a tracker over the given store.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// ChangeInput describes one state transition.
type ChangeInput struct {
	WorkspaceID         string
	EntityType          string
	EntityID            string
	StateType           string
	StateValue          string
	ValidFrom           time.Time
	ChangedByActorID    string
	SourceObservationID string
}

// RecordStateChange closes the key's current row (if any) and inserts the
// new current row. The whole transition is atomic against concurrent
// writers for the same key.
func (t *Tracker) RecordStateChange(in ChangeInput) (*model.TemporalState, error) {
	lock := &t.locks[t.stripe(in.WorkspaceID, in.EntityType, in.EntityID, in.StateType)]
	lock.Lock()
	defer lock.Unlock()

	if in.ValidFrom.IsZero() {
		in.ValidFrom = time.Now().UTC()
	}

	s := &model.TemporalState{
		ID:                  uuid.NewString(),
		WorkspaceID:         in.WorkspaceID,
		EntityType:          in.EntityType,
		EntityID:            in.EntityID,
		StateType:           in.StateType,
		StateValue:          in.StateValue,
		ValidFrom:           in.ValidFrom,
		ChangedByActorID:    in.ChangedByActorID,
		SourceObservationID: in.SourceObservationID,
	}
	if err := t.store.RecordStateChange(s); err != nil {
		return nil, err
	}
	return s, nil
}

// GetCurrentState returns the key's current state via the is_current
// flag, or nil when no state exists.
func (t *Tracker) GetCurrentState(workspaceID, entityType, entityID, stateType string) (*model.TemporalState, error) {
	return t.store.GetCurrentState(workspaceID, entityType, entityID, stateType)
}

// GetStateAt returns the state valid at instant ts, or nil.
func (t *Tracker) GetStateAt(workspaceID, entityType, entityID, stateType string, ts time.Time) (*model.TemporalState, error) {
	return t.store.GetStateAt(workspaceID, entityType, entityID, stateType, ts)
}

// History returns all rows for a key ordered by validity.
func (t *Tracker) History(workspaceID, entityType, entityID, stateType string) ([]model.TemporalState, error) {
	return t.store.ListStateHistory(workspaceID, entityType, entityID, stateType)
}

func (t *Tracker) stripe(parts ...string) uint32 {
	h := fnv.New32a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum32() % lockStripes
}
