package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/hindsight-dev/hindsight/internal/model"
)

const temporalColumns = `id, workspace_id, entity_type, entity_id, state_type, state_value,
	COALESCE(previous_value, ''), valid_from, valid_to, is_current,
	COALESCE(changed_by_actor_id, ''), COALESCE(source_observation_id, '')`

// RecordStateChange closes the current row for the state key (if any) and
// inserts the new row, in one transaction. Callers must serialize
// concurrent writers for the same key; see the temporal package.
func (db *DB) RecordStateChange(s *model.TemporalState) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var prevValue string
	err = tx.QueryRow(
		`SELECT state_value FROM temporal_states
		WHERE workspace_id = ? AND entity_type = ? AND entity_id = ? AND state_type = ? AND is_current = 1`,
		s.WorkspaceID, s.EntityType, s.EntityID, s.StateType,
	).Scan(&prevValue)
	switch {
	case err == sql.ErrNoRows:
		// first state for this key
	case err != nil:
		return err
	default:
		s.PreviousValue = prevValue
		_, err = tx.Exec(
			`UPDATE temporal_states SET is_current = 0, valid_to = ?
			WHERE workspace_id = ? AND entity_type = ? AND entity_id = ? AND state_type = ? AND is_current = 1`,
			timeToDB(s.ValidFrom), s.WorkspaceID, s.EntityType, s.EntityID, s.StateType,
		)
		if err != nil {
			return fmt.Errorf("closing current state: %w", err)
		}
	}

	_, err = tx.Exec(
		`INSERT INTO temporal_states
		(id, workspace_id, entity_type, entity_id, state_type, state_value, previous_value,
		 valid_from, valid_to, is_current, changed_by_actor_id, source_observation_id)
		VALUES (?,?,?,?,?,?,?,?,NULL,1,?,?)`,
		s.ID, s.WorkspaceID, s.EntityType, s.EntityID, s.StateType, s.StateValue,
		nullStr(s.PreviousValue), timeToDB(s.ValidFrom),
		nullStr(s.ChangedByActorID), nullStr(s.SourceObservationID),
	)
	if err != nil {
		return fmt.Errorf("inserting state: %w", err)
	}
	s.IsCurrent = true
	return tx.Commit()
}

// GetCurrentState returns the current row for a state key via the
// is_current flag; no range scan. Nil when no state exists.
func (db *DB) GetCurrentState(workspaceID, entityType, entityID, stateType string) (*model.TemporalState, error) {
	row := db.conn.QueryRow(
		`SELECT `+temporalColumns+` FROM temporal_states
		WHERE workspace_id = ? AND entity_type = ? AND entity_id = ? AND state_type = ? AND is_current = 1`,
		workspaceID, entityType, entityID, stateType,
	)
	s, err := scanTemporalState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// GetStateAt returns the row valid at instant t, or nil.
func (db *DB) GetStateAt(workspaceID, entityType, entityID, stateType string, t time.Time) (*model.TemporalState, error) {
	row := db.conn.QueryRow(
		`SELECT `+temporalColumns+` FROM temporal_states
		WHERE workspace_id = ? AND entity_type = ? AND entity_id = ? AND state_type = ?
		AND valid_from <= ? AND (valid_to IS NULL OR ? < valid_to)`,
		workspaceID, entityType, entityID, stateType, timeToDB(t), timeToDB(t),
	)
	s, err := scanTemporalState(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, err
}

// ListStateHistory returns all rows for a state key ordered by validity.
func (db *DB) ListStateHistory(workspaceID, entityType, entityID, stateType string) ([]model.TemporalState, error) {
	rows, err := db.conn.Query(
		`SELECT `+temporalColumns+` FROM temporal_states
		WHERE workspace_id = ? AND entity_type = ? AND entity_id = ? AND state_type = ?
		ORDER BY valid_from ASC`,
		workspaceID, entityType, entityID, stateType,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TemporalState
	for rows.Next() {
		s, err := scanTemporalState(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanTemporalState(row rowScanner) (*model.TemporalState, error) {
	var s model.TemporalState
	var validFrom string
	var validTo sql.NullString
	var isCurrent int
	err := row.Scan(&s.ID, &s.WorkspaceID, &s.EntityType, &s.EntityID, &s.StateType,
		&s.StateValue, &s.PreviousValue, &validFrom, &validTo, &isCurrent,
		&s.ChangedByActorID, &s.SourceObservationID)
	if err != nil {
		return nil, err
	}
	s.ValidFrom = timeFromDB(validFrom)
	if validTo.Valid {
		t := timeFromDB(validTo.String)
		s.ValidTo = &t
	}
	s.IsCurrent = isCurrent == 1
	return &s, nil
}
