package database

import (
	"strings"

	"github.com/hindsight-dev/hindsight/internal/model"
)

// EntityMatch is one observation sharing an entity key with a query.
type EntityMatch struct {
	ObservationID string
	Key           string
	Category      string
}

// getEntitiesFor returns the extracted entities of one observation.
func (db *DB) getEntitiesFor(observationID string) ([]model.Entity, error) {
	rows, err := db.conn.Query(
		"SELECT key, category, source_observation_id, workspace_id FROM entities WHERE source_observation_id = ?",
		observationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		var e model.Entity
		if err := rows.Scan(&e.Key, &e.Category, &e.SourceObservationID, &e.WorkspaceID); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// FindObservationsByEntityKeys returns all observations sharing any of
// the given entity keys within a workspace.
func (db *DB) FindObservationsByEntityKeys(workspaceID string, keys []string) ([]EntityMatch, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(keys)), ",")
	args := make([]any, 0, len(keys)+1)
	args = append(args, workspaceID)
	for _, k := range keys {
		args = append(args, k)
	}

	rows, err := db.conn.Query(
		`SELECT source_observation_id, key, category FROM entities
		WHERE workspace_id = ? AND key IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EntityMatch
	for rows.Next() {
		var m EntityMatch
		if err := rows.Scan(&m.ObservationID, &m.Key, &m.Category); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
