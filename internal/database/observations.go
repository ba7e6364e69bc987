package database

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/hindsight-dev/hindsight/internal/model"
)

const observationColumns = `id, workspace_id, source, source_type, source_id, title,
	COALESCE(content, ''), COALESCE(url, ''), occurred_at, significance_score,
	COALESCE(score_factors, ''), COALESCE(topics, ''), COALESCE(source_references, ''),
	COALESCE(embedding_title, ''), COALESCE(embedding_content, ''), COALESCE(embedding_summary, ''),
	COALESCE(cluster_id, ''), COALESCE(actor_user_id, ''), actor_confidence, actor_method,
	COALESCE(raw_actor, ''), COALESCE(metadata, ''), COALESCE(created_at, '')`

// UpsertObservation writes the canonical record and its extracted
// entities. Replaying the same (workspace_id, source_id) updates the
// existing row in place and keeps its id; created reports whether a new
// row was inserted.
func (db *DB) UpsertObservation(o *model.Observation) (created bool, err error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var existingID string
	err = tx.QueryRow(
		"SELECT id FROM observations WHERE workspace_id = ? AND source_id = ?",
		o.WorkspaceID, o.SourceID,
	).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		created = true
	case err != nil:
		return false, err
	default:
		o.ID = existingID
	}

	if created {
		_, err = tx.Exec(`INSERT INTO observations
			(id, workspace_id, source, source_type, source_id, title, content, url,
			 occurred_at, significance_score, score_factors, topics, source_references,
			 embedding_title, embedding_content, embedding_summary, cluster_id,
			 actor_user_id, actor_confidence, actor_method, raw_actor, metadata)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			o.ID, o.WorkspaceID, o.Source, o.SourceType, o.SourceID, o.Title,
			nullStr(o.Content), nullStr(o.URL), timeToDB(o.OccurredAt),
			o.SignificanceScore, jsonToDB(o.ScoreFactors), jsonToDB(o.Topics),
			jsonToDB(o.SourceReferences), nullStr(o.EmbeddingIDs.Title),
			nullStr(o.EmbeddingIDs.Content), nullStr(o.EmbeddingIDs.Summary),
			nullStr(o.ClusterID), nullStr(o.Actor.ResolvedUserID),
			o.Actor.Confidence, o.Actor.Method, jsonToDB(o.RawActor), jsonToDB(o.Metadata))
	} else {
		_, err = tx.Exec(`UPDATE observations SET
			source = ?, source_type = ?, title = ?, content = ?, url = ?,
			occurred_at = ?, significance_score = ?, score_factors = ?, topics = ?,
			source_references = ?, embedding_title = ?, embedding_content = ?,
			embedding_summary = ?, cluster_id = ?, actor_user_id = ?,
			actor_confidence = ?, actor_method = ?, raw_actor = ?, metadata = ?
			WHERE id = ?`,
			o.Source, o.SourceType, o.Title, nullStr(o.Content), nullStr(o.URL),
			timeToDB(o.OccurredAt), o.SignificanceScore, jsonToDB(o.ScoreFactors),
			jsonToDB(o.Topics), jsonToDB(o.SourceReferences),
			nullStr(o.EmbeddingIDs.Title), nullStr(o.EmbeddingIDs.Content),
			nullStr(o.EmbeddingIDs.Summary), nullStr(o.ClusterID),
			nullStr(o.Actor.ResolvedUserID), o.Actor.Confidence, o.Actor.Method,
			jsonToDB(o.RawActor), jsonToDB(o.Metadata), o.ID)
	}
	if err != nil {
		return false, fmt.Errorf("writing observation: %w", err)
	}

	// Re-derive entities on every run so reprocessing stays idempotent.
	if _, err := tx.Exec("DELETE FROM entities WHERE source_observation_id = ?", o.ID); err != nil {
		return false, err
	}
	for _, e := range o.Entities {
		if _, err := tx.Exec(
			"INSERT OR IGNORE INTO entities (key, category, source_observation_id, workspace_id) VALUES (?,?,?,?)",
			e.Key, e.Category, o.ID, o.WorkspaceID,
		); err != nil {
			return false, err
		}
	}

	return created, tx.Commit()
}

// GetObservationIDBySourceID returns the existing observation id for an
// idempotency key, or "" when the event has not been seen.
func (db *DB) GetObservationIDBySourceID(workspaceID, sourceID string) (string, error) {
	var id string
	err := db.conn.QueryRow(
		"SELECT id FROM observations WHERE workspace_id = ? AND source_id = ?",
		workspaceID, sourceID,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return id, err
}

// GetObservation returns one observation by id, entities included.
func (db *DB) GetObservation(workspaceID, id string) (*model.Observation, error) {
	row := db.conn.QueryRow(
		"SELECT "+observationColumns+" FROM observations WHERE workspace_id = ? AND id = ?",
		workspaceID, id,
	)
	o, err := scanObservation(row)
	if err == sql.ErrNoRows {
		return nil, &model.NotFoundError{Kind: "observation", ID: id}
	}
	if err != nil {
		return nil, err
	}
	o.Entities, err = db.getEntitiesFor(o.ID)
	return o, err
}

// GetObservationByURL returns the observation matching a URL, if any.
func (db *DB) GetObservationByURL(workspaceID, url string) (*model.Observation, error) {
	row := db.conn.QueryRow(
		"SELECT "+observationColumns+" FROM observations WHERE workspace_id = ? AND url = ? LIMIT 1",
		workspaceID, url,
	)
	o, err := scanObservation(row)
	if err == sql.ErrNoRows {
		return nil, &model.NotFoundError{Kind: "observation", ID: url}
	}
	if err != nil {
		return nil, err
	}
	o.Entities, err = db.getEntitiesFor(o.ID)
	return o, err
}

// GetObservationsByIDs returns the observations for the given ids,
// entities included. Missing ids are silently skipped.
func (db *DB) GetObservationsByIDs(workspaceID string, ids []string) ([]model.Observation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, workspaceID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := db.conn.Query(
		"SELECT "+observationColumns+" FROM observations WHERE workspace_id = ? AND id IN ("+placeholders+")",
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		o.Entities, err = db.getEntitiesFor(o.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(row rowScanner) (*model.Observation, error) {
	var o model.Observation
	var occurredAt, scoreFactors, topics, refs, rawActor, metadata, createdAt string
	err := row.Scan(
		&o.ID, &o.WorkspaceID, &o.Source, &o.SourceType, &o.SourceID, &o.Title,
		&o.Content, &o.URL, &occurredAt, &o.SignificanceScore,
		&scoreFactors, &topics, &refs,
		&o.EmbeddingIDs.Title, &o.EmbeddingIDs.Content, &o.EmbeddingIDs.Summary,
		&o.ClusterID, &o.Actor.ResolvedUserID, &o.Actor.Confidence, &o.Actor.Method,
		&rawActor, &metadata, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	o.OccurredAt = timeFromDB(occurredAt)
	o.CreatedAt = timeFromDB(createdAt)
	jsonFromDB(scoreFactors, &o.ScoreFactors)
	jsonFromDB(topics, &o.Topics)
	jsonFromDB(refs, &o.SourceReferences)
	jsonFromDB(rawActor, &o.RawActor)
	jsonFromDB(metadata, &o.Metadata)
	return &o, nil
}
