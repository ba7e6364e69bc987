package database

import (
	"database/sql"
	"strings"

	"github.com/hindsight-dev/hindsight/internal/model"
)

// InsertCluster writes a new cluster row. The centroid embedding id is
// fixed for the lifetime of the cluster.
func (db *DB) InsertCluster(c *model.Cluster) error {
	_, err := db.conn.Exec(
		`INSERT INTO clusters (id, workspace_id, topic_label, summary, keywords, observation_count, centroid_embedding_id)
		VALUES (?,?,?,?,?,?,?)`,
		c.ID, c.WorkspaceID, c.TopicLabel, nullStr(c.Summary), jsonToDB(c.Keywords),
		c.ObservationCount, c.CentroidEmbeddingID,
	)
	return err
}

// IncrementClusterCount bumps a cluster's member count by one. A missing
// row is reported as NotFoundError rather than silently updating nothing,
// so callers can tell a ghost cluster id from a successful join.
func (db *DB) IncrementClusterCount(workspaceID, clusterID string) error {
	res, err := db.conn.Exec(
		"UPDATE clusters SET observation_count = observation_count + 1 WHERE workspace_id = ? AND id = ?",
		workspaceID, clusterID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &model.NotFoundError{Kind: "cluster", ID: clusterID}
	}
	return nil
}

// GetCluster returns one cluster by id.
func (db *DB) GetCluster(workspaceID, id string) (*model.Cluster, error) {
	row := db.conn.QueryRow(
		`SELECT id, workspace_id, topic_label, COALESCE(summary, ''), COALESCE(keywords, ''),
		observation_count, centroid_embedding_id, COALESCE(created_at, '')
		FROM clusters WHERE workspace_id = ? AND id = ?`,
		workspaceID, id,
	)
	c, err := scanCluster(row)
	if err == sql.ErrNoRows {
		return nil, &model.NotFoundError{Kind: "cluster", ID: id}
	}
	return c, err
}

// GetClustersByIDs returns clusters for the given ids.
func (db *DB) GetClustersByIDs(workspaceID string, ids []string) ([]model.Cluster, error) {
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
		`SELECT id, workspace_id, topic_label, COALESCE(summary, ''), COALESCE(keywords, ''),
		observation_count, centroid_embedding_id, COALESCE(created_at, '')
		FROM clusters WHERE workspace_id = ? AND id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Cluster
	for rows.Next() {
		c, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func scanCluster(row rowScanner) (*model.Cluster, error) {
	var c model.Cluster
	var keywords, createdAt string
	err := row.Scan(&c.ID, &c.WorkspaceID, &c.TopicLabel, &c.Summary, &keywords,
		&c.ObservationCount, &c.CentroidEmbeddingID, &createdAt)
	if err != nil {
		return nil, err
	}
	jsonFromDB(keywords, &c.Keywords)
	c.CreatedAt = timeFromDB(createdAt)
	return &c, nil
}
