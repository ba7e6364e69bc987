package database

import (
	"database/sql"
	"fmt"

	"github.com/hindsight-dev/hindsight/internal/model"
)

// GetWorkspaceConfig returns the index/model settings for a workspace.
// Nil when the workspace has no configuration.
func (db *DB) GetWorkspaceConfig(workspaceID string) (*model.WorkspaceConfig, error) {
	var cfg model.WorkspaceConfig
	err := db.conn.QueryRow(
		`SELECT workspace_id, index_name, namespace_name, embedding_model, embedding_dim
		FROM workspaces WHERE workspace_id = ?`,
		workspaceID,
	).Scan(&cfg.WorkspaceID, &cfg.IndexName, &cfg.NamespaceName, &cfg.EmbeddingModel, &cfg.EmbeddingDim)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpsertWorkspaceConfig creates or replaces a workspace's settings.
func (db *DB) UpsertWorkspaceConfig(cfg model.WorkspaceConfig) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO workspaces (workspace_id, index_name, namespace_name, embedding_model, embedding_dim)
		VALUES (?,?,?,?,?)`,
		cfg.WorkspaceID, cfg.IndexName, cfg.NamespaceName, cfg.EmbeddingModel, cfg.EmbeddingDim,
	)
	return err
}

// DeleteWorkspace removes a workspace and everything it owns. This is the
// only path that deletes observations.
func (db *DB) DeleteWorkspace(workspaceID string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmts := []string{
		"DELETE FROM entities WHERE workspace_id = ?",
		"DELETE FROM observations WHERE workspace_id = ?",
		"DELETE FROM clusters WHERE workspace_id = ?",
		"DELETE FROM actor_profiles WHERE workspace_id = ?",
		"DELETE FROM actor_identities WHERE workspace_id = ?",
		"DELETE FROM temporal_states WHERE workspace_id = ?",
		"DELETE FROM webhook_payloads WHERE workspace_id = ?",
		"DELETE FROM workspaces WHERE workspace_id = ?",
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, workspaceID); err != nil {
			return fmt.Errorf("workspace teardown: %w", err)
		}
	}
	return tx.Commit()
}
