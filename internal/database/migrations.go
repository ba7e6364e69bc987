package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS workspaces (
    workspace_id TEXT PRIMARY KEY,
    index_name TEXT NOT NULL,
    namespace_name TEXT NOT NULL,
    embedding_model TEXT NOT NULL,
    embedding_dim INTEGER NOT NULL,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS observations (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL,
    source TEXT NOT NULL,
    source_type TEXT NOT NULL,
    source_id TEXT NOT NULL,
    title TEXT NOT NULL,
    content TEXT,
    url TEXT,
    occurred_at TEXT NOT NULL,
    significance_score INTEGER NOT NULL DEFAULT 0,
    score_factors TEXT,
    topics TEXT,
    source_references TEXT,
    embedding_title TEXT,
    embedding_content TEXT,
    embedding_summary TEXT,
    cluster_id TEXT,
    actor_user_id TEXT,
    actor_confidence REAL NOT NULL DEFAULT 0,
    actor_method TEXT NOT NULL DEFAULT 'unresolved',
    raw_actor TEXT,
    metadata TEXT,
    created_at TEXT DEFAULT (datetime('now')),
    UNIQUE(workspace_id, source_id)
);

CREATE TABLE IF NOT EXISTS entities (
    key TEXT NOT NULL,
    category TEXT NOT NULL,
    source_observation_id TEXT NOT NULL REFERENCES observations(id) ON DELETE CASCADE,
    workspace_id TEXT NOT NULL,
    PRIMARY KEY (source_observation_id, category, key)
);

CREATE TABLE IF NOT EXISTS clusters (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL,
    topic_label TEXT NOT NULL,
    summary TEXT,
    keywords TEXT,
    observation_count INTEGER NOT NULL DEFAULT 0,
    centroid_embedding_id TEXT NOT NULL,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS actor_profiles (
    workspace_id TEXT NOT NULL,
    actor_id TEXT NOT NULL,
    display_name TEXT NOT NULL,
    email TEXT,
    expertise_domains TEXT,
    observation_count INTEGER NOT NULL DEFAULT 0,
    last_active_at TEXT,
    PRIMARY KEY (workspace_id, actor_id)
);

CREATE TABLE IF NOT EXISTS actor_identities (
    workspace_id TEXT NOT NULL,
    source TEXT NOT NULL,
    source_username TEXT NOT NULL,
    actor_id TEXT NOT NULL,
    PRIMARY KEY (workspace_id, source, source_username)
);

CREATE TABLE IF NOT EXISTS temporal_states (
    id TEXT PRIMARY KEY,
    workspace_id TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    state_type TEXT NOT NULL,
    state_value TEXT NOT NULL,
    previous_value TEXT,
    valid_from TEXT NOT NULL,
    valid_to TEXT,
    is_current INTEGER NOT NULL DEFAULT 0,
    changed_by_actor_id TEXT,
    source_observation_id TEXT
);

CREATE TABLE IF NOT EXISTS webhook_payloads (
    workspace_id TEXT NOT NULL,
    delivery_id TEXT NOT NULL,
    headers TEXT,
    payload TEXT NOT NULL,
    status TEXT NOT NULL DEFAULT 'received',
    error TEXT,
    received_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (workspace_id, delivery_id)
);

CREATE INDEX IF NOT EXISTS idx_observations_workspace ON observations(workspace_id);
CREATE INDEX IF NOT EXISTS idx_observations_url ON observations(workspace_id, url);
CREATE INDEX IF NOT EXISTS idx_observations_cluster ON observations(cluster_id);
CREATE INDEX IF NOT EXISTS idx_entities_key ON entities(workspace_id, key);
CREATE INDEX IF NOT EXISTS idx_clusters_workspace ON clusters(workspace_id);
CREATE INDEX IF NOT EXISTS idx_temporal_key ON temporal_states(workspace_id, entity_type, entity_id, state_type);
CREATE UNIQUE INDEX IF NOT EXISTS idx_temporal_current
    ON temporal_states(workspace_id, entity_type, entity_id, state_type)
    WHERE is_current = 1;
CREATE INDEX IF NOT EXISTS idx_webhook_status ON webhook_payloads(workspace_id, status);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
