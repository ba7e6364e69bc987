// Package database is the relational store for observations, entities,
// clusters, actor profiles, temporal state, and the webhook audit log.
package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates or opens a SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := migrate(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return &DB{conn: conn, path: dbPath}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Stats contains aggregate database statistics.
type Stats struct {
	Observations    int
	Entities        int
	Clusters        int
	Actors          int
	TemporalStates  int
	WebhookPayloads int
	FailedWebhooks  int
	Workspaces      int
}

// GetStats returns aggregate counts across all workspaces.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}
	counts := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM observations", &s.Observations},
		{"SELECT COUNT(*) FROM entities", &s.Entities},
		{"SELECT COUNT(*) FROM clusters", &s.Clusters},
		{"SELECT COUNT(*) FROM actor_profiles", &s.Actors},
		{"SELECT COUNT(*) FROM temporal_states", &s.TemporalStates},
		{"SELECT COUNT(*) FROM webhook_payloads", &s.WebhookPayloads},
		{"SELECT COUNT(*) FROM webhook_payloads WHERE status = 'failed'", &s.FailedWebhooks},
		{"SELECT COUNT(*) FROM workspaces", &s.Workspaces},
	}
	for _, c := range counts {
		if err := db.conn.QueryRow(c.query).Scan(c.dest); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// timeToDB formats a timestamp for storage. Fixed-width nanoseconds keep
// lexical ordering equal to chronological ordering for SQL range
// predicates.
func timeToDB(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

// timeFromDB parses a stored timestamp. Zero time on empty or malformed.
func timeFromDB(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	// datetime('now') column defaults
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// jsonToDB marshals v, returning "" for nil/empty values.
func jsonToDB(v any) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return ""
	}
	return string(data)
}

// jsonFromDB unmarshals data into v, ignoring empty input.
func jsonFromDB(data string, v any) {
	if data == "" {
		return
	}
	_ = json.Unmarshal([]byte(data), v)
}

// nullStr converts an empty string to NULL for storage.
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
