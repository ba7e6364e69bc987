package database

import (
	"database/sql"
	"time"

	"github.com/hindsight-dev/hindsight/internal/model"
)

const profileColumns = `workspace_id, actor_id, display_name, COALESCE(email, ''),
	COALESCE(expertise_domains, ''), observation_count, COALESCE(last_active_at, '')`

// GetIdentityActorID resolves a per-source username to a canonical actor
// id via the identity map. Empty string when no link exists.
func (db *DB) GetIdentityActorID(workspaceID, source, sourceUsername string) (string, error) {
	var actorID string
	err := db.conn.QueryRow(
		"SELECT actor_id FROM actor_identities WHERE workspace_id = ? AND source = ? AND source_username = ?",
		workspaceID, source, sourceUsername,
	).Scan(&actorID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return actorID, err
}

// LinkIdentity records a source username → actor mapping.
func (db *DB) LinkIdentity(id model.ActorIdentity) error {
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO actor_identities (workspace_id, source, source_username, actor_id)
		VALUES (?,?,?,?)`,
		id.WorkspaceID, id.Source, id.SourceUsername, id.ActorID,
	)
	return err
}

// GetProfileByEmail returns the workspace member with the given email.
func (db *DB) GetProfileByEmail(workspaceID, email string) (*model.ActorProfile, error) {
	row := db.conn.QueryRow(
		"SELECT "+profileColumns+" FROM actor_profiles WHERE workspace_id = ? AND email = ? COLLATE NOCASE",
		workspaceID, email,
	)
	p, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

// ListProfiles returns all actor profiles in a workspace.
func (db *DB) ListProfiles(workspaceID string) ([]model.ActorProfile, error) {
	rows, err := db.conn.Query(
		"SELECT "+profileColumns+" FROM actor_profiles WHERE workspace_id = ?",
		workspaceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ActorProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// UpsertProfile creates or replaces an actor profile. Used by workspace
// seeding and tests; incremental updates go through RecordActorActivity.
func (db *DB) UpsertProfile(p model.ActorProfile) error {
	lastActive := ""
	if !p.LastActiveAt.IsZero() {
		lastActive = timeToDB(p.LastActiveAt)
	}
	_, err := db.conn.Exec(
		`INSERT OR REPLACE INTO actor_profiles
		(workspace_id, actor_id, display_name, email, expertise_domains, observation_count, last_active_at)
		VALUES (?,?,?,?,?,?,?)`,
		p.WorkspaceID, p.ActorID, p.DisplayName, nullStr(p.Email),
		jsonToDB(p.ExpertiseDomains), p.ObservationCount, nullStr(lastActive),
	)
	return err
}

// RecordActorActivity attributes one observation to an actor: bumps the
// observation count, advances last_active_at, and merges the observation
// topics into the actor's expertise domains.
func (db *DB) RecordActorActivity(workspaceID, actorID string, occurredAt time.Time, topics []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var domainsJSON string
	err = tx.QueryRow(
		"SELECT COALESCE(expertise_domains, '') FROM actor_profiles WHERE workspace_id = ? AND actor_id = ?",
		workspaceID, actorID,
	).Scan(&domainsJSON)
	if err == sql.ErrNoRows {
		return tx.Commit() // unknown actor, nothing to update
	}
	if err != nil {
		return err
	}

	var domains []string
	jsonFromDB(domainsJSON, &domains)
	seen := make(map[string]bool, len(domains))
	for _, d := range domains {
		seen[d] = true
	}
	for _, t := range topics {
		if !seen[t] {
			seen[t] = true
			domains = append(domains, t)
		}
	}

	_, err = tx.Exec(
		`UPDATE actor_profiles SET observation_count = observation_count + 1,
		last_active_at = ?, expertise_domains = ?
		WHERE workspace_id = ? AND actor_id = ?`,
		timeToDB(occurredAt), jsonToDB(domains), workspaceID, actorID,
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// SearchProfilesByName returns profiles whose display name contains the
// fragment, case-insensitively.
func (db *DB) SearchProfilesByName(workspaceID, fragment string) ([]model.ActorProfile, error) {
	rows, err := db.conn.Query(
		"SELECT "+profileColumns+" FROM actor_profiles WHERE workspace_id = ? AND display_name LIKE ? COLLATE NOCASE",
		workspaceID, "%"+fragment+"%",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ActorProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanProfile(row rowScanner) (*model.ActorProfile, error) {
	var p model.ActorProfile
	var domains, lastActive string
	err := row.Scan(&p.WorkspaceID, &p.ActorID, &p.DisplayName, &p.Email,
		&domains, &p.ObservationCount, &lastActive)
	if err != nil {
		return nil, err
	}
	jsonFromDB(domains, &p.ExpertiseDomains)
	p.LastActiveAt = timeFromDB(lastActive)
	return &p, nil
}
