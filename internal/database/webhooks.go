package database

import (
	"database/sql"

	"github.com/hindsight-dev/hindsight/internal/model"
)

// InsertWebhookPayload appends one raw delivery to the audit log before
// any pipeline stage runs. Duplicate deliveries keep the first row; the
// payload itself is never mutated afterwards.
func (db *DB) InsertWebhookPayload(p model.WebhookPayload) error {
	_, err := db.conn.Exec(
		`INSERT OR IGNORE INTO webhook_payloads (workspace_id, delivery_id, headers, payload, status)
		VALUES (?,?,?,?, 'received')`,
		p.WorkspaceID, p.DeliveryID, nullStr(p.Headers), p.Payload,
	)
	return err
}

// SetWebhookStatus updates the processing status for one delivery.
// Status is "received", "processed", or "failed".
func (db *DB) SetWebhookStatus(workspaceID, deliveryID, status, errMsg string) error {
	_, err := db.conn.Exec(
		"UPDATE webhook_payloads SET status = ?, error = ? WHERE workspace_id = ? AND delivery_id = ?",
		status, nullStr(errMsg), workspaceID, deliveryID,
	)
	return err
}

// GetWebhookPayload returns one audit record.
func (db *DB) GetWebhookPayload(workspaceID, deliveryID string) (*model.WebhookPayload, error) {
	row := db.conn.QueryRow(
		`SELECT workspace_id, delivery_id, COALESCE(headers, ''), payload, status,
		COALESCE(error, ''), COALESCE(received_at, '')
		FROM webhook_payloads WHERE workspace_id = ? AND delivery_id = ?`,
		workspaceID, deliveryID,
	)
	p, err := scanWebhookPayload(row)
	if err == sql.ErrNoRows {
		return nil, &model.NotFoundError{Kind: "webhook payload", ID: deliveryID}
	}
	return p, err
}

// ListFailedWebhooks returns dead-lettered deliveries for replay.
func (db *DB) ListFailedWebhooks(workspaceID string) ([]model.WebhookPayload, error) {
	rows, err := db.conn.Query(
		`SELECT workspace_id, delivery_id, COALESCE(headers, ''), payload, status,
		COALESCE(error, ''), COALESCE(received_at, '')
		FROM webhook_payloads WHERE workspace_id = ? AND status = 'failed'
		ORDER BY received_at ASC`,
		workspaceID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.WebhookPayload
	for rows.Next() {
		p, err := scanWebhookPayload(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func scanWebhookPayload(row rowScanner) (*model.WebhookPayload, error) {
	var p model.WebhookPayload
	var receivedAt string
	err := row.Scan(&p.WorkspaceID, &p.DeliveryID, &p.Headers, &p.Payload,
		&p.Status, &p.Error, &receivedAt)
	if err != nil {
		return nil, err
	}
	p.ReceivedAt = timeFromDB(receivedAt)
	return &p, nil
}
