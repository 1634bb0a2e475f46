package database

import (
	"context"
	"fmt"
	"time"

	"staybook/internal/models"
)

const outboxColumns = `id, kind, reservation_id, recipient, payload, status, retry_count, last_error,
	created_at, processed_at, next_retry_at`

func (db *DB) CreateOutboxMessage(ctx context.Context, msg *models.OutboxMessage) error {
	if msg.Status == "" {
		msg.Status = models.OutboxStatusPending
	}
	now := time.Now().UTC()
	result, err := db.ExecContext(ctx, `
		INSERT INTO notification_outbox (kind, reservation_id, recipient, payload, status, retry_count, last_error, created_at, next_retry_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.Kind,
		msg.ReservationID,
		msg.Recipient,
		msg.Payload,
		msg.Status,
		msg.RetryCount,
		msg.LastError,
		now,
		msg.NextRetryAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create outbox message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	msg.ID = id
	msg.CreatedAt = now
	return nil
}

// GetPendingOutbox returns messages ready for delivery, oldest first.
func (db *DB) GetPendingOutbox(ctx context.Context, limit int) ([]models.OutboxMessage, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM notification_outbox
		WHERE status IN ('pending', 'retry') AND (next_retry_at IS NULL OR next_retry_at <= ?)
		ORDER BY created_at ASC, id ASC LIMIT ?`,
		time.Now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending outbox: %w", err)
	}
	return scanOutbox(rows)
}

func (db *DB) UpdateOutboxStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	var (
		query string
		args  []any
	)
	now := time.Now().UTC()
	if nextRetryAt != nil {
		utc := nextRetryAt.UTC()
		nextRetryAt = &utc
	}

	switch status {
	case models.OutboxStatusRetry:
		query = `UPDATE notification_outbox SET status = ?, last_error = ?, next_retry_at = ?, retry_count = retry_count + 1 WHERE id = ?`
		args = []any{status, errMsg, nextRetryAt, id}
	case models.OutboxStatusCompleted, models.OutboxStatusFailed:
		query = `UPDATE notification_outbox SET status = ?, last_error = ?, next_retry_at = ?, processed_at = ? WHERE id = ?`
		args = []any{status, errMsg, nextRetryAt, now, id}
	default:
		query = `UPDATE notification_outbox SET status = ?, last_error = ?, next_retry_at = ? WHERE id = ?`
		args = []any{status, errMsg, nextRetryAt, id}
	}

	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update outbox status: %w", err)
	}
	return nil
}

func (db *DB) GetFailedOutbox(ctx context.Context) ([]models.OutboxMessage, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM notification_outbox WHERE status = 'failed' ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get failed outbox: %w", err)
	}
	return scanOutbox(rows)
}

func scanOutbox(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}) ([]models.OutboxMessage, error) {
	defer rows.Close()

	var msgs []models.OutboxMessage
	for rows.Next() {
		var m models.OutboxMessage
		err := rows.Scan(
			&m.ID, &m.Kind, &m.ReservationID, &m.Recipient, &m.Payload, &m.Status, &m.RetryCount, &m.LastError,
			&m.CreatedAt, &m.ProcessedAt, &m.NextRetryAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan outbox message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}
