package models

import "time"

const (
	OutboxStatusPending   = "pending"
	OutboxStatusRetry     = "retry"
	OutboxStatusCompleted = "completed"
	OutboxStatusFailed    = "failed"
)

// OutboxMessage is a queued notification for the notification collaborator.
type OutboxMessage struct {
	ID            int64      `json:"id"`
	Kind          string     `json:"kind"`
	ReservationID string     `json:"reservation_id"`
	Recipient     string     `json:"recipient"`
	Payload       string     `json:"payload"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastError     *string    `json:"last_error"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
	NextRetryAt   *time.Time `json:"next_retry_at"`
}
