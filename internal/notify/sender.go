package notify

import (
	"context"
	"encoding/json"

	"staybook/internal/models"
	"staybook/internal/upstream"

	"github.com/rs/zerolog"
)

// Message is what a delivery channel receives.
type Message struct {
	Kind          string          `json:"kind"`
	ReservationID string          `json:"reservationId"`
	Recipient     string          `json:"recipient"`
	Reservation   json.RawMessage `json:"reservation"`
}

func newMessage(msg models.OutboxMessage) Message {
	return Message{
		Kind:          msg.Kind,
		ReservationID: msg.ReservationID,
		Recipient:     msg.Recipient,
		Reservation:   json.RawMessage(msg.Payload),
	}
}

// LogSender only records notifications; used when no webhook is configured.
type LogSender struct {
	logger *zerolog.Logger
}

func NewLogSender(logger *zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, msg models.OutboxMessage) error {
	s.logger.Info().
		Str("kind", msg.Kind).
		Str("reservation_id", msg.ReservationID).
		Str("recipient", msg.Recipient).
		Msg("Notification delivered to log")
	return nil
}

// WebhookSender posts notifications to the delivery service.
type WebhookSender struct {
	client *upstream.Client
}

func NewWebhookSender(client *upstream.Client) *WebhookSender {
	return &WebhookSender{client: client}
}

func (s *WebhookSender) Send(ctx context.Context, msg models.OutboxMessage) error {
	return s.client.PostJSON(ctx, "", newMessage(msg))
}
