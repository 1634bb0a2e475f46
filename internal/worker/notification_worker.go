package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"staybook/internal/domain"
	"staybook/internal/models"

	"github.com/rs/zerolog"
)

const deadLetterQueue = "notifications"

// NotificationWorker persists notifications to the outbox and delivers them
// with exponential retry. Exhausted messages go to the dead letter queue.
type NotificationWorker struct {
	outbox       domain.OutboxStore
	sender       domain.NotificationSender
	coordination domain.CoordinationRepository
	retryPolicy  RetryPolicy
	wake         chan struct{}
	pollInterval time.Duration
	batchSize    int
	logger       *zerolog.Logger
}

func NewNotificationWorker(
	outbox domain.OutboxStore,
	sender domain.NotificationSender,
	coordination domain.CoordinationRepository,
	retry RetryPolicy,
	pollInterval time.Duration,
	logger *zerolog.Logger,
) *NotificationWorker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &NotificationWorker{
		outbox:       outbox,
		sender:       sender,
		coordination: coordination,
		retryPolicy:  retry.withDefaults(),
		wake:         make(chan struct{}, 1),
		pollInterval: pollInterval,
		batchSize:    20,
		logger:       logger,
	}
}

// Notify records a notification for r. It returns once the message is
// durable; delivery happens on the worker loop.
func (w *NotificationWorker) Notify(ctx context.Context, kind string, r *models.Reservation) error {
	if kind == "" {
		return errors.New("notification kind is required")
	}
	if r == nil || r.ID == "" {
		return errors.New("reservation id is required")
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	msg := models.OutboxMessage{
		Kind:          kind,
		ReservationID: r.ID,
		Recipient:     r.RequesterID,
		Payload:       string(payload),
		Status:        models.OutboxStatusPending,
	}
	if err := w.outbox.CreateOutboxMessage(ctx, &msg); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	select {
	case w.wake <- struct{}{}:
	default:
	}
	return nil
}

// Start runs the delivery loop until ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("Notification worker started")
	defer w.logger.Info().Msg("Notification worker stopped")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessPending(ctx)

		select {
		case <-ctx.Done():
			return
		case <-w.wake:
		case <-ticker.C:
		}
	}
}

// ProcessPending delivers one batch of ready messages and returns how many
// were delivered.
func (w *NotificationWorker) ProcessPending(ctx context.Context) int {
	msgs, err := w.outbox.GetPendingOutbox(ctx, w.batchSize)
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to fetch pending notifications")
		return 0
	}

	delivered := 0
	for i := range msgs {
		if ctx.Err() != nil {
			break
		}
		if w.process(ctx, &msgs[i]) {
			delivered++
		}
	}
	return delivered
}

func (w *NotificationWorker) process(ctx context.Context, msg *models.OutboxMessage) bool {
	if err := w.sender.Send(ctx, *msg); err != nil {
		w.retryOrFail(ctx, msg, err)
		return false
	}

	if err := w.outbox.UpdateOutboxStatus(ctx, msg.ID, models.OutboxStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("Failed to mark notification completed")
	}
	return true
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, msg *models.OutboxMessage, cause error) {
	attempt := msg.RetryCount + 1
	log := w.logger.With().Int64("message_id", msg.ID).Str("reservation_id", msg.ReservationID).Int("attempt", attempt).Logger()

	if w.retryPolicy.Exhausted(attempt) {
		log.Error().Err(cause).Msg("Notification delivery failed permanently")
		if err := w.outbox.UpdateOutboxStatus(ctx, msg.ID, models.OutboxStatusFailed, cause.Error(), nil); err != nil {
			log.Error().Err(err).Msg("Failed to mark notification failed")
		}
		w.pushDeadLetter(ctx, msg)
		return
	}

	next := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	log.Warn().Err(cause).Time("next_retry_at", next).Msg("Notification delivery failed, will retry")
	if err := w.outbox.UpdateOutboxStatus(ctx, msg.ID, models.OutboxStatusRetry, cause.Error(), &next); err != nil {
		log.Error().Err(err).Msg("Failed to schedule notification retry")
	}
}

func (w *NotificationWorker) pushDeadLetter(ctx context.Context, msg *models.OutboxMessage) {
	if w.coordination == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		w.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("Failed to encode dead letter")
		return
	}
	if err := w.coordination.PushDeadLetter(ctx, deadLetterQueue, data); err != nil {
		w.logger.Error().Err(err).Int64("message_id", msg.ID).Msg("Failed to push dead letter")
	}
}
