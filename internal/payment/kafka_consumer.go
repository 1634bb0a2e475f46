package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"staybook/internal/domain"
	"staybook/internal/models"
	"staybook/internal/worker"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type eventHandler interface {
	HandleEvent(ctx context.Context, event models.PaymentEvent) (*models.Reservation, error)
}

// KafkaConsumer feeds payment processor events into the reconciler. An
// offset is committed only once its event is handled or can never be
// handled; transient failures are retried in place, and a message left
// uncommitted at shutdown is delivered again to the next consumer.
type KafkaConsumer struct {
	reader  messageReader
	handler eventHandler
	retry   worker.RetryPolicy
	logger  *zerolog.Logger
}

func NewKafkaConsumer(brokers []string, topic, groupID string, handler eventHandler, logger *zerolog.Logger) *KafkaConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MaxBytes: 10e6, // 10MB
	})
	return &KafkaConsumer{
		reader:  reader,
		handler: handler,
		retry:   worker.RetryPolicy{InitialDelay: time.Second, MaxDelay: 30 * time.Second, BackoffFactor: 2},
		logger:  logger,
	}
}

func (c *KafkaConsumer) Run(ctx context.Context) {
	c.logger.Info().Msg("Payment event consumer started")
	for {
		if ctx.Err() != nil {
			return
		}
		if !c.processMessage(ctx) {
			return
		}
	}
}

func (c *KafkaConsumer) Close() {
	if err := c.reader.Close(); err != nil {
		c.logger.Error().Err(err).Msg("Error closing kafka reader")
	}
}

// processMessage returns false once the reader can no longer deliver.
func (c *KafkaConsumer) processMessage(ctx context.Context) bool {
	m, err := c.reader.FetchMessage(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
			return false
		}
		c.logger.Error().Err(err).Msg("Error reading payment event")
		return true
	}

	log := c.logger.With().Int64("offset", m.Offset).Int("partition", m.Partition).Logger()

	var event models.PaymentEvent
	if err := json.Unmarshal(m.Value, &event); err != nil {
		log.Warn().Err(err).Msg("Skipping malformed payment event")
		c.commit(ctx, m, log)
		return true
	}

	for attempt := 1; ; attempt++ {
		res, err := c.handler.HandleEvent(ctx, event)
		switch {
		case err == nil:
			if res != nil {
				log.Info().Str("reservation_id", res.ID).Str("state", string(res.State)).Msg("Payment event reconciled")
			}
			c.commit(ctx, m, log)
			return true
		case !retryable(err):
			log.Error().Err(err).Str("session_id", event.SessionID).Str("reservation_id", event.ReservationID).
				Msg("Dropping payment event")
			c.commit(ctx, m, log)
			return true
		}

		delay := c.retry.NextDelay(attempt)
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).
			Str("session_id", event.SessionID).Msg("Failed to reconcile payment event, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			// без коммита: событие придёт снова после рестарта
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

func (c *KafkaConsumer) commit(ctx context.Context, m kafka.Message, log zerolog.Logger) {
	if err := c.reader.CommitMessages(ctx, m); err != nil {
		// повторная доставка безопасна, подтверждение идемпотентно
		log.Error().Err(err).Msg("Failed to commit payment event offset")
	}
}

// retryable reports whether handling the same event again may succeed.
func retryable(err error) bool {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidRange),
		errors.Is(err, domain.ErrForbidden),
		errors.Is(err, domain.ErrConflict):
		return false
	}
	return true
}
