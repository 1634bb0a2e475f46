package repository

import (
	"context"
	"fmt"
	"time"

	"staybook/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const lockRetryInterval = 25 * time.Millisecond

// CalendarLock serializes booking attempts per listing across instances.
type CalendarLock struct {
	repo   domain.CoordinationRepository
	ttl    time.Duration
	wait   time.Duration
	logger *zerolog.Logger
}

func NewCalendarLock(repo domain.CoordinationRepository, ttl, wait time.Duration, logger *zerolog.Logger) *CalendarLock {
	if wait <= 0 {
		wait = ttl
	}
	return &CalendarLock{repo: repo, ttl: ttl, wait: wait, logger: logger}
}

// Lock blocks until the listing's calendar is held, ctx ends or the wait
// budget runs out (domain.ErrLockNotAcquired).
func (l *CalendarLock) Lock(ctx context.Context, listingID string) (func(), error) {
	key := "calendar:" + listingID
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)

	for {
		ok, err := l.repo.AcquireLock(ctx, key, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire calendar lock: %w", err)
		}
		if ok {
			return func() {
				// снимаем даже если запрос уже отменён
				if err := l.repo.ReleaseLock(context.WithoutCancel(ctx), key, token); err != nil {
					l.logger.Warn().Err(err).Str("listing_id", listingID).Msg("Failed to release calendar lock")
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("listing %s: %w", listingID, domain.ErrLockNotAcquired)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}
