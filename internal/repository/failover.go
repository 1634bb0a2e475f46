package repository

import (
	"context"
	"sync/atomic"
	"time"

	"staybook/internal/domain"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverCoordinationRepository uses redis while it answers and falls back
// to memory otherwise, probing the primary again once a minute.
type FailoverCoordinationRepository struct {
	primary   domain.CoordinationRepository
	fallback  domain.CoordinationRepository
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverCoordinationRepository(primary, fallback domain.CoordinationRepository, logger *zerolog.Logger) *FailoverCoordinationRepository {
	return &FailoverCoordinationRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// usePrimary reports whether the next call should go to the primary.
func (r *FailoverCoordinationRepository) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, r.lastCheck.Load())) > recoveryInterval
}

func (r *FailoverCoordinationRepository) observe(err error) {
	if err == nil {
		if r.isDown.CompareAndSwap(true, false) {
			r.logger.Info().Msg("Primary coordination repository recovered")
		}
		return
	}
	if !r.isDown.Swap(true) {
		r.logger.Error().Err(err).Msg("Primary coordination repository failed, falling back to memory")
	}
	r.lastCheck.Store(time.Now().UnixNano())
}

func (r *FailoverCoordinationRepository) AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.AcquireLock(ctx, key, token, ttl)
		r.observe(err)
		if err == nil {
			return ok, nil
		}
	}
	return r.fallback.AcquireLock(ctx, key, token, ttl)
}

func (r *FailoverCoordinationRepository) ReleaseLock(ctx context.Context, key, token string) error {
	// токен уникален, поэтому освобождаем в обоих хранилищах
	if r.usePrimary() {
		err := r.primary.ReleaseLock(ctx, key, token)
		r.observe(err)
	}
	return r.fallback.ReleaseLock(ctx, key, token)
}

func (r *FailoverCoordinationRepository) MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		first, err := r.primary.MarkOnce(ctx, key, ttl)
		r.observe(err)
		if err == nil {
			return first, nil
		}
	}
	return r.fallback.MarkOnce(ctx, key, ttl)
}

func (r *FailoverCoordinationRepository) Unmark(ctx context.Context, key string) error {
	if r.usePrimary() {
		err := r.primary.Unmark(ctx, key)
		r.observe(err)
	}
	return r.fallback.Unmark(ctx, key)
}

func (r *FailoverCoordinationRepository) PushDeadLetter(ctx context.Context, queue string, payload []byte) error {
	if r.usePrimary() {
		err := r.primary.PushDeadLetter(ctx, queue, payload)
		r.observe(err)
		if err == nil {
			return nil
		}
	}
	return r.fallback.PushDeadLetter(ctx, queue, payload)
}
