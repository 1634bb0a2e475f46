package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"staybook/internal/domain"
	"staybook/internal/metrics"
	"staybook/internal/models"

	"github.com/rs/zerolog"
)

const fireTimeout = 30 * time.Second

// Completer applies the expiration transition.
type Completer interface {
	CompleteReservation(ctx context.Context, id string) (*models.Reservation, error)
}

type entry struct {
	timer *time.Timer
	seq   uint64
}

// Scheduler keeps one timer per live reservation that completes it when the
// stay ends. Timers are in-memory only: Recover re-arms them after a restart
// and the periodic sweep catches anything a lost timer missed.
type Scheduler struct {
	store         domain.ReservationStore
	completer     Completer
	sweepInterval time.Duration
	logger        *zerolog.Logger

	mu      sync.Mutex
	timers  map[string]entry
	seq     uint64
	stopped bool
	baseCtx context.Context

	now func() time.Time
}

func New(store domain.ReservationStore, completer Completer, sweepInterval time.Duration, logger *zerolog.Logger) *Scheduler {
	if sweepInterval <= 0 {
		sweepInterval = time.Duration(models.DefaultSweepInterval) * time.Second
	}
	return &Scheduler{
		store:         store,
		completer:     completer,
		sweepInterval: sweepInterval,
		logger:        logger,
		timers:        make(map[string]entry),
		baseCtx:       context.Background(),
		now:           time.Now,
	}
}

// Arm (re)schedules completion at r.End. A reservation that has already
// ended is completed right away on its own goroutine.
func (s *Scheduler) Arm(r *models.Reservation) {
	if !r.State.IsSchedulable() {
		s.Disarm(r.ID)
		return
	}

	delay := r.End.Sub(s.now())

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if old, ok := s.timers[r.ID]; ok {
		old.timer.Stop()
		delete(s.timers, r.ID)
	}
	s.seq++
	seq := s.seq
	id := r.ID
	if delay > 0 {
		s.timers[id] = entry{
			timer: time.AfterFunc(delay, func() { s.fire(id, seq) }),
			seq:   seq,
		}
	}
	armed := len(s.timers)
	s.mu.Unlock()

	metrics.SetTimersArmed(armed)
	if delay <= 0 {
		go s.fire(id, seq)
	}
}

func (s *Scheduler) Disarm(id string) {
	s.mu.Lock()
	if e, ok := s.timers[id]; ok {
		e.timer.Stop()
		delete(s.timers, id)
	}
	armed := len(s.timers)
	s.mu.Unlock()
	metrics.SetTimersArmed(armed)
}

// Armed returns the number of pending timers.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func (s *Scheduler) fire(id string, seq uint64) {
	s.mu.Lock()
	if e, ok := s.timers[id]; ok && e.seq == seq {
		delete(s.timers, id)
	}
	armed := len(s.timers)
	base := s.baseCtx
	s.mu.Unlock()

	metrics.SetTimersArmed(armed)
	metrics.IncTimerFired()

	ctx, cancel := context.WithTimeout(base, fireTimeout)
	defer cancel()
	s.complete(ctx, id)
}

func (s *Scheduler) complete(ctx context.Context, id string) bool {
	_, err := s.completer.CompleteReservation(ctx, id)
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrNotFound):
		// уже завершена, отменена или ещё не наступил срок
		s.logger.Debug().Err(err).Str("reservation_id", id).Msg("Expiration skipped")
	default:
		// останется кандидатом для следующей проверки
		s.logger.Error().Err(err).Str("reservation_id", id).Msg("Failed to complete reservation")
	}
	return false
}

// Recover re-arms every pending or confirmed reservation after a restart.
// Stays that ended while the process was down are completed inline, one at
// a time, so a long outage does not fan out into concurrent transactions.
func (s *Scheduler) Recover(ctx context.Context) (int, error) {
	live, err := s.store.FindByState(ctx, models.SchedulableStates...)
	if err != nil {
		return 0, err
	}

	now := s.now()
	overdue := 0
	for _, r := range live {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		if r.IsDue(now) {
			overdue++
			s.complete(ctx, r.ID)
			continue
		}
		s.Arm(r)
	}
	s.logger.Info().Int("reservations", len(live)).Int("overdue", overdue).Msg("Expiration timers recovered")
	return len(live), nil
}

// Sweep completes every reservation whose stay already ended. Running it
// twice in a row transitions nothing the second time.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	due, err := s.store.FindDue(ctx, models.SchedulableStates, s.now())
	if err != nil {
		return 0, err
	}

	transitioned := 0
	for _, r := range due {
		if ctx.Err() != nil {
			break
		}
		if s.complete(ctx, r.ID) {
			transitioned++
		}
	}

	metrics.AddSweepTransitioned(transitioned)
	if transitioned > 0 {
		s.logger.Info().Int("transitioned", transitioned).Int("due", len(due)).Msg("Sweep completed reservations")
	}
	return transitioned, nil
}

// Start recovers timers and then sweeps periodically until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.mu.Unlock()

	if _, err := s.Recover(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Failed to recover expiration timers")
	}

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	s.logger.Info().Dur("sweep_interval", s.sweepInterval).Msg("Expiration scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Sweep failed")
			}
		}
	}
}

// Stop cancels all timers. Arm is a no-op afterwards.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.timers {
		e.timer.Stop()
		delete(s.timers, id)
	}
	s.stopped = true
	metrics.SetTimersArmed(0)
}
