package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"staybook/internal/domain"
	"staybook/internal/metrics"
	"staybook/internal/models"

	"github.com/rs/zerolog"
)

// Confirmer applies the payment-confirmed transition.
type Confirmer interface {
	ConfirmPayment(ctx context.Context, id string) (*models.Reservation, error)
}

// Reconciler turns payment processor signals into confirmed reservations.
// Sessions are deduplicated across instances; a session whose processing
// failed for a transient reason is released so a redelivery can retry it.
type Reconciler struct {
	confirmer Confirmer
	resolver  domain.SessionResolver
	dedupe    domain.CoordinationRepository
	logger    *zerolog.Logger
}

func NewReconciler(confirmer Confirmer, resolver domain.SessionResolver, dedupe domain.CoordinationRepository, logger *zerolog.Logger) *Reconciler {
	return &Reconciler{
		confirmer: confirmer,
		resolver:  resolver,
		dedupe:    dedupe,
		logger:    logger,
	}
}

// OnPaymentConfirmed confirms the reservation. A reservation that moved on
// concurrently (cancelled, or already handled) yields (nil, nil).
func (r *Reconciler) OnPaymentConfirmed(ctx context.Context, reservationID string) (*models.Reservation, error) {
	res, err := r.confirmer.ConfirmPayment(ctx, reservationID)
	if errors.Is(err, domain.ErrConflict) {
		r.logger.Info().Err(err).Str("reservation_id", reservationID).Msg("Payment confirmation skipped")
		metrics.IncPaymentEvent("conflict")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	metrics.IncPaymentEvent("confirmed")
	return res, nil
}

// HandleSession resolves a checkout session and confirms its reservation.
// A repeated delivery returns the reservation as it stands; unsuccessful and
// unreferenced sessions yield (nil, nil).
func (r *Reconciler) HandleSession(ctx context.Context, sessionID string) (*models.Reservation, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required: %w", domain.ErrInvalidRequest)
	}
	log := r.logger.With().Str("session_id", sessionID).Logger()

	key := "session:" + sessionID
	marked := false
	if r.dedupe != nil {
		first, err := r.dedupe.MarkOnce(ctx, key, time.Duration(models.SessionDedupeTTL)*time.Second)
		switch {
		case err != nil:
			// подтверждение идемпотентно, продолжаем без дедупликации
			log.Warn().Err(err).Msg("Session dedupe unavailable")
		case !first:
			// повтор: подтверждение идемпотентно, отдаём текущую запись
			log.Debug().Msg("Session already processed")
			metrics.IncPaymentEvent("duplicate")
			return r.handleSession(ctx, sessionID, log)
		default:
			marked = true
		}
	}

	res, err := r.handleSession(ctx, sessionID, log)
	if err != nil && marked && !errors.Is(err, domain.ErrNotFound) {
		if uerr := r.dedupe.Unmark(ctx, key); uerr != nil {
			log.Warn().Err(uerr).Msg("Failed to release session for retry")
		}
	}
	return res, err
}

func (r *Reconciler) handleSession(ctx context.Context, sessionID string, log zerolog.Logger) (*models.Reservation, error) {
	session, err := r.resolver.Resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.ReservationID == "" {
		log.Info().Msg("Session carries no reservation reference, ignoring")
		metrics.IncPaymentEvent("ignored")
		return nil, nil
	}
	if !session.Succeeded {
		log.Info().Str("reservation_id", session.ReservationID).Msg("Session did not succeed, ignoring")
		metrics.IncPaymentEvent("ignored")
		return nil, nil
	}
	return r.OnPaymentConfirmed(ctx, session.ReservationID)
}

// HandleEvent processes one message of the payment event feed. Events with
// a session id are resolved at the processor; a bare reservation reference
// is trusted only when marked succeeded.
func (r *Reconciler) HandleEvent(ctx context.Context, event models.PaymentEvent) (*models.Reservation, error) {
	if event.Type == models.PaymentEventCheckoutExpired {
		metrics.IncPaymentEvent("ignored")
		return nil, nil
	}
	switch {
	case event.SessionID != "":
		return r.HandleSession(ctx, event.SessionID)
	case event.ReservationID != "" && event.Succeeded:
		return r.OnPaymentConfirmed(ctx, event.ReservationID)
	default:
		metrics.IncPaymentEvent("ignored")
		return nil, nil
	}
}
