package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"staybook/internal/domain"
	"staybook/internal/metrics"
	"staybook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Dependencies struct {
	Store     domain.ReservationStore
	Locker    domain.CalendarLocker
	Catalog   domain.Catalog
	Directory domain.Directory
	Notifier  domain.Notifier
	Events    domain.EventPublisher
}

type ReservationService struct {
	store          domain.ReservationStore
	availability   *AvailabilityChecker
	locker         domain.CalendarLocker
	catalog        domain.Catalog
	directory      domain.Directory
	notifier       domain.Notifier
	events         domain.EventPublisher
	scheduler      domain.ExpirationScheduler
	maxAdvanceDays int
	now            func() time.Time
	logger         *zerolog.Logger
}

func NewReservationService(deps Dependencies, maxAdvanceDays int, logger *zerolog.Logger) *ReservationService {
	if maxAdvanceDays <= 0 {
		maxAdvanceDays = 365
	}
	return &ReservationService{
		store:          deps.Store,
		availability:   NewAvailabilityChecker(deps.Store),
		locker:         deps.Locker,
		catalog:        deps.Catalog,
		directory:      deps.Directory,
		notifier:       deps.Notifier,
		events:         deps.Events,
		maxAdvanceDays: maxAdvanceDays,
		now:            func() time.Time { return time.Now().UTC() },
		logger:         logger,
	}
}

// SetScheduler wires the expiration scheduler, which itself calls back into
// the service, after both are built.
func (s *ReservationService) SetScheduler(scheduler domain.ExpirationScheduler) {
	s.scheduler = scheduler
}

func (s *ReservationService) validateRequest(req models.CreateBookingRequest) error {
	if err := s.availability.Validate(req.Start, req.End); err != nil {
		return err
	}
	if strings.TrimSpace(req.ListingID) == "" {
		return fmt.Errorf("listing id is required: %w", domain.ErrInvalidRequest)
	}
	if req.GuestCount <= 0 {
		return fmt.Errorf("guest count must be positive: %w", domain.ErrInvalidRequest)
	}
	if req.TotalPrice <= 0 {
		return fmt.Errorf("total price must be positive: %w", domain.ErrInvalidRequest)
	}

	// Проверяем, что заезд не в прошлом
	today := s.now().Truncate(24 * time.Hour)
	if req.Start.Before(today) {
		return fmt.Errorf("check-in is in the past: %w", domain.ErrInvalidRequest)
	}

	// Проверяем максимальную дату
	if req.Start.After(today.AddDate(0, 0, s.maxAdvanceDays)) {
		return fmt.Errorf("check-in is more than %d days ahead: %w", s.maxAdvanceDays, domain.ErrInvalidRequest)
	}
	return nil
}

func (s *ReservationService) CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.Reservation, error) {
	log := s.logger.With().Str("requester_id", req.RequesterID).Str("listing_id", req.ListingID).Logger()

	if err := s.validateRequest(req); err != nil {
		s.reject(err)
		return nil, err
	}

	if err := s.directory.Authorize(ctx, req.RequesterID); err != nil {
		s.reject(err)
		return nil, err
	}

	listing, err := s.catalog.GetListing(ctx, req.ListingID)
	if err != nil {
		s.reject(err)
		return nil, err
	}
	if !listing.IsActive {
		err := fmt.Errorf("listing %s is not bookable: %w", listing.ID, domain.ErrNotFound)
		s.reject(err)
		return nil, err
	}
	if listing.MaxGuests > 0 && req.GuestCount > listing.MaxGuests {
		err := fmt.Errorf("listing %s hosts at most %d guests: %w", listing.ID, listing.MaxGuests, domain.ErrInvalidRequest)
		s.reject(err)
		return nil, err
	}

	// быстрый отказ до блокировки; окончательная проверка внутри транзакции
	if err := s.availability.Check(ctx, req.ListingID, req.Start, req.End); err != nil {
		s.reject(err)
		return nil, err
	}

	r := &models.Reservation{
		ID:           uuid.NewString(),
		RequesterID:  req.RequesterID,
		ListingID:    req.ListingID,
		Start:        req.Start.UTC(),
		End:          req.End.UTC(),
		GuestCount:   req.GuestCount,
		TotalPrice:   req.TotalPrice,
		State:        models.StatePending,
		PaymentState: models.PaymentUnpaid,
		CreatedAt:    s.now(),
	}

	if err := s.insertLocked(ctx, r); err != nil {
		s.reject(err)
		return nil, err
	}

	log.Info().Str("reservation_id", r.ID).Str("stay", r.Stay().String()).Msg("Reservation created")
	metrics.IncReservationCreated()

	s.arm(r)
	s.notify(ctx, models.NotifyBookingCreated, r)
	s.publish(models.EventReservationCreated, r)
	return r, nil
}

func (s *ReservationService) insertLocked(ctx context.Context, r *models.Reservation) error {
	if s.locker != nil {
		unlock, err := s.locker.Lock(ctx, r.ListingID)
		if err != nil {
			return err
		}
		defer unlock()
	}
	return s.store.InsertReservation(ctx, r)
}

// ConfirmPayment marks the reservation paid. Repeated calls return the
// current record without side effects. A payment that lands after the stay
// completed is recorded for accounting; the state stays completed.
func (s *ReservationService) ConfirmPayment(ctx context.Context, id string) (*models.Reservation, error) {
	// второй проход нужен, только если проиграли гонку с таймером
	for attempt := 0; attempt < 2; attempt++ {
		r, err := s.store.GetReservation(ctx, id)
		if err != nil {
			return nil, err
		}

		var updated *models.Reservation
		switch {
		case r.State == models.StatePending:
			updated, err = s.confirmPending(ctx, r)
		case r.State == models.StateCompleted && r.PaymentState == models.PaymentUnpaid:
			updated, err = s.recordLatePayment(ctx, r)
		case r.State == models.StateCancelled:
			s.logger.Warn().Str("reservation_id", id).Str("payment_state", string(r.PaymentState)).
				Msg("Payment received for cancelled reservation, needs manual refund")
			return nil, fmt.Errorf("reservation %s is cancelled: %w", id, domain.ErrConflict)
		default:
			// уже оплачено: confirmed или completed+paid
			return r, nil
		}

		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		return updated, err
	}

	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.PaymentState == models.PaymentPaid {
		return r, nil
	}
	return nil, fmt.Errorf("reservation %s: %w", id, domain.ErrConflict)
}

func (s *ReservationService) confirmPending(ctx context.Context, r *models.Reservation) (*models.Reservation, error) {
	now := s.now()
	paid := models.PaymentPaid
	updated, err := s.store.UpdateState(ctx, r.ID, models.Transition{
		From:    models.StatePending,
		To:      models.StateConfirmed,
		Payment: &paid,
		PaidAt:  &now,
		At:      now,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("reservation_id", r.ID).Msg("Reservation confirmed")
	metrics.IncTransition(string(models.StatePending), string(models.StateConfirmed))

	s.arm(updated)
	s.notify(ctx, models.NotifyPaymentConfirmed, updated)
	s.publish(models.EventReservationConfirmed, updated)
	return updated, nil
}

func (s *ReservationService) recordLatePayment(ctx context.Context, r *models.Reservation) (*models.Reservation, error) {
	now := s.now()
	unpaid, paid := models.PaymentUnpaid, models.PaymentPaid
	updated, err := s.store.UpdateState(ctx, r.ID, models.Transition{
		From:        models.StateCompleted,
		FromPayment: &unpaid,
		To:          models.StateCompleted,
		Payment:     &paid,
		PaidAt:      &now,
		At:          now,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Warn().Str("reservation_id", r.ID).Msg("Payment recorded after the stay completed")
	s.notify(ctx, models.NotifyPaymentConfirmed, updated)
	s.publish(models.EventReservationLatePayment, updated)
	return updated, nil
}

// CompleteReservation moves a due reservation to completed. Reservations that
// are terminal or not yet due yield ErrConflict.
func (s *ReservationService) CompleteReservation(ctx context.Context, id string) (*models.Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.State.IsSchedulable() {
		return nil, fmt.Errorf("reservation %s is already %s: %w", id, r.State, domain.ErrConflict)
	}
	now := s.now()
	if !r.IsDue(now) {
		return nil, fmt.Errorf("reservation %s ends at %s: %w", id, r.End.Format(time.RFC3339), domain.ErrConflict)
	}

	updated, err := s.store.UpdateState(ctx, id, models.Transition{
		From: r.State,
		To:   models.StateCompleted,
		At:   now,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("reservation_id", id).Str("from", string(r.State)).Msg("Reservation completed")
	metrics.IncTransition(string(r.State), string(models.StateCompleted))

	if s.scheduler != nil {
		s.scheduler.Disarm(id)
	}
	s.notify(ctx, models.NotifyStayCompleted, updated)
	s.publish(models.EventReservationCompleted, updated)
	return updated, nil
}

// CancelReservation cancels an unstarted stay on behalf of its owner and
// releases the calendar. Paid reservations are flagged for refund.
func (s *ReservationService) CancelReservation(ctx context.Context, id, requesterID string) (*models.Reservation, error) {
	r, err := s.GetByID(ctx, id, requesterID)
	if err != nil {
		return nil, err
	}
	if !r.State.IsSchedulable() {
		return nil, fmt.Errorf("reservation %s is already %s: %w", id, r.State, domain.ErrConflict)
	}
	now := s.now()
	if r.HasStarted(now) {
		return nil, fmt.Errorf("stay already started: %w", domain.ErrInvalidRequest)
	}

	fromPayment := r.PaymentState
	t := models.Transition{
		From:        r.State,
		FromPayment: &fromPayment,
		To:          models.StateCancelled,
		CancelledAt: &now,
		At:          now,
	}
	if r.PaymentState == models.PaymentPaid {
		refunded := models.PaymentRefunded
		t.Payment = &refunded
	}

	updated, err := s.store.UpdateState(ctx, id, t)
	if err != nil {
		return nil, err
	}

	s.logger.Info().Str("reservation_id", id).Str("payment_state", string(updated.PaymentState)).Msg("Reservation cancelled")
	metrics.IncTransition(string(r.State), string(models.StateCancelled))

	if s.scheduler != nil {
		s.scheduler.Disarm(id)
	}
	s.notify(ctx, models.NotifyBookingCancelled, updated)
	s.publish(models.EventReservationCancelled, updated)
	return updated, nil
}

// GetForRequester lists the requester's reservations newest first with
// listings resolved. A listing the catalog no longer knows is left nil.
func (s *ReservationService) GetForRequester(ctx context.Context, requesterID string) ([]models.ReservationView, error) {
	reservations, err := s.store.FindByRequester(ctx, requesterID)
	if err != nil {
		return nil, err
	}

	listings := make(map[string]*models.Listing)
	views := make([]models.ReservationView, 0, len(reservations))
	for _, r := range reservations {
		listing, seen := listings[r.ListingID]
		if !seen {
			listing, err = s.catalog.GetListing(ctx, r.ListingID)
			switch {
			case errors.Is(err, domain.ErrNotFound):
				listing = nil
			case err != nil:
				return nil, err
			}
			listings[r.ListingID] = listing
		}
		views = append(views, models.ReservationView{Reservation: r, Listing: listing})
	}
	return views, nil
}

// GetByID returns ErrForbidden for someone else's reservation, never its data.
func (s *ReservationService) GetByID(ctx context.Context, id, requesterID string) (*models.Reservation, error) {
	r, err := s.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.RequesterID != requesterID {
		return nil, fmt.Errorf("reservation %s: %w", id, domain.ErrForbidden)
	}
	return r, nil
}

func (s *ReservationService) CheckAvailability(ctx context.Context, listingID string, start, end time.Time) (*models.Availability, error) {
	if err := s.availability.Validate(start, end); err != nil {
		return nil, err
	}
	if _, err := s.catalog.GetListing(ctx, listingID); err != nil {
		return nil, err
	}

	conflicts, err := s.availability.Conflicts(ctx, listingID, start, end)
	if err != nil {
		return nil, err
	}
	return &models.Availability{
		ListingID: listingID,
		Stay:      models.Stay{Start: start.UTC(), End: end.UTC()},
		Available: len(conflicts) == 0,
		Conflicts: conflicts,
	}, nil
}

func (s *ReservationService) arm(r *models.Reservation) {
	if s.scheduler != nil {
		s.scheduler.Arm(r)
	}
}

func (s *ReservationService) notify(ctx context.Context, kind string, r *models.Reservation) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, kind, r); err != nil {
		s.logger.Warn().Err(err).Str("reservation_id", r.ID).Str("kind", kind).Msg("Failed to enqueue notification")
	}
}

func (s *ReservationService) publish(eventType string, r *models.Reservation) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishJSON(eventType, models.NewReservationEvent(r, s.now())); err != nil {
		s.logger.Warn().Err(err).Str("reservation_id", r.ID).Str("event", eventType).Msg("Failed to publish event")
	}
}

func (s *ReservationService) reject(err error) {
	metrics.IncBookingRejected(RejectionReason(err))
}

// RejectionReason maps a booking error to a metrics label.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, domain.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrLockNotAcquired):
		return "lock_timeout"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return "upstream"
	default:
		return "internal"
	}
}
