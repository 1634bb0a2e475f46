package domain

import (
	"context"
	"time"

	"staybook/internal/models"
)

type ReservationStore interface {
	InsertReservation(ctx context.Context, r *models.Reservation) error
	FindOverlapping(ctx context.Context, listingID string, start, end time.Time) ([]*models.Reservation, error)
	FindByState(ctx context.Context, states ...models.State) ([]*models.Reservation, error)
	FindDue(ctx context.Context, states []models.State, now time.Time) ([]*models.Reservation, error)
	FindByRequester(ctx context.Context, requesterID string) ([]*models.Reservation, error)
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	UpdateState(ctx context.Context, id string, t models.Transition) (*models.Reservation, error)
}

type OutboxStore interface {
	CreateOutboxMessage(ctx context.Context, msg *models.OutboxMessage) error
	GetPendingOutbox(ctx context.Context, limit int) ([]models.OutboxMessage, error)
	UpdateOutboxStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	GetFailedOutbox(ctx context.Context) ([]models.OutboxMessage, error)
}

// CoordinationRepository holds short-lived state shared between instances.
type CoordinationRepository interface {
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unmark(ctx context.Context, key string) error
	PushDeadLetter(ctx context.Context, queue string, payload []byte) error
}

type CalendarLocker interface {
	Lock(ctx context.Context, listingID string) (unlock func(), err error)
}

type Catalog interface {
	GetListing(ctx context.Context, listingID string) (*models.Listing, error)
}

type Directory interface {
	Authorize(ctx context.Context, requesterID string) error
}

type Notifier interface {
	Notify(ctx context.Context, kind string, r *models.Reservation) error
}

type NotificationSender interface {
	Send(ctx context.Context, msg models.OutboxMessage) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type ExpirationScheduler interface {
	Arm(r *models.Reservation)
	Disarm(id string)
}

type SessionResolver interface {
	Resolve(ctx context.Context, sessionID string) (*models.PaymentSession, error)
}

type ReservationService interface {
	CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.Reservation, error)
	ConfirmPayment(ctx context.Context, id string) (*models.Reservation, error)
	CompleteReservation(ctx context.Context, id string) (*models.Reservation, error)
	CancelReservation(ctx context.Context, id, requesterID string) (*models.Reservation, error)
	GetForRequester(ctx context.Context, requesterID string) ([]models.ReservationView, error)
	GetByID(ctx context.Context, id, requesterID string) (*models.Reservation, error)
	CheckAvailability(ctx context.Context, listingID string, start, end time.Time) (*models.Availability, error)
}

type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

type PaymentReconciler interface {
	HandleSession(ctx context.Context, sessionID string) (*models.Reservation, error)
}
