package models

import "time"

const (
	EventReservationCreated     = "reservation_created"
	EventReservationConfirmed   = "reservation_confirmed"
	EventReservationCompleted   = "reservation_completed"
	EventReservationCancelled   = "reservation_cancelled"
	EventReservationLatePayment = "reservation_late_payment"
)

// ReservationEvent is the audit record published on every lifecycle change.
type ReservationEvent struct {
	ID           string       `json:"id"`
	RequesterID  string       `json:"requesterId"`
	ListingID    string       `json:"listingId"`
	State        State        `json:"state"`
	PaymentState PaymentState `json:"paymentState"`
	Start        time.Time    `json:"start"`
	End          time.Time    `json:"end"`
	OccurredAt   time.Time    `json:"occurredAt"`
}

func NewReservationEvent(r *Reservation, at time.Time) ReservationEvent {
	return ReservationEvent{
		ID:           r.ID,
		RequesterID:  r.RequesterID,
		ListingID:    r.ListingID,
		State:        r.State,
		PaymentState: r.PaymentState,
		Start:        r.Start,
		End:          r.End,
		OccurredAt:   at,
	}
}
