package models

import (
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle state of a reservation.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Legacy labels still found in older records and upstream payloads.
const (
	legacyStateActive  = "active"
	legacyStateExpired = "expired"
)

// SchedulableStates are the states an expiration still has to move out of.
var SchedulableStates = []State{StatePending, StateConfirmed}

// ParseState maps a stored or external label to a State.
func ParseState(raw string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(StatePending), legacyStateActive:
		return StatePending, nil
	case string(StateConfirmed):
		return StateConfirmed, nil
	case string(StateCompleted), legacyStateExpired:
		return StateCompleted, nil
	case string(StateCancelled), "canceled":
		return StateCancelled, nil
	default:
		return "", fmt.Errorf("unknown reservation state %q", raw)
	}
}

// IsSchedulable reports whether an expiration fire still has an effect.
func (s State) IsSchedulable() bool {
	return s == StatePending || s == StateConfirmed
}

// IsTerminal reports whether no further lifecycle transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func (s State) CanTransition(to State) bool {
	switch s {
	case StatePending:
		return to == StateConfirmed || to == StateCompleted || to == StateCancelled
	case StateConfirmed:
		return to == StateCompleted || to == StateCancelled
	default:
		return false
	}
}

// PaymentState tracks money movement for a reservation.
type PaymentState string

const (
	PaymentUnpaid   PaymentState = "unpaid"
	PaymentPaid     PaymentState = "paid"
	PaymentRefunded PaymentState = "refunded"
)

// ParsePaymentState maps a stored label to a PaymentState.
func ParsePaymentState(raw string) (PaymentState, error) {
	switch PaymentState(strings.ToLower(strings.TrimSpace(raw))) {
	case PaymentUnpaid:
		return PaymentUnpaid, nil
	case PaymentPaid:
		return PaymentPaid, nil
	case PaymentRefunded:
		return PaymentRefunded, nil
	default:
		return "", fmt.Errorf("unknown payment state %q", raw)
	}
}

type Reservation struct {
	ID           string       `json:"id"`
	RequesterID  string       `json:"requesterId"`
	ListingID    string       `json:"listingId"`
	Start        time.Time    `json:"start"`
	End          time.Time    `json:"end"`
	GuestCount   int          `json:"guestCount"`
	TotalPrice   int64        `json:"totalPrice"`
	State        State        `json:"state"`
	PaymentState PaymentState `json:"paymentState"`
	CreatedAt    time.Time    `json:"createdAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
	PaidAt       *time.Time   `json:"paidAt,omitempty"`
	CancelledAt  *time.Time   `json:"cancelledAt,omitempty"`
	Version      int64        `json:"version"`
}

// Stay returns the reservation's half-open interval.
func (r *Reservation) Stay() Stay {
	return Stay{Start: r.Start, End: r.End}
}

// IsDue reports whether the stay window has ended at now.
func (r *Reservation) IsDue(now time.Time) bool {
	return !r.End.After(now)
}

// HasStarted reports whether the stay began at or before now.
func (r *Reservation) HasStarted(now time.Time) bool {
	return !r.Start.After(now)
}

// Transition is a conditional state write: it only applies while the
// stored row still matches From (and FromPayment when set).
type Transition struct {
	From        State
	FromPayment *PaymentState
	To          State
	Payment     *PaymentState
	PaidAt      *time.Time
	CancelledAt *time.Time
	At          time.Time
}
