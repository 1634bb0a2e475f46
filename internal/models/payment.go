package models

// PaymentSession is the payment collaborator's view of a checkout session.
type PaymentSession struct {
	ID            string `json:"id"`
	ReservationID string `json:"reservation_id"`
	Succeeded     bool   `json:"succeeded"`
}

// PaymentEvent is a message on the payment event feed.
type PaymentEvent struct {
	Type          string `json:"type"`
	SessionID     string `json:"session_id"`
	ReservationID string `json:"reservation_id"`
	Succeeded     bool   `json:"succeeded"`
}

const (
	PaymentEventCheckoutCompleted = "checkout.session.completed"
	PaymentEventCheckoutExpired   = "checkout.session.expired"
)
