package models

import "time"

// CreateBookingRequest is what a requester submits to claim a listing.
type CreateBookingRequest struct {
	RequesterID string    `json:"-"`
	ListingID   string    `json:"listingId"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	GuestCount  int       `json:"guestCount"`
	TotalPrice  int64     `json:"totalPrice"`
}

func (r CreateBookingRequest) Stay() Stay {
	return Stay{Start: r.Start, End: r.End}
}

// ReservationView is a reservation with its listing resolved for display.
// Listing is nil when the catalog no longer knows the listing.
type ReservationView struct {
	*Reservation
	Listing *Listing `json:"listing,omitempty"`
}

// Availability is the answer of a read-only availability probe.
type Availability struct {
	ListingID string `json:"listingId"`
	Stay      Stay   `json:"stay"`
	Available bool   `json:"available"`
	Conflicts []Stay `json:"conflicts,omitempty"`
}
