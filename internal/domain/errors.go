package domain

import (
	"errors"
	"fmt"
	"strings"

	"staybook/internal/models"
)

var (
	ErrInvalidRange   = errors.New("check-in must be before check-out")
	ErrInvalidRequest = errors.New("invalid booking request")
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("reservation belongs to another requester")
)

var (
	ErrUnavailable = errors.New("listing is not available for the selected dates")
	// ErrConflict means a transition precondition no longer held: someone
	// else already moved the reservation.
	ErrConflict = errors.New("reservation state changed concurrently")
)

var (
	ErrUpstreamUnavailable = errors.New("upstream collaborator unavailable")
	ErrLockNotAcquired     = errors.New("calendar lock is held by another request")
)

// UnavailableError carries the conflicting ranges for user-facing messages.
type UnavailableError struct {
	ListingID string
	Conflicts []models.Stay
}

func (e *UnavailableError) Error() string {
	if len(e.Conflicts) == 0 {
		return fmt.Sprintf("listing %s is not available for the selected dates", e.ListingID)
	}
	ranges := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		ranges = append(ranges, c.String())
	}
	return fmt.Sprintf("listing %s is not available for the selected dates; already booked: %s",
		e.ListingID, strings.Join(ranges, ", "))
}

func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}
