package service

import (
	"context"
	"fmt"
	"time"

	"staybook/internal/domain"
	"staybook/internal/models"
)

// AvailabilityChecker answers whether a listing's calendar is free for a stay.
type AvailabilityChecker struct {
	store domain.ReservationStore
}

func NewAvailabilityChecker(store domain.ReservationStore) *AvailabilityChecker {
	return &AvailabilityChecker{store: store}
}

// Validate rejects empty and inverted ranges without touching the store.
func (c *AvailabilityChecker) Validate(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("start and end are required: %w", domain.ErrInvalidRange)
	}
	if !start.Before(end) {
		return domain.ErrInvalidRange
	}
	return nil
}

// Conflicts returns the booked ranges that intersect [start, end).
func (c *AvailabilityChecker) Conflicts(ctx context.Context, listingID string, start, end time.Time) ([]models.Stay, error) {
	if err := c.Validate(start, end); err != nil {
		return nil, err
	}
	existing, err := c.store.FindOverlapping(ctx, listingID, start, end)
	if err != nil {
		return nil, fmt.Errorf("find overlapping: %w", err)
	}
	stays := make([]models.Stay, 0, len(existing))
	for _, r := range existing {
		stays = append(stays, r.Stay())
	}
	return stays, nil
}

// Check returns nil when the stay is free, otherwise *domain.UnavailableError.
func (c *AvailabilityChecker) Check(ctx context.Context, listingID string, start, end time.Time) error {
	conflicts, err := c.Conflicts(ctx, listingID, start, end)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return &domain.UnavailableError{ListingID: listingID, Conflicts: conflicts}
	}
	return nil
}
