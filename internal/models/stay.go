package models

import "time"

const DateLayout = "2006-01-02"

// Stay is a half-open interval [Start, End).
type Stay struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Valid reports whether Start < End.
func (s Stay) Valid() bool {
	return s.Start.Before(s.End)
}

// Overlaps covers the three cases: other starts inside s, other ends inside s,
// or one range contains the other. Touching ranges (checkout day reused as
// check-in day) do not overlap.
func (s Stay) Overlaps(other Stay) bool {
	startsInside := !other.Start.Before(s.Start) && other.Start.Before(s.End)
	endsInside := other.End.After(s.Start) && !other.End.After(s.End)
	contains := !other.Start.After(s.Start) && !other.End.Before(s.End)
	return startsInside || endsInside || contains
}

// Nights returns the UTC calendar dates claimed by the stay: every date from
// the start date up to, but excluding, the end date.
func (s Stay) Nights() []string {
	first := truncateDay(s.Start)
	last := truncateDay(s.End)
	var nights []string
	for d := first; d.Before(last); d = d.AddDate(0, 0, 1) {
		nights = append(nights, d.Format(DateLayout))
	}
	return nights
}

func (s Stay) String() string {
	return s.Start.UTC().Format(DateLayout) + " to " + s.End.UTC().Format(DateLayout)
}

func truncateDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
