package scheduler

import (
	"fmt"
	"time"
)

// ActiveHours is the set of hours of the day in which restores may run.
type ActiveHours struct {
	allowed [24]bool
}

// NewActiveHours builds the set from hours in 0-23. An empty list allows
// every hour.
func NewActiveHours(hours []int) (ActiveHours, error) {
	var h ActiveHours
	if len(hours) == 0 {
		for i := range h.allowed {
			h.allowed[i] = true
		}
		return h, nil
	}

	for _, hour := range hours {
		if hour < 0 || hour > 23 {
			return h, fmt.Errorf("invalid hour %d, expected 0-23", hour)
		}
		h.allowed[hour] = true
	}
	return h, nil
}

func (h ActiveHours) Allowed(t time.Time) bool {
	return h.allowed[t.Hour()]
}

// NextActive returns the start of the first allowed hour after t, or t
// itself when t is already in an allowed hour.
func (h ActiveHours) NextActive(t time.Time) time.Time {
	if h.Allowed(t) {
		return t
	}

	next := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
	for i := 0; i < 24; i++ {
		next = next.Add(time.Hour)
		if h.Allowed(next) {
			return next
		}
	}
	return t
}
