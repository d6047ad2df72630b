// Package layout turns occurrences and a display window into grid geometry:
// which events are visible, which cells they land in, their lanes, vertical
// offsets and multi-day spans. Everything here is pure and safe to call
// concurrently.
package layout

import (
	"time"

	"calgrid/internal/model"
)

// IsVisible reports whether the closed interval [eventStart, eventEnd] shares
// at least one instant with [windowStart, windowEnd]. The event is visible if
// it lies inside the window, straddles the window's end, or straddles the
// window's start.
func IsVisible(windowStart, windowEnd, eventStart, eventEnd time.Time) bool {
	inside := !eventStart.Before(windowStart) && !eventEnd.After(windowEnd)
	overEnd := !eventStart.After(windowEnd) && !eventEnd.Before(windowEnd)
	overStart := !eventEnd.Before(windowStart) && !eventStart.After(windowStart)
	return inside || overEnd || overStart
}

// Overlaps applies IsVisible with target as the window. Touching intervals
// (one ends exactly when the other starts) overlap.
func Overlaps(target, other model.Span) bool {
	ts, te := target.Bounds()
	os, oe := other.Bounds()
	return IsVisible(ts, te, os, oe)
}

// Filter keeps the events visible in w, preserving order.
func Filter[E model.Span](w model.Window, events []E) ([]E, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	start, end := w.Start(), w.End()

	out := make([]E, 0, len(events))
	for _, e := range events {
		s, f := e.Bounds()
		if IsVisible(start, end, s, f) {
			out = append(out, e)
		}
	}
	return out, nil
}
