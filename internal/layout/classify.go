package layout

import (
	"time"

	"calgrid/internal/model"
)

// Day is the nominal length of a day cell.
const Day = 24 * time.Hour

// IsLong reports whether e is rendered as a multi-day bar: either it carries
// the long-event kind or it lasts at least a full day.
func IsLong(e model.Span) bool {
	if e.Long() {
		return true
	}
	start, end := e.Bounds()
	return end.Sub(start) >= Day
}

// Classify partitions events into short and long, preserving order in both.
func Classify[E model.Span](events []E) (short, long []E) {
	for _, e := range events {
		if IsLong(e) {
			long = append(long, e)
		} else {
			short = append(short, e)
		}
	}
	return short, long
}
