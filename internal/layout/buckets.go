package layout

import (
	"time"

	"calgrid/internal/model"
)

// Buckets groups the short events that touch one day cell.
type Buckets[E model.Span] struct {
	// Within starts and ends inside the day.
	Within []E
	// FromPrevious started on an earlier day and is still running.
	FromPrevious []E
	// IntoNext starts before the next day and runs into it.
	IntoNext []E
}

type bucket uint8

const (
	bucketNone bucket = iota
	bucketWithin
	bucketFromPrevious
	bucketIntoNext
)

func bucketOf(e model.Span, dayStart, nextDay time.Time) bucket {
	start, end := e.Bounds()
	switch {
	case !start.Before(dayStart) && end.Before(nextDay):
		return bucketWithin
	case start.Before(dayStart) && end.After(dayStart):
		return bucketFromPrevious
	case start.Before(nextDay) && !end.Before(nextDay):
		return bucketIntoNext
	default:
		return bucketNone
	}
}

// Bucket sorts events into the day's buckets. An event lands in at most one
// bucket.
func Bucket[E model.Span](day model.Date, loc *time.Location, events []E) Buckets[E] {
	dayStart, nextDay := day.Start(loc), day.AddDays(1).Start(loc)

	var b Buckets[E]
	for _, e := range events {
		switch bucketOf(e, dayStart, nextDay) {
		case bucketWithin:
			b.Within = append(b.Within, e)
		case bucketFromPrevious:
			b.FromPrevious = append(b.FromPrevious, e)
		case bucketIntoNext:
			b.IntoNext = append(b.IntoNext, e)
		}
	}
	return b
}

// Siblings returns the events that touch day, in input order. These are the
// events that compete for lanes in that day's column.
func Siblings[E model.Span](day model.Date, loc *time.Location, events []E) []E {
	dayStart, nextDay := day.Start(loc), day.AddDays(1).Start(loc)

	var out []E
	for _, e := range events {
		if bucketOf(e, dayStart, nextDay) != bucketNone {
			out = append(out, e)
		}
	}
	return out
}

// Len is the number of bucketed events.
func (b Buckets[E]) Len() int {
	return len(b.Within) + len(b.FromPrevious) + len(b.IntoNext)
}
