package layout

import (
	"errors"
	"math"
	"time"

	"calgrid/internal/model"
)

var ErrDayOutsideWindow = errors.New("day cell is not part of the window")

// SpanLayout is the horizontal extent of a long event anchored in one day
// cell. Only anchor cells are Visible: the event's start day, or the first
// cell of a row the event carries into.
type SpanLayout struct {
	SpanDays              int  `json:"span_days"`
	Visible               bool `json:"visible"`
	ContinuesIntoNext     bool `json:"continues_into_next"`
	ContinuesFromPrevious bool `json:"continues_from_previous"`
}

// SpanFor lays out e in the cell for day. Spans are computed against the
// window row holding day, so a month window is handled one week row at a
// time.
func SpanFor(w model.Window, day model.Date, e model.Span) (SpanLayout, error) {
	if err := w.Validate(); err != nil {
		return SpanLayout{}, err
	}
	row, ok := w.RowOf(day)
	if !ok {
		return SpanLayout{}, ErrDayOutsideWindow
	}
	return spanInRow(row, day, e), nil
}

func spanInRow(row model.Window, day model.Date, e model.Span) SpanLayout {
	loc := row.Loc()

	start, end := e.Bounds()
	start, end = start.In(loc), end.In(loc)

	rowStart, rowEnd := row.Start(), row.End()
	nextRow := row.Last().AddDays(1).Start(loc)

	var out SpanLayout
	switch {
	case day == model.DateOf(start):
		out.ContinuesIntoNext = end.After(nextRow)
		if out.ContinuesIntoNext {
			// Remainder of the row cycle. A bar anchored on the row's first
			// cell leaves remainder 0 and fills the whole row.
			out.SpanDays = ceilDays(rowEnd.Sub(start)) % len(row.Days)
			if out.SpanDays == 0 {
				out.SpanDays = len(row.Days)
			}
		} else {
			out.SpanDays = ceilDays(end.Sub(start))
		}
	case day == row.First() && start.Before(rowStart):
		out.ContinuesFromPrevious = true
		out.ContinuesIntoNext = end.After(nextRow)
		out.SpanDays = ceilDays(minTime(end, rowEnd).Sub(rowStart))
	default:
		return SpanLayout{}
	}

	out.Visible = out.SpanDays > 0
	if !out.Visible {
		return SpanLayout{}
	}
	return out
}

func ceilDays(d time.Duration) int {
	return int(math.Ceil(float64(d) / float64(Day)))
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
