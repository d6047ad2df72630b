package layout

import (
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"calgrid/internal/model"
	"calgrid/internal/recurrence"
)

// ErrInvertedEvent is returned for an event whose end precedes its start.
// Zero-length events are accepted.
var ErrInvertedEvent = errors.New("event ends before it starts")

// Options tunes a layout pass.
type Options struct {
	MinHeightMinutes  float64
	LaneOffsetPercent float64

	// Parallelism > 1 lays out that many day cells concurrently.
	Parallelism int

	// Expand is passed to the recurrence expander. Its range is always
	// replaced by the window bounds.
	Expand recurrence.Options
}

func DefaultOptions() Options {
	return Options{
		MinHeightMinutes:  DefaultMinHeightMinutes,
		LaneOffsetPercent: DefaultLaneOffsetPercent,
		Parallelism:       1,
		Expand: recurrence.Options{
			HonorUntil:     true,
			MaxOccurrences: recurrence.DefaultMaxOccurrences,
		},
	}
}

func (o Options) normalize() Options {
	if o.MinHeightMinutes <= 0 {
		o.MinHeightMinutes = DefaultMinHeightMinutes
	}
	if o.LaneOffsetPercent <= 0 {
		o.LaneOffsetPercent = DefaultLaneOffsetPercent
	}
	if o.Parallelism <= 0 {
		o.Parallelism = 1
	}
	return o
}

// Placement is a short event drawn inside a day column.
type Placement struct {
	Occurrence   model.Occurrence
	Lane         Lane
	LeftPercent  float64
	WidthPercent float64
	Slot         Slot
}

// Bar is a long event anchored in a day cell.
type Bar struct {
	Occurrence model.Occurrence
	Span       SpanLayout
}

// DayLayout is everything drawn in one day cell.
type DayLayout struct {
	Date  model.Date
	Short []Placement
	Long  []Bar
}

// Result of a layout pass. Callers must treat it as read-only: an Engine
// hands the same Result to every caller with the same input.
type Result struct {
	Window model.Window
	Days   []DayLayout

	// Visible holds every occurrence that intersects the window, in
	// expansion order.
	Visible []model.Occurrence

	// Truncated lists templates whose expansion hit the safety cap.
	Truncated []string
}

// Compute expands templates and lays them out over w.
func Compute(w model.Window, templates []model.Template, opts Options) (Result, error) {
	if err := w.Validate(); err != nil {
		return Result{}, err
	}
	for _, t := range templates {
		if t.End.Before(t.Start) {
			return Result{}, fmt.Errorf("%w: template %s", ErrInvertedEvent, t.ID)
		}
	}

	exp := opts.Expand
	exp.RangeStart, exp.RangeEnd = w.Start(), w.End()

	expanded, err := recurrence.ExpandAll(templates, exp)
	if err != nil {
		return Result{}, err
	}

	res, err := ComputeOccurrences(w, expanded.Occurrences, opts)
	if err != nil {
		return Result{}, err
	}
	res.Truncated = expanded.Truncated
	return res, nil
}

// ComputeOccurrences lays out already concrete occurrences over w.
func ComputeOccurrences(w model.Window, occurrences []model.Occurrence, opts Options) (Result, error) {
	if err := w.Validate(); err != nil {
		return Result{}, err
	}
	for _, o := range occurrences {
		if o.End.Before(o.Start) {
			return Result{}, fmt.Errorf("%w: occurrence %s", ErrInvertedEvent, o.ID)
		}
	}
	opts = opts.normalize()

	visible, err := Filter(w, occurrences)
	if err != nil {
		return Result{}, err
	}
	short, long := Classify(visible)

	type cell struct {
		row model.Window
		day model.Date
	}
	cells := make([]cell, 0, len(w.Days))
	for _, row := range w.Rows() {
		for _, day := range row.Days {
			cells = append(cells, cell{row: row, day: day})
		}
	}

	days := make([]DayLayout, len(cells))

	var g errgroup.Group
	g.SetLimit(opts.Parallelism)
	for i, c := range cells {
		g.Go(func() error {
			days[i] = layoutDay(c.row, c.day, short, long, opts)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{Window: w, Days: days, Visible: visible}, nil
}

func layoutDay(row model.Window, day model.Date, short, long []model.Occurrence, opts Options) DayLayout {
	loc := row.Loc()
	out := DayLayout{Date: day}

	siblings := Siblings(day, loc, short)
	for i, lane := range Lanes(siblings) {
		out.Short = append(out.Short, Placement{
			Occurrence:   siblings[i],
			Lane:         lane,
			LeftPercent:  lane.LeftPercent(opts.LaneOffsetPercent),
			WidthPercent: lane.WidthPercent(opts.LaneOffsetPercent),
			Slot:         TimeLayout(siblings[i], day, loc, opts.MinHeightMinutes),
		})
	}

	for _, occ := range long {
		if span := spanInRow(row, day, occ); span.Visible {
			out.Long = append(out.Long, Bar{Occurrence: occ, Span: span})
		}
	}
	return out
}
