package layout

import (
	"errors"
	"slices"

	"calgrid/internal/model"
)

// ErrUnknownTarget is returned when the event being laid out is not part of
// the day's event list.
var ErrUnknownTarget = errors.New("target event is not among the day's events")

// DefaultLaneOffsetPercent is the share of a column width that overlapping
// events are fanned across.
const DefaultLaneOffsetPercent = 30.0

// Lane is a horizontal slot within a day column.
type Lane struct {
	Index int `json:"lane_index"`
	Count int `json:"lane_count"`
}

// LeftPercent is offset * Index / Count.
func (l Lane) LeftPercent(offset float64) float64 {
	if l.Count <= 0 {
		return 0
	}
	return offset * float64(l.Index) / float64(l.Count)
}

// WidthPercent fills the rest of the column.
func (l Lane) WidthPercent(offset float64) float64 {
	return 100 - l.LeftPercent(offset)
}

// LaneFor computes the lane of target among dayEvents. The target is located
// by key; the first match wins.
func LaneFor[E model.Span](dayEvents []E, target E) (Lane, error) {
	i := slices.IndexFunc(dayEvents, func(e E) bool { return e.Key() == target.Key() })
	if i < 0 {
		return Lane{}, ErrUnknownTarget
	}
	return laneAt(dayEvents, i), nil
}

// Lanes computes the lane of every event in dayEvents, index-aligned.
func Lanes[E model.Span](dayEvents []E) []Lane {
	out := make([]Lane, len(dayEvents))
	for i := range dayEvents {
		out[i] = laneAt(dayEvents, i)
	}
	return out
}

// laneAt collects every event overlapping dayEvents[i] (including itself),
// orders them by start with ties kept in input order, and returns the
// target's position in that order. The count is never zero since an event
// always overlaps itself.
func laneAt[E model.Span](dayEvents []E, i int) Lane {
	target := dayEvents[i]

	group := make([]int, 0, len(dayEvents))
	for j, e := range dayEvents {
		if j == i || Overlaps(target, e) {
			group = append(group, j)
		}
	}

	slices.SortStableFunc(group, func(a, b int) int {
		sa, _ := dayEvents[a].Bounds()
		sb, _ := dayEvents[b].Bounds()
		return sa.Compare(sb)
	})

	return Lane{Index: slices.Index(group, i), Count: len(group)}
}
