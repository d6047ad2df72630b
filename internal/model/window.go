package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrEmptyWindow         = errors.New("display window has no day cells")
	ErrNonContiguousWindow = errors.New("display window day cells are not contiguous")
)

// DefaultRowLength is the number of cells in one week row of a grid.
const DefaultRowLength = 7

// View names a window granularity.
type View string

const (
	ViewDay   View = "day"
	ViewWeek  View = "week"
	ViewMonth View = "month"
)

// Window is an ordered, contiguous run of day cells. Rows of RowLength cells
// make up the rendered grid: a week window is one row, a month window is
// several.
type Window struct {
	Days      []Date
	RowLength int
	Location  *time.Location
}

// NewWindow builds a window of n consecutive days starting at first.
func NewWindow(first Date, n int, loc *time.Location) Window {
	days := make([]Date, 0, max(n, 0))
	for i := 0; i < n; i++ {
		days = append(days, first.AddDays(i))
	}
	return Window{Days: days, RowLength: DefaultRowLength, Location: loc}
}

// DayWindow is a single-cell window.
func DayWindow(day Date, loc *time.Location) Window {
	w := NewWindow(day, 1, loc)
	w.RowLength = 1
	return w
}

// WeekWindow returns the week row containing day, starting on weekStart.
func WeekWindow(day Date, weekStart time.Weekday, loc *time.Location) Window {
	return NewWindow(startOfWeek(day, weekStart), 7, loc)
}

// MonthWindow returns the whole week rows covering day's month.
func MonthWindow(day Date, weekStart time.Weekday, loc *time.Location) Window {
	first := Date{Year: day.Year, Month: day.Month, Day: 1}
	last := Date{Year: day.Year, Month: day.Month + 1, Day: 1}.normalize().AddDays(-1)

	gridStart := startOfWeek(first, weekStart)
	gridEnd := startOfWeek(last, weekStart).AddDays(6)

	return NewWindow(gridStart, gridStart.DaysUntil(gridEnd)+1, loc)
}

// ForView dispatches to DayWindow/WeekWindow/MonthWindow.
func ForView(view View, day Date, weekStart time.Weekday, loc *time.Location) (Window, error) {
	switch view {
	case ViewDay:
		return DayWindow(day, loc), nil
	case ViewWeek, "":
		return WeekWindow(day, weekStart, loc), nil
	case ViewMonth:
		return MonthWindow(day, weekStart, loc), nil
	default:
		return Window{}, fmt.Errorf("unknown view %q", view)
	}
}

// Validate enforces the window invariants: non-empty, strictly increasing,
// one day apart.
func (w Window) Validate() error {
	if len(w.Days) == 0 {
		return ErrEmptyWindow
	}
	for i := 1; i < len(w.Days); i++ {
		if w.Days[i-1].AddDays(1) != w.Days[i] {
			return fmt.Errorf("%w: %s follows %s", ErrNonContiguousWindow, w.Days[i], w.Days[i-1])
		}
	}
	return nil
}

func (w Window) Loc() *time.Location {
	return orLocal(w.Location)
}

// First and Last assume a validated window.
func (w Window) First() Date { return w.Days[0] }
func (w Window) Last() Date  { return w.Days[len(w.Days)-1] }

// Start is midnight of the first cell.
func (w Window) Start() time.Time {
	return w.First().Start(w.Loc())
}

// End is 23:59:59.999 of the last cell.
func (w Window) End() time.Time {
	return w.Last().End(w.Loc())
}

// Contains reports whether d is one of the window's cells.
func (w Window) Contains(d Date) bool {
	return len(w.Days) > 0 && !d.Before(w.First()) && !d.After(w.Last())
}

// Rows splits the window into consecutive rows of RowLength cells. The last
// row may be shorter.
func (w Window) Rows() []Window {
	size := w.RowLength
	if size <= 0 {
		size = DefaultRowLength
	}

	rows := make([]Window, 0, (len(w.Days)+size-1)/size)
	for i := 0; i < len(w.Days); i += size {
		end := min(i+size, len(w.Days))
		rows = append(rows, Window{
			Days:      w.Days[i:end],
			RowLength: size,
			Location:  w.Location,
		})
	}
	return rows
}

// RowOf returns the row containing d.
func (w Window) RowOf(d Date) (Window, bool) {
	for _, row := range w.Rows() {
		if row.Contains(d) {
			return row, true
		}
	}
	return Window{}, false
}

func (w Window) String() string {
	if len(w.Days) == 0 {
		return "[]"
	}
	return fmt.Sprintf("[%s..%s]", w.First(), w.Last())
}

func (d Date) normalize() Date {
	return NewDate(d.Year, d.Month, d.Day)
}

func startOfWeek(day Date, weekStart time.Weekday) Date {
	offset := (int(day.Weekday()) - int(weekStart) + 7) % 7
	return day.AddDays(-offset)
}
