package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate_Normalization(t *testing.T) {
	d := NewDate(2025, time.January, 32)
	assert.Equal(t, Date{2025, time.February, 1}, d)

	assert.Equal(t, Date{2024, time.March, 1}, Date{2024, time.February, 28}.AddDays(2))
	assert.Equal(t, Date{2024, time.December, 31}, Date{2025, time.January, 1}.AddDays(-1))
}

func TestDate_Compare(t *testing.T) {
	a := Date{2025, time.April, 14}
	b := Date{2025, time.April, 15}

	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.False(t, a.After(a))
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, 1, a.DaysUntil(b))
	assert.Equal(t, -1, b.DaysUntil(a))
	assert.Equal(t, 365, Date{2025, time.January, 1}.DaysUntil(Date{2026, time.January, 1}))
}

func TestDate_ParseAndString(t *testing.T) {
	d, err := ParseDate("2025-04-18")
	require.NoError(t, err)
	assert.Equal(t, Date{2025, time.April, 18}, d)
	assert.Equal(t, "2025-04-18", d.String())
	assert.Equal(t, time.Friday, d.Weekday())

	_, err = ParseDate("18/04/2025")
	assert.Error(t, err)

	var back Date
	require.NoError(t, back.UnmarshalText([]byte("2025-12-31")))
	assert.Equal(t, Date{2025, time.December, 31}, back)
}

func TestDate_Bounds(t *testing.T) {
	loc := time.FixedZone("X", 2*3600)
	d := Date{2025, time.April, 18}

	assert.Equal(t, time.Date(2025, 4, 18, 0, 0, 0, 0, loc), d.Start(loc))
	assert.Equal(t, time.Date(2025, 4, 18, 23, 59, 59, 999_000_000, loc), d.End(loc))
	assert.Equal(t, d, DateOf(d.End(loc)))
}

func TestWindow_Validate(t *testing.T) {
	assert.ErrorIs(t, Window{}.Validate(), ErrEmptyWindow)

	w := NewWindow(Date{2025, time.April, 14}, 7, time.UTC)
	require.NoError(t, w.Validate())
	assert.Equal(t, Date{2025, time.April, 20}, w.Last())

	gap := Window{Days: []Date{{2025, time.April, 14}, {2025, time.April, 16}}}
	assert.ErrorIs(t, gap.Validate(), ErrNonContiguousWindow)

	backwards := Window{Days: []Date{{2025, time.April, 15}, {2025, time.April, 14}}}
	assert.ErrorIs(t, backwards.Validate(), ErrNonContiguousWindow)
}

func TestWindow_Bounds(t *testing.T) {
	w := NewWindow(Date{2025, time.April, 14}, 7, time.UTC)

	assert.Equal(t, time.Date(2025, 4, 14, 0, 0, 0, 0, time.UTC), w.Start())
	assert.Equal(t, time.Date(2025, 4, 20, 23, 59, 59, 999_000_000, time.UTC), w.End())
	assert.True(t, w.Contains(Date{2025, time.April, 20}))
	assert.False(t, w.Contains(Date{2025, time.April, 21}))
}

func TestWeekWindow(t *testing.T) {
	fri := Date{2025, time.April, 18}

	mon := WeekWindow(fri, time.Monday, time.UTC)
	assert.Equal(t, Date{2025, time.April, 14}, mon.First())
	assert.Equal(t, Date{2025, time.April, 20}, mon.Last())

	sun := WeekWindow(fri, time.Sunday, time.UTC)
	assert.Equal(t, Date{2025, time.April, 13}, sun.First())
	assert.Equal(t, Date{2025, time.April, 19}, sun.Last())
}

func TestMonthWindow(t *testing.T) {
	// April 2025 starts on a Tuesday and ends on a Wednesday.
	w := MonthWindow(Date{2025, time.April, 18}, time.Monday, time.UTC)
	require.NoError(t, w.Validate())

	assert.Equal(t, Date{2025, time.March, 31}, w.First())
	assert.Equal(t, Date{2025, time.May, 4}, w.Last())
	assert.Len(t, w.Days, 35)

	rows := w.Rows()
	require.Len(t, rows, 5)
	for _, row := range rows {
		assert.Len(t, row.Days, 7)
		assert.Equal(t, time.Monday, row.First().Weekday())
	}

	row, ok := w.RowOf(Date{2025, time.April, 18})
	require.True(t, ok)
	assert.Equal(t, Date{2025, time.April, 14}, row.First())

	// December rolls the year over correctly.
	dec := MonthWindow(Date{2025, time.December, 3}, time.Monday, time.UTC)
	assert.Equal(t, Date{2026, time.January, 4}, dec.Last())
}

func TestWindow_RowsShortTail(t *testing.T) {
	w := NewWindow(Date{2025, time.April, 1}, 10, time.UTC)
	rows := w.Rows()
	require.Len(t, rows, 2)
	assert.Len(t, rows[0].Days, 7)
	assert.Len(t, rows[1].Days, 3)
}

func TestForView(t *testing.T) {
	day := Date{2025, time.April, 18}

	w, err := ForView(ViewDay, day, time.Monday, time.UTC)
	require.NoError(t, err)
	assert.Len(t, w.Days, 1)

	w, err = ForView("", day, time.Monday, time.UTC)
	require.NoError(t, err)
	assert.Len(t, w.Days, 7)

	_, err = ForView("year", day, time.Monday, time.UTC)
	assert.Error(t, err)
}

func TestRecurrence_Flags(t *testing.T) {
	var none *Recurrence
	assert.False(t, none.IsRecurring())
	assert.False(t, (&Recurrence{StepHours: 24}).Stepped())
	assert.False(t, (&Recurrence{MaxOccurrences: 3}).Stepped())
	assert.True(t, (&Recurrence{StepHours: 24, MaxOccurrences: 3}).Stepped())
	assert.True(t, (&Recurrence{RRule: "FREQ=DAILY"}).IsRecurring())
}

func TestEventProjection(t *testing.T) {
	start := time.Date(2025, 4, 18, 10, 0, 0, 0, time.UTC)
	var events []Event = []Event{
		Template{ID: "t", Start: start, End: start.Add(time.Hour), Kind: KindLong},
		Occurrence{ID: "o", Start: start, End: start.Add(2 * time.Hour)},
	}

	assert.Equal(t, "t", events[0].Key())
	assert.True(t, events[0].Long())
	assert.False(t, events[1].Long())

	s, e := events[1].Bounds()
	assert.Equal(t, 2*time.Hour, e.Sub(s))
}
