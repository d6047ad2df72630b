package layout

import (
	"time"

	"calgrid/internal/model"
)

// DefaultMinHeightMinutes keeps very short events tall enough to read.
const DefaultMinHeightMinutes = 60.0

// Slot is the vertical placement of a short event inside a day column, in
// minutes from the top of the column.
type Slot struct {
	TopOffsetMinutes float64 `json:"top_offset_minutes"`
	HeightMinutes    float64 `json:"height_minutes"`
}

// TimeLayout places e in the column for day.
//
// An event contained in a single date sits at its wall-clock start. One that
// began on an earlier date is drawn from the top of the column down to its
// end; one that runs past midnight is drawn from its start to the bottom.
// The height never drops below minHeight (DefaultMinHeightMinutes if <= 0).
func TimeLayout(e model.Span, day model.Date, loc *time.Location, minHeight float64) Slot {
	if minHeight <= 0 {
		minHeight = DefaultMinHeightMinutes
	}
	if loc == nil {
		loc = time.Local
	}

	start, end := e.Bounds()
	start, end = start.In(loc), end.In(loc)

	slot := Slot{
		TopOffsetMinutes: minutesSinceMidnight(start),
		HeightMinutes:    end.Sub(start).Minutes(),
	}

	if startDay, endDay := model.DateOf(start), model.DateOf(end); startDay != endDay {
		if startDay.Before(day) {
			slot.TopOffsetMinutes = 0
			slot.HeightMinutes = end.Sub(day.Start(loc)).Minutes()
		} else {
			slot.HeightMinutes = day.AddDays(1).Start(loc).Sub(start).Minutes()
		}
	}

	slot.HeightMinutes = max(slot.HeightMinutes, minHeight)
	return slot
}

func minutesSinceMidnight(t time.Time) float64 {
	h, m, s := t.Clock()
	return float64(h*60+m) + float64(s)/60 + float64(t.Nanosecond())/float64(time.Minute)
}
