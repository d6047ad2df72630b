package web

import (
	"time"

	"calgrid/internal/layout"
	"calgrid/internal/model"
)

type payloadDTO struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Color       string `json:"color,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Type        string `json:"type,omitempty"`
	IsPrivate   bool   `json:"is_private,omitempty"`
	IsFinished  bool   `json:"is_finished,omitempty"`
	CreatorID   string `json:"creator_id,omitempty"`
}

type recurrenceDTO struct {
	StepHours      int         `json:"step_hours,omitempty"`
	MaxOccurrences int         `json:"max_occurrences,omitempty"`
	Until          *time.Time  `json:"until,omitempty"`
	RRule          string      `json:"rrule,omitempty"`
	ExDates        []time.Time `json:"exdates,omitempty"`
}

type templateDTO struct {
	ID         string         `json:"id"`
	CalendarID string         `json:"calendar_id,omitempty"`
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	Kind       string         `json:"kind"`
	Recurrence *recurrenceDTO `json:"recurrence,omitempty"`
	payloadDTO
}

// OccurrenceDTO is the wire form of a model.Occurrence.
type OccurrenceDTO struct {
	ID         string    `json:"id"`
	TemplateID string    `json:"template_id"`
	CalendarID string    `json:"calendar_id,omitempty"`
	Index      int       `json:"index"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Kind       string    `json:"kind"`
	payloadDTO
}

type windowDTO struct {
	Start     time.Time    `json:"start"`
	End       time.Time    `json:"end"`
	Days      []model.Date `json:"days"`
	RowLength int          `json:"row_length"`
	Timezone  string       `json:"timezone"`
}

type placementDTO struct {
	OccurrenceDTO
	layout.Lane
	LeftPercent  float64 `json:"left_percent"`
	WidthPercent float64 `json:"width_percent"`
	layout.Slot
}

type barDTO struct {
	OccurrenceDTO
	layout.SpanLayout
}

type dayDTO struct {
	Date  model.Date     `json:"date"`
	Short []placementDTO `json:"short"`
	Long  []barDTO       `json:"long"`
}

// LayoutResponse is the body of GET /api/layout.
type LayoutResponse struct {
	Window    windowDTO `json:"window"`
	Days      []dayDTO  `json:"days"`
	Truncated []string  `json:"truncated,omitempty"`
	Revision  int64     `json:"revision"`
}

type occurrencesResponse struct {
	Window      windowDTO       `json:"window"`
	Occurrences []OccurrenceDTO `json:"occurrences"`
	Truncated   []string        `json:"truncated,omitempty"`
}

type refreshResponse struct {
	Sources    int      `json:"sources"`
	Imported   int      `json:"imported"`
	Templates  int      `json:"templates"`
	DurationMs int64    `json:"duration_ms"`
	Errors     []string `json:"errors,omitempty"`
}

func toPayloadDTO(p model.Payload) payloadDTO {
	return payloadDTO{
		Title:       p.Title,
		Description: p.Description,
		Location:    p.Location,
		Color:       p.Color,
		Priority:    string(p.Priority),
		Type:        string(p.Type),
		IsPrivate:   p.IsPrivate,
		IsFinished:  p.IsFinished,
		CreatorID:   p.CreatorID,
	}
}

func (p payloadDTO) toModel() model.Payload {
	return model.Payload{
		Title:       p.Title,
		Description: p.Description,
		Location:    p.Location,
		Color:       p.Color,
		Priority:    model.Priority(p.Priority),
		Type:        model.EventType(p.Type),
		IsPrivate:   p.IsPrivate,
		IsFinished:  p.IsFinished,
		CreatorID:   p.CreatorID,
	}
}

func toTemplateDTO(t model.Template) templateDTO {
	dto := templateDTO{
		ID:         t.ID,
		CalendarID: t.CalendarID,
		Start:      t.Start,
		End:        t.End,
		Kind:       string(t.Kind),
		payloadDTO: toPayloadDTO(t.Payload),
	}
	if r := t.Recurrence; r != nil {
		dto.Recurrence = &recurrenceDTO{
			StepHours:      r.StepHours,
			MaxOccurrences: r.MaxOccurrences,
			Until:          r.Until,
			RRule:          r.RRule,
			ExDates:        r.ExDates,
		}
	}
	return dto
}

func (d templateDTO) toModel() model.Template {
	t := model.Template{
		ID:         d.ID,
		CalendarID: d.CalendarID,
		Start:      d.Start,
		End:        d.End,
		Kind:       model.Kind(d.Kind),
		Payload:    d.payloadDTO.toModel(),
	}
	if r := d.Recurrence; r != nil {
		t.Recurrence = &model.Recurrence{
			StepHours:      r.StepHours,
			MaxOccurrences: r.MaxOccurrences,
			Until:          r.Until,
			RRule:          r.RRule,
			ExDates:        r.ExDates,
		}
	}
	return t
}

func toOccurrenceDTO(o model.Occurrence, loc *time.Location) OccurrenceDTO {
	o = o.In(loc)
	return OccurrenceDTO{
		ID:         o.ID,
		TemplateID: o.TemplateID,
		CalendarID: o.CalendarID,
		Index:      o.Index,
		Start:      o.Start,
		End:        o.End,
		Kind:       string(o.Kind),
		payloadDTO: toPayloadDTO(o.Payload),
	}
}

// NewOccurrenceDTOs converts occs with times shown in loc.
func NewOccurrenceDTOs(occs []model.Occurrence, loc *time.Location) []OccurrenceDTO {
	out := make([]OccurrenceDTO, 0, len(occs))
	for _, o := range occs {
		out = append(out, toOccurrenceDTO(o, loc))
	}
	return out
}

func toWindowDTO(w model.Window) windowDTO {
	return windowDTO{
		Start:     w.Start(),
		End:       w.End(),
		Days:      w.Days,
		RowLength: w.RowLength,
		Timezone:  w.Loc().String(),
	}
}

// NewLayoutResponse converts a layout result. rev is the store revision the
// result was computed from.
func NewLayoutResponse(res layout.Result, rev int64) LayoutResponse {
	loc := res.Window.Loc()
	resp := LayoutResponse{
		Window:    toWindowDTO(res.Window),
		Days:      make([]dayDTO, 0, len(res.Days)),
		Truncated: res.Truncated,
		Revision:  rev,
	}

	for _, d := range res.Days {
		day := dayDTO{
			Date:  d.Date,
			Short: make([]placementDTO, 0, len(d.Short)),
			Long:  make([]barDTO, 0, len(d.Long)),
		}
		for _, p := range d.Short {
			day.Short = append(day.Short, placementDTO{
				OccurrenceDTO: toOccurrenceDTO(p.Occurrence, loc),
				Lane:          p.Lane,
				LeftPercent:   p.LeftPercent,
				WidthPercent:  p.WidthPercent,
				Slot:          p.Slot,
			})
		}
		for _, b := range d.Long {
			day.Long = append(day.Long, barDTO{
				OccurrenceDTO: toOccurrenceDTO(b.Occurrence, loc),
				SpanLayout:    b.Span,
			})
		}
		resp.Days = append(resp.Days, day)
	}
	return resp
}
