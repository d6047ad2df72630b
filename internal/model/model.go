package model

import "time"

// Kind is the explicit type marker stored with an event.
type Kind string

const (
	KindEvent Kind = "event"
	KindLong  Kind = "long-event"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

type EventType string

const (
	TypeMeeting  EventType = "meeting"
	TypeTask     EventType = "task"
	TypeReminder EventType = "reminder"
	TypeHoliday  EventType = "holiday"
	TypeOther    EventType = "other"
)

// Payload holds presentation attributes. The layout engine carries it through
// unchanged.
type Payload struct {
	Title       string
	Description string
	Location    string
	Color       string
	Priority    Priority
	Type        EventType
	IsPrivate   bool
	IsFinished  bool
	CreatorID   string
}

// Recurrence describes how a Template repeats.
//
// StepHours/MaxOccurrences is the native fixed-step form. RRule holds an
// iCalendar RRULE for templates imported from ICS feeds; ExDates applies to
// RRule only.
type Recurrence struct {
	StepHours      int
	MaxOccurrences int
	Until          *time.Time

	RRule   string
	ExDates []time.Time
}

// Stepped reports whether the fixed-step form applies: a zero step or a zero
// count means the template stands for itself only.
func (r *Recurrence) Stepped() bool {
	return r != nil && r.StepHours > 0 && r.MaxOccurrences > 0
}

func (r *Recurrence) IsRecurring() bool {
	return r != nil && (r.RRule != "" || r.Stepped())
}

// Span is the read-only projection shared by templates and occurrences. The
// interval filter and every layout step consume only this.
type Span interface {
	Key() string
	Bounds() (start, end time.Time)
	Long() bool
}

// Event is the closed set {Template, Occurrence}.
type Event interface {
	Span
	sealed()
}

// Template is an event as stored. With a Recurrence its End only fixes the
// duration of each occurrence.
type Template struct {
	ID         string
	CalendarID string

	Start time.Time
	End   time.Time
	Kind  Kind

	Recurrence *Recurrence
	Payload    Payload
}

func (t Template) Key() string                    { return t.ID }
func (t Template) Bounds() (time.Time, time.Time) { return t.Start, t.End }
func (t Template) Long() bool                     { return t.Kind == KindLong }
func (Template) sealed()                          {}

func (t Template) Duration() time.Duration {
	return t.End.Sub(t.Start)
}

// Occurrence is a concrete, non-recurring instance produced by expansion. It
// is never persisted and is owned by whoever requested the expansion.
type Occurrence struct {
	ID         string
	TemplateID string
	CalendarID string

	// Index is the position within the template's expansion (0 for one-off
	// events).
	Index int

	Start time.Time
	End   time.Time
	Kind  Kind

	Payload Payload
}

func (o Occurrence) Key() string                    { return o.ID }
func (o Occurrence) Bounds() (time.Time, time.Time) { return o.Start, o.End }
func (o Occurrence) Long() bool                     { return o.Kind == KindLong }
func (Occurrence) sealed()                          {}

func (o Occurrence) Duration() time.Duration {
	return o.End.Sub(o.Start)
}

// In returns a copy with Start/End converted to loc.
func (o Occurrence) In(loc *time.Location) Occurrence {
	o.Start = o.Start.In(orLocal(loc))
	o.End = o.End.In(orLocal(loc))
	return o
}
