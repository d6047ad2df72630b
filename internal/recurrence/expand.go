package recurrence

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/teambition/rrule-go"

	"calgrid/internal/model"
)

const (
	// DefaultMaxOccurrences caps a single template's expansion.
	DefaultMaxOccurrences = 5000

	stepUnit = time.Hour
)

var (
	ErrInvalidRecurrence = errors.New("invalid recurrence")
	ErrUnboundedRule     = errors.New("recurrence rule is unbounded and no range was given")
)

// Options controls expansion.
type Options struct {
	// RangeStart / RangeEnd bound RRULE expansion. Occurrences that end
	// before RangeStart or start after RangeEnd are not produced. Fixed-step
	// recurrences are bounded by their count and ignore the range.
	RangeStart time.Time
	RangeEnd   time.Time

	// Horizon drops every occurrence starting after it. Zero disables it.
	Horizon time.Time

	// HonorUntil additionally stops expansion after Recurrence.Until.
	HonorUntil bool

	// MaxOccurrences is the per-template safety cap. Zero means
	// DefaultMaxOccurrences.
	MaxOccurrences int
}

// Expansion is the outcome for a single template.
type Expansion struct {
	Occurrences []model.Occurrence
	// Truncated is set when an RRULE produced more than the cap.
	Truncated bool
}

// Result aggregates the expansion of many templates.
type Result struct {
	Occurrences []model.Occurrence
	// Truncated lists the template IDs that hit the cap.
	Truncated []string
}

// Single materializes a non-recurring template as its only occurrence. The
// occurrence keeps the template's ID.
func Single(t model.Template) model.Occurrence {
	return model.Occurrence{
		ID:         t.ID,
		TemplateID: t.ID,
		CalendarID: t.CalendarID,
		Index:      0,
		Start:      t.Start,
		End:        t.End,
		Kind:       t.Kind,
		Payload:    t.Payload,
	}
}

// Expand materializes t into concrete occurrences.
//
// A template without a recurrence, with a zero step or with a zero count
// expands to exactly itself. A fixed-step recurrence yields MaxOccurrences
// occurrences, the i-th shifted by i*StepHours hours with the template's
// duration preserved. Recurring occurrences get distinct IDs: "<id>#<i>" for
// fixed steps, "<id>#<UTC start>" for RRULE templates.
func Expand(t model.Template, opts Options) (Expansion, error) {
	rec := t.Recurrence
	switch {
	case rec == nil:
		return Expansion{Occurrences: []model.Occurrence{Single(t)}}, nil
	case rec.StepHours < 0 || rec.MaxOccurrences < 0:
		return Expansion{}, fmt.Errorf("%w: template %s: negative step or count", ErrInvalidRecurrence, t.ID)
	case rec.RRule != "":
		return expandRule(t, opts)
	case !rec.Stepped():
		return Expansion{Occurrences: []model.Occurrence{Single(t)}}, nil
	default:
		return expandStepped(t, opts)
	}
}

// Occurrences is the lazy form of Expand for fixed-step templates and
// one-off events; RRULE templates are expanded eagerly and then yielded.
func Occurrences(t model.Template, opts Options) (iter.Seq[model.Occurrence], error) {
	if t.Recurrence.Stepped() && t.Recurrence.RRule == "" {
		if err := checkCount(t, opts); err != nil {
			return nil, err
		}
		return steppedSeq(t, opts), nil
	}

	exp, err := Expand(t, opts)
	if err != nil {
		return nil, err
	}
	return slices.Values(exp.Occurrences), nil
}

// ExpandAll expands every template, in order.
func ExpandAll(templates []model.Template, opts Options) (Result, error) {
	var res Result
	for _, t := range templates {
		exp, err := Expand(t, opts)
		if err != nil {
			return Result{}, err
		}
		if exp.Truncated {
			res.Truncated = append(res.Truncated, t.ID)
		}
		res.Occurrences = append(res.Occurrences, exp.Occurrences...)
	}
	return res, nil
}

func expandStepped(t model.Template, opts Options) (Expansion, error) {
	if err := checkCount(t, opts); err != nil {
		return Expansion{}, err
	}
	return Expansion{Occurrences: slices.Collect(steppedSeq(t, opts))}, nil
}

func checkCount(t model.Template, opts Options) error {
	if limit := capOf(opts); t.Recurrence.MaxOccurrences > limit {
		return fmt.Errorf("%w: template %s asks for %d occurrences, cap is %d",
			ErrInvalidRecurrence, t.ID, t.Recurrence.MaxOccurrences, limit)
	}
	return nil
}

// steppedSeq walks an HOURLY rule anchored at the template start in UTC, so
// every step is an absolute number of hours regardless of DST. Offsets are
// taken relative to the first instant the rule yields and re-applied to the
// template's own start, which keeps sub-second precision intact.
func steppedSeq(t model.Template, opts Options) iter.Seq[model.Occurrence] {
	rec := t.Recurrence
	return func(yield func(model.Occurrence) bool) {
		r, err := rrule.NewRRule(rrule.ROption{
			Freq:     rrule.HOURLY,
			Interval: rec.StepHours,
			Count:    rec.MaxOccurrences,
			Dtstart:  t.Start.UTC(),
		})
		if err != nil {
			// Unreachable for positive step and count; fall back to plain
			// arithmetic so the sequence is still exact.
			for i := 0; i < rec.MaxOccurrences; i++ {
				occ := shifted(t, i, time.Duration(i*rec.StepHours)*stepUnit)
				if stop(occ.Start, rec, opts) || !yield(occ) {
					return
				}
			}
			return
		}

		times := r.All()
		for i, ts := range times {
			occ := shifted(t, i, ts.Sub(times[0]))
			if stop(occ.Start, rec, opts) || !yield(occ) {
				return
			}
		}
	}
}

func shifted(t model.Template, i int, offset time.Duration) model.Occurrence {
	occ := Single(t)
	occ.ID = fmt.Sprintf("%s#%d", t.ID, i)
	occ.Index = i
	occ.Start = t.Start.Add(offset)
	occ.End = t.End.Add(offset)
	return occ
}

func stop(start time.Time, rec *model.Recurrence, opts Options) bool {
	if !opts.Horizon.IsZero() && start.After(opts.Horizon) {
		return true
	}
	if opts.HonorUntil && rec.Until != nil && start.After(*rec.Until) {
		return true
	}
	return false
}

func expandRule(t model.Template, opts Options) (Expansion, error) {
	rec := t.Recurrence

	r, err := rrule.StrToRRule(rec.RRule)
	if err != nil {
		return Expansion{}, fmt.Errorf("%w: template %s: %v", ErrInvalidRecurrence, t.ID, err)
	}
	r.DTStart(t.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range rec.ExDates {
		set.ExDate(ex.In(t.Start.Location()))
	}

	duration := t.Duration()

	hi := opts.RangeEnd
	if !opts.Horizon.IsZero() && (hi.IsZero() || opts.Horizon.Before(hi)) {
		hi = opts.Horizon
	}

	var times []time.Time
	switch {
	case !hi.IsZero():
		lo := t.Start
		if !opts.RangeStart.IsZero() && opts.RangeStart.Add(-duration).After(lo) {
			lo = opts.RangeStart.Add(-duration)
		}
		times = set.Between(lo.In(t.Start.Location()), hi.In(t.Start.Location()), true)
	case r.OrigOptions.Count > 0 || !r.OrigOptions.Until.IsZero():
		times = set.All()
	default:
		return Expansion{}, fmt.Errorf("%w: template %s", ErrUnboundedRule, t.ID)
	}

	var exp Expansion
	limit := capOf(opts)
	for _, ts := range times {
		if stop(ts, rec, opts) {
			break
		}
		if len(exp.Occurrences) == limit {
			exp.Truncated = true
			break
		}

		occ := Single(t)
		occ.Index = len(exp.Occurrences)
		occ.Start = ts.In(t.Start.Location())
		occ.End = occ.Start.Add(duration)
		occ.ID = t.ID + "#" + occ.Start.UTC().Format("20060102T150405Z")
		exp.Occurrences = append(exp.Occurrences, occ)
	}
	return exp, nil
}

func capOf(opts Options) int {
	if opts.MaxOccurrences <= 0 {
		return DefaultMaxOccurrences
	}
	return opts.MaxOccurrences
}
