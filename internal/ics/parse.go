package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

// uidNamespace seeds deterministic IDs for VEVENTs that lack a UID, so a
// re-import of the same feed maps onto the same templates.
var uidNamespace = uuid.MustParse("6f1c6d1e-4a0e-5b6f-9c55-2f6a0c1d7e42")

// ParseICS parses a single ICS payload into templates.
//
//   - Template IDs are "<source id>/<UID>"; overridden instances
//     (RECURRENCE-ID) become separate one-off templates and their original
//     slot is added to the series' EXDATEs.
//   - All-day events are tagged as long events.
//   - RRULE/EXDATE are kept as-is for the recurrence expander.
//
// Broken VEVENTs are logged and skipped.
func ParseICS(src Source, body []byte) ([]model.Template, error) {
	if len(body) == 0 {
		return nil, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "origin", src.Origin())
		return nil, fmt.Errorf("parse %s: %w", src.ID, err)
	}

	var (
		templates []model.Template
		overrides []parsedOverride
		seriesIdx = make(map[string]int)
	)

	for _, ve := range cal.Events() {
		tpl, rid, perr := parseVEvent(src, ve)
		if perr != nil {
			appLog.Error("ics vevent parse failed", perr, "id", src.ID, "origin", src.Origin())
			continue
		}
		if rid != nil {
			overrides = append(overrides, parsedOverride{template: tpl, recurrenceID: *rid})
			continue
		}
		seriesIdx[tpl.ID] = len(templates)
		templates = append(templates, tpl)
	}

	for _, ov := range overrides {
		seriesID := ov.template.ID
		if i, ok := seriesIdx[seriesID]; ok && templates[i].Recurrence != nil {
			templates[i].Recurrence.ExDates = append(templates[i].Recurrence.ExDates, ov.recurrenceID)
		}
		ov.template.ID = seriesID + "@" + ov.recurrenceID.UTC().Format("20060102T150405Z")
		templates = append(templates, ov.template)
	}

	appLog.Info("ics parse completed", "id", src.ID, "origin", src.Origin(), "template_count", len(templates))
	return templates, nil
}

type parsedOverride struct {
	template     model.Template
	recurrenceID time.Time
}

func parseVEvent(src Source, ve *ical.VEvent) (model.Template, *time.Time, error) {
	tpl := model.Template{CalendarID: src.ID, Kind: model.KindEvent}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return tpl, nil, errors.New("missing DTSTART")
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return tpl, nil, fmt.Errorf("DTSTART: %w", err)
	}
	tpl.Start = start

	allDay := isDateOnly(dtStart)
	end, err := ve.GetEndAt()
	switch {
	case err == nil && !end.IsZero():
		tpl.End = end
	case allDay:
		tpl.End = start.AddDate(0, 0, 1)
	default:
		tpl.End = start
	}
	if allDay {
		tpl.Kind = model.KindLong
	}

	tpl.Payload = parsePayload(ve)

	uid := propValue(ve, ical.ComponentPropertyUniqueId)
	if uid == "" {
		uid = uuid.NewSHA1(uidNamespace, []byte(src.ID+"|"+dtStart.Value+"|"+tpl.Payload.Title)).String()
	}
	tpl.ID = src.ID + "/" + uid

	if raw := propValue(ve, ical.ComponentPropertyRrule); raw != "" {
		tpl.Recurrence = &model.Recurrence{RRule: raw}
		for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
			for _, part := range strings.Split(p.Value, ",") {
				if t, err := parseICSTime(strings.TrimSpace(part), tzOf(p)); err == nil {
					tpl.Recurrence.ExDates = append(tpl.Recurrence.ExDates, t)
				}
			}
		}
	}

	if rp := ve.GetProperty("RECURRENCE-ID"); rp != nil {
		rid, err := parseICSTime(rp.Value, tzOf(rp))
		if err != nil {
			return tpl, nil, fmt.Errorf("RECURRENCE-ID: %w", err)
		}
		return tpl, &rid, nil
	}
	return tpl, nil, nil
}

func parsePayload(ve *ical.VEvent) model.Payload {
	p := model.Payload{
		Title:       propValue(ve, ical.ComponentPropertySummary),
		Description: propValue(ve, ical.ComponentPropertyDescription),
		Location:    propValue(ve, ical.ComponentPropertyLocation),
		Color:       propValue(ve, "COLOR"),
		Priority:    priorityOf(propValue(ve, ical.ComponentPropertyPriority)),
		Type:        typeOf(propValue(ve, ical.ComponentPropertyCategories)),
		CreatorID:   strings.TrimPrefix(strings.ToLower(propValue(ve, ical.ComponentPropertyOrganizer)), "mailto:"),
	}

	switch strings.ToUpper(propValue(ve, ical.ComponentPropertyClass)) {
	case "PRIVATE", "CONFIDENTIAL":
		p.IsPrivate = true
	}
	if strings.EqualFold(propValue(ve, ical.ComponentPropertyStatus), "CANCELLED") {
		p.IsFinished = true
	}
	return p
}

// priorityOf maps RFC 5545 PRIORITY (1 highest .. 9 lowest, 0 undefined).
func priorityOf(v string) model.Priority {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	switch {
	case err != nil || n == 0:
		return ""
	case n <= 4:
		return model.PriorityHigh
	case n == 5:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

func typeOf(categories string) model.EventType {
	for _, c := range strings.Split(categories, ",") {
		switch t := model.EventType(strings.ToLower(strings.TrimSpace(c))); t {
		case model.TypeMeeting, model.TypeTask, model.TypeReminder, model.TypeHoliday:
			return t
		}
	}
	if categories == "" {
		return ""
	}
	return model.TypeOther
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

func isDateOnly(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func tzOf(p *ical.IANAProperty) *time.Location {
	if tzs, ok := p.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		if loc, err := time.LoadLocation(tzs[0]); err == nil {
			return loc
		}
	}
	return time.Local
}

// parseICSTime parses DATE, floating DATE-TIME and UTC DATE-TIME values.
// Floating and date values are placed in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
