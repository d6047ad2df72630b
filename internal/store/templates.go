package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"calgrid/internal/model"
)

const templateColumns = `id, calendar_id, start_unix_ns, end_unix_ns, tz, kind, recurrence, payload`

// recurrenceRecord is the JSON shape of model.Recurrence.
type recurrenceRecord struct {
	StepHours      int         `json:"step_hours,omitempty"`
	MaxOccurrences int         `json:"max_occurrences,omitempty"`
	Until          *time.Time  `json:"until,omitempty"`
	RRule          string      `json:"rrule,omitempty"`
	ExDates        []time.Time `json:"exdates,omitempty"`
}

type payloadRecord struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`
	Color       string `json:"color,omitempty"`
	Priority    string `json:"priority,omitempty"`
	Type        string `json:"type,omitempty"`
	IsPrivate   bool   `json:"is_private,omitempty"`
	IsFinished  bool   `json:"is_finished,omitempty"`
	CreatorID   string `json:"creator_id,omitempty"`
}

// UpsertTemplates inserts or replaces templates in one transaction.
func (s *Store) UpsertTemplates(ctx context.Context, templates []model.Template) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, t := range templates {
			if err := upsert(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceCalendar makes templates the complete content of calendarID:
// templates of that calendar missing from the list are removed.
func (s *Store) ReplaceCalendar(ctx context.Context, calendarID string, templates []model.Template) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE calendar_id = ?`, calendarID); err != nil {
			return fmt.Errorf("clear calendar %s: %w", calendarID, err)
		}
		for _, t := range templates {
			t.CalendarID = calendarID
			if err := upsert(ctx, tx, t); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetTemplate returns one template or ErrNotFound.
func (s *Store) GetTemplate(ctx context.Context, id string) (model.Template, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM templates WHERE id = ?`, id)
	t, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Template{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, err
}

// ListTemplates returns the templates of calendarID, or all templates when
// calendarID is empty, ordered by start then id.
func (s *Store) ListTemplates(ctx context.Context, calendarID string) ([]model.Template, error) {
	query := `SELECT ` + templateColumns + ` FROM templates`
	var args []any
	if calendarID != "" {
		query += ` WHERE calendar_id = ?`
		args = append(args, calendarID)
	}
	query += ` ORDER BY start_unix_ns ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query templates: %w", err)
	}
	defer rows.Close()

	templates := []model.Template{}
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return templates, nil
}

// DeleteTemplate removes one template or returns ErrNotFound.
func (s *Store) DeleteTemplate(ctx context.Context, id string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete template: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil
	})
}

// Revision increases with every successful write. Callers use it to tell
// whether cached results are stale.
func (s *Store) Revision(ctx context.Context) (int64, error) {
	var rev int64
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM revision WHERE id = 1`).Scan(&rev); err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}
	return rev, nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE revision SET value = value + 1 WHERE id = 1`); err != nil {
		return fmt.Errorf("bump revision: %w", err)
	}
	return tx.Commit()
}

func upsert(ctx context.Context, tx *sql.Tx, t model.Template) error {
	if t.ID == "" {
		return errors.New("write template: empty id")
	}

	rec, err := marshalRecurrence(t.Recurrence)
	if err != nil {
		return fmt.Errorf("write template %s: %w", t.ID, err)
	}
	payload, err := json.Marshal(toPayloadRecord(t.Payload))
	if err != nil {
		return fmt.Errorf("write template %s: %w", t.ID, err)
	}

	kind := t.Kind
	if kind == "" {
		kind = model.KindEvent
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO templates
		(`+templateColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			calendar_id = excluded.calendar_id,
			start_unix_ns = excluded.start_unix_ns,
			end_unix_ns = excluded.end_unix_ns,
			tz = excluded.tz,
			kind = excluded.kind,
			recurrence = excluded.recurrence,
			payload = excluded.payload,
			updated_at = excluded.updated_at
	`,
		t.ID,
		t.CalendarID,
		t.Start.UnixNano(),
		t.End.UnixNano(),
		zoneOf(t.Start),
		string(kind),
		rec,
		string(payload),
		time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("write template %s: %w", t.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTemplate(row scanner) (model.Template, error) {
	var (
		t              model.Template
		startNS, endNS int64
		tz, kind       string
		rec            sql.NullString
		payload        string
	)
	if err := row.Scan(&t.ID, &t.CalendarID, &startNS, &endNS, &tz, &kind, &rec, &payload); err != nil {
		return model.Template{}, err
	}

	loc := locationOf(tz)
	t.Start = time.Unix(0, startNS).In(loc)
	t.End = time.Unix(0, endNS).In(loc)
	t.Kind = model.Kind(kind)

	if rec.Valid {
		r, err := unmarshalRecurrence(rec.String)
		if err != nil {
			return model.Template{}, fmt.Errorf("template %s: %w", t.ID, err)
		}
		t.Recurrence = r
	}

	var p payloadRecord
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return model.Template{}, fmt.Errorf("template %s payload: %w", t.ID, err)
	}
	t.Payload = fromPayloadRecord(p)
	return t, nil
}

// zoneOf names the location stored in the tz column. Fixed zones without a
// loadable name, as parsed from RFC 3339 offsets, are kept as "+hh:mm".
func zoneOf(t time.Time) string {
	switch name := t.Location().String(); name {
	case "":
	case "UTC", "Local":
		return name
	default:
		if _, err := time.LoadLocation(name); err == nil {
			return name
		}
	}
	return t.Format("-07:00")
}

func locationOf(name string) *time.Location {
	switch name {
	case "", "UTC":
		return time.UTC
	case "Local":
		return time.Local
	}
	if name[0] == '+' || name[0] == '-' {
		if off, err := time.Parse("-07:00", name); err == nil {
			_, secs := off.Zone()
			return time.FixedZone("", secs)
		}
	}
	if loc, err := time.LoadLocation(name); err == nil {
		return loc
	}
	return time.UTC
}

func marshalRecurrence(r *model.Recurrence) (sql.NullString, error) {
	if r == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(recurrenceRecord{
		StepHours:      r.StepHours,
		MaxOccurrences: r.MaxOccurrences,
		Until:          r.Until,
		RRule:          r.RRule,
		ExDates:        r.ExDates,
	})
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalRecurrence(s string) (*model.Recurrence, error) {
	var rec recurrenceRecord
	if err := json.Unmarshal([]byte(s), &rec); err != nil {
		return nil, fmt.Errorf("recurrence: %w", err)
	}
	return &model.Recurrence{
		StepHours:      rec.StepHours,
		MaxOccurrences: rec.MaxOccurrences,
		Until:          rec.Until,
		RRule:          rec.RRule,
		ExDates:        rec.ExDates,
	}, nil
}

func toPayloadRecord(p model.Payload) payloadRecord {
	return payloadRecord{
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

func fromPayloadRecord(p payloadRecord) model.Payload {
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
