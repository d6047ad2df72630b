package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"calgrid/internal/layout"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
	"calgrid/internal/recurrence"
	"calgrid/internal/store"
)

const (
	maxWindowDays = 366
	maxBodyBytes  = 1 << 20
)

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.store.ListTemplates(r.Context(), r.URL.Query().Get("calendar"))
	if err != nil {
		appLog.Error("failed to list templates", err)
		writeError(w, http.StatusInternalServerError, "failed to list templates")
		return
	}

	out := make([]templateDTO, 0, len(templates))
	for _, t := range templates {
		out = append(out, toTemplateDTO(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupTemplate(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toTemplateDTO(t))
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		templateDTO
		Timezone string `json:"timezone,omitempty"`
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	t := req.templateDTO.toModel()
	if req.Timezone != "" {
		loc, err := time.LoadLocation(req.Timezone)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown timezone %q", req.Timezone))
			return
		}
		t.Start, t.End = t.Start.In(loc), t.End.In(loc)
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Kind == "" {
		t.Kind = model.KindEvent
	}
	if err := s.validateTemplate(t); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.store.UpsertTemplates(r.Context(), []model.Template{t}); err != nil {
		appLog.Error("failed to store template", err, "id", t.ID)
		writeError(w, http.StatusInternalServerError, "failed to store template")
		return
	}
	s.engine.Invalidate()

	appLog.Info("template stored", "id", t.ID, "calendar", t.CalendarID)
	writeJSON(w, http.StatusCreated, toTemplateDTO(t))
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := s.store.DeleteTemplate(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "template not found")
		return
	case err != nil:
		appLog.Error("failed to delete template", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to delete template")
		return
	}
	s.engine.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

// handleTemplateOccurrences expands one template between from and until
// (RFC 3339). They default to now and now + expand_horizon.
func (s *Server) handleTemplateOccurrences(w http.ResponseWriter, r *http.Request) {
	t, ok := s.lookupTemplate(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	now := s.now()
	from, err := parseTimeDefault(q.Get("from"), now)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	horizon, err := s.cfg.Horizon()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	until, err := parseTimeDefault(q.Get("until"), from.Add(horizon))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid until: "+err.Error())
		return
	}
	if until.Before(from) {
		writeError(w, http.StatusBadRequest, "until precedes from")
		return
	}

	opts := s.engine.Options().Expand
	opts.RangeStart, opts.RangeEnd = from, until
	exp, err := recurrence.Expand(t, opts)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	occs := make([]model.Occurrence, 0, len(exp.Occurrences))
	for _, o := range exp.Occurrences {
		if layout.IsVisible(from, until, o.Start, o.End) {
			occs = append(occs, o)
		}
	}

	resp := struct {
		TemplateID  string          `json:"template_id"`
		From        time.Time       `json:"from"`
		Until       time.Time       `json:"until"`
		Occurrences []OccurrenceDTO `json:"occurrences"`
		Truncated   bool            `json:"truncated,omitempty"`
	}{
		TemplateID:  t.ID,
		From:        from,
		Until:       until,
		Occurrences: NewOccurrenceDTOs(occs, s.cfg.Location()),
		Truncated:   exp.Truncated,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleOccurrences(w http.ResponseWriter, r *http.Request) {
	win, ok := s.windowFromQuery(w, r)
	if !ok {
		return
	}
	res, ok := s.layout(w, r, win)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, occurrencesResponse{
		Window:      toWindowDTO(res.Window),
		Occurrences: NewOccurrenceDTOs(res.Visible, res.Window.Loc()),
		Truncated:   res.Truncated,
	})
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	win, ok := s.windowFromQuery(w, r)
	if !ok {
		return
	}
	res, ok := s.layout(w, r, win)
	if !ok {
		return
	}

	rev, err := s.store.Revision(r.Context())
	if err != nil {
		appLog.Warn("failed to read store revision", "err", err)
	}
	writeJSON(w, http.StatusOK, NewLayoutResponse(res, rev))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "no calendar sources configured")
		return
	}

	rep := s.refresher.Trigger(r.Context())
	s.engine.Invalidate()

	resp := refreshResponse{
		Sources:    rep.Sources,
		Imported:   rep.Imported,
		Templates:  rep.Templates,
		DurationMs: rep.Duration.Milliseconds(),
	}
	for _, err := range rep.Errors {
		resp.Errors = append(resp.Errors, err.Error())
	}

	status := http.StatusOK
	if rep.Imported == 0 && len(rep.Errors) > 0 {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func (s *Server) lookupTemplate(w http.ResponseWriter, r *http.Request) (model.Template, bool) {
	id := r.PathValue("id")
	t, err := s.store.GetTemplate(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "template not found")
		return model.Template{}, false
	case err != nil:
		appLog.Error("failed to load template", err, "id", id)
		writeError(w, http.StatusInternalServerError, "failed to load template")
		return model.Template{}, false
	}
	return t, true
}

// layout loads the stored templates (optionally one calendar) and lays them
// out over win.
func (s *Server) layout(w http.ResponseWriter, r *http.Request, win model.Window) (layout.Result, bool) {
	templates, err := s.store.ListTemplates(r.Context(), r.URL.Query().Get("calendar"))
	if err != nil {
		appLog.Error("failed to list templates", err)
		writeError(w, http.StatusInternalServerError, "failed to list templates")
		return layout.Result{}, false
	}

	res, err := s.engine.Layout(win, templates)
	if err != nil {
		appLog.Error("layout failed", err, "window", win.String())
		writeError(w, statusFor(err), err.Error())
		return layout.Result{}, false
	}
	if len(res.Truncated) > 0 {
		appLog.Warn("recurrence expansion truncated", "templates", strings.Join(res.Truncated, ","))
	}
	return res, true
}

// windowFromQuery reads start (YYYY-MM-DD, default today) and either view
// (day|week|month) or days (1..366).
func (s *Server) windowFromQuery(w http.ResponseWriter, r *http.Request) (model.Window, bool) {
	q := r.URL.Query()
	loc := s.cfg.Location()

	start := model.DateOf(s.now().In(loc))
	if v := q.Get("start"); v != "" {
		d, err := model.ParseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start: "+err.Error())
			return model.Window{}, false
		}
		start = d
	}

	if v := q.Get("days"); v != "" {
		n := parseIntDefault(v, 0)
		if n < 1 || n > maxWindowDays {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("days must be between 1 and %d", maxWindowDays))
			return model.Window{}, false
		}
		win := model.NewWindow(start, n, loc)
		if s.cfg.Layout.RowLength > 0 {
			win.RowLength = s.cfg.Layout.RowLength
		}
		return win, true
	}

	win, err := model.ForView(model.View(q.Get("view")), start, s.cfg.FirstWeekday(), loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return model.Window{}, false
	}
	return win, true
}

func (s *Server) validateTemplate(t model.Template) error {
	if t.End.Before(t.Start) {
		return fmt.Errorf("%w: template %s", layout.ErrInvertedEvent, t.ID)
	}
	if t.Kind != model.KindEvent && t.Kind != model.KindLong {
		return fmt.Errorf("unknown kind %q", t.Kind)
	}

	// A bounded trial expansion rejects malformed rules and counts over
	// the cap before anything is stored.
	opts := s.engine.Options().Expand
	opts.RangeStart, opts.RangeEnd = t.Start, t.End
	_, err := recurrence.Expand(t, opts)
	return err
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, layout.ErrInvertedEvent),
		errors.Is(err, recurrence.ErrInvalidRecurrence),
		errors.Is(err, recurrence.ErrUnboundedRule):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrEmptyWindow),
		errors.Is(err, model.ErrNonContiguousWindow):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func parseTimeDefault(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	return time.Parse(time.RFC3339, s)
}
