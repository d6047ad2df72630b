package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calgrid/internal/config"
	"calgrid/internal/layout"
	"calgrid/internal/model"
	"calgrid/internal/refresh"
	"calgrid/internal/store"
)

type fakeRefresher struct {
	report refresh.Report
	calls  int
}

func (f *fakeRefresher) Trigger(context.Context) refresh.Report {
	f.calls++
	return f.report
}

func newTestServer(t *testing.T, cfg *config.Config, refresher Refresher) *Server {
	t.Helper()
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	s := NewServer(cfg, st, layout.NewEngine(layout.DefaultOptions(), 0), refresher)
	s.now = func() time.Time { return time.Date(2025, 4, 16, 12, 0, 0, 0, time.UTC) }
	return s
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, nil, nil).Handler()
	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "s3cret"}
	h := newTestServer(t, cfg, nil).Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)

	rec := do(t, h, http.MethodGet, "/api/templates", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/templates", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/templates", nil)
	req.SetBasicAuth("admin", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSecureCompare(t *testing.T) {
	assert.True(t, secureCompare("abc", "abc"))
	assert.False(t, secureCompare("abc", "abd"))
	assert.False(t, secureCompare("abc", "abcd"))
}

func TestTemplatesCRUD(t *testing.T) {
	h := newTestServer(t, nil, nil).Handler()

	rec := do(t, h, http.MethodPost, "/api/templates",
		`{"id":"standup","calendar_id":"team","start":"2025-04-14T10:00:00Z","end":"2025-04-14T10:15:00Z","title":"Standup","priority":"high"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[templateDTO](t, rec)
	assert.Equal(t, "standup", created.ID)
	assert.Equal(t, string(model.KindEvent), created.Kind)

	rec = do(t, h, http.MethodPost, "/api/templates",
		`{"start":"2025-04-15T09:00:00Z","end":"2025-04-15T10:00:00Z","title":"Generated"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	generated := decode[templateDTO](t, rec)
	assert.Len(t, generated.ID, 36)

	rec = do(t, h, http.MethodGet, "/api/templates/standup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[templateDTO](t, rec)
	assert.Equal(t, "Standup", got.Title)
	assert.Equal(t, "high", got.Priority)
	assert.True(t, got.Start.Equal(time.Date(2025, 4, 14, 10, 0, 0, 0, time.UTC)))

	rec = do(t, h, http.MethodGet, "/api/templates", "")
	assert.Len(t, decode[[]templateDTO](t, rec), 2)

	rec = do(t, h, http.MethodGet, "/api/templates?calendar=team", "")
	assert.Len(t, decode[[]templateDTO](t, rec), 1)

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/templates/standup", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/templates/standup", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/api/templates/standup", "").Code)
}

func TestCreateTemplate_Invalid(t *testing.T) {
	h := newTestServer(t, nil, nil).Handler()

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"id":`},
		{"unknown field", `{"id":"x","start":"2025-04-14T10:00:00Z","end":"2025-04-14T11:00:00Z","bogus":1}`},
		{"inverted", `{"id":"x","start":"2025-04-14T11:00:00Z","end":"2025-04-14T10:00:00Z"}`},
		{"bad kind", `{"id":"x","start":"2025-04-14T10:00:00Z","end":"2025-04-14T11:00:00Z","kind":"party"}`},
		{"bad timezone", `{"id":"x","start":"2025-04-14T10:00:00Z","end":"2025-04-14T11:00:00Z","timezone":"Mars/Olympus"}`},
		{"bad rrule", `{"id":"x","start":"2025-04-14T10:00:00Z","end":"2025-04-14T11:00:00Z","recurrence":{"rrule":"FREQ=SOMETIMES"}}`},
		{"negative step", `{"id":"x","start":"2025-04-14T10:00:00Z","end":"2025-04-14T11:00:00Z","recurrence":{"step_hours":-1,"max_occurrences":2}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/templates", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}

	assert.Len(t, decode[[]templateDTO](t, do(t, h, http.MethodGet, "/api/templates", "")), 0)
}

func TestLayout(t *testing.T) {
	h := newTestServer(t, nil, nil).Handler()

	for _, body := range []string{
		`{"id":"a","start":"2025-04-14T10:00:00Z","end":"2025-04-14T11:00:00Z","title":"A"}`,
		`{"id":"b","start":"2025-04-14T10:30:00Z","end":"2025-04-14T11:30:00Z","title":"B"}`,
		`{"id":"trip","kind":"long-event","start":"2025-04-15T00:00:00Z","end":"2025-04-17T00:00:00Z","title":"Trip"}`,
	} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/templates", body).Code)
	}

	rec := do(t, h, http.MethodGet, "/api/layout?start=2025-04-16&view=week", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[LayoutResponse](t, rec)

	assert.Equal(t, "UTC", resp.Window.Timezone)
	assert.Equal(t, 7, resp.Window.RowLength)
	require.Len(t, resp.Days, 7)
	assert.Equal(t, model.NewDate(2025, time.April, 14), resp.Days[0].Date)
	assert.Equal(t, int64(3), resp.Revision)

	monday := resp.Days[0]
	require.Len(t, monday.Short, 2)
	a, b := monday.Short[0], monday.Short[1]
	assert.Equal(t, "a", a.ID)
	assert.Equal(t, layout.Lane{Index: 0, Count: 2}, a.Lane)
	assert.Equal(t, layout.Lane{Index: 1, Count: 2}, b.Lane)
	assert.InDelta(t, 0, a.LeftPercent, 1e-9)
	assert.InDelta(t, 15, b.LeftPercent, 1e-9)
	assert.InDelta(t, 85, b.WidthPercent, 1e-9)
	assert.Equal(t, layout.Slot{TopOffsetMinutes: 630, HeightMinutes: 60}, b.Slot)

	tuesday := resp.Days[1]
	assert.Empty(t, tuesday.Short)
	require.Len(t, tuesday.Long, 1)
	assert.Equal(t, "trip", tuesday.Long[0].ID)
	assert.Equal(t, layout.SpanLayout{SpanDays: 2, Visible: true}, tuesday.Long[0].SpanLayout)
	assert.Empty(t, resp.Days[2].Long)
}

func TestLayout_WindowParams(t *testing.T) {
	h := newTestServer(t, nil, nil).Handler()

	tests := []struct {
		query string
		code  int
		days  int
	}{
		{"", http.StatusOK, 7},
		{"?view=day&start=2025-04-14", http.StatusOK, 1},
		{"?view=month&start=2025-04-14", http.StatusOK, 35},
		{"?days=3&start=2025-04-14", http.StatusOK, 3},
		{"?days=0", http.StatusBadRequest, 0},
		{"?days=400", http.StatusBadRequest, 0},
		{"?view=year", http.StatusBadRequest, 0},
		{"?start=14.04.2025", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := do(t, h, http.MethodGet, "/api/layout"+tt.query, "")
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			if tt.code == http.StatusOK {
				assert.Len(t, decode[LayoutResponse](t, rec).Days, tt.days)
			}
		})
	}
}

func TestOccurrences(t *testing.T) {
	h := newTestServer(t, nil, nil).Handler()

	body := `{"id":"pill","start":"2025-04-14T08:00:00Z","end":"2025-04-14T08:05:00Z","title":"Pill",
		"recurrence":{"step_hours":24,"max_occurrences":10}}`
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/templates", body).Code)

	rec := do(t, h, http.MethodGet, "/api/occurrences?start=2025-04-15&days=3", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[occurrencesResponse](t, rec)

	require.Len(t, resp.Occurrences, 3)
	assert.Equal(t, "pill#1", resp.Occurrences[0].ID)
	assert.Equal(t, "pill", resp.Occurrences[0].TemplateID)
	assert.Equal(t, 1, resp.Occurrences[0].Index)
	assert.Equal(t, "pill#3", resp.Occurrences[2].ID)
}

func TestTemplateOccurrences(t *testing.T) {
	h := newTestServer(t, nil, nil).Handler()

	body := `{"id":"weekly","start":"2025-04-14T09:00:00Z","end":"2025-04-14T10:00:00Z","title":"Weekly",
		"recurrence":{"rrule":"FREQ=WEEKLY"}}`
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/templates", body).Code)

	rec := do(t, h, http.MethodGet,
		"/api/templates/weekly/occurrences?from=2025-04-01T00:00:00Z&until=2025-05-01T00:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		TemplateID  string          `json:"template_id"`
		Occurrences []OccurrenceDTO `json:"occurrences"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "weekly", resp.TemplateID)
	require.Len(t, resp.Occurrences, 3)
	assert.Equal(t, "weekly#20250414T090000Z", resp.Occurrences[0].ID)
	assert.Equal(t, "weekly#20250428T090000Z", resp.Occurrences[2].ID)

	// Defaults to now (2025-04-16 12:00) plus the 90 day horizon.
	rec = do(t, h, http.MethodGet, "/api/templates/weekly/occurrences", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Occurrences)
	assert.Equal(t, "weekly#20250421T090000Z", resp.Occurrences[0].ID)

	assert.Equal(t, http.StatusBadRequest,
		do(t, h, http.MethodGet, "/api/templates/weekly/occurrences?from=yesterday", "").Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, h, http.MethodGet, "/api/templates/weekly/occurrences?from=2025-05-01T00:00:00Z&until=2025-04-01T00:00:00Z", "").Code)
	assert.Equal(t, http.StatusNotFound,
		do(t, h, http.MethodGet, "/api/templates/nope/occurrences", "").Code)
}

func TestRefresh(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		h := newTestServer(t, nil, nil).Handler()
		assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodPost, "/api/refresh", "").Code)
	})

	t.Run("partial", func(t *testing.T) {
		f := &fakeRefresher{report: refresh.Report{
			Sources:   2,
			Imported:  1,
			Templates: 4,
			Errors:    []error{errors.New("source b: boom")},
		}}
		h := newTestServer(t, nil, f).Handler()

		rec := do(t, h, http.MethodPost, "/api/refresh", "")
		require.Equal(t, http.StatusOK, rec.Code)
		resp := decode[refreshResponse](t, rec)
		assert.Equal(t, 1, f.calls)
		assert.Equal(t, 4, resp.Templates)
		assert.Equal(t, []string{"source b: boom"}, resp.Errors)
	})

	t.Run("all failed", func(t *testing.T) {
		f := &fakeRefresher{report: refresh.Report{
			Sources: 1,
			Errors:  []error{errors.New("source a: boom")},
		}}
		h := newTestServer(t, nil, f).Handler()
		assert.Equal(t, http.StatusBadGateway, do(t, h, http.MethodPost, "/api/refresh", "").Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		h := newTestServer(t, nil, &fakeRefresher{}).Handler()
		assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/api/refresh", "").Code)
	})
}
