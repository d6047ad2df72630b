package ics

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetcher_ConditionalRequests(t *testing.T) {
	var (
		hits   atomic.Int32
		broken atomic.Bool
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if broken.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), 0)
	src := Source{ID: "team", URL: srv.URL + "/team.ics?token=secret"}

	first, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, first.FromCache)
	assert.Contains(t, string(first.Body), "BEGIN:VCALENDAR")

	second, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)

	broken.Store(true)
	third, err := f.FetchOne(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, third.FromCache)
	assert.Equal(t, first.Body, third.Body)

	assert.Equal(t, int32(3), hits.Load())
}

func TestFetcher_ErrorWithoutCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(t.TempDir(), 0)
	_, err := f.FetchOne(context.Background(), Source{ID: "gone", URL: srv.URL})
	assert.Error(t, err)
}

func TestFetcher_LocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "home.ics")
	require.NoError(t, os.WriteFile(path, crlf(feed), 0o600))

	f := NewFetcher(t.TempDir(), 0)
	res, err := f.FetchOne(context.Background(), Source{ID: "home", Path: path})
	require.NoError(t, err)
	assert.Equal(t, crlf(feed), res.Body)
}

func TestFetcher_RejectsBadSources(t *testing.T) {
	f := NewFetcher(t.TempDir(), 0)

	_, err := f.FetchOne(context.Background(), Source{ID: "none"})
	assert.Error(t, err)

	_, err = f.FetchOne(context.Background(), Source{ID: "ftp", URL: "ftp://example.com/cal.ics"})
	assert.ErrorContains(t, err, "unsupported scheme")
}

func TestFetchAll_PartialFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ok.ics")
	require.NoError(t, os.WriteFile(path, crlf(feed), 0o600))

	f := NewFetcher(t.TempDir(), 0)
	results, errs := f.FetchAll(context.Background(), []Source{
		{ID: "ok", Path: path},
		{ID: "missing", Path: filepath.Join(t.TempDir(), "nope.ics")},
	})
	require.Len(t, results, 1)
	assert.Equal(t, "ok", results[0].Source.ID)
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "source missing")
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://calendar.example.com/...(redacted)", redactURL("https://calendar.example.com/private/abc.ics?token=1"))
	assert.Equal(t, "ics://...(redacted)", redactURL("not a url"))
	assert.Equal(t, "/tmp/a.ics", Source{Path: "/tmp/a.ics"}.Origin())
}
