// Package refresh keeps the template store in sync with the configured ICS
// sources: on a cron schedule, on demand, and whenever a local .ics file
// changes.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"calgrid/internal/ics"
	appLog "calgrid/internal/log"
	"calgrid/internal/model"
)

// Sink receives the parsed content of one calendar. store.Store implements it.
type Sink interface {
	ReplaceCalendar(ctx context.Context, calendarID string, templates []model.Template) error
}

// Report summarizes one import run.
type Report struct {
	Started   time.Time
	Duration  time.Duration
	Sources   int
	Imported  int
	Templates int
	Errors    []error
}

// Err joins the per-source errors.
func (r Report) Err() error {
	return errors.Join(r.Errors...)
}

// Importer fetches, parses and stores calendar sources. Runs are
// serialized.
type Importer struct {
	fetcher *ics.Fetcher
	sink    Sink

	mu       sync.Mutex
	onImport []func(Report)
}

func NewImporter(fetcher *ics.Fetcher, sink Sink) *Importer {
	return &Importer{fetcher: fetcher, sink: sink}
}

// OnImport registers fn to be called after every run that stored at least
// one calendar.
func (im *Importer) OnImport(fn func(Report)) {
	im.mu.Lock()
	im.onImport = append(im.onImport, fn)
	im.mu.Unlock()
}

// Run imports every source. A source that fails to fetch or parse keeps its
// previously stored templates.
func (im *Importer) Run(ctx context.Context, sources []ics.Source) Report {
	im.mu.Lock()
	defer im.mu.Unlock()

	rep := Report{Started: time.Now(), Sources: len(sources)}

	results, fetchErrs := im.fetcher.FetchAll(ctx, sources)
	rep.Errors = append(rep.Errors, fetchErrs...)

	for _, res := range results {
		n, err := im.store(ctx, res)
		if err != nil {
			rep.Errors = append(rep.Errors, err)
			continue
		}
		rep.Imported++
		rep.Templates += n
	}

	rep.Duration = time.Since(rep.Started)
	im.finish(rep)
	return rep
}

// ImportOne imports a single source.
func (im *Importer) ImportOne(ctx context.Context, src ics.Source) (int, error) {
	im.mu.Lock()
	defer im.mu.Unlock()

	rep := Report{Started: time.Now(), Sources: 1}

	res, err := im.fetcher.FetchOne(ctx, src)
	if err != nil {
		return 0, fmt.Errorf("source %s: %w", src.ID, err)
	}
	n, err := im.store(ctx, res)
	if err != nil {
		return 0, err
	}

	rep.Imported, rep.Templates = 1, n
	rep.Duration = time.Since(rep.Started)
	im.finish(rep)
	return n, nil
}

func (im *Importer) store(ctx context.Context, res ics.FetchResult) (int, error) {
	templates, err := ics.ParseICS(res.Source, res.Body)
	if err != nil {
		return 0, fmt.Errorf("source %s: %w", res.Source.ID, err)
	}
	if err := im.sink.ReplaceCalendar(ctx, res.Source.ID, templates); err != nil {
		return 0, fmt.Errorf("source %s: store: %w", res.Source.ID, err)
	}
	return len(templates), nil
}

// finish runs with im.mu held.
func (im *Importer) finish(rep Report) {
	if len(rep.Errors) > 0 {
		appLog.Error("import finished with errors", rep.Err(),
			"sources", rep.Sources, "imported", rep.Imported, "templates", rep.Templates)
	} else {
		appLog.Info("import finished",
			"sources", rep.Sources, "imported", rep.Imported, "templates", rep.Templates,
			"duration", rep.Duration.Round(time.Millisecond))
	}

	if rep.Imported == 0 {
		return
	}
	for _, fn := range im.onImport {
		fn(rep)
	}
}
