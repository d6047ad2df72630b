package refresh

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	"calgrid/internal/config"
	"calgrid/internal/ics"
	appLog "calgrid/internal/log"
)

// Scheduler runs the importer over all sources on a cron schedule.
type Scheduler struct {
	spec     string
	importer *Importer
	sources  []ics.Source
	cron     *cron.Cron
}

// NewScheduler validates spec and prepares (but does not start) the
// schedule. Overlapping runs are skipped.
func NewScheduler(spec string, importer *Importer, sources []ics.Source) (*Scheduler, error) {
	if _, err := config.CronParser.Parse(spec); err != nil {
		return nil, fmt.Errorf("refresh schedule %q: %w", spec, err)
	}
	return &Scheduler{
		spec:     spec,
		importer: importer,
		sources:  sources,
		cron: cron.New(
			cron.WithParser(config.CronParser),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
	}, nil
}

// Run imports once, then on every tick until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.importer.Run(ctx, s.sources) }); err != nil {
		return fmt.Errorf("refresh schedule %q: %w", s.spec, err)
	}

	s.importer.Run(ctx, s.sources)

	appLog.Info("refresh scheduler started", "schedule", s.spec, "sources", len(s.sources))
	s.cron.Start()

	<-ctx.Done()

	// Wait for a running import to finish.
	<-s.cron.Stop().Done()
	appLog.Info("refresh scheduler stopped")
	return nil
}

// Trigger imports all sources now, outside the schedule.
func (s *Scheduler) Trigger(ctx context.Context) Report {
	return s.importer.Run(ctx, s.sources)
}

// Sources returns the scheduled sources.
func (s *Scheduler) Sources() []ics.Source {
	return s.sources
}
