package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"calgrid/internal/config"
	"calgrid/internal/ics"
	"calgrid/internal/layout"
	appLog "calgrid/internal/log"
	"calgrid/internal/refresh"
	"calgrid/internal/store"
	"calgrid/internal/web"
)

type serveOptions struct {
	listen string
	once   bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with scheduled calendar refresh",
		Long: `Serve the layout API. Configured calendars are imported at startup and
then on the refresh schedule; local .ics files are also re-imported when they
change on disk.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.listen, "listen", "", "HTTP listen address (overrides config if set)")
	cmd.Flags().BoolVar(&opts.once, "once", false, "import all calendars once and exit")

	return cmd
}

func runServe(parent context.Context, rootOpts *RootOptions, opts *serveOptions) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}
	if opts.listen != "" {
		cfg.Listen = opts.listen
	}

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"week_start", cfg.WeekStart,
		"refresh", cfg.RefreshCron,
		"database", cfg.Database,
		"ics_count", len(cfg.ICS),
		"once", opts.once,
	)

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sources := sourcesFromConfig(cfg)
	importer := refresh.NewImporter(ics.NewFetcher(cfg.CacheDir, 0), st)

	if opts.once {
		rep := importer.Run(parent, sources)
		if err := rep.Err(); err != nil {
			return WrapExitError(ExitFailure, "import failed", err)
		}
		return nil
	}

	engine := layout.NewEngine(engineOptions(cfg), 0)
	importer.OnImport(func(refresh.Report) { engine.Invalidate() })

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			appLog.Info("signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	g, ctx := errgroup.WithContext(ctx)

	var refresher web.Refresher
	if len(sources) > 0 {
		sched, err := refresh.NewScheduler(cfg.RefreshCron, importer, sources)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid refresh schedule", err)
		}
		refresher = sched
		g.Go(func() error { return sched.Run(ctx) })

		watcher, err := refresh.NewWatcher(importer, sources, 0)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to watch calendar files", err)
		}
		if watcher.Len() > 0 {
			g.Go(func() error { return watcher.Run(ctx) })
		}
	}

	srv := web.NewServer(cfg, st, engine, refresher)
	g.Go(func() error { return web.StartServer(ctx, cfg.Listen, srv.Handler()) })

	err = g.Wait()
	appLog.Info("calgrid exiting")
	return err
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create database directory", err)
	}
	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	return st, nil
}

func sourcesFromConfig(cfg *config.Config) []ics.Source {
	sources := make([]ics.Source, 0, len(cfg.ICS))
	for _, c := range cfg.ICS {
		sources = append(sources, ics.Source{ID: c.ID, Name: c.Name, URL: c.URL, Path: c.Path})
	}
	return sources
}
