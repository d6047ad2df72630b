package cli

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"calgrid/internal/ics"
	"calgrid/internal/refresh"
)

type importOptions struct {
	calendar string
}

// NewImportCommand creates the import command.
func NewImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import [file-or-url...]",
		Short: "Import ICS calendars into the store",
		Long: `Import the given .ics files or http(s) URLs, or every configured calendar
when no argument is given. Each source replaces the stored content of its
calendar; a source that fails keeps what was stored before.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), rootOpts, opts, args, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.calendar, "calendar", "", "calendar id for a single imported source")

	return cmd
}

func runImport(ctx context.Context, rootOpts *RootOptions, opts *importOptions, args []string, out io.Writer) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}

	sources := sourcesFromConfig(cfg)
	if len(args) > 0 {
		if opts.calendar != "" && len(args) > 1 {
			return NewExitError(ExitCommandError, "--calendar needs exactly one source")
		}
		sources = sourcesFromArgs(args, opts.calendar)
	}
	if len(sources) == 0 {
		return NewExitError(ExitCommandError, "no calendars configured and none given")
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rep := refresh.NewImporter(ics.NewFetcher(cfg.CacheDir, 0), st).Run(ctx, sources)

	if rootOpts.Format == "json" {
		errs := make([]string, 0, len(rep.Errors))
		for _, e := range rep.Errors {
			errs = append(errs, e.Error())
		}
		if err := writeJSON(out, struct {
			Sources   int      `json:"sources"`
			Imported  int      `json:"imported"`
			Templates int      `json:"templates"`
			Errors    []string `json:"errors,omitempty"`
		}{rep.Sources, rep.Imported, rep.Templates, errs}); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "imported %d templates from %d of %d sources\n", rep.Templates, rep.Imported, rep.Sources)
		for _, e := range rep.Errors {
			fmt.Fprintf(out, "  error: %v\n", e)
		}
	}

	if err := rep.Err(); err != nil {
		return WrapExitError(ExitFailure, "import incomplete", err)
	}
	return nil
}

func sourcesFromArgs(args []string, calendar string) []ics.Source {
	sources := make([]ics.Source, 0, len(args))
	for _, arg := range args {
		src := ics.Source{ID: calendar}
		if u, err := url.Parse(arg); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			src.URL = arg
			if src.ID == "" {
				src.ID = idFromName(path.Base(u.Path), u.Hostname())
			}
		} else {
			src.Path = arg
			if src.ID == "" {
				src.ID = idFromName(filepath.Base(arg), "ics")
			}
		}
		sources = append(sources, src)
	}
	return sources
}

// idFromName strips the extension from a file name, falling back to def for
// names that carry nothing usable ("/", ".").
func idFromName(name, def string) string {
	id := strings.TrimSuffix(name, path.Ext(name))
	if id == "" || id == "." || id == "/" {
		return def
	}
	return id
}
