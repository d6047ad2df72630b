// Package cli wires the calgrid commands: the long-running service and the
// one-shot layout, expand and import tools.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"calgrid/internal/config"
	"calgrid/internal/layout"
	appLog "calgrid/internal/log"
	"calgrid/internal/recurrence"
)

const defaultConfigPath = "/etc/calgrid/config.yaml"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the calgrid CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "calgrid",
		Short: "Calendar grid layout service",
		Long: `calgrid imports calendars, expands recurring events and computes the
geometry of a day, week or month grid: lanes for overlapping events, vertical
offsets and multi-day bars.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			if opts.Verbose {
				appLog.SetLevel(appLog.LevelDebug)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", defaultConfigPath, "path to config file")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewLayoutCommand(opts))
	cmd.AddCommand(NewExpandCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// loadConfig reads the config file and applies its log level unless
// --verbose already asked for debug output.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if !opts.Verbose {
		appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))
	}
	return cfg, nil
}

// engineOptions maps the layout section of cfg onto layout.Options.
func engineOptions(cfg *config.Config) layout.Options {
	return layout.Options{
		MinHeightMinutes:  cfg.Layout.MinHeightMinutes,
		LaneOffsetPercent: cfg.Layout.LaneOffsetPercent,
		Parallelism:       cfg.Layout.Parallelism,
		Expand: recurrence.Options{
			HonorUntil:     cfg.HonorUntil(),
			MaxOccurrences: cfg.Layout.MaxOccurrences,
		},
	}
}
