package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"calgrid/internal/config"
	"calgrid/internal/layout"
	"calgrid/internal/model"
	"calgrid/internal/recurrence"
	"calgrid/internal/store"
	"calgrid/internal/web"
)

type expandOptions struct {
	from  string
	until string
}

// NewExpandCommand creates the expand command.
func NewExpandCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &expandOptions{}

	cmd := &cobra.Command{
		Use:   "expand <template-id>",
		Short: "List the occurrences of one stored template",
		Long: `Expand a stored template into its occurrences between --from and --until.
Both accept RFC 3339 timestamps or plain dates (YYYY-MM-DD, midnight in the
configured timezone). They default to now and now plus expand_horizon.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExpand(cmd.Context(), rootOpts, opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.from, "from", "", "start of the range")
	cmd.Flags().StringVar(&opts.until, "until", "", "end of the range")

	return cmd
}

func runExpand(ctx context.Context, rootOpts *RootOptions, opts *expandOptions, id string, out io.Writer) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	t, err := st.GetTemplate(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError, "unknown template", err)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read template", err)
	}

	from, until, err := expandRange(cfg, opts, time.Now())
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid range", err)
	}

	expandOpts := engineOptions(cfg).Expand
	expandOpts.RangeStart, expandOpts.RangeEnd = from, until
	exp, err := recurrence.Expand(t, expandOpts)
	if err != nil {
		return WrapExitError(ExitFailure, "expansion failed", err)
	}

	var occs []model.Occurrence
	for _, o := range exp.Occurrences {
		if layout.IsVisible(from, until, o.Start, o.End) {
			occs = append(occs, o)
		}
	}

	loc := cfg.Location()
	if rootOpts.Format == "json" {
		return writeJSON(out, struct {
			TemplateID  string              `json:"template_id"`
			Occurrences []web.OccurrenceDTO `json:"occurrences"`
			Truncated   bool                `json:"truncated,omitempty"`
		}{t.ID, web.NewOccurrenceDTOs(occs, loc), exp.Truncated})
	}

	for _, o := range occs {
		o = o.In(loc)
		fmt.Fprintf(out, "%s  %s - %s  %s\n",
			o.ID, o.Start.Format("2006-01-02 15:04"), o.End.Format("2006-01-02 15:04"), o.Payload.Title)
	}
	if exp.Truncated {
		fmt.Fprintf(out, "(truncated at %d occurrences)\n", len(exp.Occurrences))
	}
	return nil
}

func expandRange(cfg *config.Config, opts *expandOptions, now time.Time) (time.Time, time.Time, error) {
	from, err := parseInstant(opts.from, cfg.Location(), now)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--from: %w", err)
	}

	horizon, err := cfg.Horizon()
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	until, err := parseInstant(opts.until, cfg.Location(), from.Add(horizon))
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("--until: %w", err)
	}
	if until.Before(from) {
		return time.Time{}, time.Time{}, errors.New("--until precedes --from")
	}
	return from, until, nil
}

func parseInstant(s string, loc *time.Location, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	d, err := model.ParseDate(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q is neither RFC 3339 nor YYYY-MM-DD", s)
	}
	return d.Start(loc), nil
}
