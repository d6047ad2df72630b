package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/muesli/reflow/ansi"
	"github.com/muesli/reflow/truncate"
	"github.com/spf13/cobra"

	"calgrid/internal/config"
	"calgrid/internal/layout"
	"calgrid/internal/model"
	"calgrid/internal/web"
)

type layoutOptions struct {
	start    string
	view     string
	days     int
	calendar string
	width    int
}

// NewLayoutCommand creates the layout command.
func NewLayoutCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &layoutOptions{}

	cmd := &cobra.Command{
		Use:   "layout",
		Short: "Print the grid layout of a day, week or month",
		Long: `Compute the layout of the stored calendars over one window and print it.

Text output lists every day cell with its timed events (time range, lane and
title) and the multi-day bars anchored in it. JSON output is the same document
GET /api/layout returns.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLayout(cmd.Context(), rootOpts, opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&opts.start, "start", "", "a day inside the window, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&opts.view, "view", "week", "window to lay out (day|week|month)")
	cmd.Flags().IntVar(&opts.days, "days", 0, "lay out this many days from --start instead of a view")
	cmd.Flags().StringVar(&opts.calendar, "calendar", "", "only this calendar id")
	cmd.Flags().IntVar(&opts.width, "width", 40, "truncate titles to this many columns")

	return cmd
}

func runLayout(ctx context.Context, rootOpts *RootOptions, opts *layoutOptions, out, errOut io.Writer) error {
	cfg, err := loadConfig(rootOpts)
	if err != nil {
		return err
	}

	win, err := windowFor(cfg, opts.start, opts.view, opts.days, time.Now())
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid window", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	templates, err := st.ListTemplates(ctx, opts.calendar)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read templates", err)
	}

	res, err := layout.Compute(win, templates, engineOptions(cfg))
	if err != nil {
		return WrapExitError(ExitFailure, "layout failed", err)
	}
	if len(res.Truncated) > 0 {
		fmt.Fprintf(errOut, "warning: recurrence truncated for %s\n", strings.Join(res.Truncated, ", "))
	}

	if rootOpts.Format == "json" {
		rev, err := st.Revision(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read revision", err)
		}
		return writeJSON(out, web.NewLayoutResponse(res, rev))
	}
	return printLayout(out, res, opts.width)
}

func windowFor(cfg *config.Config, start, view string, days int, now time.Time) (model.Window, error) {
	loc := cfg.Location()

	day := model.DateOf(now.In(loc))
	if start != "" {
		d, err := model.ParseDate(start)
		if err != nil {
			return model.Window{}, err
		}
		day = d
	}

	if days > 0 {
		win := model.NewWindow(day, days, loc)
		win.RowLength = cfg.Layout.RowLength
		return win, nil
	}
	return model.ForView(model.View(view), day, cfg.FirstWeekday(), loc)
}

// printLayout writes one block per day cell:
//
//	Mon 2025-04-14
//	  10:00-11:00  1/2  Standup
//	  2d  Offsite >
func printLayout(w io.Writer, res layout.Result, width int) error {
	loc := res.Window.Loc()
	fmt.Fprintf(w, "%s - %s (%s)\n", res.Window.First(), res.Window.Last(), loc)

	for _, d := range res.Days {
		fmt.Fprintf(w, "%s %s\n", d.Date.Weekday().String()[:3], d.Date)
		if len(d.Short) == 0 && len(d.Long) == 0 {
			fmt.Fprintln(w, "  -")
			continue
		}

		for _, b := range d.Long {
			line := fmt.Sprintf("  %dd  ", b.Span.SpanDays)
			if b.Span.ContinuesFromPrevious {
				line += "< "
			}
			line += title(b.Occurrence, width)
			if b.Span.ContinuesIntoNext {
				line += " >"
			}
			fmt.Fprintln(w, line)
		}
		for _, p := range d.Short {
			o := p.Occurrence.In(loc)
			fmt.Fprintf(w, "  %s-%s  %d/%d  %s\n",
				o.Start.Format("15:04"), o.End.Format("15:04"),
				p.Lane.Index+1, p.Lane.Count,
				title(o, width))
		}
	}
	return nil
}

func title(o model.Occurrence, width int) string {
	t := o.Payload.Title
	if t == "" {
		t = o.ID
	}
	// Widths are terminal cells, so wide runes count double.
	if width <= 0 || ansi.PrintableRuneWidth(t) <= width {
		return t
	}
	return truncate.StringWithTail(t, uint(width), "...")
}
