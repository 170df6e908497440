package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/agis/tempo/internal/contract"
	"github.com/agis/tempo/internal/schedule"
	"github.com/agis/tempo/internal/store"
	"github.com/agis/tempo/internal/timeparse"
	"github.com/spf13/cobra"
)

type conflictError struct {
	report contract.ConflictReport
}

func (e *conflictError) Error() string { return conflictMessage(e.report) }

func newAddCmd(opts *globalOptions) *cobra.Command {
	var title, startS, endS, durationS, between string
	var force, dryRun bool
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Schedule a commitment, refusing overlaps and elapsed times",
		RunE: func(c *cobra.Command, _ []string) error {
			p, st, ro, err := buildContext(c, opts, "add")
			if err != nil {
				return err
			}
			defer st.Close()
			if strings.TrimSpace(title) == "" || strings.TrimSpace(startS) == "" {
				return failWithHint(p, contract.ErrInvalidUsage, errors.New("--title and --start are required"), "Provide required fields", exitUsage)
			}
			now := nowFunc()
			proposed, err := parseProposal(startS, endS, durationS, now, ro)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use --start with --end or --duration; end must be after start", exitUsage)
			}
			window, err := parseBetweenRange(between)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use --between HH:MM-HH:MM", exitUsage)
			}

			ctx, cancel := commandContext(ro)
			defer cancel()
			var created *contract.Commitment
			var report contract.ConflictReport
			err = guardWithTimeout(ctx, st, ro.Owner, func(ctx context.Context) error {
				res, rep, err := evaluateProposal(ctx, st, ro, proposed, now, window)
				if err != nil {
					return err
				}
				report = rep
				if res.Conflicting() && !force {
					return &conflictError{report: rep}
				}
				if dryRun {
					return nil
				}
				item, err := createWithTimeout(ctx, st, ro.Owner, store.CreateInput{Title: title, Start: proposed.Start, End: proposed.End})
				if err != nil {
					return err
				}
				created = item
				recordHistory(ro, historyEntry{Type: historyAdd, Owner: ro.Owner, Store: ro.Store, Next: []contract.Commitment{*item}})
				return nil
			})
			var ce *conflictError
			if errors.As(err, &ce) {
				_ = p.ErrorWithMeta(contract.ErrConflict, ce.Error(), "Pick a suggested slot or pass --force to schedule anyway", conflictMeta(ce.report))
				return WrapPrinted(exitConflict, err)
			}
			if err != nil {
				return fail(p, err)
			}
			meta := map[string]any{"conflict": report.Status, "forced": force && report.Status != schedule.NoConflict.String()}
			if dryRun {
				meta["dry_run"] = true
				return successWithMeta(ctx, p, ro, contract.Commitment{Owner: ro.Owner, Title: title, Start: proposed.Start, End: proposed.End}, meta, nil)
			}
			ro.log.Info().Str("id", created.ID).Msg("commitment created")
			return successWithMeta(ctx, p, ro, created, meta, nil)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Commitment title")
	cmd.Flags().StringVar(&startS, "start", "", "Start datetime")
	cmd.Flags().StringVar(&endS, "end", "", "End datetime")
	cmd.Flags().StringVar(&durationS, "duration", "", "Duration (e.g. 30m)")
	cmd.Flags().StringVar(&between, "between", "", "Daily window for suggested alternatives")
	cmd.Flags().BoolVar(&force, "force", false, "Schedule even if it conflicts")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Preview without writing")
	return cmd
}

func newCheckCmd(opts *globalOptions) *cobra.Command {
	var startS, endS, durationS, between string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Classify a proposed time without scheduling it",
		RunE: func(c *cobra.Command, _ []string) error {
			p, st, ro, err := buildContext(c, opts, "check")
			if err != nil {
				return err
			}
			defer st.Close()
			now := nowFunc()
			proposed, err := parseProposal(startS, endS, durationS, now, ro)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use --start with --end or --duration; end must be after start", exitUsage)
			}
			window, err := parseBetweenRange(between)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use --between HH:MM-HH:MM", exitUsage)
			}
			ctx, cancel := commandContext(ro)
			defer cancel()
			_, report, err := evaluateProposal(ctx, st, ro, proposed, now, window)
			if err != nil {
				return fail(p, err)
			}
			return successWithMeta(ctx, p, ro, report, map[string]any{"suggestions": len(report.Suggestions)}, nil)
		},
	}
	cmd.Flags().StringVar(&startS, "start", "", "Start datetime")
	cmd.Flags().StringVar(&endS, "end", "", "End datetime")
	cmd.Flags().StringVar(&durationS, "duration", "", "Duration (e.g. 30m)")
	cmd.Flags().StringVar(&between, "between", "", "Daily window for suggested alternatives")
	return cmd
}

func newListCmd(opts *globalOptions) *cobra.Command {
	var fromS, toS string
	var all bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List commitments",
		RunE: func(c *cobra.Command, _ []string) error {
			p, st, ro, err := buildContext(c, opts, "list")
			if err != nil {
				return err
			}
			defer st.Close()
			now := nowFunc()
			f := store.Filter{IncludeDone: all, Limit: limit}
			if fromS != "" {
				if f.From, err = timeparse.ParseDateTime(fromS, now, ro.loc); err != nil {
					return failWithHint(p, contract.ErrInvalidUsage, err, "Use valid --from/--to values", exitUsage)
				}
			}
			if toS != "" {
				if f.To, err = timeparse.ParseDateTime(toS, now, ro.loc); err != nil {
					return failWithHint(p, contract.ErrInvalidUsage, err, "Use valid --from/--to values", exitUsage)
				}
			}
			ctx, cancel := commandContext(ro)
			defer cancel()
			items, err := listWithTimeout(ctx, st, ro.Owner, f)
			if err != nil {
				return fail(p, err)
			}
			return successWithMeta(ctx, p, ro, localize(items, ro), map[string]any{"count": len(items)}, nil)
		},
	}
	cmd.Flags().StringVar(&fromS, "from", "", "Range start")
	cmd.Flags().StringVar(&toS, "to", "", "Range end")
	cmd.Flags().BoolVar(&all, "all", false, "Include completed commitments")
	cmd.Flags().IntVar(&limit, "limit", 0, "Limit results")
	return cmd
}

func newDoneCmd(opts *globalOptions, done bool) *cobra.Command {
	use, short, command := "done <id>", "Mark a commitment completed", "done"
	if !done {
		use, short, command = "undone <id>", "Mark a commitment pending again", "undone"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			p, st, ro, err := buildContext(c, opts, command)
			if err != nil {
				return err
			}
			defer st.Close()
			ctx, cancel := commandContext(ro)
			defer cancel()
			item, err := setCompletedWithTimeout(ctx, st, ro.Owner, args[0], done)
			if err != nil {
				return fail(p, err)
			}
			return successWithMeta(ctx, p, ro, localize([]contract.Commitment{*item}, ro)[0], map[string]any{"count": 1}, nil)
		},
	}
}

func newDeleteCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a commitment",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			p, st, ro, err := buildContext(c, opts, "delete")
			if err != nil {
				return err
			}
			defer st.Close()
			ctx, cancel := commandContext(ro)
			defer cancel()
			if err := deleteWithTimeout(ctx, st, ro.Owner, args[0]); err != nil {
				return fail(p, err)
			}
			return successWithMeta(ctx, p, ro, map[string]any{"id": args[0], "deleted": true}, map[string]any{"count": 1}, nil)
		},
	}
}

func parseProposal(startS, endS, durationS string, now time.Time, ro *globalOptions) (schedule.Interval, error) {
	start, err := timeparse.ParseDateTime(startS, now, ro.loc)
	if err != nil {
		return schedule.Interval{}, err
	}
	end, err := resolveEnd(endS, durationS, start, now, ro.loc)
	if err != nil {
		return schedule.Interval{}, err
	}
	return schedule.NewInterval(start, end)
}

func localize(items []contract.Commitment, ro *globalOptions) []contract.Commitment {
	out := make([]contract.Commitment, 0, len(items))
	for _, it := range items {
		it.Start = it.Start.In(ro.loc)
		it.End = it.End.In(ro.loc)
		out = append(out, it)
	}
	return out
}
