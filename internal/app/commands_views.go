package app

import (
	"errors"

	"github.com/agis/tempo/internal/contract"
	"github.com/agis/tempo/internal/store"
	"github.com/spf13/cobra"
)

func newTodayCmd(opts *globalOptions) *cobra.Command {
	var day string
	var days int
	var all bool
	var summary bool
	cmd := &cobra.Command{
		Use:   "today",
		Short: "List commitments for a day (defaults to today)",
		RunE: func(c *cobra.Command, _ []string) error {
			p, st, ro, err := buildContext(c, opts, "today")
			if err != nil {
				return err
			}
			defer st.Close()
			if days < 1 {
				return failWithHint(p, contract.ErrInvalidUsage, errors.New("--days must be >= 1"), "Use --days 7 for a week", exitUsage)
			}
			first, err := parseDay(day, nowFunc(), ro.loc)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use --day as today, tomorrow, +Nd, or YYYY-MM-DD", exitUsage)
			}
			last := first
			for i := 1; i < days; i++ {
				last = last.Next()
			}
			ctx, cancel := commandContext(ro)
			defer cancel()
			items, err := listWithTimeout(ctx, st, ro.Owner, store.Filter{From: first.Start, To: last.End, IncludeDone: all || summary})
			if err != nil {
				return fail(p, err)
			}
			meta := map[string]any{"day": first.Start.Format("2006-01-02")}
			if days > 1 {
				meta["to"] = last.Start.Format("2006-01-02")
			}
			if summary {
				rows := summarizeDays(items, first, days)
				meta["count"] = len(rows)
				meta["summary"] = true
				return successWithMeta(ctx, p, ro, rows, meta, nil)
			}
			meta["count"] = len(items)
			return successWithMeta(ctx, p, ro, localize(items, ro), meta, nil)
		},
	}
	cmd.Flags().StringVar(&day, "day", "today", "Day selector")
	cmd.Flags().IntVar(&days, "days", 1, "Number of days to cover")
	cmd.Flags().BoolVar(&all, "all", false, "Include completed commitments")
	cmd.Flags().BoolVar(&summary, "summary", false, "One load row per day")
	return cmd
}
