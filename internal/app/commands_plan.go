package app

import (
	"context"
	"fmt"
	"time"

	"github.com/agis/tempo/internal/contract"
	"github.com/agis/tempo/internal/schedule"
	"github.com/agis/tempo/internal/store"
	"github.com/agis/tempo/internal/timeparse"
	"github.com/spf13/cobra"
)

type busyBlock struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Minutes int64     `json:"minutes"`
}

func newFreebusyCmd(opts *globalOptions) *cobra.Command {
	var fromS, toS string
	cmd := &cobra.Command{
		Use:   "freebusy",
		Short: "Show merged busy intervals for a range",
		RunE: func(c *cobra.Command, _ []string) error {
			p, st, ro, err := buildContext(c, opts, "freebusy")
			if err != nil {
				return err
			}
			defer st.Close()
			now := nowFunc()
			from, err := timeparse.ParseDateTime(fromS, now, ro.loc)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use valid --from/--to values", exitUsage)
			}
			to, err := timeparse.ParseDateTime(toS, now, ro.loc)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use valid --from/--to values", exitUsage)
			}
			window, err := schedule.NewInterval(from, to)
			if err != nil {
				return fail(p, err)
			}
			ctx, cancel := commandContext(ro)
			defer cancel()
			items, err := listWithTimeout(ctx, st, ro.Owner, store.Filter{From: window.Start, To: window.End})
			if err != nil {
				return fail(p, err)
			}
			blocks := buildBusyBlocks(items, window, ro.loc)
			minutes := int64(0)
			for _, b := range blocks {
				minutes += b.Minutes
			}
			return successWithMeta(ctx, p, ro, blocks, map[string]any{"count": len(blocks), "busy_minutes": minutes, "commitments_scanned": len(items)}, nil)
		},
	}
	cmd.Flags().StringVar(&fromS, "from", "today", "Range start")
	cmd.Flags().StringVar(&toS, "to", "+1d", "Range end")
	return cmd
}

// buildBusyBlocks merges pending commitments clipped to window.
func buildBusyBlocks(items []contract.Commitment, window schedule.Interval, loc *time.Location) []busyBlock {
	ranges := make([]schedule.Interval, 0, len(items))
	for _, c := range toEngine(items) {
		if c.Completed || !c.Interval.Overlaps(window) {
			continue
		}
		iv := c.Interval
		if iv.Start.Before(window.Start) {
			iv.Start = window.Start
		}
		if iv.End.After(window.End) {
			iv.End = window.End
		}
		ranges = append(ranges, iv)
	}
	merged := schedule.Merge(ranges)
	blocks := make([]busyBlock, 0, len(merged))
	for _, m := range merged {
		blocks = append(blocks, busyBlock{Start: m.Start.In(loc), End: m.End.In(loc), Minutes: int64(m.Duration().Minutes())})
	}
	return blocks
}

func newSlotsCmd(opts *globalOptions) *cobra.Command {
	var dayS, durationS, between string
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "Find every free slot of a duration on one day",
		RunE: func(c *cobra.Command, _ []string) error {
			p, st, ro, err := buildContext(c, opts, "slots")
			if err != nil {
				return err
			}
			defer st.Close()
			now := nowFunc()
			dur, err := parsePositiveDuration(durationS)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use --duration like 30m or 1h", exitUsage)
			}
			window, err := parseBetweenRange(between)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use --between HH:MM-HH:MM", exitUsage)
			}
			day, err := parseDay(dayS, now, ro.loc)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use --day as today, tomorrow, +Nd, or YYYY-MM-DD", exitUsage)
			}
			dayStart, dayEnd := window.bounds(day)
			ctx, cancel := commandContext(ro)
			defer cancel()
			items, err := listWithTimeout(ctx, st, ro.Owner, store.Filter{From: dayStart, To: dayEnd})
			if err != nil {
				return fail(p, err)
			}
			slots, err := schedule.FindSlots(dur, dayStart, dayEnd, now, toEngine(items))
			if err != nil {
				return fail(p, err)
			}
			rows := slotRows(slots, now, ro.loc)
			return successWithMeta(ctx, p, ro, rows, map[string]any{
				"count":               len(rows),
				"day":                 day.Start.Format("2006-01-02"),
				"duration_minutes":    int64(dur.Minutes()),
				"commitments_scanned": len(items),
			}, nil)
		},
	}
	cmd.Flags().StringVar(&dayS, "day", "today", "Day selector")
	cmd.Flags().StringVar(&durationS, "duration", "30m", "Required slot duration")
	cmd.Flags().StringVar(&between, "between", "", "Daily window as HH:MM-HH:MM (default: whole day)")
	return cmd
}

func newSuggestCmd(opts *globalOptions) *cobra.Command {
	var fromDay, durationS, between string
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Suggest the earliest free slots across the next days",
		RunE: func(c *cobra.Command, _ []string) error {
			p, st, ro, err := buildContext(c, opts, "suggest")
			if err != nil {
				return err
			}
			defer st.Close()
			now := nowFunc()
			dur, err := parsePositiveDuration(durationS)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use --duration like 30m or 1h", exitUsage)
			}
			window, err := parseBetweenRange(between)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use --between HH:MM-HH:MM", exitUsage)
			}
			first, err := parseDay(fromDay, now, ro.loc)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Use --from-day as today, tomorrow, +Nd, or YYYY-MM-DD", exitUsage)
			}
			ctx, cancel := commandContext(ro)
			defer cancel()
			slots, err := searchAlternatives(ctx, st, ro, dur, first, now, window)
			if err != nil {
				return fail(p, err)
			}
			rows := slotRows(slots, now, ro.loc)
			var warnings []string
			if want := effectiveMax(ro); len(rows) < want {
				warnings = append(warnings, fmt.Sprintf("found %d of %d requested slots within the horizon", len(rows), want))
			}
			return successWithMeta(ctx, p, ro, rows, map[string]any{
				"count":            len(rows),
				"from_day":         first.Start.Format("2006-01-02"),
				"duration_minutes": int64(dur.Minutes()),
				"horizon_days":     ro.Horizon,
			}, warnings)
		},
	}
	cmd.Flags().StringVar(&fromDay, "from-day", "today", "First day searched")
	cmd.Flags().StringVar(&durationS, "duration", "30m", "Required slot duration")
	cmd.Flags().StringVar(&between, "between", "", "Daily window as HH:MM-HH:MM (default: whole day)")
	return cmd
}

func effectiveMax(ro *globalOptions) int {
	if ro.MaxSlots == 0 {
		return schedule.DefaultMaxResults
	}
	return ro.MaxSlots
}

// evaluateProposal classifies proposed against the owner's stored
// commitments plus any staged rows not yet written, and searches alternatives
// when it conflicts.
func evaluateProposal(ctx context.Context, st store.Store, ro *globalOptions, proposed schedule.Interval, now time.Time, window *dailyWindow, staged ...contract.Commitment) (schedule.ConflictResult, contract.ConflictReport, error) {
	existing, err := listWithTimeout(ctx, st, ro.Owner, store.Filter{From: proposed.Start, To: proposed.End})
	if err != nil {
		return schedule.ConflictResult{}, contract.ConflictReport{}, err
	}
	existing = append(existing, staged...)
	res := schedule.Classify(proposed, toEngine(existing), now, ro.Grace)
	report := contract.ConflictReport{Status: res.Kind.String(), CommitmentID: res.CommitmentID, Suggestions: []contract.Slot{}}
	for _, c := range existing {
		if c.ID == res.CommitmentID {
			report.Title = c.Title
		}
	}
	ro.log.Debug().Str("status", report.Status).Str("commitment_id", res.CommitmentID).Int("scanned", len(existing)).Msg("classified proposal")
	if !res.Conflicting() {
		return res, report, nil
	}
	anchor := now
	if proposed.Start.After(now) {
		anchor = proposed.Start
	}
	slots, err := searchAlternatives(ctx, st, ro, proposed.Duration(), schedule.DayOf(anchor.In(ro.loc)), now, window, staged...)
	if err != nil {
		return res, report, err
	}
	report.Suggestions = slotRows(slots, now, ro.loc)
	return res, report, nil
}

func conflictMessage(report contract.ConflictReport) string {
	switch report.Status {
	case schedule.Overlap.String():
		if report.Title != "" {
			return fmt.Sprintf("proposal overlaps %q (%s)", report.Title, report.CommitmentID)
		}
		return fmt.Sprintf("proposal overlaps %s", report.CommitmentID)
	case schedule.Overdue.String():
		return "proposal ends in the past"
	default:
		return "no conflict"
	}
}

func conflictMeta(report contract.ConflictReport) map[string]any {
	meta := map[string]any{"conflict": report.Status, "suggestions": report.Suggestions}
	if report.CommitmentID != "" {
		meta["commitment_id"] = report.CommitmentID
	}
	return meta
}
