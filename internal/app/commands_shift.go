package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agis/tempo/internal/contract"
	"github.com/agis/tempo/internal/schedule"
	"github.com/agis/tempo/internal/store"
	"github.com/agis/tempo/internal/timeparse"
	"github.com/spf13/cobra"
)

type shiftResult struct {
	Anchor  contract.Commitment   `json:"anchor"`
	Shifted []contract.Commitment `json:"shifted"`
}

type newEndFunc func(anchor contract.Commitment, now time.Time, loc *time.Location) (time.Time, error)

func newExtendCmd(opts *globalOptions) *cobra.Command {
	var byS, toS string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "extend <id>",
		Short: "Push a commitment's end later and shift everything after it",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runShift(c, opts, "extend", args[0], schedule.KeepStart, dryRun, func(anchor contract.Commitment, now time.Time, loc *time.Location) (time.Time, error) {
				if (strings.TrimSpace(byS) == "") == (strings.TrimSpace(toS) == "") {
					return time.Time{}, errors.New("use exactly one of --by or --to")
				}
				if byS != "" {
					d, err := time.ParseDuration(strings.TrimSpace(byS))
					if err != nil {
						return time.Time{}, err
					}
					return anchor.End.Add(d), nil
				}
				return timeparse.ParseDateTime(toS, now, loc)
			})
		},
	}
	cmd.Flags().StringVar(&byS, "by", "", "Extend by a duration (e.g. 30m)")
	cmd.Flags().StringVar(&toS, "to", "", "New end datetime")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Preview without writing")
	return cmd
}

func newResumeCmd(opts *globalOptions) *cobra.Command {
	var forS string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "resume <id>",
		Short: "Restart an overdue commitment now and shift everything after it",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runShift(c, opts, "resume", args[0], schedule.ResumeNow, dryRun, func(anchor contract.Commitment, now time.Time, loc *time.Location) (time.Time, error) {
				d := anchor.End.Sub(anchor.Start)
				if strings.TrimSpace(forS) != "" {
					v, err := parsePositiveDuration(forS)
					if err != nil {
						return time.Time{}, err
					}
					d = v
				}
				return now.Add(d), nil
			})
		},
	}
	cmd.Flags().StringVar(&forS, "for", "", "Remaining duration (default: original duration)")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Preview without writing")
	return cmd
}

// runShift loads the anchor and every pending commitment from its end onward,
// applies the cascade, and writes all changed rows as one batch inside the
// owner's barrier.
func runShift(c *cobra.Command, opts *globalOptions, command, id string, mode schedule.ShiftMode, dryRun bool, newEnd newEndFunc) error {
	p, st, ro, err := buildContext(c, opts, command)
	if err != nil {
		return err
	}
	defer st.Close()
	now := nowFunc()
	ctx, cancel := commandContext(ro)
	defer cancel()

	var result shiftResult
	var prev []contract.Commitment
	var delta time.Duration
	var usageErr error
	err = guardWithTimeout(ctx, st, ro.Owner, func(ctx context.Context) error {
		anchor, err := getWithTimeout(ctx, st, ro.Owner, id)
		if err != nil {
			return err
		}
		end, err := newEnd(*anchor, now, ro.loc)
		if err != nil {
			usageErr = err
			return err
		}
		items, err := listWithTimeout(ctx, st, ro.Owner, store.Filter{From: anchor.End})
		if err != nil {
			return err
		}
		shifted, updated, err := schedule.ApplyShift(toEngine([]contract.Commitment{*anchor})[0], end, toEngine(items), mode, now)
		if err != nil {
			return err
		}
		delta = end.Sub(anchor.End)
		result = collectShift(*anchor, updated, items, shifted, ro)
		prev = priorRows(*anchor, items, result.Shifted)
		if dryRun {
			return nil
		}
		batch := append([]contract.Commitment{result.Anchor}, result.Shifted...)
		if err := updateBatchWithTimeout(ctx, st, ro.Owner, batch); err != nil {
			return err
		}
		recordHistory(ro, historyEntry{Type: historyShift, Owner: ro.Owner, Store: ro.Store, Prev: prev, Next: batch})
		return nil
	})
	if usageErr != nil {
		return failWithHint(p, contract.ErrInvalidUsage, usageErr, "Use --by/--for with a duration like 30m, or --to with a datetime", exitUsage)
	}
	if err != nil {
		return fail(p, err)
	}

	var warnings []string
	for i, s := range result.Shifted {
		was := prev[i+1].Start.In(ro.loc).Format("2006-01-02")
		if is := s.Start.In(ro.loc).Format("2006-01-02"); is != was {
			warnings = append(warnings, fmt.Sprintf("%s moved from %s to %s", s.ID, was, is))
		}
	}
	ro.log.Info().Str("id", id).Dur("delta", delta).Int("shifted", len(result.Shifted)).Bool("dry_run", dryRun).Msg("cascading shift")
	meta := map[string]any{"delta_minutes": int64(delta.Minutes()), "shifted": len(result.Shifted)}
	if dryRun {
		meta["dry_run"] = true
	}
	return successWithMeta(ctx, p, ro, result, meta, warnings)
}

// collectShift maps engine output back onto persisted rows, keeping only the
// rows whose interval actually moved.
func collectShift(anchor contract.Commitment, updated schedule.Commitment, before []contract.Commitment, after []schedule.Commitment, ro *globalOptions) shiftResult {
	anchor.Start = updated.Interval.Start.In(ro.loc)
	anchor.End = updated.Interval.End.In(ro.loc)
	res := shiftResult{Anchor: anchor, Shifted: []contract.Commitment{}}
	for i, c := range before {
		if c.ID == anchor.ID {
			continue
		}
		moved := after[i].Interval
		if moved.Start.Equal(c.Start) && moved.End.Equal(c.End) {
			continue
		}
		c.Start = moved.Start.In(ro.loc)
		c.End = moved.End.In(ro.loc)
		res.Shifted = append(res.Shifted, c)
	}
	return res
}

// priorRows returns the persisted state of the anchor followed by each
// shifted row, in the same order as the written batch.
func priorRows(anchor contract.Commitment, before, shifted []contract.Commitment) []contract.Commitment {
	byID := make(map[string]contract.Commitment, len(before))
	for _, c := range before {
		byID[c.ID] = c
	}
	out := make([]contract.Commitment, 0, len(shifted)+1)
	out = append(out, anchor)
	for _, c := range shifted {
		out = append(out, byID[c.ID])
	}
	return out
}
