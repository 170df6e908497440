package app

import (
	"context"
	"errors"

	"github.com/agis/tempo/internal/contract"
	"github.com/spf13/cobra"
)

func newHistoryCmd(opts *globalOptions) *cobra.Command {
	history := &cobra.Command{Use: "history", Short: "Inspect and undo recorded writes"}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent history entries for the owner",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, st, ro, err := buildContext(cmd, opts, "history.list")
			if err != nil {
				return err
			}
			defer st.Close()
			entries, err := readHistory()
			if err != nil {
				return failWithHint(p, contract.ErrGeneric, err, "Check history file permissions", exitGeneric)
			}
			own, _ := ownHistory(entries, ro.Owner, ro.Store)
			if limit > 0 && len(own) > limit {
				own = own[len(own)-limit:]
			}
			if own == nil {
				own = []historyEntry{}
			}
			return p.Success(own, map[string]any{"count": len(own)}, nil)
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "Maximum entries")

	var dryRun bool
	undo := &cobra.Command{
		Use:   "undo",
		Short: "Undo the owner's latest add or shift",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, st, ro, err := buildContext(cmd, opts, "history.undo")
			if err != nil {
				return err
			}
			defer st.Close()
			now := nowFunc()
			ctx, cancel := commandContext(ro)
			defer cancel()
			var entry historyEntry
			err = guardWithTimeout(ctx, st, ro.Owner, func(ctx context.Context) error {
				var err error
				entry, err = undoLastHistory(ctx, st, ro, now, dryRun)
				return err
			})
			var stale *staleHistoryError
			if errors.As(err, &stale) {
				return failWithHint(p, contract.ErrConflict, err, "Adjust the commitments by hand; the journal entry is kept", exitConflict)
			}
			if errors.Is(err, errHistoryEmpty) {
				return failWithHint(p, contract.ErrNotFound, err, "Nothing recorded for this owner and store", exitNotFound)
			}
			if err != nil {
				return fail(p, err)
			}
			ro.log.Info().Str("type", entry.Type).Bool("dry_run", dryRun).Msg("history undone")
			return successWithMeta(ctx, p, ro, entry, map[string]any{"type": entry.Type, "undone": !dryRun}, nil)
		},
	}
	undo.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Preview undo without writing")

	history.AddCommand(list, undo)
	return history
}
