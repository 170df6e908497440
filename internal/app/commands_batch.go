package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/agis/tempo/internal/contract"
	"github.com/agis/tempo/internal/store"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type batchLine struct {
	Op       string  `json:"op"`
	ID       string  `json:"id,omitempty"`
	Title    *string `json:"title,omitempty"`
	Start    *string `json:"start,omitempty"`
	End      *string `json:"end,omitempty"`
	Duration *string `json:"duration,omitempty"`
}

// batchRun holds state shared by every line of one batch. staged collects
// dry-run adds so later lines are classified against them.
type batchRun struct {
	st     store.Store
	ro     *globalOptions
	now    time.Time
	force  bool
	dryRun bool
	txID   string
	staged []contract.Commitment
}

func newBatchCmd(opts *globalOptions) *cobra.Command {
	var filePath string
	var dryRun, force, continueOnError, strict bool
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Apply add/done/undone/delete operations from JSONL",
		RunE: func(c *cobra.Command, _ []string) error {
			p, st, ro, err := buildContext(c, opts, "batch")
			if err != nil {
				return err
			}
			defer st.Close()
			if strings.TrimSpace(filePath) == "" {
				return failWithHint(p, contract.ErrInvalidUsage, errors.New("--file is required"), "Pass --file <path> or --file -", exitUsage)
			}
			if strict {
				continueOnError = false
			}
			raw, err := readTextInput(c.InOrStdin(), filePath)
			if err != nil {
				return failWithHint(p, contract.ErrInvalidUsage, err, "Check file path or stdin", exitUsage)
			}
			ctx, cancel := commandContext(ro)
			defer cancel()

			txID := "tx-" + uuid.NewString()
			run := &batchRun{st: st, ro: ro, now: nowFunc(), force: force, dryRun: dryRun, txID: txID}
			results := make([]map[string]any, 0)
			errorsCount, conflicts := 0, 0
			err = guardWithTimeout(ctx, st, ro.Owner, func(ctx context.Context) error {
				lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
				for i, line := range lines {
					s := strings.TrimSpace(line)
					if s == "" {
						continue
					}
					var row batchLine
					res := map[string]any{"tx_id": txID, "line": i + 1}
					var lineErr error
					if err := json.Unmarshal([]byte(s), &row); err != nil {
						lineErr = errors.New("invalid json")
					} else {
						res["op"] = strings.ToLower(strings.TrimSpace(row.Op))
						lineErr = run.exec(ctx, row, res)
					}
					if lineErr != nil {
						var ce *conflictError
						if errors.As(lineErr, &ce) {
							conflicts++
							res["conflict"] = ce.report.Status
							res["commitment_id"] = ce.report.CommitmentID
							res["suggestions"] = ce.report.Suggestions
						}
						errorsCount++
						res["ok"] = false
						res["error"] = lineErr.Error()
						results = append(results, res)
						if !continueOnError {
							break
						}
						continue
					}
					res["ok"] = true
					results = append(results, res)
				}
				return nil
			})
			if err != nil {
				return fail(p, err)
			}
			ro.log.Info().Str("tx_id", txID).Int("lines", len(results)).Int("errors", errorsCount).Bool("dry_run", dryRun).Msg("batch applied")
			meta := map[string]any{"count": len(results), "errors": errorsCount, "conflicts": conflicts, "dry_run": dryRun, "tx_id": txID}
			if errorsCount > 0 {
				_ = successWithMeta(ctx, p, ro, results, meta, nil)
				code := exitGeneric
				if conflicts == errorsCount {
					code = exitConflict
				}
				return WrapPrinted(code, fmt.Errorf("batch completed with %d error(s)", errorsCount))
			}
			return successWithMeta(ctx, p, ro, results, meta, nil)
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "JSONL file path or - for stdin")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "Preview without writing")
	cmd.Flags().BoolVar(&force, "force", false, "Add even when a line conflicts")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", true, "Continue processing after row errors")
	cmd.Flags().BoolVar(&strict, "strict", false, "Fail fast on first row error")
	return cmd
}

func (r *batchRun) exec(ctx context.Context, row batchLine, res map[string]any) error {
	switch strings.ToLower(strings.TrimSpace(row.Op)) {
	case "add":
		if row.Title == nil || strings.TrimSpace(*row.Title) == "" || row.Start == nil {
			return errors.New("add requires title and start")
		}
		endS, durationS := "", ""
		if row.End != nil {
			endS = *row.End
		}
		if row.Duration != nil {
			durationS = *row.Duration
		}
		proposed, err := parseProposal(*row.Start, endS, durationS, r.now, r.ro)
		if err != nil {
			return err
		}
		verdict, report, err := evaluateProposal(ctx, r.st, r.ro, proposed, r.now, nil, r.staged...)
		if err != nil {
			return err
		}
		res["conflict"] = report.Status
		if verdict.Conflicting() && !r.force {
			return &conflictError{report: report}
		}
		if r.dryRun {
			r.staged = append(r.staged, contract.Commitment{ID: fmt.Sprintf("staged-%d", len(r.staged)+1), Owner: r.ro.Owner, Title: *row.Title, Start: proposed.Start, End: proposed.End})
			res["start"], res["end"] = proposed.Start.In(r.ro.loc), proposed.End.In(r.ro.loc)
			return nil
		}
		created, err := createWithTimeout(ctx, r.st, r.ro.Owner, store.CreateInput{Title: *row.Title, Start: proposed.Start, End: proposed.End})
		if err != nil {
			return err
		}
		res["id"] = created.ID
		recordHistory(r.ro, historyEntry{Type: historyAdd, TxID: r.txID, Owner: r.ro.Owner, Store: r.ro.Store, Next: []contract.Commitment{*created}})
		return nil
	case "done", "undone":
		if strings.TrimSpace(row.ID) == "" {
			return fmt.Errorf("%s requires id", row.Op)
		}
		res["id"] = row.ID
		if r.dryRun {
			_, err := getWithTimeout(ctx, r.st, r.ro.Owner, row.ID)
			return err
		}
		_, err := setCompletedWithTimeout(ctx, r.st, r.ro.Owner, row.ID, strings.EqualFold(strings.TrimSpace(row.Op), "done"))
		return err
	case "delete":
		if strings.TrimSpace(row.ID) == "" {
			return errors.New("delete requires id")
		}
		res["id"] = row.ID
		if r.dryRun {
			_, err := getWithTimeout(ctx, r.st, r.ro.Owner, row.ID)
			return err
		}
		return deleteWithTimeout(ctx, r.st, r.ro.Owner, row.ID)
	default:
		return fmt.Errorf("unsupported op: %s", row.Op)
	}
}

func readTextInput(stdin io.Reader, path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
