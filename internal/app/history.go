package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agis/tempo/internal/contract"
	"github.com/agis/tempo/internal/schedule"
	"github.com/agis/tempo/internal/store"
)

var errHistoryEmpty = errors.New("history is empty")

const (
	historyAdd   = "add"
	historyShift = "shift"
)

// historyEntry records one write so it can be reversed. For shifts Prev and
// Next hold the same rows in the same order, before and after the write.
type historyEntry struct {
	At    time.Time             `json:"at"`
	Type  string                `json:"type"`
	TxID  string                `json:"tx_id,omitempty"`
	Owner string                `json:"owner"`
	Store string                `json:"store,omitempty"`
	Prev  []contract.Commitment `json:"prev,omitempty"`
	Next  []contract.Commitment `json:"next,omitempty"`
}

func historyFilePath() string {
	base := defaultUserConfigPath()
	if strings.TrimSpace(base) == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(base), "history.jsonl")
}

// recordHistory appends entry to the journal. A failed append never fails
// the write it describes.
func recordHistory(ro *globalOptions, entry historyEntry) {
	if err := appendHistory(entry); err != nil {
		ro.log.Warn().Err(err).Str("type", entry.Type).Msg("history append failed")
	}
}

func appendHistory(entry historyEntry) error {
	path := historyFilePath()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if entry.At.IsZero() {
		entry.At = time.Now().UTC()
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(b, '\n'))
	return err
}

func readHistory() ([]historyEntry, error) {
	path := historyFilePath()
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	out := make([]historyEntry, 0, len(lines))
	for _, line := range lines {
		s := strings.TrimSpace(line)
		if s == "" {
			continue
		}
		var e historyEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func writeHistory(entries []historyEntry) error {
	path := historyFilePath()
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var b strings.Builder
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			return err
		}
		b.Write(line)
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

// ownHistory keeps the entries written by owner against storePath, with
// their positions in the full journal.
func ownHistory(entries []historyEntry, owner, storePath string) ([]historyEntry, []int) {
	var out []historyEntry
	var idx []int
	for i, e := range entries {
		if e.Owner == owner && e.Store == storePath {
			out = append(out, e)
			idx = append(idx, i)
		}
	}
	return out, idx
}

// staleHistoryError means the rows an entry wrote have changed since.
type staleHistoryError struct {
	id     string
	reason string
}

func (e *staleHistoryError) Error() string {
	return fmt.Sprintf("cannot undo: %s %s", e.id, e.reason)
}

// undoLastHistory reverses the owner's most recent journal entry. It must run
// inside the owner's guard. The entry is dropped from the journal only after
// the store write succeeds.
func undoLastHistory(ctx context.Context, st store.Store, ro *globalOptions, now time.Time, dryRun bool) (historyEntry, error) {
	entries, err := readHistory()
	if err != nil {
		return historyEntry{}, err
	}
	own, idx := ownHistory(entries, ro.Owner, ro.Store)
	if len(own) == 0 {
		return historyEntry{}, errHistoryEmpty
	}
	last := own[len(own)-1]
	if err := verifyUnchanged(ctx, st, ro.Owner, last.Next); err != nil {
		return historyEntry{}, err
	}
	switch last.Type {
	case historyAdd:
		if dryRun {
			break
		}
		for _, c := range last.Next {
			if err := deleteWithTimeout(ctx, st, ro.Owner, c.ID); err != nil {
				return historyEntry{}, err
			}
		}
	case historyShift:
		if len(last.Prev) == 0 || len(last.Prev) != len(last.Next) {
			return historyEntry{}, fmt.Errorf("invalid shift history entry")
		}
		if err := checkRestorable(ctx, st, ro, last.Prev, now); err != nil {
			return historyEntry{}, err
		}
		if dryRun {
			break
		}
		if err := updateBatchWithTimeout(ctx, st, ro.Owner, last.Prev); err != nil {
			return historyEntry{}, err
		}
	default:
		return historyEntry{}, fmt.Errorf("unsupported history type: %s", last.Type)
	}
	if dryRun {
		return last, nil
	}
	drop := idx[len(idx)-1]
	rest := append(append([]historyEntry{}, entries[:drop]...), entries[drop+1:]...)
	if err := writeHistory(rest); err != nil {
		return historyEntry{}, err
	}
	return last, nil
}

// verifyUnchanged refuses an undo once any written row was deleted or moved.
func verifyUnchanged(ctx context.Context, st store.Store, owner string, written []contract.Commitment) error {
	for _, want := range written {
		got, err := getWithTimeout(ctx, st, owner, want.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return &staleHistoryError{id: want.ID, reason: "was deleted after the write"}
			}
			return err
		}
		if !got.Start.Equal(want.Start) || !got.End.Equal(want.End) {
			return &staleHistoryError{id: want.ID, reason: "was moved after the write"}
		}
	}
	return nil
}

// checkRestorable refuses to put rows back where they would overlap a pending
// commitment scheduled after the shift.
func checkRestorable(ctx context.Context, st store.Store, ro *globalOptions, prev []contract.Commitment, now time.Time) error {
	restoring := make(map[string]bool, len(prev))
	from, to := prev[0].Start, prev[0].End
	for _, c := range prev {
		restoring[c.ID] = true
		if c.Start.Before(from) {
			from = c.Start
		}
		if c.End.After(to) {
			to = c.End
		}
	}
	items, err := listWithTimeout(ctx, st, ro.Owner, store.Filter{From: from, To: to})
	if err != nil {
		return err
	}
	others := make([]contract.Commitment, 0, len(items))
	for _, c := range items {
		if !restoring[c.ID] {
			others = append(others, c)
		}
	}
	for _, c := range prev {
		if c.Completed {
			continue
		}
		res := schedule.Classify(schedule.Interval{Start: c.Start, End: c.End}, toEngine(others), now, ro.Grace)
		if res.Kind == schedule.Overlap {
			return &staleHistoryError{id: c.ID, reason: "would overlap " + res.CommitmentID}
		}
	}
	return nil
}
