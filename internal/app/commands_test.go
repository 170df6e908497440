package app

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/agis/tempo/internal/contract"
	"github.com/agis/tempo/internal/store"
)

var testNow = time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

func clock(h, m int) time.Time {
	return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC)
}

type envelope struct {
	Data     json.RawMessage `json:"data"`
	Meta     map[string]any  `json:"meta"`
	Warnings []string        `json:"warnings"`
}

type errEnvelope struct {
	Error contract.ErrorBody `json:"error"`
	Meta  map[string]any     `json:"meta"`
}

// seedStore returns alice's day: standup 09:00-10:00, review 10:00-11:00,
// lunch 12:00-13:00 and a completed 13:00-14:00 block. Bob owns 11:00-12:00.
func seedStore() *store.MemoryStore {
	st := store.NewMemoryStore()
	for _, c := range []contract.Commitment{
		{ID: "standup", Owner: "alice", Title: "Standup", Start: clock(9, 0), End: clock(10, 0)},
		{ID: "review", Owner: "alice", Title: "Review", Start: clock(10, 0), End: clock(11, 0)},
		{ID: "lunch", Owner: "alice", Title: "Lunch", Start: clock(12, 0), End: clock(13, 0)},
		{ID: "report", Owner: "alice", Title: "Report", Start: clock(13, 0), End: clock(14, 0), Completed: true},
		{ID: "bob-1", Owner: "bob", Title: "Elsewhere", Start: clock(11, 0), End: clock(12, 0)},
	} {
		st.Put(c)
	}
	return st
}

func useStore(t *testing.T, st store.Store) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	origFactory, origNow := storeFactory, nowFunc
	storeFactory = func(context.Context, *globalOptions) (store.Store, error) { return st, nil }
	nowFunc = func() time.Time { return testNow }
	t.Cleanup(func() {
		storeFactory = origFactory
		nowFunc = origNow
	})
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--owner", "alice", "--tz", "UTC", "--json"))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func mustSucceed(t *testing.T, args ...string) envelope {
	t.Helper()
	out, errOut, err := runCLI(t, args...)
	if err != nil {
		t.Fatalf("%v failed: %v\nstderr=%s", args, err, errOut)
	}
	var env envelope
	if err := json.Unmarshal([]byte(out), &env); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	return env
}

func mustFail(t *testing.T, wantCode int, args ...string) errEnvelope {
	t.Helper()
	_, errOut, err := runCLI(t, args...)
	if err == nil {
		t.Fatalf("%v: expected failure", args)
	}
	if code := ExitCode(err); code != wantCode {
		t.Fatalf("%v: exit code got=%d want=%d err=%v", args, code, wantCode, err)
	}
	var env errEnvelope
	if err := json.Unmarshal([]byte(errOut), &env); err != nil {
		t.Fatalf("decode error envelope %q: %v", errOut, err)
	}
	return env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Data, &v); err != nil {
		t.Fatalf("decode data %s: %v", string(env.Data), err)
	}
	return v
}

func TestAddRejectsOverlapWithSuggestions(t *testing.T) {
	st := seedStore()
	useStore(t, st)

	env := mustFail(t, exitConflict, "add", "--title", "Sync", "--start", "2026-03-10T10:30", "--duration", "30m")
	if env.Error.Code != contract.ErrConflict {
		t.Fatalf("expected conflict code, got %s", env.Error.Code)
	}
	if env.Meta["conflict"] != "overlap" || env.Meta["commitment_id"] != "review" {
		t.Fatalf("unexpected conflict meta: %+v", env.Meta)
	}
	raw, _ := json.Marshal(env.Meta["suggestions"])
	var slots []contract.Slot
	if err := json.Unmarshal(raw, &slots); err != nil {
		t.Fatal(err)
	}
	want := []time.Time{clock(11, 0), clock(13, 0), time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)}
	if len(slots) != len(want) {
		t.Fatalf("expected %d suggestions, got %+v", len(want), slots)
	}
	for i, s := range slots {
		if !s.Start.Equal(want[i]) || s.Minutes != 30 {
			t.Fatalf("suggestion %d = %+v, want start %s", i, s, want[i])
		}
	}
	items, _ := st.List(context.Background(), "alice", store.Filter{IncludeDone: true})
	if len(items) != 4 {
		t.Fatalf("rejected proposal must not be written, have %d items", len(items))
	}
}

func TestAddRejectsElapsedProposal(t *testing.T) {
	useStore(t, seedStore())
	env := mustFail(t, exitConflict, "add", "--title", "Late", "--start", "2026-03-10T07:00", "--duration", "30m")
	if env.Meta["conflict"] != "overdue" {
		t.Fatalf("expected overdue, got %+v", env.Meta)
	}
}

func TestAddCreatesAndForce(t *testing.T) {
	st := seedStore()
	useStore(t, st)

	env := mustSucceed(t, "add", "--title", "Focus", "--start", "2026-03-10T11:00", "--end", "2026-03-10T12:00")
	created := decodeData[contract.Commitment](t, env)
	if created.ID == "" || created.Owner != "alice" || !created.Start.Equal(clock(11, 0)) {
		t.Fatalf("unexpected created commitment: %+v", created)
	}
	if env.Meta["conflict"] != "none" {
		t.Fatalf("expected no conflict, got %+v", env.Meta)
	}

	env = mustSucceed(t, "add", "--title", "Double", "--start", "2026-03-10T09:45", "--duration", "30m", "--force")
	if env.Meta["conflict"] != "overlap" || env.Meta["forced"] != true {
		t.Fatalf("expected forced overlap, got %+v", env.Meta)
	}
	items, _ := st.List(context.Background(), "alice", store.Filter{})
	if len(items) != 5 {
		t.Fatalf("expected 5 pending commitments, got %d", len(items))
	}
}

func TestAddDryRunDoesNotWrite(t *testing.T) {
	st := seedStore()
	useStore(t, st)
	env := mustSucceed(t, "add", "--title", "Maybe", "--start", "2026-03-10T15:00", "--duration", "1h", "--dry-run")
	if env.Meta["dry_run"] != true {
		t.Fatalf("expected dry_run meta, got %+v", env.Meta)
	}
	items, _ := st.List(context.Background(), "alice", store.Filter{})
	if len(items) != 3 {
		t.Fatalf("dry run wrote a commitment: %d pending", len(items))
	}
}

func TestAddAcceptsBackToBack(t *testing.T) {
	useStore(t, seedStore())
	mustSucceed(t, "add", "--title", "Gap", "--start", "2026-03-10T11:00", "--end", "2026-03-10T12:00")
}

func TestCheckIgnoresOtherOwners(t *testing.T) {
	useStore(t, seedStore())
	env := mustSucceed(t, "check", "--start", "2026-03-10T11:15", "--duration", "15m")
	report := decodeData[contract.ConflictReport](t, env)
	if report.Status != "none" || len(report.Suggestions) != 0 {
		t.Fatalf("expected no conflict against bob's commitment, got %+v", report)
	}
}

func TestCheckReportsOverlapTitle(t *testing.T) {
	useStore(t, seedStore())
	env := mustSucceed(t, "check", "--start", "2026-03-10T12:30", "--duration", "1h")
	report := decodeData[contract.ConflictReport](t, env)
	if report.Status != "overlap" || report.CommitmentID != "lunch" || report.Title != "Lunch" {
		t.Fatalf("unexpected report: %+v", report)
	}
	if len(report.Suggestions) < 2 || !report.Suggestions[0].Start.Equal(clock(11, 0)) || !report.Suggestions[1].Start.Equal(clock(13, 0)) {
		t.Fatalf("expected suggestions at 11:00 and 13:00, got %+v", report.Suggestions)
	}
}

func TestAddInvalidInput(t *testing.T) {
	useStore(t, seedStore())
	mustFail(t, exitUsage, "add", "--title", "Bad", "--start", "2026-03-10T11:00", "--end", "2026-03-10T10:00")
	mustFail(t, exitUsage, "add", "--title", "Bad", "--start", "2026-03-10T11:00", "--duration", "-5m")
	mustFail(t, exitUsage, "add", "--start", "2026-03-10T11:00", "--duration", "5m")
}

func TestSlotsHonoursNowAndWindow(t *testing.T) {
	useStore(t, seedStore())
	env := mustSucceed(t, "slots", "--duration", "45m", "--day", "2026-03-10")
	slots := decodeData[[]contract.Slot](t, env)
	want := []time.Time{clock(11, 0), clock(13, 0)}
	if len(slots) != len(want) {
		t.Fatalf("expected %d slots, got %+v", len(want), slots)
	}
	for i := range want {
		if !slots[i].Start.Equal(want[i]) {
			t.Fatalf("slot %d = %s want %s", i, slots[i].Start, want[i])
		}
	}
	if slots[0].Relative != "1 hour from now" {
		t.Fatalf("unexpected relative label %q", slots[0].Relative)
	}

	env = mustSucceed(t, "slots", "--duration", "2h", "--day", "2026-03-10", "--between", "08:00-17:00")
	slots = decodeData[[]contract.Slot](t, env)
	if len(slots) != 1 || !slots[0].Start.Equal(clock(13, 0)) {
		t.Fatalf("expected a single 13:00 slot inside the window, got %+v", slots)
	}
}

func TestSuggestSpansDays(t *testing.T) {
	useStore(t, seedStore())
	env := mustSucceed(t, "suggest", "--duration", "3h", "--between", "09:00-17:00", "--max-slots", "2")
	slots := decodeData[[]contract.Slot](t, env)
	want := []time.Time{clock(13, 0), time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)}
	if len(slots) != 2 {
		t.Fatalf("expected 2 slots, got %+v", slots)
	}
	for i := range want {
		if !slots[i].Start.Equal(want[i]) {
			t.Fatalf("slot %d = %s want %s", i, slots[i].Start, want[i])
		}
	}
	if len(env.Warnings) != 0 {
		t.Fatalf("unexpected warnings: %v", env.Warnings)
	}
}

func TestSuggestWarnsWhenHorizonExhausted(t *testing.T) {
	useStore(t, seedStore())
	env := mustSucceed(t, "suggest", "--duration", "10h", "--between", "09:00-17:00", "--horizon", "2")
	if slots := decodeData[[]contract.Slot](t, env); len(slots) != 0 {
		t.Fatalf("expected no slots, got %+v", slots)
	}
	if len(env.Warnings) != 1 {
		t.Fatalf("expected a shortfall warning, got %v", env.Warnings)
	}
}

func TestFreebusyMergesPending(t *testing.T) {
	useStore(t, seedStore())
	env := mustSucceed(t, "freebusy", "--from", "2026-03-10", "--to", "2026-03-11")
	blocks := decodeData[[]busyBlock](t, env)
	if len(blocks) != 2 {
		t.Fatalf("expected 2 merged blocks, got %+v", blocks)
	}
	if !blocks[0].Start.Equal(clock(9, 0)) || !blocks[0].End.Equal(clock(11, 0)) || blocks[0].Minutes != 120 {
		t.Fatalf("unexpected first block: %+v", blocks[0])
	}
	if env.Meta["busy_minutes"] != float64(180) {
		t.Fatalf("unexpected busy total: %+v", env.Meta)
	}
}

func TestTodaySummary(t *testing.T) {
	useStore(t, seedStore())
	env := mustSucceed(t, "today", "--summary")
	rows := decodeData[[]daySummary](t, env)
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %+v", rows)
	}
	if rows[0].Pending != 3 || rows[0].Completed != 1 || rows[0].BusyMinutes != 180 {
		t.Fatalf("unexpected summary: %+v", rows[0])
	}

	env = mustSucceed(t, "today")
	if items := decodeData[[]contract.Commitment](t, env); len(items) != 3 {
		t.Fatalf("expected 3 pending commitments, got %d", len(items))
	}
}

func TestDoneAndDelete(t *testing.T) {
	st := seedStore()
	useStore(t, st)
	env := mustSucceed(t, "done", "lunch")
	if c := decodeData[contract.Commitment](t, env); !c.Completed {
		t.Fatalf("expected completed commitment, got %+v", c)
	}
	// Completed commitments no longer block.
	mustSucceed(t, "add", "--title", "Walk", "--start", "2026-03-10T12:00", "--duration", "30m")
	mustSucceed(t, "undone", "lunch")
	mustSucceed(t, "delete", "standup")
	mustFail(t, exitNotFound, "delete", "standup")
	mustFail(t, exitNotFound, "done", "bob-1")
}

func TestExtendCascadesDownstream(t *testing.T) {
	st := seedStore()
	useStore(t, st)
	env := mustSucceed(t, "extend", "standup", "--by", "30m")
	res := decodeData[shiftResult](t, env)
	if !res.Anchor.Start.Equal(clock(9, 0)) || !res.Anchor.End.Equal(clock(10, 30)) {
		t.Fatalf("unexpected anchor: %+v", res.Anchor)
	}
	if len(res.Shifted) != 2 {
		t.Fatalf("expected review and lunch to shift, got %+v", res.Shifted)
	}
	ctx := context.Background()
	for id, start := range map[string]time.Time{"standup": clock(9, 0), "review": clock(10, 30), "lunch": clock(12, 30), "report": clock(13, 0)} {
		c, err := st.Get(ctx, "alice", id)
		if err != nil {
			t.Fatal(err)
		}
		if !c.Start.Equal(start) {
			t.Fatalf("%s start = %s want %s", id, c.Start, start)
		}
	}
	bob, _ := st.Get(ctx, "bob", "bob-1")
	if !bob.Start.Equal(clock(11, 0)) {
		t.Fatalf("another owner's commitment moved: %+v", bob)
	}
}

func TestExtendDryRunAndValidation(t *testing.T) {
	st := seedStore()
	useStore(t, st)
	env := mustSucceed(t, "extend", "review", "--to", "2026-03-10T11:15", "--dry-run")
	if env.Meta["delta_minutes"] != float64(15) || env.Meta["shifted"] != float64(1) {
		t.Fatalf("unexpected meta: %+v", env.Meta)
	}
	c, _ := st.Get(context.Background(), "alice", "review")
	if !c.End.Equal(clock(11, 0)) {
		t.Fatalf("dry run persisted the shift: %+v", c)
	}
	mustFail(t, exitUsage, "extend", "review", "--to", "2026-03-10T10:30")
	mustFail(t, exitUsage, "extend", "review")
	mustFail(t, exitNotFound, "extend", "missing", "--by", "10m")
}

func TestExtendCascadeCrossesMidnight(t *testing.T) {
	st := store.NewMemoryStore()
	st.Put(contract.Commitment{ID: "anchor", Owner: "alice", Title: "Anchor", Start: clock(9, 0), End: clock(10, 0)})
	st.Put(contract.Commitment{ID: "late", Owner: "alice", Title: "Late", Start: clock(22, 0), End: clock(23, 30)})
	st.Put(contract.Commitment{ID: "tomorrow", Owner: "alice", Title: "Tomorrow", Start: clock(24, 0), End: clock(25, 0)})
	useStore(t, st)

	env := mustSucceed(t, "extend", "anchor", "--by", "2h")
	if env.Meta["shifted"] != float64(2) {
		t.Fatalf("expected both downstream commitments to shift, got %+v", env.Meta)
	}
	if len(env.Warnings) != 1 || !strings.Contains(env.Warnings[0], "late moved from 2026-03-10 to 2026-03-11") {
		t.Fatalf("unexpected warnings: %+v", env.Warnings)
	}
	ctx := context.Background()
	want := map[string][2]time.Time{
		"late":     {clock(24, 0), clock(25, 30)},
		"tomorrow": {clock(26, 0), clock(27, 0)},
	}
	for id, iv := range want {
		c, err := st.Get(ctx, "alice", id)
		if err != nil {
			t.Fatal(err)
		}
		if !c.Start.Equal(iv[0]) || !c.End.Equal(iv[1]) {
			t.Fatalf("%s = %s-%s want %s-%s", id, c.Start, c.End, iv[0], iv[1])
		}
	}
	items, _ := st.List(ctx, "alice", store.Filter{})
	for i := 1; i < len(items); i++ {
		if items[i].Start.Before(items[i-1].End) {
			t.Fatalf("%s overlaps %s after the cascade", items[i].ID, items[i-1].ID)
		}
	}
}

func TestResumeRestartsOverdueNow(t *testing.T) {
	st := store.NewMemoryStore()
	st.Put(contract.Commitment{ID: "late", Owner: "alice", Title: "Late", Start: clock(7, 0), End: clock(8, 0)})
	st.Put(contract.Commitment{ID: "next", Owner: "alice", Title: "Next", Start: clock(10, 0), End: clock(11, 0)})
	useStore(t, st)

	env := mustSucceed(t, "resume", "late")
	res := decodeData[shiftResult](t, env)
	if !res.Anchor.Start.Equal(testNow) || !res.Anchor.End.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("unexpected anchor: %+v", res.Anchor)
	}
	next, _ := st.Get(context.Background(), "alice", "next")
	if !next.Start.Equal(clock(12, 30)) || !next.End.Equal(clock(13, 30)) {
		t.Fatalf("downstream not shifted by 2h30m: %+v", next)
	}
}

func TestResumeRejectsShortening(t *testing.T) {
	st := store.NewMemoryStore()
	st.Put(contract.Commitment{ID: "later", Owner: "alice", Title: "Later", Start: clock(14, 0), End: clock(15, 0)})
	useStore(t, st)
	env := mustFail(t, exitUsage, "resume", "later", "--for", "30m")
	if !strings.Contains(env.Error.Message, "shift") {
		t.Fatalf("expected shift error, got %+v", env.Error)
	}
}

func TestSQLiteStoreThroughCLI(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	origNow := nowFunc
	nowFunc = func() time.Time { return testNow }
	t.Cleanup(func() { nowFunc = origNow })
	db := t.TempDir() + "/tempo.db"

	mustSucceed(t, "add", "--store", db, "--title", "Write", "--start", "2026-03-10T10:00", "--duration", "1h")
	env := mustFail(t, exitConflict, "add", "--store", db, "--title", "Clash", "--start", "2026-03-10T10:30", "--duration", "1h")
	if env.Meta["conflict"] != "overlap" {
		t.Fatalf("expected overlap from persisted commitment, got %+v", env.Meta)
	}
	list := mustSucceed(t, "list", "--store", db)
	items := decodeData[[]contract.Commitment](t, list)
	if len(items) != 1 || items[0].Title != "Write" || !items[0].Start.Equal(clock(10, 0)) {
		t.Fatalf("unexpected persisted commitments: %+v", items)
	}
}
