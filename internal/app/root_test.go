package app

import (
	"errors"
	"testing"
	"time"

	"github.com/agis/tempo/internal/schedule"
)

func TestResolveEndDuration(t *testing.T) {
	start := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	end, err := resolveEnd("", "30m", start, start, time.UTC)
	if err != nil {
		t.Fatalf("resolveEnd error: %v", err)
	}
	want := start.Add(30 * time.Minute)
	if !end.Equal(want) {
		t.Fatalf("expected %s, got %s", want, end)
	}
}

func TestResolveEndBothSet(t *testing.T) {
	start := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	if _, err := resolveEnd("2026-02-10T13:00", "30m", start, start, time.UTC); err == nil {
		t.Fatalf("expected error when both end and duration are set")
	}
}

func TestResolveEndRejectsNonPositiveDuration(t *testing.T) {
	start := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	for _, in := range []string{"0s", "-10m"} {
		if _, err := resolveEnd("", in, start, start, time.UTC); !errors.Is(err, schedule.ErrInvalidDuration) {
			t.Fatalf("resolveEnd(%q): expected ErrInvalidDuration, got %v", in, err)
		}
	}
}

func TestParseDayUsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	now := time.Date(2026, 2, 10, 23, 30, 0, 0, time.UTC) // already Feb 11 in loc
	day, err := parseDay("today", now, loc)
	if err != nil {
		t.Fatalf("parseDay error: %v", err)
	}
	if got, want := day.Start.Format(time.RFC3339), "2026-02-11T00:00:00+02:00"; got != want {
		t.Fatalf("start=%s want=%s", got, want)
	}
	if got, want := day.End.Format(time.RFC3339), "2026-02-12T00:00:00+02:00"; got != want {
		t.Fatalf("end=%s want=%s", got, want)
	}
}

func TestParseBetweenRange(t *testing.T) {
	w, err := parseBetweenRange("")
	if err != nil || w != nil {
		t.Fatalf("expected nil window for empty input, got %+v err=%v", w, err)
	}
	for _, bad := range []string{"09:00", "17:00-09:00", "09:00-09:00", "9-5"} {
		if _, err := parseBetweenRange(bad); err == nil {
			t.Fatalf("parseBetweenRange(%q): expected error", bad)
		}
	}
	w, err = parseBetweenRange("09:30-17:00")
	if err != nil {
		t.Fatalf("parseBetweenRange error: %v", err)
	}
	day := schedule.DayOf(time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC))
	from, to := w.bounds(day)
	if from.Hour() != 9 || from.Minute() != 30 || to.Hour() != 17 {
		t.Fatalf("unexpected bounds %s-%s", from, to)
	}
	off := w.offHours(day)
	if len(off) != 2 || !off[0].Interval.End.Equal(from) || !off[1].Interval.Start.Equal(to) || !off[1].Interval.End.Equal(day.End) {
		t.Fatalf("unexpected off-hours blocks: %+v", off)
	}
}

func TestNilWindowCoversWholeDay(t *testing.T) {
	var w *dailyWindow
	day := schedule.DayOf(time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC))
	from, to := w.bounds(day)
	if !from.Equal(day.Start) || !to.Equal(day.End) || w.offHours(day) != nil {
		t.Fatalf("nil window must not narrow the day")
	}
}

func TestWantsStructuredErrorOutput(t *testing.T) {
	cases := []struct {
		args []string
		want bool
	}{
		{[]string{"add", "--json"}, true},
		{[]string{"add", "--jsonl=true"}, true},
		{[]string{"add", "--plain"}, false},
		{[]string{"add", "--", "--json"}, false},
	}
	for _, tc := range cases {
		if got := wantsStructuredErrorOutput(tc.args); got != tc.want {
			t.Fatalf("wantsStructuredErrorOutput(%v) = %v", tc.args, got)
		}
	}
}
