package schedule

import (
	"errors"
	"testing"
	"time"
)

func TestFindSlotsCompleteness(t *testing.T) {
	existing := []Commitment{
		{ID: "a", Interval: iv(9, 0, 10, 0)},
		{ID: "b", Interval: iv(11, 0, 12, 0)},
	}
	got, err := FindSlots(30*time.Minute, at(8, 0), at(18, 0), at(8, 0), existing)
	if err != nil {
		t.Fatalf("FindSlots failed: %v", err)
	}
	want := []time.Time{at(8, 0), at(10, 0), at(12, 0)}
	if len(got) != len(want) {
		t.Fatalf("expected %d slots, got %d: %+v", len(want), len(got), got)
	}
	for i, w := range want {
		if !got[i].Start.Equal(w) {
			t.Fatalf("slot %d starts %s, want %s", i, got[i].Start, w)
		}
	}
}

func TestFindSlotsSufficiency(t *testing.T) {
	existing := []Commitment{
		{ID: "a", Interval: iv(9, 0, 9, 20)},
		{ID: "b", Interval: iv(9, 40, 10, 0)},
		{ID: "c", Interval: iv(13, 0, 17, 30)},
		{ID: "d", Interval: iv(10, 0, 12, 0), Completed: true},
	}
	d := 25 * time.Minute
	got, err := FindSlots(d, at(8, 0), at(18, 0), at(7, 0), existing)
	if err != nil {
		t.Fatalf("FindSlots failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 slots, got %+v", got)
	}
	for _, s := range got {
		if s.Duration() != d {
			t.Fatalf("slot %+v has duration %s", s, s.Duration())
		}
		for _, c := range existing {
			if !c.Completed && s.Overlaps(c.Interval) {
				t.Fatalf("slot %+v overlaps %s", s, c.ID)
			}
		}
	}
	if !got[1].Start.Equal(at(10, 0)) {
		t.Fatalf("completed commitment must not block, got second slot %s", got[1].Start)
	}
}

func TestFindSlotsRespectsNowFloor(t *testing.T) {
	got, err := FindSlots(time.Hour, at(0, 0), at(23, 59), at(14, 0), nil)
	if err != nil {
		t.Fatalf("FindSlots failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected one slot, got %+v", got)
	}
	for _, s := range got {
		if s.Start.Before(at(14, 0)) {
			t.Fatalf("slot %+v starts before now", s)
		}
	}
}

func TestFindSlotsFutureDayIgnoresFloor(t *testing.T) {
	got, err := FindSlots(time.Hour, at(24, 0), at(48, 0), at(14, 0), nil)
	if err != nil {
		t.Fatalf("FindSlots failed: %v", err)
	}
	if len(got) != 1 || !got[0].Start.Equal(at(24, 0)) {
		t.Fatalf("expected slot at day start, got %+v", got)
	}
}

func TestFindSlotsFullyBookedOrElapsed(t *testing.T) {
	got, err := FindSlots(time.Hour, at(8, 0), at(18, 0), at(8, 0), []Commitment{{ID: "all", Interval: iv(7, 0, 19, 0)}})
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no slots and no error, got %+v err=%v", got, err)
	}
	got, err = FindSlots(time.Hour, at(8, 0), at(18, 0), at(20, 0), nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no slots for elapsed day, got %+v err=%v", got, err)
	}
	got, err = FindSlots(11*time.Hour, at(8, 0), at(18, 0), at(8, 0), nil)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected no slots when duration exceeds day, got %+v err=%v", got, err)
	}
}

func TestFindSlotsExactFit(t *testing.T) {
	existing := []Commitment{{ID: "a", Interval: iv(8, 0, 9, 0)}, {ID: "b", Interval: iv(10, 0, 18, 0)}}
	got, err := FindSlots(time.Hour, at(8, 0), at(18, 0), at(8, 0), existing)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].Start.Equal(at(9, 0)) || !got[0].End.Equal(at(10, 0)) {
		t.Fatalf("expected exact 09:00-10:00 slot, got %+v", got)
	}
}

func TestFindSlotsClipsCrossDayCommitments(t *testing.T) {
	existing := []Commitment{{ID: "night", Interval: Interval{Start: at(-2, 0), End: at(9, 0)}}}
	got, err := FindSlots(time.Hour, at(0, 0), at(24, 0), at(0, 0), existing)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].Start.Equal(at(9, 0)) {
		t.Fatalf("expected slot after overnight commitment, got %+v", got)
	}
}

func TestFindSlotsValidation(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Minute} {
		if _, err := FindSlots(d, at(8, 0), at(18, 0), at(8, 0), nil); !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("duration %s: expected ErrInvalidDuration, got %v", d, err)
		}
	}
	if _, err := FindSlots(time.Hour, at(18, 0), at(8, 0), at(8, 0), nil); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("expected ErrInvalidInterval for inverted day, got %v", err)
	}
}

func TestSearchSlotsStopsAtMax(t *testing.T) {
	first := DayOf(at(10, 0))
	calls := 0
	got, err := SearchSlots(time.Hour, first, at(10, 0), SearchOptions{HorizonDays: 5, MaxResults: 2}, func(Day) []Commitment {
		calls++
		return []Commitment{{ID: "x", Interval: iv(12, 0, 13, 0)}}
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(got))
	}
	if calls != 1 {
		t.Fatalf("expected search to stop after first day, got %d lookups", calls)
	}
	if !got[0].Start.Equal(at(10, 0)) || !got[1].Start.Equal(at(13, 0)) {
		t.Fatalf("unexpected slots: %+v", got)
	}
}

func TestSearchSlotsLaterDaysAreNotFloored(t *testing.T) {
	first := DayOf(at(10, 0))
	now := at(23, 30)
	got, err := SearchSlots(time.Hour, first, now, SearchOptions{HorizonDays: 2, MaxResults: 3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || !got[0].Start.Equal(first.Next().Start) {
		t.Fatalf("expected one slot at start of day two, got %+v", got)
	}
}

func TestSearchSlotsHorizonExhausted(t *testing.T) {
	first := DayOf(at(0, 0))
	busy := func(d Day) []Commitment {
		return []Commitment{{ID: "all", Interval: d.Interval()}}
	}
	got, err := SearchSlots(time.Hour, first, at(0, 0), SearchOptions{}, busy)
	if err != nil {
		t.Fatalf("exhausted horizon must not error: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no slots, got %+v", got)
	}
}

func TestSearchSlotsDefaultsAndValidation(t *testing.T) {
	got, err := SearchSlots(time.Hour, DayOf(at(0, 0)), at(0, 0), SearchOptions{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != DefaultMaxResults {
		t.Fatalf("expected default max %d, got %d", DefaultMaxResults, len(got))
	}
	if _, err := SearchSlots(time.Hour, DayOf(at(0, 0)), at(0, 0), SearchOptions{HorizonDays: -1}, nil); !errors.Is(err, ErrInvalidSearch) {
		t.Fatalf("expected ErrInvalidSearch, got %v", err)
	}
	if _, err := SearchSlots(0, DayOf(at(0, 0)), at(0, 0), SearchOptions{}, nil); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
}

func TestDayNextAcrossDST(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tz database unavailable: %v", err)
	}
	d := DayOf(time.Date(2026, 3, 28, 15, 0, 0, 0, loc))
	next := d.Next()
	if next.End.Sub(next.Start) != 23*time.Hour {
		t.Fatalf("expected 23h DST day, got %s", next.End.Sub(next.Start))
	}
	if next.Next().Start.Hour() != 0 {
		t.Fatalf("expected midnight after DST day, got %s", next.Next().Start)
	}
}
