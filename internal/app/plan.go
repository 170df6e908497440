package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agis/tempo/internal/contract"
	"github.com/agis/tempo/internal/schedule"
	"github.com/agis/tempo/internal/store"
	"github.com/agis/tempo/internal/timeparse"
	"github.com/dustin/go-humanize"
)

func toEngine(items []contract.Commitment) []schedule.Commitment {
	out := make([]schedule.Commitment, 0, len(items))
	for _, it := range items {
		out = append(out, schedule.Commitment{
			ID:        it.ID,
			Interval:  schedule.Interval{Start: it.Start, End: it.End},
			Completed: it.Completed,
		})
	}
	return out
}

func slotRows(slots []schedule.Interval, now time.Time, loc *time.Location) []contract.Slot {
	rows := make([]contract.Slot, 0, len(slots))
	for _, s := range slots {
		rows = append(rows, contract.Slot{
			Start:    s.Start.In(loc),
			End:      s.End.In(loc),
			Minutes:  int64(s.Duration().Minutes()),
			Relative: humanize.RelTime(s.Start, now, "ago", "from now"),
		})
	}
	return rows
}

// dailyWindow restricts slot search to a time-of-day range such as 09:00-17:00.
type dailyWindow struct {
	startHour, startMinute int
	endHour, endMinute     int
}

func parseBetweenRange(v string) (*dailyWindow, error) {
	if strings.TrimSpace(v) == "" {
		return nil, nil
	}
	parts := strings.Split(strings.TrimSpace(v), "-")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid --between: %s", v)
	}
	aH, aM, err := timeparse.ParseClock(parts[0])
	if err != nil {
		return nil, err
	}
	bH, bM, err := timeparse.ParseClock(parts[1])
	if err != nil {
		return nil, err
	}
	if bH < aH || (bH == aH && bM <= aM) {
		return nil, fmt.Errorf("--between end must be after start")
	}
	return &dailyWindow{startHour: aH, startMinute: aM, endHour: bH, endMinute: bM}, nil
}

// bounds narrows day to the window.
func (w *dailyWindow) bounds(day schedule.Day) (time.Time, time.Time) {
	if w == nil {
		return day.Start, day.End
	}
	loc := day.Start.Location()
	y, m, d := day.Start.Date()
	return time.Date(y, m, d, w.startHour, w.startMinute, 0, 0, loc),
		time.Date(y, m, d, w.endHour, w.endMinute, 0, 0, loc)
}

// offHours returns synthetic blocks covering the day outside the window so
// multi-day search never proposes a slot there.
func (w *dailyWindow) offHours(day schedule.Day) []schedule.Commitment {
	if w == nil {
		return nil
	}
	from, to := w.bounds(day)
	out := make([]schedule.Commitment, 0, 2)
	if from.After(day.Start) {
		out = append(out, schedule.Commitment{ID: "~before", Interval: schedule.Interval{Start: day.Start, End: from}})
	}
	if to.Before(day.End) {
		out = append(out, schedule.Commitment{ID: "~after", Interval: schedule.Interval{Start: to, End: day.End}})
	}
	return out
}

// searchAlternatives prefetches every commitment in the search horizon with
// one store call and runs the multi-day search over it.
func searchAlternatives(ctx context.Context, st store.Store, ro *globalOptions, duration time.Duration, first schedule.Day, now time.Time, window *dailyWindow, staged ...contract.Commitment) ([]schedule.Interval, error) {
	horizon := ro.Horizon
	if horizon == 0 {
		horizon = schedule.DefaultHorizonDays
	}
	last := first
	for i := 1; i < horizon; i++ {
		last = last.Next()
	}
	items, err := listWithTimeout(ctx, st, ro.Owner, store.Filter{From: first.Start, To: last.End})
	if err != nil {
		return nil, err
	}
	all := toEngine(append(items, staged...))
	lookup := func(day schedule.Day) []schedule.Commitment {
		out := window.offHours(day)
		for _, c := range all {
			if c.Interval.Overlaps(day.Interval()) {
				out = append(out, c)
			}
		}
		return out
	}
	slots, err := schedule.SearchSlots(duration, first, now, ro.searchOptions(), lookup)
	if err != nil {
		return nil, err
	}
	ro.log.Debug().Int("horizon", horizon).Int("scanned", len(items)).Int("found", len(slots)).Msg("searched alternative slots")
	return slots, nil
}

func resolveEnd(endS, durationS string, start, now time.Time, loc *time.Location) (time.Time, error) {
	if strings.TrimSpace(endS) != "" && strings.TrimSpace(durationS) != "" {
		return time.Time{}, fmt.Errorf("use either --end or --duration, not both")
	}
	if strings.TrimSpace(endS) != "" {
		return timeparse.ParseDateTime(endS, now, loc)
	}
	if strings.TrimSpace(durationS) != "" {
		d, err := parsePositiveDuration(durationS)
		if err != nil {
			return time.Time{}, err
		}
		return start.Add(d), nil
	}
	return time.Time{}, fmt.Errorf("missing --end or --duration")
}

// parsePositiveDuration rejects zero and negative values instead of clamping.
func parsePositiveDuration(v string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", schedule.ErrInvalidDuration, d)
	}
	return d, nil
}

func parseDay(v string, now time.Time, loc *time.Location) (schedule.Day, error) {
	anchor, err := timeparse.ParseDateTime(v, now, loc)
	if err != nil {
		return schedule.Day{}, err
	}
	return schedule.DayOf(anchor.In(loc)), nil
}
