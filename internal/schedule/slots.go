package schedule

import (
	"fmt"
	"time"
)

// FindSlots returns every gap in [dayStart, dayEnd) able to host duration,
// each truncated to exactly duration at the gap start. Time before nowFloor
// is treated as busy. Pending commitments crossing the day boundary block
// only the part inside the day.
func FindSlots(duration time.Duration, dayStart, dayEnd, nowFloor time.Time, existing []Commitment) ([]Interval, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: %s must be positive", ErrInvalidDuration, duration)
	}
	day, err := NewInterval(dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("day bounds: %w", err)
	}

	busy := make([]Interval, 0, len(existing)+1)
	if floor := clampTime(nowFloor, day.Start, day.End); floor.After(day.Start) {
		busy = append(busy, Interval{Start: day.Start, End: floor})
	}
	for _, c := range pending(existing) {
		if clipped, ok := clip(c.Interval, day); ok {
			busy = append(busy, clipped)
		}
	}

	slots := make([]Interval, 0)
	cursor := day.Start
	for _, b := range append(Merge(busy), Interval{Start: day.End, End: day.End}) {
		if b.Start.Sub(cursor) >= duration {
			slots = append(slots, Interval{Start: cursor, End: cursor.Add(duration)})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	return slots, nil
}

func clip(iv, window Interval) (Interval, bool) {
	if !iv.Overlaps(window) {
		return Interval{}, false
	}
	out := iv
	if out.Start.Before(window.Start) {
		out.Start = window.Start
	}
	if out.End.After(window.End) {
		out.End = window.End
	}
	return out, true
}

func clampTime(t, lo, hi time.Time) time.Time {
	if t.Before(lo) {
		return lo
	}
	if t.After(hi) {
		return hi
	}
	return t
}
