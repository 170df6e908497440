package schedule

import (
	"fmt"
	"time"
)

type ShiftMode int

const (
	// KeepStart extends the anchor in place: [anchor.Start, newEnd).
	KeepStart ShiftMode = iota
	// ResumeNow restarts an overdue anchor: [now, newEnd).
	ResumeNow
)

// ApplyShift delays anchor's end to newEnd and translates every downstream
// commitment starting at or after the anchor's original end by the same
// delta. Earlier commitments are returned untouched. A downstream entry with
// the anchor's ID is replaced by the updated anchor.
//
// No overlap check runs after the shift. Translating the downstream set
// keeps it mutually disjoint, but commitments missing from downstream may
// end up inside the widened window; callers must pass the full set.
func ApplyShift(anchor Commitment, newEnd time.Time, downstream []Commitment, mode ShiftMode, now time.Time) ([]Commitment, Commitment, error) {
	if !newEnd.After(anchor.Interval.End) {
		return nil, Commitment{}, fmt.Errorf("%w: new end %s is not after %s", ErrInvalidShift, newEnd.Format(time.RFC3339), anchor.Interval.End.Format(time.RFC3339))
	}
	delta := newEnd.Sub(anchor.Interval.End)

	start := anchor.Interval.Start
	if mode == ResumeNow {
		start = now
	}
	iv, err := NewInterval(start, newEnd)
	if err != nil {
		return nil, Commitment{}, fmt.Errorf("shifted anchor: %w", err)
	}
	updated := anchor
	updated.Interval = iv

	out := make([]Commitment, 0, len(downstream))
	for _, c := range downstream {
		switch {
		case c.ID != "" && c.ID == anchor.ID:
			out = append(out, updated)
		case !c.Interval.Start.Before(anchor.Interval.End):
			c.Interval = c.Interval.Shift(delta)
			out = append(out, c)
		default:
			out = append(out, c)
		}
	}
	return out, updated, nil
}
