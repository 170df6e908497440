package schedule

import (
	"fmt"
	"time"
)

const (
	DefaultHorizonDays = 5
	DefaultMaxResults  = 3
)

// Day is one calendar day as an explicit half-open range of instants.
type Day struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// DayOf returns the calendar day containing t in t's location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	return Day{Start: start, End: start.AddDate(0, 0, 1)}
}

// Next returns the following calendar day. AddDate keeps DST days at their
// real length.
func (d Day) Next() Day {
	start := d.End
	return Day{Start: start, End: DayOf(start).End}
}

func (d Day) Interval() Interval { return Interval{Start: d.Start, End: d.End} }

type SearchOptions struct {
	HorizonDays int
	MaxResults  int
}

func (o SearchOptions) withDefaults() (SearchOptions, error) {
	if o.HorizonDays < 0 || o.MaxResults < 0 {
		return o, fmt.Errorf("%w: horizon=%d max=%d", ErrInvalidSearch, o.HorizonDays, o.MaxResults)
	}
	if o.HorizonDays == 0 {
		o.HorizonDays = DefaultHorizonDays
	}
	if o.MaxResults == 0 {
		o.MaxResults = DefaultMaxResults
	}
	return o, nil
}

// SearchSlots walks up to HorizonDays calendar days starting at first and
// collects at most MaxResults slots. Only the first day is floored at now.
// commitmentsFor supplies each day's commitments; it may return nil.
func SearchSlots(duration time.Duration, first Day, now time.Time, opts SearchOptions, commitmentsFor func(Day) []Commitment) ([]Interval, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: %s must be positive", ErrInvalidDuration, duration)
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	out := make([]Interval, 0, opts.MaxResults)
	day := first
	for i := 0; i < opts.HorizonDays && len(out) < opts.MaxResults; i++ {
		floor := day.Start
		if i == 0 {
			floor = now
		}
		var existing []Commitment
		if commitmentsFor != nil {
			existing = commitmentsFor(day)
		}
		slots, err := FindSlots(duration, day.Start, day.End, floor, existing)
		if err != nil {
			return nil, err
		}
		for _, s := range slots {
			if len(out) == opts.MaxResults {
				break
			}
			out = append(out, s)
		}
		day = day.Next()
	}
	return out, nil
}
