package timeparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

var layouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

// ParseDateTime resolves absolute and relative inputs against now in loc.
// Relative forms: now, today, tomorrow, yesterday, +Nd/-Nd (midnight based)
// and signed Go durations such as +90m or -2h (now based).
func ParseDateTime(input string, now time.Time, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(strings.ToLower(input))
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	now = now.In(loc)

	switch s {
	case "now":
		return now, nil
	case "today":
		return midnight(now), nil
	case "tomorrow":
		return midnight(now).AddDate(0, 0, 1), nil
	case "yesterday":
		return midnight(now).AddDate(0, 0, -1), nil
	}

	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		sign := 1
		if s[0] == '-' {
			sign = -1
		}
		raw := s[1:]
		if strings.HasSuffix(raw, "d") {
			n, err := strconv.Atoi(strings.TrimSuffix(raw, "d"))
			if err != nil {
				return time.Time{}, fmt.Errorf("invalid relative day: %s", input)
			}
			return midnight(now).AddDate(0, 0, sign*n), nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid relative offset: %s", input)
		}
		return now.Add(time.Duration(sign) * d), nil
	}

	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, strings.TrimSpace(input), loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported datetime format: %s", input)
}

// ParseClock parses HH:MM on a 24-hour clock.
func ParseClock(v string) (int, int, error) {
	ts, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock time: %s", v)
	}
	return ts.Hour(), ts.Minute(), nil
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
