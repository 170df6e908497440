package app

import (
	"strings"
	"time"

	"github.com/agis/tempo/internal/contract"
	"github.com/agis/tempo/internal/schedule"
	"github.com/dustin/go-humanize"
)

type daySummary struct {
	Date        string `json:"date"`
	Pending     int    `json:"pending"`
	Completed   int    `json:"completed"`
	BusyMinutes int64  `json:"busy_minutes"`
	FreeMinutes int64  `json:"free_minutes"`
	Busy        string `json:"busy"`
}

// summarizeDays returns one row per calendar day starting at first, with
// busy time computed from merged pending commitments clipped to each day.
// A commitment is counted on the day it starts.
func summarizeDays(items []contract.Commitment, first schedule.Day, days int) []daySummary {
	rows := make([]daySummary, 0, days)
	day := first
	for i := 0; i < days; i++ {
		row := daySummary{Date: day.Start.Format("2006-01-02")}
		for _, c := range items {
			if !day.Interval().Contains(c.Start) {
				continue
			}
			if c.Completed {
				row.Completed++
			} else {
				row.Pending++
			}
		}
		busy := int64(0)
		for _, b := range buildBusyBlocks(items, day.Interval(), day.Start.Location()) {
			busy += b.Minutes
		}
		row.BusyMinutes = busy
		row.FreeMinutes = int64(day.Interval().Duration().Minutes()) - busy
		row.Busy = busyLabel(day, busy)
		rows = append(rows, row)
		day = day.Next()
	}
	return rows
}

func busyLabel(day schedule.Day, minutes int64) string {
	if minutes == 0 {
		return "free"
	}
	end := day.Start.Add(time.Duration(minutes) * time.Minute)
	return strings.TrimSpace(humanize.RelTime(day.Start, end, "", ""))
}
