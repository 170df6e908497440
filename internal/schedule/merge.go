package schedule

import "sort"

// Merge collapses overlapping and touching intervals into a sorted set of
// disjoint intervals. The input slice is not modified.
func Merge(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return []Interval{}
	}
	ranges := make([]Interval, 0, len(intervals))
	for _, iv := range intervals {
		if !iv.valid() {
			continue
		}
		ranges = append(ranges, iv)
	}
	if len(ranges) == 0 {
		return []Interval{}
	}
	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].Start.Equal(ranges[j].Start) {
			return ranges[i].End.Before(ranges[j].End)
		}
		return ranges[i].Start.Before(ranges[j].Start)
	})
	merged := make([]Interval, 0, len(ranges))
	cur := ranges[0]
	for _, next := range ranges[1:] {
		if !next.Start.After(cur.End) {
			if next.End.After(cur.End) {
				cur.End = next.End
			}
			continue
		}
		merged = append(merged, cur)
		cur = next
	}
	return append(merged, cur)
}
