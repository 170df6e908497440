package schedule

import (
	"encoding/json"
	"time"
)

const DefaultGracePeriod = 60 * time.Second

type ConflictKind int

const (
	NoConflict ConflictKind = iota
	Overlap
	Overdue
)

func (k ConflictKind) String() string {
	switch k {
	case Overlap:
		return "overlap"
	case Overdue:
		return "overdue"
	default:
		return "none"
	}
}

func (k ConflictKind) MarshalJSON() ([]byte, error) { return json.Marshal(k.String()) }

// ConflictResult carries exactly one kind. CommitmentID is set only for Overlap.
type ConflictResult struct {
	Kind         ConflictKind `json:"kind"`
	CommitmentID string       `json:"commitment_id,omitempty"`
}

func (r ConflictResult) Conflicting() bool { return r.Kind != NoConflict }

// Classify checks proposed against the pending commitments in existing.
// Overlap wins over Overdue when both apply. Among several collisions the
// earliest-starting commitment is reported, ties broken by smallest ID.
func Classify(proposed Interval, existing []Commitment, now time.Time, grace time.Duration) ConflictResult {
	var hit Commitment
	found := false
	for _, c := range pending(existing) {
		if !proposed.Overlaps(c.Interval) {
			continue
		}
		if !found || earlier(c, hit) {
			hit, found = c, true
		}
	}
	if found {
		return ConflictResult{Kind: Overlap, CommitmentID: hit.ID}
	}
	if proposed.End.Before(now.Add(-grace)) {
		return ConflictResult{Kind: Overdue}
	}
	return ConflictResult{Kind: NoConflict}
}

func earlier(a, b Commitment) bool {
	if a.Interval.Start.Equal(b.Interval.Start) {
		return a.ID < b.ID
	}
	return a.Interval.Start.Before(b.Interval.Start)
}
