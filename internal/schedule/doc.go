// Package schedule computes busy intervals, free slots, conflicts and
// cascading shifts for one owner's commitments.
//
// Every function is pure: inputs are treated as snapshots, nothing is cached,
// and the current instant is always passed in by the caller. Functions are
// safe for concurrent use, but they give no atomicity across calls. Two
// proposals classified against the same snapshot can both come back
// NoConflict; callers must serialize read, classify and write per owner.
package schedule
