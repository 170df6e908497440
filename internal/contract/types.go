package contract

import "time"

const SchemaVersion = "v1"

type ErrorCode string

const (
	ErrGeneric          ErrorCode = "GENERIC_FAILURE"
	ErrInvalidUsage     ErrorCode = "INVALID_USAGE"
	ErrNotFound         ErrorCode = "NOT_FOUND"
	ErrConflict         ErrorCode = "SCHEDULE_CONFLICT"
	ErrStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrConcurrency      ErrorCode = "CONCURRENCY_CONFLICT"
)

type ErrorEnvelope struct {
	SchemaVersion string         `json:"schema_version"`
	Error         ErrorBody      `json:"error"`
	Meta          map[string]any `json:"meta,omitempty"`
}

type ErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Hint    string    `json:"hint,omitempty"`
}

type SuccessEnvelope struct {
	SchemaVersion string         `json:"schema_version"`
	Command       string         `json:"command"`
	GeneratedAt   time.Time      `json:"generated_at"`
	Data          any            `json:"data"`
	Meta          map[string]any `json:"meta"`
	Warnings      []string       `json:"warnings"`
}

// Commitment is the persisted form of a scheduled task.
type Commitment struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Title     string    `json:"title"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Slot struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Minutes  int64     `json:"minutes"`
	Relative string    `json:"relative"`
}

type ConflictReport struct {
	Status       string `json:"status"`
	CommitmentID string `json:"commitment_id,omitempty"`
	Title        string `json:"title,omitempty"`
	Suggestions  []Slot `json:"suggestions"`
}
