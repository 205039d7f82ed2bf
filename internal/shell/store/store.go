package store

import "time"

// =============================================================================
// Journal Types
// =============================================================================

// Outcome is the result of a journaled lifecycle operation.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeAborted Outcome = "aborted"
)

// Entry is one journaled lifecycle operation.
type Entry struct {
	ID        string
	Slug      string
	Operation string // install, remove, restart, ...
	Outcome   Outcome
	Step      string // failing step; empty on success
	Message   string
	StartedAt time.Time
	Duration  time.Duration
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination and filtering options.
type ListOptions struct {
	Slug   string // only entries of this instance when set
	Limit  int
	Offset int
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
