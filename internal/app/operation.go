package app

import (
	"time"

	"torrentsready/internal/trd"
)

// Run identifies one invocation of the CLI. Its ID tags every log line the
// invocation writes so interleaved runs in trd.log can be told apart.
type Run struct {
	ID        string
	Command   string
	StartedAt time.Time
	Status    string // "success" or "error"
}

// NewRun starts a run of command with an ID from ids.
func NewRun(command string, ids trd.IDGenerator, clock trd.Clock) *Run {
	return &Run{
		ID:        ids.New(),
		Command:   command,
		StartedAt: clock.Now(),
		Status:    "success",
	}
}

// Fail marks the run as failed.
func (r *Run) Fail() {
	r.Status = "error"
}

// Elapsed returns the time since the run started.
func (r *Run) Elapsed(clock trd.Clock) time.Duration {
	return clock.Now().Sub(r.StartedAt)
}
