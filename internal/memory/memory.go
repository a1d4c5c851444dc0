// Package memory implements the decision-memory read path: a thin
// key/value-style store the Planner consults for recent-memories context.
// The write side (summarizing completed jobs into memories) is a post-hoc
// extraction pipeline out of scope here; this package only serves reads
// and the simple inserts the orchestrator performs after a job completes.
package memory

import (
	"context"
	"time"
)

// Entry is one recorded decision memory.
type Entry struct {
	ID        string
	JobID     string
	Summary   string
	CreatedAt time.Time
}

// Store is the contract both the in-memory and SQL-backed implementations
// satisfy.
type Store interface {
	Record(ctx context.Context, jobID, summary string) error
	Recent(ctx context.Context, limit int) ([]Entry, error)
}
