// Package budget implements the nested timeout/cancellation arithmetic that
// underpins every long-running operation: a job-level Budget that caps
// planning, validation, and per-step phases, and a CompositeSignal that
// fires on the first of a timer, a parent signal, or a manual cancel.
package budget

import (
	"time"

	"github.com/aegis-run/aegis/internal/domain"
)

// Clock abstracts time.Now for deterministic tests.
type Clock func() time.Time

// Budget carries a total duration, a start timestamp, and a label. It is
// not safe for concurrent mutation, but Elapsed/Remaining/Expired/Cap are
// read-only and safe to call from multiple goroutines.
type Budget struct {
	Label string
	Total time.Duration
	Start time.Time
	clock Clock
}

// New creates a Budget starting now (per clock).
func New(label string, total time.Duration, clock Clock) *Budget {
	if clock == nil {
		clock = time.Now
	}
	return &Budget{Label: label, Total: total, Start: clock(), clock: clock}
}

func (b *Budget) now() time.Time {
	if b.clock != nil {
		return b.clock()
	}
	return time.Now()
}

// Elapsed returns time since Start.
func (b *Budget) Elapsed() time.Duration {
	return b.now().Sub(b.Start)
}

// Remaining returns Total - Elapsed, clamped at 0.
func (b *Budget) Remaining() time.Duration {
	r := b.Total - b.Elapsed()
	if r < 0 {
		return 0
	}
	return r
}

// Expired reports whether Remaining() is zero.
func (b *Budget) Expired() bool {
	return b.Remaining() <= 0
}

// Cap returns min(requested, remaining), or fails with KindTimeout when the
// budget has nothing left for the named phase.
func (b *Budget) Cap(requested time.Duration, phase string) (time.Duration, error) {
	remaining := b.Remaining()
	if remaining <= 0 {
		return 0, domain.NewError("budget.Cap", domain.KindTimeout, phase, domain.ErrBudgetExhausted)
	}
	if requested < remaining {
		return requested, nil
	}
	return remaining, nil
}

// JobBudget is the three-level hierarchy described for a job: a total
// budget, and phase allowances each capped by whatever remains of Total.
type JobBudget struct {
	Total      *Budget
	Planning   time.Duration
	Validation time.Duration
	Step       time.Duration
}

// DefaultJobBudget matches the documented defaults: 300s total, 60s
// planning, 30s validation, 60s per step.
func DefaultJobBudget(clock Clock) *JobBudget {
	return &JobBudget{
		Total:      New("job", 300*time.Second, clock),
		Planning:   60 * time.Second,
		Validation: 30 * time.Second,
		Step:       60 * time.Second,
	}
}

// PhaseBudget returns a Budget for the named phase, capped to whatever
// remains of the job total.
func (jb *JobBudget) PhaseBudget(phase string, requested time.Duration) (*Budget, error) {
	capped, err := jb.Total.Cap(requested, phase)
	if err != nil {
		return nil, err
	}
	return New(phase, capped, jb.Total.clock), nil
}
