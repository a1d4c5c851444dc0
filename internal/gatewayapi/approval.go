package gatewayapi

import (
	"fmt"
	"sync"

	"github.com/aegis-run/aegis/internal/budget"
	"github.com/aegis-run/aegis/internal/domain"
)

type waiter struct {
	nonce    string
	decision chan bool
}

// ApprovalGate implements orchestrator.ApprovalWaiter: it blocks a job's
// executing goroutine at the awaiting_approval state until Approve/Reject
// is called with a matching nonce, or the caller's signal fires.
type ApprovalGate struct {
	mu      sync.Mutex
	waiting map[string]*waiter
}

// NewApprovalGate builds an empty gate.
func NewApprovalGate() *ApprovalGate {
	return &ApprovalGate{waiting: map[string]*waiter{}}
}

// Wait registers jobID as awaiting a decision and blocks until one arrives
// or signal fires.
func (g *ApprovalGate) Wait(jobID string, signal budget.Signal) (bool, error) {
	w := &waiter{decision: make(chan bool, 1)}
	g.mu.Lock()
	g.waiting[jobID] = w
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.waiting, jobID)
		g.mu.Unlock()
	}()

	select {
	case approved := <-w.decision:
		return approved, nil
	case <-signal.Done():
		return false, signal.Err()
	}
}

// resolve delivers an approve/reject decision for jobID. The nonce itself
// is checked by the caller against the job record before resolve is
// invoked; resolve only routes the decision to whichever goroutine is
// blocked in Wait.
func (g *ApprovalGate) resolve(jobID, _ string, approved bool) error {
	g.mu.Lock()
	w, ok := g.waiting[jobID]
	g.mu.Unlock()
	if !ok {
		return domain.NewError("gatewayapi.resolve", domain.KindNotFound, jobID, fmt.Errorf("job %s is not awaiting approval", jobID))
	}
	select {
	case w.decision <- approved:
	default:
	}
	return nil
}
