package budget

import (
	"time"

	"github.com/aegis-run/aegis/internal/domain"
)

// Operation is work that races against a CompositeSignal; it must observe
// signal.Done() and unwind promptly when it fires.
type Operation func(signal Signal) (any, error)

// RunWithTimeout races operation against a CompositeSignal built from
// timeoutMs and any parent signals, optionally capped by budget. On a
// timer win the returned error carries label and domain.KindTimeout;
// non-timeout errors from operation propagate unchanged.
func RunWithTimeout(op Operation, timeoutMs int64, label string, b *Budget, parents ...Signal) (any, error) {
	timeout := time.Duration(timeoutMs) * time.Millisecond
	if b != nil {
		capped, err := b.Cap(timeout, label)
		if err != nil {
			return nil, err
		}
		timeout = capped
	}

	signal, cleanup := CreateCompositeSignal(timeout, parents...)
	defer cleanup()

	type result struct {
		val any
		err error
	}
	done := make(chan result, 1)
	go func() {
		val, err := op(signal)
		done <- result{val, err}
	}()

	select {
	case r := <-done:
		return r.val, r.err
	case <-signal.Done():
		select {
		case r := <-done:
			// operation finished right at the deadline; prefer its result.
			return r.val, r.err
		default:
		}
		return nil, domain.NewError("runWithTimeout", domain.KindTimeout, label, domain.ErrBudgetExhausted)
	}
}

// CancelWithGrace signals the controller, waits up to grace for
// operationDone to close, and invokes forceKill if it is still running.
// Returns true when the operation finished gracefully within the window.
func CancelWithGrace(controller *CompositeSignal, grace time.Duration, forceKill func(), operationDone <-chan struct{}) bool {
	controller.Cancel()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-operationDone:
		return true
	case <-timer.C:
		if forceKill != nil {
			forceKill()
		}
		return false
	}
}
