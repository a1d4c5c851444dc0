// Package domain holds the shared types that flow between every runtime
// component: jobs, plans, steps, messages, and the error kinds used to
// classify failures across the orchestrator, router, and queue.
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a RuntimeError so callers can branch on failure category
// without string-matching messages.
type Kind string

const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not-found"
	KindConflict   Kind = "conflict"
	KindTimeout    Kind = "timeout"
	KindProvider   Kind = "provider"
	KindSandbox    Kind = "sandbox"
	KindAuth       Kind = "auth"
	KindCancelled  Kind = "cancelled"
	KindInternal   Kind = "internal"
)

// Sentinel errors for comparison via errors.Is.
var (
	ErrJobNotFound       = errors.New("job not found")
	ErrComponentNotFound = errors.New("component not found")
	ErrDecisionNotFound  = errors.New("decision not found")
	ErrAlreadyRegistered = errors.New("component already registered")
	ErrInvalidComponent  = errors.New("invalid component id")
	ErrMessageTooLarge   = errors.New("message exceeds size limit")
	ErrBudgetExhausted   = errors.New("budget exhausted")
	ErrNonceConsumed     = errors.New("approval nonce already consumed")
	ErrMaxAttempts       = errors.New("maximum attempts exceeded")
	ErrCancelled         = errors.New("operation cancelled")
)

// RuntimeError carries a Kind alongside the usual op/message/wrapped-error
// triple so the gateway can translate a failure into {code, message,
// retriable} without inspecting message text.
type RuntimeError struct {
	Op      string // operation that failed, e.g. "router.Dispatch"
	Kind    Kind
	ID      string // job-id, component-id, or similar, when relevant
	Message string
	Err     error
}

func (e *RuntimeError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

func (e *RuntimeError) Unwrap() error { return e.Err }

// NewError builds a RuntimeError. Message defaults to the wrapped error's
// text when empty.
func NewError(op string, kind Kind, id string, err error) *RuntimeError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &RuntimeError{Op: op, Kind: kind, ID: id, Message: msg, Err: err}
}

// KindOf extracts the Kind from err, falling back to KindInternal.
func KindOf(err error) Kind {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}

// Retriable reports whether the gateway should offer a retry affordance.
func Retriable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindProvider, KindSandbox:
		return true
	default:
		return false
	}
}
