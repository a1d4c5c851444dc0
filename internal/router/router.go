// Package router implements MessageRouter: the in-process dispatch spine
// that carries planner, validator, and worker traffic through a fixed
// middleware chain (error-wrap, audit, latency, size-check, dispatch)
// before handing the message to its target component's handler.
package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aegis-run/aegis/core"
	"github.com/aegis-run/aegis/internal/audit"
	"github.com/aegis-run/aegis/internal/budget"
	"github.com/aegis-run/aegis/internal/domain"
	"github.com/aegis-run/aegis/internal/registry"
)

// Next invokes the remainder of the middleware chain.
type Next func(msg *domain.Message, signal budget.Signal) (*domain.Message, error)

// Middleware wraps Next with additional behavior.
type Middleware func(msg *domain.Message, signal budget.Signal, next Next) (*domain.Message, error)

// Router dispatches request messages to registered component handlers
// through a fixed chain, with room for user-supplied middleware inserted
// before dispatch. It is stateless except for its middleware slice and the
// Registry it wraps, so it is contention-free under concurrent Dispatch
// calls.
type Router struct {
	registry *registry.Registry
	audit    audit.Sink
	logger   core.Logger
	extra    []Middleware
}

// New builds a Router over reg, writing audit records to sink and
// structured logs via logger.
func New(reg *registry.Registry, sink audit.Sink, logger core.Logger) *Router {
	return &Router{registry: reg, audit: sink, logger: logger}
}

// Use appends user-supplied middleware, inserted before the dispatch stage.
func (r *Router) Use(mw Middleware) {
	r.extra = append(r.extra, mw)
}

// Dispatch sends msg through the full chain: error-wrap -> audit -> latency
// -> size-check -> [extra...] -> dispatch. Every request that enters
// dispatch produces either a response with matching correlation-id or a
// well-formed error message with the same correlation-id.
func (r *Router) Dispatch(ctx context.Context, msg *domain.Message) (*domain.Message, error) {
	parent := budget.FromContext(ctx)
	chain := r.dispatchStage()
	for i := len(r.extra) - 1; i >= 0; i-- {
		chain = bind(r.extra[i], chain)
	}
	chain = bind(r.sizeCheckStage, chain)
	chain = bind(r.latencyStage, chain)
	chain = bind(r.auditStage, chain)
	chain = bind(r.errorWrapStage, chain)
	return chain(msg, parent)
}

func bind(mw Middleware, next Next) Next {
	return func(msg *domain.Message, signal budget.Signal) (*domain.Message, error) {
		return mw(msg, signal, next)
	}
}

// errorWrapStage catches anything the downstream chain returns as an error
// and converts it to a well-formed error message; its own execution never
// throws/panics past this point.
func (r *Router) errorWrapStage(msg *domain.Message, signal budget.Signal, next Next) (resp *domain.Message, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			resp = errorMessage(msg, domain.NewError("router.Dispatch", domain.KindInternal, msg.ID, nil))
			err = nil
		}
	}()
	resp, err = next(msg, signal)
	if err != nil {
		var re *domain.RuntimeError
		if e, ok := err.(*domain.RuntimeError); ok {
			re = e
		} else {
			re = domain.NewError("router.Dispatch", domain.KindInternal, msg.ID, err)
		}
		return errorMessage(msg, re), nil
	}
	return resp, nil
}

func errorMessage(req *domain.Message, re *domain.RuntimeError) *domain.Message {
	return &domain.Message{
		ID:            req.ID + ":error",
		CorrelationID: req.CorrelationID,
		Timestamp:     time.Now(),
		From:          req.To,
		To:            req.From,
		Type:          domain.MsgError,
		JobID:         req.JobID,
		Payload: domain.ErrorPayload{
			Code:      string(re.Kind),
			Message:   re.Message,
			Retriable: domain.Retriable(re),
		},
	}
}

// auditStage calls the audit sink exactly once per dispatch, regardless of
// outcome.
func (r *Router) auditStage(msg *domain.Message, signal budget.Signal, next Next) (*domain.Message, error) {
	resp, err := next(msg, signal)
	if r.audit != nil {
		r.audit.Write(domain.AuditEntry{
			ID:        msg.ID,
			Timestamp: time.Now(),
			Actor:     msg.From,
			Action:    "dispatch:" + string(msg.Type),
			Details: map[string]any{
				"from": msg.From,
				"to":   msg.To,
			},
		})
	}
	return resp, err
}

// latencyStage records dispatch duration: debug below 1s, warn at or above.
func (r *Router) latencyStage(msg *domain.Message, signal budget.Signal, next Next) (*domain.Message, error) {
	start := time.Now()
	resp, err := next(msg, signal)
	elapsed := time.Since(start)
	if r.logger != nil {
		fields := map[string]interface{}{
			"to":          msg.To,
			"type":        string(msg.Type),
			"duration_ms": elapsed.Milliseconds(),
		}
		if elapsed >= time.Second {
			r.logger.Warn("dispatch latency", fields)
		} else {
			r.logger.Debug("dispatch latency", fields)
		}
	}
	return resp, err
}

// sizeCheckStage rejects oversize messages and warns on large-but-legal ones.
func (r *Router) sizeCheckStage(msg *domain.Message, signal budget.Signal, next Next) (*domain.Message, error) {
	raw, mErr := json.Marshal(msg.Payload)
	size := len(raw)
	if mErr == nil {
		if size > domain.MaxMessageBytes {
			return nil, domain.NewError("router.sizeCheck", domain.KindValidation, msg.ID, domain.ErrMessageTooLarge)
		}
		if size > domain.WarnMessageBytes && r.logger != nil {
			r.logger.Warn("message exceeds soft size threshold", map[string]interface{}{
				"id": msg.ID, "bytes": size,
			})
		}
	}
	return next(msg, signal)
}

// dispatchStage resolves the handler by msg.To and invokes it with a signal
// derived from the caller's signal and an optional per-message timeout.
func (r *Router) dispatchStage(msg *domain.Message, signal budget.Signal, _ Next) (*domain.Message, error) {
	handler, ok := r.registry.GetHandler(msg.To)
	if !ok {
		return nil, domain.NewError("router.dispatch", domain.KindNotFound, msg.To, domain.ErrComponentNotFound)
	}

	timeoutMs, hasTimeout := msg.TimeoutMs()
	if !hasTimeout {
		return handler(msg, signal)
	}

	composite, cleanup := budget.CreateCompositeSignal(time.Duration(timeoutMs)*time.Millisecond, signal)
	defer cleanup()
	return handler(msg, composite)
}
