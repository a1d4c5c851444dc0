// Package gear defines the capability handler contract: gear:<name>
// components receive execute.request messages and run in sandbox
// subprocesses spawned externally. The orchestrator sees only the router's
// response, never the subprocess directly.
package gear

import (
	"github.com/aegis-run/aegis/internal/budget"
	"github.com/aegis-run/aegis/internal/domain"
	"github.com/aegis-run/aegis/internal/registry"
)

// Request is the execute.request payload a gear handler receives.
type Request struct {
	Capability string         `json:"capability"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
	StepID     string         `json:"stepId"`
}

// Response is the execute.response payload a gear handler returns.
type Response struct {
	Result any             `json:"result,omitempty"`
	Error  *domain.ErrorPayload `json:"error,omitempty"`
}

// Handler executes one capability action. Implementations are expected to
// proxy to an external sandboxed subprocess; the in-process handler's job
// is framing the request/response and surfacing sandbox failures as
// domain.KindSandbox errors.
type Handler func(req Request, signal budget.Signal) (Response, error)

// Register wraps a Handler as a registry.Handler and adds it under
// "gear:<name>".
func Register(reg *registry.Registry, name string, h Handler) error {
	id := "gear:" + name
	return reg.Register(id, func(msg *domain.Message, signal budget.Signal) (*domain.Message, error) {
		payload, ok := msg.Payload.(Request)
		if !ok {
			return nil, domain.NewError("gear.dispatch", domain.KindValidation, id, nil)
		}
		resp, err := h(payload, signal)
		if err != nil {
			return nil, domain.NewError("gear.execute", domain.KindSandbox, id, err)
		}
		return &domain.Message{
			ID:            msg.ID + ":response",
			CorrelationID: msg.CorrelationID,
			From:          id,
			To:            msg.From,
			Type:          domain.MsgExecuteResponse,
			JobID:         msg.JobID,
			Payload:       resp,
		}, nil
	})
}

// Mock is a trivial in-process gear that returns result for every request;
// tests use it, and cmd/aegisd registers it as the "mock" capability.
func Mock(result any) Handler {
	return func(req Request, signal budget.Signal) (Response, error) {
		return Response{Result: result}, nil
	}
}
