// Package gatewayapi defines the Go-level seam a real HTTP/WebSocket
// gateway binds to: SubmissionAPI for job lifecycle operations and
// SubscriptionAPI for status/progress fan-out. cmd/aegisd ships a thin
// net/http + go-chi mux implementing these against a JobQueue and
// JobOrchestrator; a production deployment would front this with its own
// auth and CSRF layer.
package gatewayapi

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/aegis-run/aegis/internal/domain"
	"github.com/aegis-run/aegis/internal/queue"
)

// SubmitRequest is the inbound payload for Submit.
type SubmitRequest struct {
	Request  string
	Priority int
	Metadata map[string]any
}

// ExplainResult surfaces a job's plan, validation verdict, and per-step
// journal entries for audit/debugging.
type ExplainResult struct {
	Job   *domain.Job
	Steps []domain.ExecutionLogEntry
}

// SubmissionAPI is the set of job-lifecycle operations a gateway exposes.
type SubmissionAPI interface {
	Submit(ctx context.Context, req SubmitRequest) (*domain.Job, error)
	Get(ctx context.Context, jobID string) (*domain.Job, error)
	Cancel(ctx context.Context, jobID string) error
	Approve(ctx context.Context, jobID, nonce string) error
	Reject(ctx context.Context, jobID, nonce string) error
	Nonce(ctx context.Context, jobID string) (string, error)
	Explain(ctx context.Context, jobID string) (*ExplainResult, error)
	Replay(ctx context.Context, jobID string) (*domain.Job, error)
}

// StatusEvent is one message delivered over a status subscription.
type StatusEvent struct {
	JobID  string
	Status domain.Status
	Result any
	Error  *domain.RuntimeError
}

// SubscriptionAPI lets a caller watch a job's status transitions.
type SubscriptionAPI interface {
	Subscribe(ctx context.Context, jobID string) (<-chan StatusEvent, error)
}

// ExplainSource supplies the per-step execution history for Explain; it
// is satisfied by journal.Store-backed implementations.
type ExplainSource interface {
	StepsFor(jobID string) ([]domain.ExecutionLogEntry, error)
}

// Service implements SubmissionAPI and SubscriptionAPI against a JobQueue
// and an in-process approval gate. It is the composition root's binding
// target for cmd/aegisd/httpapi.go.
type Service struct {
	Queue    queue.Queue
	Approval *ApprovalGate
	Explains ExplainSource

	mu   sync.Mutex
	subs map[string][]chan StatusEvent
}

// NewService builds a Service over an open queue and approval gate.
func NewService(q queue.Queue, approvals *ApprovalGate, explains ExplainSource) *Service {
	return &Service{Queue: q, Approval: approvals, Explains: explains, subs: map[string][]chan StatusEvent{}}
}

var (
	_ SubmissionAPI   = (*Service)(nil)
	_ SubscriptionAPI = (*Service)(nil)
)

func (s *Service) Submit(_ context.Context, req SubmitRequest) (*domain.Job, error) {
	if req.Request == "" {
		return nil, domain.NewError("gatewayapi.Submit", domain.KindValidation, "", fmt.Errorf("request body is required"))
	}
	job := &domain.Job{
		ID:          uuid.NewString(),
		Source:      domain.SourceUser,
		Priority:    req.Priority,
		MaxAttempts: 3,
		Request:     req.Request,
		Metadata:    req.Metadata,
	}
	if err := s.Queue.Enqueue(job); err != nil {
		return nil, err
	}
	return job, nil
}

func (s *Service) Get(_ context.Context, jobID string) (*domain.Job, error) {
	return s.Queue.Get(jobID)
}

func (s *Service) Cancel(_ context.Context, jobID string) error {
	return s.Queue.Cancel(jobID)
}

func (s *Service) Approve(_ context.Context, jobID, nonce string) error {
	job, err := s.Queue.Get(jobID)
	if err != nil {
		return err
	}
	if job.ApprovalNonce == "" || job.ApprovalNonce != nonce {
		return domain.NewError("gatewayapi.Approve", domain.KindConflict, jobID, domain.ErrNonceConsumed)
	}
	return s.Approval.resolve(jobID, nonce, true)
}

func (s *Service) Reject(_ context.Context, jobID, nonce string) error {
	job, err := s.Queue.Get(jobID)
	if err != nil {
		return err
	}
	if job.ApprovalNonce == "" || job.ApprovalNonce != nonce {
		return domain.NewError("gatewayapi.Reject", domain.KindConflict, jobID, domain.ErrNonceConsumed)
	}
	return s.Approval.resolve(jobID, nonce, false)
}

func (s *Service) Nonce(_ context.Context, jobID string) (string, error) {
	job, err := s.Queue.Get(jobID)
	if err != nil {
		return "", err
	}
	if job.ApprovalNonce == "" {
		return "", domain.NewError("gatewayapi.Nonce", domain.KindNotFound, jobID, domain.ErrDecisionNotFound)
	}
	return job.ApprovalNonce, nil
}

func (s *Service) Explain(_ context.Context, jobID string) (*ExplainResult, error) {
	job, err := s.Queue.Get(jobID)
	if err != nil {
		return nil, err
	}
	var steps []domain.ExecutionLogEntry
	if s.Explains != nil {
		steps, err = s.Explains.StepsFor(jobID)
		if err != nil {
			return nil, err
		}
	}
	return &ExplainResult{Job: job, Steps: steps}, nil
}

// Replay re-enqueues a terminal job's original request as a fresh job,
// since journal entries keyed by the old job-id can never be replayed
// onto it directly without violating the idempotency log's happens-before
// guarantee.
func (s *Service) Replay(ctx context.Context, jobID string) (*domain.Job, error) {
	orig, err := s.Queue.Get(jobID)
	if err != nil {
		return nil, err
	}
	if !orig.Status.Terminal() {
		return nil, domain.NewError("gatewayapi.Replay", domain.KindConflict, jobID, fmt.Errorf("job %s has not reached a terminal state", jobID))
	}
	return s.Submit(ctx, SubmitRequest{Request: orig.Request, Priority: orig.Priority, Metadata: orig.Metadata})
}

// Subscribe registers a channel for jobID's status transitions; callers
// must drain it or cancel ctx to avoid leaking the subscription.
func (s *Service) Subscribe(ctx context.Context, jobID string) (<-chan StatusEvent, error) {
	ch := make(chan StatusEvent, 16)
	s.mu.Lock()
	s.subs[jobID] = append(s.subs[jobID], ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.subs[jobID]
		for i, c := range list {
			if c == ch {
				s.subs[jobID] = append(list[:i], list[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// Publish fans a status transition out to every live subscriber for
// jobID; called by cmd/aegisd's worker runner once the orchestrator
// returns, before the worker pool releases the job.
func (s *Service) Publish(event StatusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs[event.JobID] {
		select {
		case ch <- event:
		default:
			// slow subscriber: drop rather than block the publisher.
		}
	}
}
