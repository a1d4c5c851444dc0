package gatewayapi

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aegis-run/aegis/internal/domain"
	"github.com/aegis-run/aegis/internal/queue"
)

type stubExplains struct {
	steps []domain.ExecutionLogEntry
	err   error
}

func (s stubExplains) StepsFor(string) ([]domain.ExecutionLogEntry, error) {
	return s.steps, s.err
}

func newTestService() *Service {
	return NewService(queue.NewMemQueue(), NewApprovalGate(), nil)
}

func TestSubmitRejectsEmptyRequest(t *testing.T) {
	svc := newTestService()
	_, err := svc.Submit(context.Background(), SubmitRequest{})
	require.Error(t, err)
	require.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestSubmitEnqueuesAndGet(t *testing.T) {
	svc := newTestService()
	job, err := svc.Submit(context.Background(), SubmitRequest{Request: "do the thing", Priority: 5})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	require.Equal(t, domain.SourceUser, job.Source)

	got, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, got.ID)
	require.Equal(t, domain.StatusPending, got.Status)
}

func TestCancel(t *testing.T) {
	svc := newTestService()
	job, err := svc.Submit(context.Background(), SubmitRequest{Request: "cancel me"})
	require.NoError(t, err)

	require.NoError(t, svc.Cancel(context.Background(), job.ID))
	got, err := svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, got.Status)
}

func TestApproveRequiresMatchingNonce(t *testing.T) {
	svc := newTestService()
	job, err := svc.Submit(context.Background(), SubmitRequest{Request: "needs approval"})
	require.NoError(t, err)

	err = svc.Approve(context.Background(), job.ID, "whatever")
	require.Error(t, err)
	require.Equal(t, domain.KindConflict, domain.KindOf(err))
}

func TestApproveDeliversDecisionToWaiter(t *testing.T) {
	q := queue.NewMemQueue()
	job := &domain.Job{ID: "job-approve", Request: "needs approval", ApprovalNonce: "abc123", MaxAttempts: 3}
	require.NoError(t, q.Enqueue(job))
	require.NoError(t, q.Release(job.ID, domain.StatusAwaitingApproval, nil, nil))

	approvals := NewApprovalGate()
	svc := NewService(q, approvals, nil)

	type waitResult struct {
		approved bool
		err      error
	}
	resultCh := make(chan waitResult, 1)
	go func() {
		approved, err := approvals.Wait(job.ID, testSignal{done: make(chan struct{})})
		resultCh <- waitResult{approved: approved, err: err}
	}()

	require.Eventually(t, func() bool {
		return svc.Approve(context.Background(), job.ID, "abc123") == nil
	}, time.Second, 5*time.Millisecond)

	select {
	case res := <-resultCh:
		require.NoError(t, res.err)
		require.True(t, res.approved)
	case <-time.After(time.Second):
		t.Fatal("expected the waiting goroutine to receive the approval decision")
	}
}

// testSignal is a minimal budget.Signal for tests that never fires.
type testSignal struct{ done chan struct{} }

func (s testSignal) Done() <-chan struct{} { return s.done }
func (s testSignal) Err() error            { return nil }

func TestNonceNotFoundWhenJobHasNone(t *testing.T) {
	svc := newTestService()
	job, err := svc.Submit(context.Background(), SubmitRequest{Request: "no approval needed"})
	require.NoError(t, err)

	_, err = svc.Nonce(context.Background(), job.ID)
	require.Error(t, err)
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestExplainUsesExplainSource(t *testing.T) {
	q := queue.NewMemQueue()
	steps := []domain.ExecutionLogEntry{{StepID: "step-1", Status: "completed"}}
	svc := NewService(q, NewApprovalGate(), stubExplains{steps: steps})

	job, err := svc.Submit(context.Background(), SubmitRequest{Request: "explain me"})
	require.NoError(t, err)

	result, err := svc.Explain(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, result.Job.ID)
	require.Equal(t, steps, result.Steps)
}

func TestReplayRequiresTerminalState(t *testing.T) {
	svc := newTestService()
	job, err := svc.Submit(context.Background(), SubmitRequest{Request: "still running"})
	require.NoError(t, err)

	_, err = svc.Replay(context.Background(), job.ID)
	require.Error(t, err)
	require.Equal(t, domain.KindConflict, domain.KindOf(err))
}

func TestReplayCreatesFreshJobID(t *testing.T) {
	svc := newTestService()
	job, err := svc.Submit(context.Background(), SubmitRequest{Request: "will complete"})
	require.NoError(t, err)
	require.NoError(t, svc.Queue.Release(job.ID, domain.StatusCompleted, "done", nil))

	replayed, err := svc.Replay(context.Background(), job.ID)
	require.NoError(t, err)
	require.NotEqual(t, job.ID, replayed.ID)
	require.Equal(t, job.Request, replayed.Request)
}

func TestSubscribePublishAndUnsubscribe(t *testing.T) {
	svc := newTestService()
	ctx, cancel := context.WithCancel(context.Background())

	events, err := svc.Subscribe(ctx, "job-1")
	require.NoError(t, err)

	svc.Publish(StatusEvent{JobID: "job-1", Status: domain.StatusExecuting})

	select {
	case ev := <-events:
		require.Equal(t, domain.StatusExecuting, ev.Status)
	case <-time.After(time.Second):
		t.Fatal("expected a status event")
	}

	cancel()
	select {
	case _, ok := <-events:
		require.False(t, ok, "channel should be closed after context cancellation")
	case <-time.After(time.Second):
		t.Fatal("expected the channel to close after unsubscribe")
	}
}

func TestPublishDropsForSlowSubscriberWithoutBlocking(t *testing.T) {
	svc := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := svc.Subscribe(ctx, "job-2")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 32; i++ {
			svc.Publish(StatusEvent{JobID: "job-2", Status: domain.StatusExecuting})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish should never block on a slow subscriber")
	}
}
