package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegis-run/aegis/internal/domain"
	"github.com/aegis-run/aegis/internal/queue"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := Config{
		Path:          filepath.Join(t.TempDir(), "aegis-test.db"),
		MigrationsFS:  MigrationsFS,
		MigrationsDir: MigrationsDir,
	}
	s, err := Open(cfg, noopLogger{})
	require.NoError(t, err)
	require.NoError(t, s.Migrate(cfg))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestJobQueueEnqueueAndGet(t *testing.T) {
	q := NewJobQueue(newTestStore(t))
	job := &domain.Job{ID: "job-1", Source: domain.SourceUser, Request: "do work", MaxAttempts: 3}

	require.NoError(t, q.Enqueue(job))

	got, err := q.Get("job-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, got.Status)
	require.Equal(t, "do work", got.Request)
}

func TestJobQueueClaimPicksHighestPriority(t *testing.T) {
	q := NewJobQueue(newTestStore(t))
	require.NoError(t, q.Enqueue(&domain.Job{ID: "low", Source: domain.SourceUser, Priority: 1, Request: "low"}))
	require.NoError(t, q.Enqueue(&domain.Job{ID: "high", Source: domain.SourceUser, Priority: 9, Request: "high"}))

	claimed, err := q.Claim("worker-1")
	require.NoError(t, err)
	require.Equal(t, "high", claimed.ID)
	require.Equal(t, domain.StatusClaimed, claimed.Status)
	require.Equal(t, "worker-1", claimed.Metadata["claimedBy"])
}

func TestJobQueueClaimReturnsErrEmptyWhenNothingPending(t *testing.T) {
	q := NewJobQueue(newTestStore(t))
	_, err := q.Claim("worker-1")
	require.ErrorIs(t, err, queue.ErrEmpty)
}

func TestJobQueueReleaseTerminal(t *testing.T) {
	q := NewJobQueue(newTestStore(t))
	require.NoError(t, q.Enqueue(&domain.Job{ID: "job-2", Source: domain.SourceUser, Request: "finish", MaxAttempts: 3}))
	_, err := q.Claim("worker-1")
	require.NoError(t, err)

	require.NoError(t, q.Release("job-2", domain.StatusCompleted, map[string]any{"ok": true}, nil))

	got, err := q.Get("job-2")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
}

func TestJobQueueReleaseRetriableRequeues(t *testing.T) {
	q := NewJobQueue(newTestStore(t))
	require.NoError(t, q.Enqueue(&domain.Job{ID: "job-3", Source: domain.SourceUser, Request: "retry me", MaxAttempts: 3}))
	_, err := q.Claim("worker-1")
	require.NoError(t, err)

	jobErr := domain.NewError("gear.call", domain.KindTimeout, "job-3", assertError{})
	require.NoError(t, q.Release("job-3", domain.StatusFailed, nil, jobErr))

	got, err := q.Get("job-3")
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, got.Status)
	require.Equal(t, 1, got.Attempts)
}

func TestJobQueueReleaseExhaustsAttempts(t *testing.T) {
	q := NewJobQueue(newTestStore(t))
	require.NoError(t, q.Enqueue(&domain.Job{ID: "job-4", Source: domain.SourceUser, Request: "out of tries", MaxAttempts: 1}))
	_, err := q.Claim("worker-1")
	require.NoError(t, err)

	jobErr := domain.NewError("gear.call", domain.KindTimeout, "job-4", assertError{})
	require.NoError(t, q.Release("job-4", domain.StatusFailed, nil, jobErr))

	got, err := q.Get("job-4")
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, got.Status)
}

func TestJobQueueCancel(t *testing.T) {
	q := NewJobQueue(newTestStore(t))
	require.NoError(t, q.Enqueue(&domain.Job{ID: "job-5", Source: domain.SourceUser, Request: "cancel me"}))
	require.NoError(t, q.Cancel("job-5"))

	got, err := q.Get("job-5")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, got.Status)
}

func TestJobQueueGetNotFound(t *testing.T) {
	q := NewJobQueue(newTestStore(t))
	_, err := q.Get("missing")
	require.Error(t, err)
	require.Equal(t, domain.KindNotFound, domain.KindOf(err))
}

func TestJobQueueList(t *testing.T) {
	q := NewJobQueue(newTestStore(t))
	require.NoError(t, q.Enqueue(&domain.Job{ID: "job-6", Source: domain.SourceUser, Request: "a"}))
	require.NoError(t, q.Enqueue(&domain.Job{ID: "job-7", Source: domain.SourceUser, Request: "b"}))

	jobs, err := q.List()
	require.NoError(t, err)
	require.Len(t, jobs, 2)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

type noopLogger struct{}

func (noopLogger) Info(string, map[string]interface{})                              {}
func (noopLogger) Error(string, map[string]interface{})                             {}
func (noopLogger) Warn(string, map[string]interface{})                              {}
func (noopLogger) Debug(string, map[string]interface{})                             {}
func (noopLogger) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (noopLogger) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (noopLogger) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (noopLogger) DebugWithContext(context.Context, string, map[string]interface{}) {}
