// Package queue implements JobQueue: a durable priority-ordered queue with
// atomic claim, so two pollers racing on the same queue never claim the
// same job.
package queue

import (
	"time"

	"github.com/aegis-run/aegis/internal/domain"
)

// Queue is the contract both the in-memory and Redis-backed
// implementations satisfy.
type Queue interface {
	Enqueue(job *domain.Job) error
	Claim(workerID string) (*domain.Job, error)
	Release(jobID string, status domain.Status, result any, jobErr *domain.RuntimeError) error
	List() ([]*domain.Job, error)
	Get(jobID string) (*domain.Job, error)
	Cancel(jobID string) error
}

// ErrEmpty is returned by Claim when no pending job is available; it is
// not a failure, callers should back off at pollInterval and retry.
var ErrEmpty = domain.NewError("queue.Claim", domain.KindNotFound, "", nil)

func isRetriable(jobErr *domain.RuntimeError) bool {
	if jobErr == nil {
		return false
	}
	return domain.Retriable(jobErr)
}

func now() time.Time { return time.Now() }
