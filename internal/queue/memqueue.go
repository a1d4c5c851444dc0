package queue

import (
	"sort"
	"sync"

	"github.com/aegis-run/aegis/internal/domain"
)

// MemQueue is an in-process priority queue guarded by a mutex. It backs
// tests and single-process deployments that don't need the job queue to
// survive a restart.
type MemQueue struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
}

// NewMemQueue returns an empty MemQueue.
func NewMemQueue() *MemQueue {
	return &MemQueue{jobs: make(map[string]*domain.Job)}
}

// Enqueue stores job in pending state and stamps created-at if unset.
func (q *MemQueue) Enqueue(job *domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now()
	}
	job.UpdatedAt = job.CreatedAt
	job.Status = domain.StatusPending
	q.jobs[job.ID] = job
	return nil
}

// Claim picks the highest-priority pending job, ties broken by created-at,
// atomically transitions it to claimed, and returns a copy. Never returns
// the same job to two concurrent callers: the mutex makes the
// pick-and-transition one atomic step.
func (q *MemQueue) Claim(workerID string) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pending []*domain.Job
	for _, j := range q.jobs {
		if j.Status == domain.StatusPending {
			pending = append(pending, j)
		}
	}
	if len(pending) == 0 {
		return nil, ErrEmpty
	}
	sort.Slice(pending, func(i, k int) bool {
		if pending[i].Priority != pending[k].Priority {
			return pending[i].Priority > pending[k].Priority
		}
		return pending[i].CreatedAt.Before(pending[k].CreatedAt)
	})

	picked := pending[0]
	picked.Status = domain.StatusClaimed
	picked.UpdatedAt = now()
	if picked.Metadata == nil {
		picked.Metadata = map[string]any{}
	}
	picked.Metadata["claimedBy"] = workerID
	return picked.Clone(), nil
}

// Release transitions a claimed job to a terminal status, or back to
// pending (with attempts incremented) when status indicates a retriable
// failure and attempts remain.
func (q *MemQueue) Release(jobID string, status domain.Status, result any, jobErr *domain.RuntimeError) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return domain.NewError("queue.Release", domain.KindNotFound, jobID, domain.ErrJobNotFound)
	}

	if status == domain.StatusFailed && isRetriable(jobErr) && job.Attempts+1 < job.MaxAttempts {
		job.Attempts++
		job.Status = domain.StatusPending
		job.Error = jobErr
		job.UpdatedAt = now()
		return nil
	}

	job.Status = status
	job.Result = result
	job.Error = jobErr
	job.UpdatedAt = now()
	if status.Terminal() {
		t := now()
		job.CompletedAt = &t
	}
	return nil
}

// List returns a snapshot of every job known to the queue.
func (q *MemQueue) List() ([]*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*domain.Job, 0, len(q.jobs))
	for _, j := range q.jobs {
		out = append(out, j.Clone())
	}
	return out, nil
}

// Get returns a single job by id.
func (q *MemQueue) Get(jobID string) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return nil, domain.NewError("queue.Get", domain.KindNotFound, jobID, domain.ErrJobNotFound)
	}
	return job.Clone(), nil
}

// Cancel terminates a job regardless of its current status.
func (q *MemQueue) Cancel(jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	job, ok := q.jobs[jobID]
	if !ok {
		return domain.NewError("queue.Cancel", domain.KindNotFound, jobID, domain.ErrJobNotFound)
	}
	job.Status = domain.StatusCancelled
	t := now()
	job.CompletedAt = &t
	job.UpdatedAt = t
	return nil
}
