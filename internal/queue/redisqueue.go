package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/aegis-run/aegis/core"
	"github.com/aegis-run/aegis/internal/domain"
)

// RedisQueue implements Queue over a Redis sorted set, scored so the
// highest-priority, oldest job sorts last. Claim uses ZPOPMAX, which Redis
// executes atomically: two pollers racing BZPOPMAX/ZPOPMAX against the same
// key can never pop the same member.
type RedisQueue struct {
	client         *redis.Client
	config         RedisQueueConfig
	logger         core.Logger
	circuitBreaker core.CircuitBreaker
}

// RedisQueueConfig configures key names and retry behavior.
type RedisQueueConfig struct {
	PendingKey string // sorted set of pending job-ids, scored by priority/age
	JobKeyPrefix string // job hash stored at JobKeyPrefix + job-id
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultRedisQueueConfig returns sensible defaults.
func DefaultRedisQueueConfig() RedisQueueConfig {
	return RedisQueueConfig{
		PendingKey:    "aegis:jobs:pending",
		JobKeyPrefix:  "aegis:jobs:",
		RetryAttempts: 3,
		RetryDelay:    100 * time.Millisecond,
	}
}

// NewRedisQueue builds a RedisQueue over an already-connected client.
func NewRedisQueue(client *redis.Client, cfg RedisQueueConfig, cb core.CircuitBreaker, logger core.Logger) *RedisQueue {
	if cfg.PendingKey == "" {
		cfg = DefaultRedisQueueConfig()
	}
	return &RedisQueue{client: client, config: cfg, logger: logger, circuitBreaker: cb}
}

// score encodes priority (higher first) and recency (older first) into one
// float64: priority dominates the integer part, created-at (as a negative,
// normalized offset) breaks ties within a priority band.
func score(priority int, createdAt time.Time) float64 {
	return float64(priority)*1e12 - float64(createdAt.UnixNano())/1e9
}

func (q *RedisQueue) jobKey(id string) string { return q.config.JobKeyPrefix + id }

func (q *RedisQueue) exec(ctx context.Context, fn func() error) error {
	if q.circuitBreaker != nil {
		return q.circuitBreaker.Execute(ctx, fn)
	}
	return fn()
}

// Enqueue stores the job hash and adds its id to the pending sorted set.
func (q *RedisQueue) Enqueue(job *domain.Job) error {
	ctx := context.Background()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now()
	}
	job.UpdatedAt = job.CreatedAt
	job.Status = domain.StatusPending

	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("serialize job: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < q.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(q.config.RetryDelay)
		}
		lastErr = q.exec(ctx, func() error {
			pipe := q.client.TxPipeline()
			pipe.Set(ctx, q.jobKey(job.ID), data, 0)
			pipe.ZAdd(ctx, q.config.PendingKey, &redis.Z{Score: score(job.Priority, job.CreatedAt), Member: job.ID})
			_, err := pipe.Exec(ctx)
			return err
		})
		if lastErr == nil {
			if q.logger != nil {
				q.logger.Info("job enqueued", map[string]interface{}{"job_id": job.ID, "priority": job.Priority})
			}
			return nil
		}
	}
	return fmt.Errorf("enqueue job after %d attempts: %w", q.config.RetryAttempts, lastErr)
}

// Claim pops the highest-scored pending job-id and transitions its stored
// status to claimed. ZPopMax is atomic at the Redis level, so concurrent
// claimers never receive the same job-id.
func (q *RedisQueue) Claim(workerID string) (*domain.Job, error) {
	ctx := context.Background()
	res, err := q.client.ZPopMax(ctx, q.config.PendingKey, 1).Result()
	if err != nil {
		return nil, fmt.Errorf("claim: %w", err)
	}
	if len(res) == 0 {
		return nil, ErrEmpty
	}
	jobID, _ := res[0].Member.(string)

	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	job.Status = domain.StatusClaimed
	job.UpdatedAt = now()
	if job.Metadata == nil {
		job.Metadata = map[string]any{}
	}
	job.Metadata["claimedBy"] = workerID
	if err := q.saveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Release writes the job's terminal or retried state back to Redis,
// re-adding it to the pending set on a retriable failure with attempts
// remaining.
func (q *RedisQueue) Release(jobID string, status domain.Status, result any, jobErr *domain.RuntimeError) error {
	ctx := context.Background()
	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}

	if status == domain.StatusFailed && isRetriable(jobErr) && job.Attempts+1 < job.MaxAttempts {
		job.Attempts++
		job.Status = domain.StatusPending
		job.Error = jobErr
		job.UpdatedAt = now()
		if err := q.saveJob(ctx, job); err != nil {
			return err
		}
		return q.client.ZAdd(ctx, q.config.PendingKey, &redis.Z{Score: score(job.Priority, job.CreatedAt), Member: job.ID}).Err()
	}

	job.Status = status
	job.Result = result
	job.Error = jobErr
	job.UpdatedAt = now()
	if status.Terminal() {
		t := now()
		job.CompletedAt = &t
	}
	return q.saveJob(ctx, job)
}

// List scans job hashes. For a production deployment this would be backed
// by a secondary index; acceptable here since jobs are bounded in volume
// for a single-user runtime.
func (q *RedisQueue) List() ([]*domain.Job, error) {
	ctx := context.Background()
	keys, err := q.client.Keys(ctx, q.config.JobKeyPrefix+"*").Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]*domain.Job, 0, len(keys))
	for _, k := range keys {
		data, err := q.client.Get(ctx, k).Bytes()
		if err != nil {
			continue
		}
		var job domain.Job
		if err := json.Unmarshal(data, &job); err == nil {
			jobs = append(jobs, &job)
		}
	}
	return jobs, nil
}

// Get loads a single job by id.
func (q *RedisQueue) Get(jobID string) (*domain.Job, error) {
	return q.loadJob(context.Background(), jobID)
}

// Cancel marks a job cancelled and removes it from the pending set.
func (q *RedisQueue) Cancel(jobID string) error {
	ctx := context.Background()
	job, err := q.loadJob(ctx, jobID)
	if err != nil {
		return err
	}
	job.Status = domain.StatusCancelled
	t := now()
	job.CompletedAt = &t
	job.UpdatedAt = t
	if err := q.saveJob(ctx, job); err != nil {
		return err
	}
	return q.client.ZRem(ctx, q.config.PendingKey, jobID).Err()
}

func (q *RedisQueue) loadJob(ctx context.Context, jobID string) (*domain.Job, error) {
	data, err := q.client.Get(ctx, q.jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, domain.NewError("queue.Get", domain.KindNotFound, jobID, domain.ErrJobNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", jobID, err)
	}
	return &job, nil
}

func (q *RedisQueue) saveJob(ctx context.Context, job *domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("serialize job: %w", err)
	}
	return q.client.Set(ctx, q.jobKey(job.ID), data, 0).Err()
}
