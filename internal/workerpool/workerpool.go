// Package workerpool implements WorkerPool: a bounded set of workers, each
// a logical claim -> run orchestrator -> release loop, with backpressure
// and graceful drain.
package workerpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegis-run/aegis/core"
	"github.com/aegis-run/aegis/internal/domain"
	"github.com/aegis-run/aegis/internal/queue"
)

// JobRunner drives a claimed job through the orchestrator state machine and
// returns the status/result/error to release it with.
type JobRunner func(ctx context.Context, job *domain.Job) (status domain.Status, result any, jobErr *domain.RuntimeError)

// Config configures the pool.
type Config struct {
	MaxWorkers            int
	PollInterval          time.Duration
	BackpressureThreshold int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{MaxWorkers: 5, PollInterval: 500 * time.Millisecond, BackpressureThreshold: 5}
}

// Pool runs Config.MaxWorkers claim/run/release loops against a Queue.
type Pool struct {
	q      queue.Queue
	runner JobRunner
	cfg    Config
	logger core.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	running     atomic.Bool
	activeCount atomic.Int32
	backpressure atomic.Bool
	workerIDCounter atomic.Int32
}

// New builds a Pool over q, driving each claimed job with runner.
func New(q queue.Queue, runner JobRunner, cfg Config, logger core.Logger) *Pool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = DefaultConfig().MaxWorkers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.BackpressureThreshold <= 0 {
		cfg.BackpressureThreshold = cfg.MaxWorkers
	}
	return &Pool{q: q, runner: runner, cfg: cfg, logger: logger}
}

// IsBackpressureActive reports whether polling is currently paused because
// active workers have reached the configured threshold.
func (p *Pool) IsBackpressureActive() bool { return p.backpressure.Load() }

// ActiveWorkers returns the current count of workers mid-job.
func (p *Pool) ActiveWorkers() int { return int(p.activeCount.Load()) }

// Start launches MaxWorkers worker loops and blocks until ctx is cancelled
// or Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	if p.running.Swap(true) {
		return fmt.Errorf("worker pool already running")
	}
	workerCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	if p.logger != nil {
		p.logger.Info("starting worker pool", map[string]interface{}{"max_workers": p.cfg.MaxWorkers})
	}

	for i := 0; i < p.cfg.MaxWorkers; i++ {
		id := fmt.Sprintf("worker-%d", p.workerIDCounter.Add(1))
		p.wg.Add(1)
		go p.runWorker(workerCtx, id)
	}

	p.wg.Wait()
	p.running.Store(false)
	return nil
}

// Stop ceases polling, signals all active workers' cancel handles via the
// shared worker context, and races their completions against grace. When
// grace expires it returns one placeholder name ("worker-unknown-<i>") per
// worker still active, not the real worker ids. Idempotent:
// calling Stop twice is a no-op the second time.
func (p *Pool) Stop(grace time.Duration) []string {
	if !p.running.Load() {
		return nil
	}
	if p.cancel != nil {
		p.cancel()
	}
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(grace):
		// Best-effort: we don't track per-worker ids past construction, so
		// report the count still active instead of specific ids.
		n := p.activeCount.Load()
		ids := make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprintf("worker-unknown-%d", i)
		}
		return ids
	}
}

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		active := int(p.activeCount.Load())
		if active >= p.cfg.BackpressureThreshold {
			if !p.backpressure.Swap(true) && p.logger != nil {
				p.logger.Warn("backpressure engaged", map[string]interface{}{"active": active, "threshold": p.cfg.BackpressureThreshold})
			}
			if !p.sleep(ctx, p.cfg.PollInterval) {
				return
			}
			continue
		}
		if p.backpressure.Swap(false) && p.logger != nil {
			p.logger.Info("backpressure released", map[string]interface{}{"active": active})
		}

		job, err := p.q.Claim(workerID)
		if err != nil {
			if !p.sleep(ctx, p.cfg.PollInterval) {
				return
			}
			continue
		}

		p.activeCount.Add(1)
		p.process(ctx, job)
		p.activeCount.Add(-1)
	}
}

func (p *Pool) process(ctx context.Context, job *domain.Job) {
	status, result, jobErr := p.runner(ctx, job)
	if err := p.q.Release(job.ID, status, result, jobErr); err != nil && p.logger != nil {
		p.logger.Error("release failed", map[string]interface{}{"job_id": job.ID, "error": err.Error()})
	}
}

// sleep waits for d or ctx cancellation; returns false if ctx fired first.
func (p *Pool) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
