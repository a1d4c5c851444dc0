// Command aegisd is the composition root: it wires the queue, worker
// pool, orchestrator, router, store, and gateway together into a single
// runnable daemon, grounded on the teacher's cmd/example startup
// sequencing.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-redis/redis/v8"

	"github.com/aegis-run/aegis/core"
	"github.com/aegis-run/aegis/internal/audit"
	"github.com/aegis-run/aegis/internal/domain"
	"github.com/aegis-run/aegis/internal/gatewayapi"
	"github.com/aegis-run/aegis/internal/gear"
	"github.com/aegis-run/aegis/internal/journal"
	"github.com/aegis-run/aegis/internal/llm"
	"github.com/aegis-run/aegis/internal/memory"
	"github.com/aegis-run/aegis/internal/obslog"
	"github.com/aegis-run/aegis/internal/orchestrator"
	"github.com/aegis-run/aegis/internal/queue"
	"github.com/aegis-run/aegis/internal/registry"
	"github.com/aegis-run/aegis/internal/router"
	"github.com/aegis-run/aegis/internal/scout"
	"github.com/aegis-run/aegis/internal/sentinel"
	"github.com/aegis-run/aegis/internal/store"
	"github.com/aegis-run/aegis/internal/watchdog"
	"github.com/aegis-run/aegis/internal/workerpool"
	"github.com/aegis-run/aegis/resilience"
)

// Exit codes per the lifecycle surface.
const (
	exitOK            = 0
	exitFatalInit     = 1
	exitMigrationFail = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "aegisd: load config:", err)
		return exitFatalInit
	}

	logger, err := obslog.New(cfg.LogLevel, cfg.LogJSON)
	if err != nil {
		fmt.Fprintln(os.Stderr, "aegisd: build logger:", err)
		return exitFatalInit
	}

	db, err := store.Open(store.Config{Path: cfg.DBPath, BackupDir: cfg.BackupDir}, logger)
	if err != nil {
		logger.Error("open store", map[string]interface{}{"error": err.Error()})
		return exitFatalInit
	}
	defer db.Close()

	if err := db.Migrate(store.Config{
		Path: cfg.DBPath, BackupDir: cfg.BackupDir,
		MigrationsFS: store.MigrationsFS, MigrationsDir: store.MigrationsDir,
	}); err != nil {
		logger.Error("migrate store", map[string]interface{}{"error": err.Error()})
		return exitMigrationFail
	}

	app, err := bootstrap(cfg, db, logger)
	if err != nil {
		logger.Error("bootstrap", map[string]interface{}{"error": err.Error()})
		return exitFatalInit
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *configPath != "" {
		go watchConfigFile(ctx, *configPath, logger)
	}

	app.watchdog.Start()
	defer app.watchdog.Stop()

	httpDone := make(chan error, 1)
	go func() {
		logger.Info("listening", map[string]interface{}{"addr": cfg.ListenAddr})
		httpDone <- app.httpServer.ListenAndServe()
	}()

	poolDone := make(chan struct{})
	go func() {
		_ = app.pool.Start(ctx)
		close(poolDone)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received", nil)
	case err := <-httpDone:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("http server failed", map[string]interface{}{"error": err.Error()})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = app.httpServer.Shutdown(shutdownCtx)

	stuck := app.pool.Stop(15 * time.Second)
	if len(stuck) > 0 {
		logger.Warn("workers still active at shutdown grace expiry", map[string]interface{}{"count": len(stuck)})
	}
	<-poolDone

	return exitOK
}

// application bundles every long-lived component bootstrap wires together.
type application struct {
	pool       *workerpool.Pool
	watchdog   *watchdog.Watchdog
	httpServer *http.Server
}

func bootstrap(cfg AppConfig, db *store.Store, logger core.Logger) (*application, error) {
	journalStore := journal.Store(store.NewJournal(db))
	auditSink := audit.Sink(store.NewAuditSink(db, logger))
	memStore := memory.Store(store.NewMemoryStore(db))

	reg := registry.New()
	rtr := router.New(reg, auditSink, logger)

	if err := gear.Register(reg, "mock", gear.Mock(map[string]any{"status": "ok"})); err != nil {
		return nil, fmt.Errorf("register mock gear: %w", err)
	}

	adapter := llm.Adapter(llm.NewAnthropicAdapter(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, logger))

	var jobQueue queue.Queue
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		cb, err := resilience.NewCircuitBreaker(resilience.DefaultConfig())
		if err != nil {
			return nil, fmt.Errorf("build circuit breaker: %w", err)
		}
		jobQueue = queue.NewRedisQueue(client, queue.DefaultRedisQueueConfig(), cb, logger)
	} else {
		jobQueue = store.NewJobQueue(db)
	}

	approvals := gatewayapi.NewApprovalGate()
	orch := &orchestrator.Orchestrator{
		Planner:   &scout.Planner{Adapter: adapter, Model: cfg.PlannerModel},
		Validator: &sentinel.Validator{Adapter: adapter, Logger: logger},
		Router:    rtr,
		Journal:   journalStore,
		Approvals: approvals,
		Logger:    logger,
		Config: orchestrator.Config{
			PlannerModel:   cfg.PlannerModel,
			ValidatorModel: cfg.ValidatorModel,
			Catalogue: []scout.CapabilityEntry{
				{Name: "mock", Actions: []string{"run"}, Description: "no-op capability for smoke tests"},
			},
			Memories: func(jobID string) []string {
				entries, err := memStore.Recent(context.Background(), 10)
				if err != nil {
					return nil
				}
				out := make([]string, len(entries))
				for i, e := range entries {
					out[i] = e.Summary
				}
				return out
			},
		},
	}

	gatewaySvc := gatewayapi.NewService(jobQueue, approvals, store.NewJournal(db))

	runner := workerpool.JobRunner(func(ctx context.Context, job *domain.Job) (domain.Status, any, *domain.RuntimeError) {
		status, result, jobErr := orch.Run(ctx, job)
		gatewaySvc.Publish(gatewayapi.StatusEvent{JobID: job.ID, Status: status, Result: result, Error: jobErr})
		if status == domain.StatusCompleted {
			if err := memStore.Record(ctx, job.ID, summarize(job.Request, result)); err != nil {
				logger.Warn("record decision memory failed", map[string]interface{}{"job_id": job.ID, "error": err.Error()})
			}
		}
		return status, result, jobErr
	})
	pool := workerpool.New(jobQueue, runner, workerpool.Config{
		MaxWorkers: cfg.MaxWorkers, PollInterval: cfg.PollInterval,
	}, logger)

	wd := watchdog.New(watchdog.DefaultConfig(), nil, func(level watchdog.Level) {
		logger.Warn("memory pressure level changed", map[string]interface{}{"level": string(level)})
	}, logger)
	mux := newHTTPMux(gatewaySvc, logger)

	return &application{
		pool:     pool,
		watchdog: wd,
		httpServer: &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: mux,
		},
	}, nil
}

// watchConfigFile re-reads the config file on every write and logs the
// change; a full hot-reload of in-flight components is out of scope, but
// logging gives an operator visibility into drift between the running
// process and the file on disk.
func watchConfigFile(ctx context.Context, path string, logger core.Logger) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("config watcher unavailable", map[string]interface{}{"error": err.Error()})
		return
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		logger.Warn("config watcher add failed", map[string]interface{}{"error": err.Error(), "path": path})
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if _, err := loadAppConfig(path); err != nil {
					logger.Warn("config reload failed", map[string]interface{}{"error": err.Error()})
					continue
				}
				logger.Info("config file changed; restart to apply", map[string]interface{}{"path": path})
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("config watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}

// summarize builds a one-line decision memory entry; truncated since
// memories are meant as short recall hints for the planner, not a full
// result dump.
func summarize(request string, result any) string {
	const maxLen = 200
	summary := fmt.Sprintf("request=%q result=%v", request, result)
	if len(summary) > maxLen {
		summary = summary[:maxLen]
	}
	return summary
}
