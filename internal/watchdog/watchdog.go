// Package watchdog implements MemoryWatchdog: a periodic sampler of process
// memory and system free memory that classifies them into graduated pressure
// levels and reports each level transition through an onChange callback. The
// watchdog does not itself pause, throttle or reject work in the worker pool.
package watchdog

import (
	"runtime"
	"sync"
	"time"

	"github.com/pbnjay/memory"

	"github.com/aegis-run/aegis/core"
)

// Level is a graduated pressure response.
type Level string

const (
	LevelNormal    Level = "normal"
	LevelWarn      Level = "warn"
	LevelPause     Level = "pause"
	LevelReject    Level = "reject"
	LevelEmergency Level = "emergency"
)

// Config thresholds, expressed as fractions of RSSBudget and an absolute
// emergency floor for system free memory.
type Config struct {
	RSSBudget       uint64 // bytes; "budget" the process is expected to stay under
	WarnFraction    float64 // default 0.70
	RejectFraction  float64 // default 0.90
	PauseFloor      uint64  // bytes of system free memory; below this (but above EmergencyFloor) -> pause
	EmergencyFloor  uint64  // bytes of system free memory; below this -> emergency
	SampleInterval  time.Duration
}

// DefaultConfig returns sensible defaults: 1 GiB RSS budget, 70%/90%
// warn/reject fractions, 512 MiB pause floor, 256 MiB emergency floor, 2s
// sampling.
func DefaultConfig() Config {
	return Config{
		RSSBudget:      1 << 30,
		WarnFraction:   0.70,
		RejectFraction: 0.90,
		PauseFloor:     512 << 20,
		EmergencyFloor: 256 << 20,
		SampleInterval: 2 * time.Second,
	}
}

// SampleFunc returns current process RSS and system free memory; overridable
// for tests. The default uses runtime.MemStats.Sys (memory obtained from
// the OS by the Go runtime) for RSS and pbnjay/memory for system free.
type SampleFunc func() (rss, free uint64)

func defaultSample() (uint64, uint64) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.Sys, memory.FreeMemory()
}

// Watchdog samples on an interval and invokes onChange exactly once per
// level transition.
type Watchdog struct {
	cfg      Config
	sample   SampleFunc
	onChange func(Level)
	logger   core.Logger

	mu      sync.Mutex
	current Level
	stop    chan struct{}
	stopped bool
	wg      sync.WaitGroup
}

// New builds a Watchdog. If sample is nil, defaultSample is used.
func New(cfg Config, sample SampleFunc, onChange func(Level), logger core.Logger) *Watchdog {
	if sample == nil {
		sample = defaultSample
	}
	return &Watchdog{cfg: cfg, sample: sample, onChange: onChange, logger: logger, current: LevelNormal}
}

// Start begins periodic sampling in a background goroutine.
func (w *Watchdog) Start() {
	w.mu.Lock()
	if w.stop != nil {
		w.mu.Unlock()
		return
	}
	w.stop = make(chan struct{})
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.SampleInterval)
		defer ticker.Stop()
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				w.sampleOnce()
			}
		}
	}()
}

func (w *Watchdog) sampleOnce() {
	rss, free := w.sample()
	level := w.classify(rss, free)

	w.mu.Lock()
	changed := level != w.current
	w.current = level
	w.mu.Unlock()

	if changed {
		if w.logger != nil {
			w.logger.Warn("memory pressure level changed", map[string]interface{}{
				"level": string(level), "rss": rss, "free": free,
			})
		}
		if w.onChange != nil {
			w.onChange(level)
		}
	}
}

func (w *Watchdog) classify(rss, free uint64) Level {
	if free < w.cfg.EmergencyFloor {
		return LevelEmergency
	}
	if free < w.cfg.PauseFloor {
		return LevelPause
	}
	if w.cfg.RSSBudget == 0 {
		return LevelNormal
	}
	fraction := float64(rss) / float64(w.cfg.RSSBudget)
	switch {
	case fraction >= w.cfg.RejectFraction:
		return LevelReject
	case fraction >= w.cfg.WarnFraction:
		return LevelWarn
	default:
		return LevelNormal
	}
}

// Current returns the last-observed level.
func (w *Watchdog) Current() Level {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop halts sampling. Idempotent.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	if w.stopped || w.stop == nil {
		w.stopped = true
		w.mu.Unlock()
		return
	}
	w.stopped = true
	close(w.stop)
	w.mu.Unlock()
	w.wg.Wait()
}
