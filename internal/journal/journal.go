// Package journal implements the idempotency log: a stable-key execution
// record that lets a crashed and replayed job skip steps it already
// finished, and lets an in-flight step resume cleanly after a restart.
package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/aegis-run/aegis/internal/domain"
)

// Key derives the deterministic idempotency key for (jobID, stepID).
func Key(jobID, stepID string) string {
	h := sha256.New()
	h.Write([]byte(jobID))
	h.Write([]byte{0}) // separator, avoids "a"+"bc" colliding with "ab"+"c"
	h.Write([]byte(stepID))
	return hex.EncodeToString(h.Sum(nil))
}

// Outcome tags the result of Check: either the caller should execute, or a
// cached result from a prior completed run is available.
type Outcome struct {
	Key       string
	Cached    bool
	Result    any
}

// Store persists ExecutionLogEntry rows. Implementations must make Check
// atomic: the read-or-insert must happen inside one transaction.
type Store interface {
	Check(jobID, stepID string) (Outcome, error)
	RecordCompletion(key string, result any) error
	RecordFailure(key string) error
	Get(key string) (*domain.ExecutionLogEntry, bool, error)
}

// MemStore is an in-process Store guarded by a mutex; it backs tests and
// any deployment that accepts losing the log across process restarts. The
// SQL-backed Store lives in internal/store and is used by cmd/aegisd.
type MemStore struct {
	mu      sync.Mutex
	entries map[string]*domain.ExecutionLogEntry
	clock   func() time.Time
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]*domain.ExecutionLogEntry), clock: time.Now}
}

// Check implements the transition table: no entry -> insert started,
// execute; completed -> cached; started or failed -> reset to started,
// execute.
func (m *MemStore) Check(jobID, stepID string) (Outcome, error) {
	key := Key(jobID, stepID)
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[key]
	if !exists {
		m.entries[key] = &domain.ExecutionLogEntry{
			Key: key, JobID: jobID, StepID: stepID,
			Status: domain.LogStarted, StartedAt: m.clock(),
		}
		return Outcome{Key: key}, nil
	}

	switch entry.Status {
	case domain.LogCompleted:
		return Outcome{Key: key, Cached: true, Result: entry.Result}, nil
	default: // started or failed: reset
		entry.Status = domain.LogStarted
		entry.StartedAt = m.clock()
		entry.CompletedAt = nil
		entry.Result = nil
		return Outcome{Key: key}, nil
	}
}

// RecordCompletion transitions started -> completed and stores result.
func (m *MemStore) RecordCompletion(key string, result any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return domain.NewError("journal.RecordCompletion", domain.KindNotFound, key, domain.ErrDecisionNotFound)
	}
	now := m.clock()
	entry.Status = domain.LogCompleted
	entry.CompletedAt = &now
	entry.Result = result
	return nil
}

// RecordFailure transitions started -> failed and clears any result.
func (m *MemStore) RecordFailure(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return domain.NewError("journal.RecordFailure", domain.KindNotFound, key, domain.ErrDecisionNotFound)
	}
	now := m.clock()
	entry.Status = domain.LogFailed
	entry.CompletedAt = &now
	entry.Result = nil
	return nil
}

// Get returns the raw entry for key, for inspection/replay tooling.
func (m *MemStore) Get(key string) (*domain.ExecutionLogEntry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	cp := *e
	return &cp, true, nil
}
