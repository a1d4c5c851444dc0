package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is a process-local Store, useful for unit tests and single-node
// deployments that don't need memories to survive a restart.
type MemStore struct {
	mu      sync.RWMutex
	entries []Entry
	cap     int
}

// NewMemStore builds a MemStore retaining at most capacity entries,
// evicting the oldest once full. capacity <= 0 means unbounded.
func NewMemStore(capacity int) *MemStore {
	return &MemStore{cap: capacity}
}

var _ Store = (*MemStore)(nil)

func (m *MemStore) Record(_ context.Context, jobID, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, Entry{
		ID:        uuid.NewString(),
		JobID:     jobID,
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
	})
	if m.cap > 0 && len(m.entries) > m.cap {
		m.entries = m.entries[len(m.entries)-m.cap:]
	}
	return nil
}

func (m *MemStore) Recent(_ context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.entries)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Entry, n)
	for i := 0; i < n; i++ {
		out[i] = m.entries[len(m.entries)-1-i]
	}
	return out, nil
}
