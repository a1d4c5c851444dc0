package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-run/aegis/internal/memory"
)

// MemoryStore implements memory.Store against the decision_memory table.
type MemoryStore struct {
	store *Store
}

// NewMemoryStore wraps an open Store as a memory.Store.
func NewMemoryStore(s *Store) *MemoryStore {
	return &MemoryStore{store: s}
}

var _ memory.Store = (*MemoryStore)(nil)

func (m *MemoryStore) Record(ctx context.Context, jobID, summary string) error {
	_, err := m.store.DB.ExecContext(ctx,
		`INSERT INTO decision_memory (id, job_id, summary, created_at) VALUES (?, ?, ?, ?)`,
		uuid.NewString(), jobID, summary, time.Now().UTC(),
	)
	return err
}

func (m *MemoryStore) Recent(ctx context.Context, limit int) ([]memory.Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []struct {
		ID        string    `db:"id"`
		JobID     string    `db:"job_id"`
		Summary   string    `db:"summary"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := m.store.DB.SelectContext(ctx, &rows,
		`SELECT id, job_id, summary, created_at FROM decision_memory ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	out := make([]memory.Entry, len(rows))
	for i, r := range rows {
		out[i] = memory.Entry{ID: r.ID, JobID: r.JobID, Summary: r.Summary, CreatedAt: r.CreatedAt}
	}
	return out, nil
}
