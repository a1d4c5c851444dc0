package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/aegis-run/aegis/internal/domain"
	"github.com/aegis-run/aegis/internal/journal"
)

// Journal implements journal.Store against the execution_log table, making
// Check/RecordCompletion/RecordFailure durable across process restarts.
type Journal struct {
	db *sqlx.DB
}

// NewJournal wraps an open Store's database as a journal.Store.
func NewJournal(s *Store) *Journal {
	return &Journal{db: s.DB}
}

var _ journal.Store = (*Journal)(nil)

// Check performs the entire read-or-insert-or-reset transition inside one
// transaction, so two concurrent callers checking the same key never both
// observe "not found".
func (j *Journal) Check(jobID, stepID string) (journal.Outcome, error) {
	key := journal.Key(jobID, stepID)
	tx, err := j.db.Beginx()
	if err != nil {
		return journal.Outcome{}, err
	}
	defer tx.Rollback()

	var row struct {
		Status     string          `db:"status"`
		ResultJSON sql.NullString  `db:"result_json"`
	}
	err = tx.Get(&row, `SELECT status, result_json FROM execution_log WHERE key = ?`, key)
	switch {
	case err == sql.ErrNoRows:
		now := time.Now().UTC()
		_, err = tx.Exec(`INSERT INTO execution_log (key, job_id, step_id, status, started_at) VALUES (?, ?, ?, ?, ?)`,
			key, jobID, stepID, string(domain.LogStarted), now)
		if err != nil {
			return journal.Outcome{}, err
		}
		return journal.Outcome{Key: key}, tx.Commit()
	case err != nil:
		return journal.Outcome{}, err
	}

	if row.Status == string(domain.LogCompleted) {
		var result any
		if row.ResultJSON.Valid {
			_ = json.Unmarshal([]byte(row.ResultJSON.String), &result)
		}
		return journal.Outcome{Key: key, Cached: true, Result: result}, tx.Commit()
	}

	// started or failed: reset to started with a fresh timestamp.
	now := time.Now().UTC()
	_, err = tx.Exec(`UPDATE execution_log SET status = ?, started_at = ?, completed_at = NULL, result_json = NULL WHERE key = ?`,
		string(domain.LogStarted), now, key)
	if err != nil {
		return journal.Outcome{}, err
	}
	return journal.Outcome{Key: key}, tx.Commit()
}

// RecordCompletion transitions started -> completed and stores result.
func (j *Journal) RecordCompletion(key string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	res, err := j.db.Exec(`UPDATE execution_log SET status = ?, completed_at = ?, result_json = ? WHERE key = ?`,
		string(domain.LogCompleted), time.Now().UTC(), string(data), key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, key)
}

// RecordFailure transitions started -> failed and clears any result.
func (j *Journal) RecordFailure(key string) error {
	res, err := j.db.Exec(`UPDATE execution_log SET status = ?, completed_at = ?, result_json = NULL WHERE key = ?`,
		string(domain.LogFailed), time.Now().UTC(), key)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, key)
}

// Get returns the raw entry for key.
func (j *Journal) Get(key string) (*domain.ExecutionLogEntry, bool, error) {
	var row struct {
		Key         string         `db:"key"`
		JobID       string         `db:"job_id"`
		StepID      string         `db:"step_id"`
		Status      string         `db:"status"`
		StartedAt   time.Time      `db:"started_at"`
		CompletedAt sql.NullTime   `db:"completed_at"`
		ResultJSON  sql.NullString `db:"result_json"`
	}
	err := j.db.Get(&row, `SELECT key, job_id, step_id, status, started_at, completed_at, result_json FROM execution_log WHERE key = ?`, key)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	entry := &domain.ExecutionLogEntry{
		Key: row.Key, JobID: row.JobID, StepID: row.StepID,
		Status: domain.LogStatus(row.Status), StartedAt: row.StartedAt,
	}
	if row.CompletedAt.Valid {
		entry.CompletedAt = &row.CompletedAt.Time
	}
	if row.ResultJSON.Valid {
		_ = json.Unmarshal([]byte(row.ResultJSON.String), &entry.Result)
	}
	return entry, true, nil
}

// StepsFor returns every execution_log entry recorded for jobID, ordered
// by start time, satisfying gatewayapi.ExplainSource.
func (j *Journal) StepsFor(jobID string) ([]domain.ExecutionLogEntry, error) {
	var rows []struct {
		Key         string         `db:"key"`
		JobID       string         `db:"job_id"`
		StepID      string         `db:"step_id"`
		Status      string         `db:"status"`
		StartedAt   time.Time      `db:"started_at"`
		CompletedAt sql.NullTime   `db:"completed_at"`
		ResultJSON  sql.NullString `db:"result_json"`
	}
	err := j.db.Select(&rows, `SELECT key, job_id, step_id, status, started_at, completed_at, result_json
		FROM execution_log WHERE job_id = ? ORDER BY started_at ASC`, jobID)
	if err != nil {
		return nil, err
	}
	out := make([]domain.ExecutionLogEntry, len(rows))
	for i, r := range rows {
		out[i] = domain.ExecutionLogEntry{
			Key: r.Key, JobID: r.JobID, StepID: r.StepID,
			Status: domain.LogStatus(r.Status), StartedAt: r.StartedAt,
		}
		if r.CompletedAt.Valid {
			out[i].CompletedAt = &r.CompletedAt.Time
		}
		if r.ResultJSON.Valid {
			_ = json.Unmarshal([]byte(r.ResultJSON.String), &out[i].Result)
		}
	}
	return out, nil
}

func checkRowsAffected(res sql.Result, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NewError("store.Journal", domain.KindNotFound, key, domain.ErrDecisionNotFound)
	}
	return nil
}
