package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/aegis-run/aegis/internal/domain"
	"github.com/aegis-run/aegis/internal/queue"
)

// JobQueue implements queue.Queue against the jobs table. Claim uses
// `UPDATE ... WHERE status = 'pending' ... RETURNING` style semantics via a
// transaction with SELECT ... FOR the chosen row followed by a conditional
// UPDATE, relying on sqlite's single-writer serialization (MaxOpenConns=1)
// to make the pick-then-transition atomic.
type JobQueue struct {
	store *Store
}

// NewJobQueue wraps an open Store as a queue.Queue.
func NewJobQueue(s *Store) *JobQueue {
	return &JobQueue{store: s}
}

var _ queue.Queue = (*JobQueue)(nil)

func (q *JobQueue) Enqueue(job *domain.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt
	job.Status = domain.StatusPending

	metaJSON, _ := json.Marshal(job.Metadata)
	_, err := q.store.DB.Exec(
		`INSERT INTO jobs (id, source, priority, status, attempts, max_attempts, request, metadata_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Source), job.Priority, string(job.Status), job.Attempts, job.MaxAttempts,
		job.Request, string(metaJSON), job.CreatedAt, job.UpdatedAt,
	)
	return err
}

// Claim picks the highest-priority, oldest pending job and transitions it
// to claimed inside one transaction.
func (q *JobQueue) Claim(workerID string) (*domain.Job, error) {
	tx, err := q.store.DB.Beginx()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id string
	err = tx.Get(&id, `SELECT id FROM jobs WHERE status = ? ORDER BY priority DESC, created_at ASC LIMIT 1`, string(domain.StatusPending))
	if err == sql.ErrNoRows {
		return nil, queue.ErrEmpty
	}
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := tx.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(domain.StatusClaimed), now, id, string(domain.StatusPending))
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// another claimer won the race between our SELECT and UPDATE.
		return nil, queue.ErrEmpty
	}

	job, err := q.loadJobTx(tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if job.Metadata == nil {
		job.Metadata = map[string]any{}
	}
	job.Metadata["claimedBy"] = workerID
	return job, nil
}

func (q *JobQueue) Release(jobID string, status domain.Status, result any, jobErr *domain.RuntimeError) error {
	job, err := q.Get(jobID)
	if err != nil {
		return err
	}

	resultJSON, _ := json.Marshal(result)
	var errJSON []byte
	if jobErr != nil {
		errJSON, _ = json.Marshal(jobErr)
	}

	if status == domain.StatusFailed && domain.Retriable(jobErr) && job.Attempts+1 < job.MaxAttempts {
		_, err := q.store.DB.Exec(
			`UPDATE jobs SET status = ?, attempts = attempts + 1, error_json = ?, updated_at = ? WHERE id = ?`,
			string(domain.StatusPending), string(errJSON), time.Now().UTC(), jobID,
		)
		return err
	}

	var completedAt any
	if status.Terminal() {
		completedAt = time.Now().UTC()
	}
	_, err = q.store.DB.Exec(
		`UPDATE jobs SET status = ?, result_json = ?, error_json = ?, updated_at = ?, completed_at = ? WHERE id = ?`,
		string(status), string(resultJSON), string(errJSON), time.Now().UTC(), completedAt, jobID,
	)
	return err
}

func (q *JobQueue) List() ([]*domain.Job, error) {
	var ids []string
	if err := q.store.DB.Select(&ids, `SELECT id FROM jobs`); err != nil {
		return nil, err
	}
	jobs := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		j, err := q.Get(id)
		if err == nil {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

func (q *JobQueue) Get(jobID string) (*domain.Job, error) {
	return q.loadJobTx(q.store.DB, jobID)
}

func (q *JobQueue) Cancel(jobID string) error {
	_, err := q.store.DB.Exec(`UPDATE jobs SET status = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		string(domain.StatusCancelled), time.Now().UTC(), time.Now().UTC(), jobID)
	return err
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx.
type queryer interface {
	Get(dest interface{}, query string, args ...interface{}) error
}

func (q *JobQueue) loadJobTx(qr queryer, jobID string) (*domain.Job, error) {
	var row struct {
		ID            string         `db:"id"`
		Source        string         `db:"source"`
		Priority      int            `db:"priority"`
		Status        string         `db:"status"`
		Attempts      int            `db:"attempts"`
		MaxAttempts   int            `db:"max_attempts"`
		Request       string         `db:"request"`
		PlanJSON      sql.NullString `db:"plan_json"`
		ValidationJSON sql.NullString `db:"validation_json"`
		MetadataJSON  sql.NullString `db:"metadata_json"`
		ResultJSON    sql.NullString `db:"result_json"`
		ErrorJSON     sql.NullString `db:"error_json"`
		ApprovalNonce sql.NullString `db:"approval_nonce"`
		CreatedAt     time.Time      `db:"created_at"`
		UpdatedAt     time.Time      `db:"updated_at"`
		CompletedAt   sql.NullTime   `db:"completed_at"`
	}
	err := qr.Get(&row, `SELECT id, source, priority, status, attempts, max_attempts, request, plan_json,
		validation_json, metadata_json, result_json, error_json, approval_nonce, created_at, updated_at, completed_at
		FROM jobs WHERE id = ?`, jobID)
	if err == sql.ErrNoRows {
		return nil, domain.NewError("store.Get", domain.KindNotFound, jobID, domain.ErrJobNotFound)
	}
	if err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID: row.ID, Source: domain.Source(row.Source), Priority: row.Priority,
		Status: domain.Status(row.Status), Attempts: row.Attempts, MaxAttempts: row.MaxAttempts,
		Request: row.Request, CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
		ApprovalNonce: row.ApprovalNonce.String,
	}
	if row.CompletedAt.Valid {
		job.CompletedAt = &row.CompletedAt.Time
	}
	if row.PlanJSON.Valid {
		var p domain.ExecutionPlan
		if json.Unmarshal([]byte(row.PlanJSON.String), &p) == nil {
			job.Plan = &p
		}
	}
	if row.ValidationJSON.Valid {
		var v domain.ValidationResult
		if json.Unmarshal([]byte(row.ValidationJSON.String), &v) == nil {
			job.Validation = &v
		}
	}
	if row.MetadataJSON.Valid {
		_ = json.Unmarshal([]byte(row.MetadataJSON.String), &job.Metadata)
	}
	if row.ResultJSON.Valid {
		_ = json.Unmarshal([]byte(row.ResultJSON.String), &job.Result)
	}
	if row.ErrorJSON.Valid && row.ErrorJSON.String != "" {
		var re domain.RuntimeError
		if json.Unmarshal([]byte(row.ErrorJSON.String), &re) == nil {
			job.Error = &re
		}
	}
	return job, nil
}
