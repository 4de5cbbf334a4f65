// Package queue implements the job binding between an ingested submission
// and the worker that fans it out to the analyzer set. A production
// deployment might front this with a message broker; this package instead
// keeps the dependency footprint small with an SQLite-backed queue table,
// which is sufficient for a single-process consumer.
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aperisolve/core/dbopen"
)

// Status is a queued job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// JobTypeProcessSubmission is the only job type this queue carries: run the
// analyzer fan-out for one submission fingerprint.
const JobTypeProcessSubmission = "process_submission"

// Schema is the DDL for the jobs table.
const Schema = `
CREATE TABLE IF NOT EXISTS jobs (
    id             INTEGER PRIMARY KEY AUTOINCREMENT,
    job_type       TEXT NOT NULL,
    submission_fp  TEXT NOT NULL,
    status         TEXT NOT NULL,
    timeout_seconds INTEGER NOT NULL DEFAULT 300,
    created_at     INTEGER NOT NULL,
    started_at     INTEGER,
    completed_at   INTEGER,
    error          TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, job_type);
`

// Init applies the queue schema to db.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// Job is one queued unit of work.
type Job struct {
	ID             int64
	JobType        string
	SubmissionFP   string
	Status         Status
	TimeoutSeconds int64
	CreatedAt      time.Time
	StartedAt      *time.Time
}

// Queue wraps the jobs table.
type Queue struct {
	db *sql.DB
}

// New returns a Queue backed by db. Callers must call Init first.
func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue submits a process-submission job with the given timeout.
func (q *Queue) Enqueue(ctx context.Context, submissionFP string, timeout time.Duration) (int64, error) {
	res, err := dbopen.Exec(ctx, q.db, `
		INSERT INTO jobs (job_type, submission_fp, status, timeout_seconds, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		JobTypeProcessSubmission, submissionFP, StatusPending, int64(timeout.Seconds()), time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("queue: enqueue %s: %w", submissionFP, err)
	}
	return res.LastInsertId()
}

// Poll claims the oldest pending job, atomically marking it processing, or
// returns (nil, nil) if the queue is empty.
func (q *Queue) Poll(ctx context.Context) (*Job, error) {
	var job *Job
	err := dbopen.RunTx(ctx, q.db, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			SELECT id, job_type, submission_fp, status, timeout_seconds, created_at
			FROM jobs WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT 1`, StatusPending)

		var j Job
		var createdAt int64
		err := row.Scan(&j.ID, &j.JobType, &j.SubmissionFP, &j.Status, &j.TimeoutSeconds, &createdAt)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("queue: poll scan: %w", err)
		}
		j.CreatedAt = time.Unix(createdAt, 0).UTC()

		now := time.Now()
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, started_at = ? WHERE id = ?`,
			StatusProcessing, now.Unix(), j.ID); err != nil {
			return fmt.Errorf("queue: poll claim: %w", err)
		}
		j.Status = StatusProcessing
		j.StartedAt = &now
		job = &j
		return nil
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// Complete marks a job completed.
func (q *Queue) Complete(ctx context.Context, id int64) error {
	_, err := dbopen.Exec(ctx, q.db, `UPDATE jobs SET status = ?, completed_at = ? WHERE id = ?`,
		StatusCompleted, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("queue: complete %d: %w", id, err)
	}
	return nil
}

// Fail marks a job failed with the given error message.
func (q *Queue) Fail(ctx context.Context, id int64, errMsg string) error {
	_, err := dbopen.Exec(ctx, q.db, `UPDATE jobs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		StatusFailed, time.Now().Unix(), errMsg, id)
	if err != nil {
		return fmt.Errorf("queue: fail %d: %w", id, err)
	}
	return nil
}

// TruncateAll deletes every job row, used by cmd/aperisolved at startup when
// CLEAR_AT_RESTART is set.
func TruncateAll(ctx context.Context, db *sql.DB) error {
	_, err := dbopen.Exec(ctx, db, `DELETE FROM jobs`)
	if err != nil {
		return fmt.Errorf("queue: truncate: %w", err)
	}
	return nil
}
