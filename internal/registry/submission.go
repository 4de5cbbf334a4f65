package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aperisolve/core/dbopen"
)

// Status is a Submission's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Submission is one analysis run for an (image, filename, password,
// deep-flag) tuple.
type Submission struct {
	Fingerprint  string
	ImageFP      string
	Filename     string
	Password     sql.NullString
	DeepAnalysis bool
	Status       Status
	CreatedAt    time.Time
}

// GetSubmission returns the Submission row for fp, or (nil, nil) if absent.
func GetSubmission(ctx context.Context, db *sql.DB, fp string) (*Submission, error) {
	row := db.QueryRowContext(ctx, `
		SELECT fingerprint, image_fp, filename, password, deep_analysis, status, created_at
		FROM submissions WHERE fingerprint = ?`, fp)

	var s Submission
	var deep int
	var createdAt int64
	err := row.Scan(&s.Fingerprint, &s.ImageFP, &s.Filename, &s.Password, &deep, &s.Status, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get submission %s: %w", fp, err)
	}
	s.DeepAnalysis = deep != 0
	s.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &s, nil
}

// InsertSubmissionPending creates a new Submission row in status pending, or
// is a no-op if one with this fingerprint already exists.
func InsertSubmissionPending(ctx context.Context, db *sql.DB, s Submission) error {
	password := sql.NullString{}
	if s.Password.Valid && s.Password.String != "" {
		password = s.Password
	}
	_, err := dbopen.Exec(ctx, db, `
		INSERT INTO submissions (fingerprint, image_fp, filename, password, deep_analysis, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING`,
		s.Fingerprint, s.ImageFP, s.Filename, password, boolToInt(s.DeepAnalysis), StatusPending, s.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("registry: insert submission %s: %w", s.Fingerprint, err)
	}
	return nil
}

// ResetToPending sets an existing Submission back to pending, for the
// re-analysis path when a previously completed submission is requeued.
func ResetToPending(ctx context.Context, db *sql.DB, fp string) error {
	_, err := dbopen.Exec(ctx, db, `UPDATE submissions SET status = ? WHERE fingerprint = ?`, StatusPending, fp)
	if err != nil {
		return fmt.Errorf("registry: reset submission %s to pending: %w", fp, err)
	}
	return nil
}

// SetStatus transitions a Submission's status.
func SetStatus(ctx context.Context, db *sql.DB, fp string, status Status) error {
	_, err := dbopen.Exec(ctx, db, `UPDATE submissions SET status = ? WHERE fingerprint = ?`, status, fp)
	if err != nil {
		return fmt.Errorf("registry: set submission %s status %s: %w", fp, status, err)
	}
	return nil
}

// ClearPassword sets a Submission's password to NULL.
func ClearPassword(ctx context.Context, db *sql.DB, fp string) error {
	_, err := dbopen.Exec(ctx, db, `UPDATE submissions SET password = NULL WHERE fingerprint = ?`, fp)
	if err != nil {
		return fmt.Errorf("registry: clear password for %s: %w", fp, err)
	}
	return nil
}

// DeleteSubmission removes the Submission row. Callers are responsible for
// rmtree-ing its result directory first.
func DeleteSubmission(ctx context.Context, db *sql.DB, fp string) error {
	_, err := dbopen.Exec(ctx, db, `DELETE FROM submissions WHERE fingerprint = ?`, fp)
	if err != nil {
		return fmt.Errorf("registry: delete submission %s: %w", fp, err)
	}
	return nil
}

// PendingOrRunningOlderThan returns fingerprints of submissions stuck in
// pending/running past cutoff.
func PendingOrRunningOlderThan(ctx context.Context, db *sql.DB, cutoff time.Time) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT fingerprint FROM submissions
		WHERE status IN (?, ?) AND created_at < ?`, StatusPending, StatusRunning, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("registry: list stuck submissions: %w", err)
	}
	defer rows.Close()
	return scanFingerprints(rows)
}

// CompletedFingerprints returns every Submission fingerprint currently
// marked completed, for the sweeper's results.json-missing check.
func CompletedFingerprints(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT fingerprint FROM submissions WHERE status = ?`, StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("registry: list completed submissions: %w", err)
	}
	defer rows.Close()
	return scanFingerprints(rows)
}

// SubmissionsForImage returns every Submission fingerprint owned by imageFP.
func SubmissionsForImage(ctx context.Context, db *sql.DB, imageFP string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT fingerprint FROM submissions WHERE image_fp = ?`, imageFP)
	if err != nil {
		return nil, fmt.Errorf("registry: list submissions for image %s: %w", imageFP, err)
	}
	defer rows.Close()
	return scanFingerprints(rows)
}

func scanFingerprints(rows *sql.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("registry: scan fingerprint: %w", err)
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
