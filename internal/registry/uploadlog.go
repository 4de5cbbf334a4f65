package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aperisolve/core/dbopen"
)

// UploadLog is an append-only record of one upload attempt. Retained across Image/Submission deletion for audit.
type UploadLog struct {
	SourceIP     string
	UserAgent    string
	UploadedAt   time.Time
	ImageFP      string
	SubmissionFP string
	Filename     string
}

// AppendUploadLog inserts one UploadLog row. Callers should treat failures
// as best-effort — this function itself still returns the
// error so the caller can decide whether to log and continue.
func AppendUploadLog(ctx context.Context, db *sql.DB, l UploadLog) error {
	_, err := dbopen.Exec(ctx, db, `
		INSERT INTO upload_log (source_ip, user_agent, uploaded_at, image_fp, submission_fp, filename)
		VALUES (?, ?, ?, ?, ?, ?)`,
		l.SourceIP, l.UserAgent, l.UploadedAt.Unix(), l.ImageFP, l.SubmissionFP, l.Filename)
	if err != nil {
		return fmt.Errorf("registry: append upload log: %w", err)
	}
	return nil
}

// DistinctIPsByImage returns the set of distinct source IPs that have
// uploaded imageFP, used by the image-removal gate.
func DistinctIPsByImage(ctx context.Context, db *sql.DB, imageFP string) ([]string, error) {
	return distinctIPs(ctx, db, `SELECT DISTINCT source_ip FROM upload_log WHERE image_fp = ?`, imageFP)
}

// DistinctIPsBySubmission returns the set of distinct source IPs that have
// uploaded submissionFP, used by the password-removal gate.
func DistinctIPsBySubmission(ctx context.Context, db *sql.DB, submissionFP string) ([]string, error) {
	return distinctIPs(ctx, db, `SELECT DISTINCT source_ip FROM upload_log WHERE submission_fp = ?`, submissionFP)
}

func distinctIPs(ctx context.Context, db *sql.DB, query, arg string) ([]string, error) {
	rows, err := db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("registry: distinct IPs: %w", err)
	}
	defer rows.Close()

	var ips []string
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, fmt.Errorf("registry: scan IP: %w", err)
		}
		ips = append(ips, ip)
	}
	return ips, rows.Err()
}
