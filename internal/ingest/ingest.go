// Package ingest implements upload ingestion and content-addressed
// deduplication: the single entry point that turns raw upload bytes into
// a queued submission, short-circuiting on exact re-uploads and
// self-healing a registry row that has lost its backing blob.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/aperisolve/core/internal/fingerprint"
	"github.com/aperisolve/core/internal/queue"
	"github.com/aperisolve/core/internal/registry"
	"github.com/aperisolve/core/internal/retention"
)

// allowedExtensions is the lowercase suffix allowlist.
var allowedExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".bmp": true, ".webp": true, ".tiff": true,
}

// IsAllowedExtension reports whether ext (including its leading dot,
// case-insensitive) is in the upload allowlist. Used by the image-serving
// route to restrict suffixes on the way out as well as in.
func IsAllowedExtension(ext string) bool {
	return allowedExtensions[strings.ToLower(ext)]
}

// ValidationError is returned for input-validation failures: missing extension, disallowed extension, or oversize upload.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// ValidateUpload checks filename and size against the extension allowlist
// and the configured size cap.
func ValidateUpload(filename string, size, maxContentLength int64) error {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return &ValidationError{Reason: "filename has no extension"}
	}
	if !allowedExtensions[ext] {
		return &ValidationError{Reason: fmt.Sprintf("extension %q is not allowed", ext)}
	}
	if size > maxContentLength {
		return &ValidationError{Reason: "upload exceeds MAX_CONTENT_LENGTH"}
	}
	return nil
}

// Ingester wires together the registry, queue, retention sweeper, and
// result filesystem for the ingest operation.
type Ingester struct {
	DB           *sql.DB
	Queue        *queue.Queue
	Sweeper      *retention.Sweeper
	ResultFolder string
	JobTimeout   time.Duration
}

// Ingest computes the image and submission fingerprints, writes or
// reconciles the backing blob, upserts the Image row, inserts or
// short-circuits the Submission row, and enqueues a processing job when a
// new analysis run is needed. ext must include the leading dot and is
// assumed already validated by ValidateUpload.
func (in *Ingester) Ingest(ctx context.Context, data []byte, filename, ext, password string, deep bool, clientIP, userAgent string) (string, error) {
	// Retention runs on every upload; the periodic ticker is only a
	// backstop for idle stretches with no upload traffic. Sweep failures
	// never block the upload itself.
	if in.Sweeper != nil {
		for _, err := range in.Sweeper.Sweep(ctx) {
			slog.Error("ingest: retention sweep", "error", err)
		}
	}

	imageFP := fingerprint.Image(data)
	submissionFP := fingerprint.Submission(data, filename, password, deep)

	uploadErr := registry.AppendUploadLog(ctx, in.DB, registry.UploadLog{
		SourceIP: clientIP, UserAgent: userAgent, UploadedAt: time.Now(),
		ImageFP: imageFP, SubmissionFP: submissionFP, Filename: filename,
	})
	if uploadErr != nil {
		// Upload logging is best-effort; ingestion proceeds regardless.
		_ = uploadErr
	}

	slog.Debug("ingest: received upload",
		"filename", filename, "size", humanize.Bytes(uint64(len(data))),
		"image_fp", imageFP, "submission_fp", submissionFP)

	imageDir := filepath.Join(in.ResultFolder, imageFP)
	submissionDir := filepath.Join(imageDir, submissionFP)
	blobPath := filepath.Join(imageDir, imageFP+ext)

	existingSub, err := registry.GetSubmission(ctx, in.DB, submissionFP)
	if err != nil {
		return "", fmt.Errorf("ingest: load submission: %w", err)
	}
	if existingSub != nil {
		if dirExists(submissionDir) {
			return submissionFP, nil
		}
	}

	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		return "", fmt.Errorf("ingest: mkdir image dir: %w", err)
	}

	// Self-heal a ghost blob: the Image row says the bytes are on disk, but
	// they aren't.
	if !fileExists(blobPath) {
		if err := os.WriteFile(blobPath, data, 0o644); err != nil {
			return "", fmt.Errorf("ingest: write blob: %w", err)
		}
	}

	now := time.Now()
	if err := registry.UpsertImageSeen(ctx, in.DB, imageFP, blobPath, int64(len(data)), now); err != nil {
		return "", fmt.Errorf("ingest: upsert image: %w", err)
	}

	if err := os.MkdirAll(submissionDir, 0o755); err != nil {
		return "", fmt.Errorf("ingest: mkdir submission dir: %w", err)
	}

	if existingSub == nil {
		err = registry.InsertSubmissionPending(ctx, in.DB, registry.Submission{
			Fingerprint: submissionFP, ImageFP: imageFP, Filename: filename,
			Password:     sqlNullString(password),
			DeepAnalysis: deep, CreatedAt: now,
		})
	} else {
		err = registry.ResetToPending(ctx, in.DB, submissionFP)
	}
	if err != nil {
		return "", fmt.Errorf("ingest: upsert submission: %w", err)
	}

	timeout := in.JobTimeout
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	if _, err := in.Queue.Enqueue(ctx, submissionFP, timeout); err != nil {
		return "", fmt.Errorf("ingest: enqueue: %w", err)
	}

	return submissionFP, nil
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func sqlNullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
