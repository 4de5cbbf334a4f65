// Package removal implements the two user-facing removal operations,
// remove-image and remove-password, both gated by the same age +
// single-source-IP check.
package removal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aperisolve/core/internal/registry"
)

// GateError reports why a removal request was denied.
type GateError struct {
	Reason string
}

func (e *GateError) Error() string { return e.Reason }

// Policy owns the DB, result root, and quarantine root removal acts on.
type Policy struct {
	DB                  *sql.DB
	ResultFolder        string
	RemovedImagesFolder string
	RemovalMinAge       time.Duration
}

// checkGate enforces the shared age + single-IP rule.
func checkGate(sub *registry.Submission, minAge time.Duration, ips []string) error {
	age := time.Since(sub.CreatedAt)
	if age < minAge {
		return &GateError{Reason: "submission is too new to remove"}
	}
	if len(ips) != 1 {
		return &GateError{Reason: "multiple IP addresses"}
	}
	return nil
}

// RemoveImage copies the blob into quarantine, rmtrees the submission
// directory, deletes the Submission row, and — if it was the image's last
// submission — deletes the blob and the Image row too.
func (p *Policy) RemoveImage(ctx context.Context, submissionFP string) error {
	sub, err := registry.GetSubmission(ctx, p.DB, submissionFP)
	if err != nil {
		return fmt.Errorf("removal: load submission: %w", err)
	}
	if sub == nil {
		return &GateError{Reason: "submission not found"}
	}

	ips, err := registry.DistinctIPsByImage(ctx, p.DB, sub.ImageFP)
	if err != nil {
		return fmt.Errorf("removal: distinct IPs: %w", err)
	}
	if err := checkGate(sub, p.RemovalMinAge, ips); err != nil {
		return err
	}

	img, err := registry.GetImage(ctx, p.DB, sub.ImageFP)
	if err != nil {
		return fmt.Errorf("removal: load image: %w", err)
	}

	if img != nil {
		if err := p.quarantineBlob(img.Path, sub.ImageFP, submissionFP); err != nil {
			return fmt.Errorf("removal: quarantine blob: %w", err)
		}
	}

	submissionDir := filepath.Join(p.ResultFolder, sub.ImageFP, submissionFP)
	if err := os.RemoveAll(submissionDir); err != nil {
		return fmt.Errorf("removal: rmtree submission dir: %w", err)
	}
	if err := registry.DeleteSubmission(ctx, p.DB, submissionFP); err != nil {
		return fmt.Errorf("removal: delete submission row: %w", err)
	}

	remaining, err := registry.SubmissionCount(ctx, p.DB, sub.ImageFP)
	if err != nil {
		return fmt.Errorf("removal: count remaining submissions: %w", err)
	}
	if remaining == 0 {
		imageDir := filepath.Join(p.ResultFolder, sub.ImageFP)
		if err := os.RemoveAll(imageDir); err != nil {
			return fmt.Errorf("removal: rmtree image dir: %w", err)
		}
		if err := registry.DeleteImage(ctx, p.DB, sub.ImageFP); err != nil {
			return fmt.Errorf("removal: delete image row: %w", err)
		}
	}

	return nil
}

// RemovePassword enforces the same gate as RemoveImage but scoped to one
// submission rather than the whole image, and only clears the password
// field.
func (p *Policy) RemovePassword(ctx context.Context, submissionFP string) error {
	sub, err := registry.GetSubmission(ctx, p.DB, submissionFP)
	if err != nil {
		return fmt.Errorf("removal: load submission: %w", err)
	}
	if sub == nil {
		return &GateError{Reason: "submission not found"}
	}

	ips, err := registry.DistinctIPsBySubmission(ctx, p.DB, submissionFP)
	if err != nil {
		return fmt.Errorf("removal: distinct IPs: %w", err)
	}
	if err := checkGate(sub, p.RemovalMinAge, ips); err != nil {
		return err
	}

	return registry.ClearPassword(ctx, p.DB, submissionFP)
}

// quarantineBlob copies the image bytes into
// <REMOVED_IMAGES_FOLDER>/<image_fp>_<sub_fp>_<iso>.<ext>.
func (p *Policy) quarantineBlob(blobPath, imageFP, submissionFP string) error {
	if err := os.MkdirAll(p.RemovedImagesFolder, 0o755); err != nil {
		return err
	}
	ext := filepath.Ext(blobPath)
	iso := time.Now().UTC().Format("20060102T150405Z")
	dest := filepath.Join(p.RemovedImagesFolder, fmt.Sprintf("%s_%s_%s%s", imageFP, submissionFP, iso, ext))

	data, err := os.ReadFile(blobPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}
