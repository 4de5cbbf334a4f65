// Package retention implements the retention sweeper: the four garbage-collection policies that reclaim stuck
// submissions, orphaned directories, and stale images. Run on every upload
// and optionally on a periodic tick.
package retention

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/aperisolve/core/internal/aggregator"
	"github.com/aperisolve/core/internal/registry"
)

// Sweeper owns the DB and result filesystem root the policies act on.
type Sweeper struct {
	DB             *sql.DB
	ResultFolder   string
	MaxPendingTime time.Duration
	MaxStoreTime   time.Duration
}

// Sweep runs every garbage-collection policy once. Errors from one policy
// don't stop the others; all encountered errors are joined for the caller
// to log. Bytes reclaimed by the two image-deleting policies are logged as
// a human-readable summary.
func (s *Sweeper) Sweep(ctx context.Context) []error {
	var errs []error
	var reclaimed int64
	var images int

	if err := s.sweepStuckSubmissions(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := s.sweepCompletedMissingResults(ctx); err != nil {
		errs = append(errs, err)
	}
	if n, b, err := s.sweepStaleImages(ctx); err != nil {
		errs = append(errs, err)
	} else {
		images += n
		reclaimed += b
	}
	if n, b, err := s.sweepOrphanImages(ctx); err != nil {
		errs = append(errs, err)
	} else {
		images += n
		reclaimed += b
	}

	if images > 0 {
		slog.Info("retention: sweep reclaimed space",
			"images", images, "bytes", humanize.Bytes(uint64(reclaimed)))
	}
	return errs
}

// sweepStuckSubmissions deletes submissions stuck in pending/running past
// MAX_PENDING_TIME.
func (s *Sweeper) sweepStuckSubmissions(ctx context.Context) error {
	cutoff := time.Now().Add(-s.MaxPendingTime)
	fps, err := registry.PendingOrRunningOlderThan(ctx, s.DB, cutoff)
	if err != nil {
		return fmt.Errorf("retention: list stuck submissions: %w", err)
	}
	for _, fp := range fps {
		if err := s.deleteSubmission(ctx, fp); err != nil {
			slog.Error("retention: delete stuck submission", "submission_fp", fp, "error", err)
		}
	}
	return nil
}

// sweepCompletedMissingResults deletes submissions marked completed whose
// results.json never materialized.
func (s *Sweeper) sweepCompletedMissingResults(ctx context.Context) error {
	fps, err := registry.CompletedFingerprints(ctx, s.DB)
	if err != nil {
		return fmt.Errorf("retention: list completed submissions: %w", err)
	}
	for _, fp := range fps {
		sub, err := registry.GetSubmission(ctx, s.DB, fp)
		if err != nil || sub == nil {
			continue
		}
		resultDir := filepath.Join(s.ResultFolder, sub.ImageFP, fp)
		_, present, err := aggregator.Read(resultDir)
		if err != nil {
			slog.Error("retention: read results.json", "submission_fp", fp, "error", err)
			continue
		}
		if !present {
			if err := s.deleteSubmission(ctx, fp); err != nil {
				slog.Error("retention: delete missing-results submission", "submission_fp", fp, "error", err)
			}
		}
	}
	return nil
}

// sweepStaleImages deletes images (and all their submissions) whose
// last_seen predates MAX_STORE_TIME. Returns the count of images deleted
// and the total bytes reclaimed.
func (s *Sweeper) sweepStaleImages(ctx context.Context) (int, int64, error) {
	cutoff := time.Now().Add(-s.MaxStoreTime)
	fps, err := registry.ImagesOlderThan(ctx, s.DB, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("retention: list stale images: %w", err)
	}
	var reclaimed int64
	var deleted int
	for _, fp := range fps {
		imageDir := filepath.Join(s.ResultFolder, fp)
		size, _ := dirSize(imageDir)
		if err := s.deleteImageAndSubmissions(ctx, fp); err != nil {
			slog.Error("retention: delete stale image", "image_fp", fp, "error", err)
			continue
		}
		reclaimed += size
		deleted++
	}
	return deleted, reclaimed, nil
}

// sweepOrphanImages deletes images with zero submissions that are older
// than MAX_PENDING_TIME. Returns the count of images deleted and the total
// bytes reclaimed.
func (s *Sweeper) sweepOrphanImages(ctx context.Context) (int, int64, error) {
	cutoff := time.Now().Add(-s.MaxPendingTime)
	fps, err := registry.OrphanImagesOlderThan(ctx, s.DB, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("retention: list orphan images: %w", err)
	}
	var reclaimed int64
	var deleted int
	for _, fp := range fps {
		imageDir := filepath.Join(s.ResultFolder, fp)
		size, _ := dirSize(imageDir)
		if err := os.RemoveAll(imageDir); err != nil {
			slog.Error("retention: rmtree orphan image dir", "image_fp", fp, "error", err)
			continue
		}
		if err := registry.DeleteImage(ctx, s.DB, fp); err != nil {
			slog.Error("retention: delete orphan image row", "image_fp", fp, "error", err)
			continue
		}
		reclaimed += size
		deleted++
	}
	return deleted, reclaimed, nil
}

// dirSize sums the apparent size of every regular file under dir.
func dirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total, err
}

// deleteSubmission rmtrees one submission's result directory and deletes
// its row, without touching the Image it belongs to.
func (s *Sweeper) deleteSubmission(ctx context.Context, submissionFP string) error {
	sub, err := registry.GetSubmission(ctx, s.DB, submissionFP)
	if err != nil {
		return err
	}
	if sub == nil {
		return nil
	}
	submissionDir := filepath.Join(s.ResultFolder, sub.ImageFP, submissionFP)
	if err := os.RemoveAll(submissionDir); err != nil {
		return fmt.Errorf("rmtree %s: %w", submissionDir, err)
	}
	return registry.DeleteSubmission(ctx, s.DB, submissionFP)
}

// deleteImageAndSubmissions deletes every submission owned by imageFP, then
// the image directory and row.
func (s *Sweeper) deleteImageAndSubmissions(ctx context.Context, imageFP string) error {
	fps, err := registry.SubmissionsForImage(ctx, s.DB, imageFP)
	if err != nil {
		return err
	}
	for _, fp := range fps {
		if err := registry.DeleteSubmission(ctx, s.DB, fp); err != nil {
			slog.Error("retention: delete submission row", "submission_fp", fp, "error", err)
		}
	}
	imageDir := filepath.Join(s.ResultFolder, imageFP)
	if err := os.RemoveAll(imageDir); err != nil {
		return fmt.Errorf("rmtree %s: %w", imageDir, err)
	}
	return registry.DeleteImage(ctx, s.DB, imageFP)
}
