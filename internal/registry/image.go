package registry

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aperisolve/core/dbopen"
)

// Image is the canonical record for a content-addressed image blob.
// Fingerprint is the hex MD5 of the bytes at Path.
type Image struct {
	Fingerprint string
	Path        string
	SizeBytes   int64
	FirstSeen   time.Time
	LastSeen    time.Time
	UploadCount int
}

// GetImage returns the Image row for fp, or (nil, nil) if it doesn't exist.
func GetImage(ctx context.Context, db *sql.DB, fp string) (*Image, error) {
	row := db.QueryRowContext(ctx, `
		SELECT fingerprint, path, size_bytes, first_seen, last_seen, upload_count
		FROM images WHERE fingerprint = ?`, fp)

	var img Image
	var firstSeen, lastSeen int64
	err := row.Scan(&img.Fingerprint, &img.Path, &img.SizeBytes, &firstSeen, &lastSeen, &img.UploadCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("registry: get image %s: %w", fp, err)
	}
	img.FirstSeen = time.Unix(firstSeen, 0).UTC()
	img.LastSeen = time.Unix(lastSeen, 0).UTC()
	return &img, nil
}

// UpsertImageSeen inserts a new Image row if fp is unseen, or bumps
// last_seen and upload_count if it already exists.
func UpsertImageSeen(ctx context.Context, db *sql.DB, fp, path string, sizeBytes int64, now time.Time) error {
	return dbopen.RunTx(ctx, db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM images WHERE fingerprint = ?`, fp).Scan(&exists)
		if err != nil {
			return fmt.Errorf("registry: check image exists: %w", err)
		}
		if exists == 0 {
			_, err = tx.ExecContext(ctx, `
				INSERT INTO images (fingerprint, path, size_bytes, first_seen, last_seen, upload_count)
				VALUES (?, ?, ?, ?, ?, 1)`, fp, path, sizeBytes, now.Unix(), now.Unix())
			if err != nil {
				return fmt.Errorf("registry: insert image: %w", err)
			}
			return nil
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE images SET last_seen = ?, upload_count = upload_count + 1 WHERE fingerprint = ?`,
			now.Unix(), fp)
		if err != nil {
			return fmt.Errorf("registry: bump image: %w", err)
		}
		return nil
	})
}

// SubmissionCount returns the number of Submission rows still referencing fp.
func SubmissionCount(ctx context.Context, db *sql.DB, imageFP string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM submissions WHERE image_fp = ?`, imageFP).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("registry: count submissions for image %s: %w", imageFP, err)
	}
	return n, nil
}

// DeleteImage removes the Image row. Callers are responsible for rmtree-ing
// the backing directory and for checking SubmissionCount == 0 first.
func DeleteImage(ctx context.Context, db *sql.DB, fp string) error {
	_, err := dbopen.Exec(ctx, db, `DELETE FROM images WHERE fingerprint = ?`, fp)
	if err != nil {
		return fmt.Errorf("registry: delete image %s: %w", fp, err)
	}
	return nil
}

// ImagesOlderThan returns fingerprints of images whose last_seen predates
// cutoff.
func ImagesOlderThan(ctx context.Context, db *sql.DB, cutoff time.Time) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT fingerprint FROM images WHERE last_seen < ?`, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("registry: list stale images: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("registry: scan stale image: %w", err)
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}

// OrphanImagesOlderThan returns fingerprints of images with zero Submission
// rows whose first_seen predates cutoff.
func OrphanImagesOlderThan(ctx context.Context, db *sql.DB, cutoff time.Time) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT i.fingerprint FROM images i
		LEFT JOIN submissions s ON s.image_fp = i.fingerprint
		WHERE s.fingerprint IS NULL AND i.first_seen < ?`, cutoff.Unix())
	if err != nil {
		return nil, fmt.Errorf("registry: list orphan images: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var fp string
		if err := rows.Scan(&fp); err != nil {
			return nil, fmt.Errorf("registry: scan orphan image: %w", err)
		}
		out = append(out, fp)
	}
	return out, rows.Err()
}
