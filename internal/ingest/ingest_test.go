package ingest

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aperisolve/core/dbopen"
	"github.com/aperisolve/core/internal/queue"
	"github.com/aperisolve/core/internal/registry"
	"github.com/aperisolve/core/internal/retention"
	_ "modernc.org/sqlite"
)

func newTestIngester(t *testing.T) (*Ingester, *sql.DB) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := registry.Init(db); err != nil {
		t.Fatalf("registry.Init: %v", err)
	}
	if err := queue.Init(db); err != nil {
		t.Fatalf("queue.Init: %v", err)
	}
	return &Ingester{
		DB:           db,
		Queue:        queue.New(db),
		ResultFolder: t.TempDir(),
		JobTimeout:   300 * time.Second,
	}, db
}

func TestValidateUpload(t *testing.T) {
	const maxLen = 1 << 20
	cases := []struct {
		name     string
		filename string
		size     int64
		wantErr  bool
	}{
		{"allowed png", "a.png", 100, false},
		{"allowed uppercase", "a.PNG", 100, false},
		{"allowed jpeg", "photo.jpeg", 100, false},
		{"no extension", "noext", 100, true},
		{"disallowed extension", "a.exe", 100, true},
		{"at size limit", "a.png", maxLen, false},
		{"one byte over", "a.png", maxLen + 1, true},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := ValidateUpload(c.filename, c.size, maxLen)
			if (err != nil) != c.wantErr {
				t.Fatalf("ValidateUpload(%q, %d) = %v, wantErr = %v", c.filename, c.size, err, c.wantErr)
			}
		})
	}
}

func TestIngest_DedupKeepsOneSubmissionTwoLogRows(t *testing.T) {
	in, db := newTestIngester(t)
	ctx := context.Background()
	data := []byte("fake png content for dedup")

	fp1, err := in.Ingest(ctx, data, "a.png", ".png", "", false, "1.1.1.1", "ua")
	if err != nil {
		t.Fatalf("Ingest 1: %v", err)
	}
	fp2, err := in.Ingest(ctx, data, "a.png", ".png", "", false, "1.1.1.1", "ua")
	if err != nil {
		t.Fatalf("Ingest 2: %v", err)
	}
	if fp1 != fp2 {
		t.Fatalf("fingerprints differ: %s vs %s", fp1, fp2)
	}

	var subs int
	if err := db.QueryRow(`SELECT COUNT(*) FROM submissions`).Scan(&subs); err != nil {
		t.Fatalf("count submissions: %v", err)
	}
	if subs != 1 {
		t.Fatalf("submissions = %d, want 1", subs)
	}

	var logs int
	if err := db.QueryRow(`SELECT COUNT(*) FROM upload_log`).Scan(&logs); err != nil {
		t.Fatalf("count upload_log: %v", err)
	}
	if logs != 2 {
		t.Fatalf("upload_log rows = %d, want 2", logs)
	}
}

func TestIngest_DistinctPasswordsShareOneImage(t *testing.T) {
	in, db := newTestIngester(t)
	ctx := context.Background()
	data := []byte("same image, different passwords")

	fpX, err := in.Ingest(ctx, data, "a.png", ".png", "x", false, "1.1.1.1", "ua")
	if err != nil {
		t.Fatalf("Ingest x: %v", err)
	}
	fpY, err := in.Ingest(ctx, data, "a.png", ".png", "y", false, "1.1.1.1", "ua")
	if err != nil {
		t.Fatalf("Ingest y: %v", err)
	}
	if fpX == fpY {
		t.Fatalf("expected distinct submission fingerprints for distinct passwords")
	}

	var images int
	if err := db.QueryRow(`SELECT COUNT(*) FROM images`).Scan(&images); err != nil {
		t.Fatalf("count images: %v", err)
	}
	if images != 1 {
		t.Fatalf("images = %d, want 1", images)
	}

	var uploadCount int
	if err := db.QueryRow(`SELECT upload_count FROM images`).Scan(&uploadCount); err != nil {
		t.Fatalf("upload_count: %v", err)
	}
	if uploadCount != 2 {
		t.Fatalf("upload_count = %d, want 2", uploadCount)
	}
}

func TestIngest_WritesBlobAndDirs(t *testing.T) {
	in, db := newTestIngester(t)
	ctx := context.Background()
	data := []byte("blob bytes")

	subFP, err := in.Ingest(ctx, data, "a.png", ".png", "", false, "1.1.1.1", "ua")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	sub, err := registry.GetSubmission(ctx, db, subFP)
	if err != nil || sub == nil {
		t.Fatalf("GetSubmission: %v, %v", sub, err)
	}

	blobPath := filepath.Join(in.ResultFolder, sub.ImageFP, sub.ImageFP+".png")
	got, err := os.ReadFile(blobPath)
	if err != nil {
		t.Fatalf("read blob: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("blob content mismatch")
	}

	subDir := filepath.Join(in.ResultFolder, sub.ImageFP, subFP)
	if info, err := os.Stat(subDir); err != nil || !info.IsDir() {
		t.Fatalf("submission dir missing: %v", err)
	}
}

func TestIngest_SelfHealsMissingBlob(t *testing.T) {
	in, db := newTestIngester(t)
	ctx := context.Background()
	data := []byte("bytes that will vanish")

	subFP, err := in.Ingest(ctx, data, "a.png", ".png", "", false, "1.1.1.1", "ua")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	sub, err := registry.GetSubmission(ctx, db, subFP)
	if err != nil || sub == nil {
		t.Fatalf("GetSubmission: %v, %v", sub, err)
	}

	// Simulate a filesystem/DB split-brain: the rows survive but the blob
	// and submission directory are gone.
	if err := os.RemoveAll(filepath.Join(in.ResultFolder, sub.ImageFP)); err != nil {
		t.Fatalf("remove image dir: %v", err)
	}

	if _, err := in.Ingest(ctx, data, "a.png", ".png", "", false, "1.1.1.1", "ua"); err != nil {
		t.Fatalf("re-Ingest: %v", err)
	}

	blobPath := filepath.Join(in.ResultFolder, sub.ImageFP, sub.ImageFP+".png")
	if _, err := os.Stat(blobPath); err != nil {
		t.Fatalf("blob not rewritten: %v", err)
	}
}

func TestIngest_SweepsRetentionOnUpload(t *testing.T) {
	in, db := newTestIngester(t)
	ctx := context.Background()
	in.Sweeper = &retention.Sweeper{
		DB:             db,
		ResultFolder:   in.ResultFolder,
		MaxPendingTime: 600 * time.Second,
		MaxStoreTime:   72 * time.Hour,
	}

	// A submission stuck in pending well past MaxPendingTime must be
	// reclaimed by the very next upload, without waiting for a ticker.
	stale := time.Now().Add(-time.Hour)
	if err := registry.UpsertImageSeen(ctx, db, "staleimg", "/nowhere/staleimg.png", 4, stale); err != nil {
		t.Fatalf("seed stale image: %v", err)
	}
	if err := registry.InsertSubmissionPending(ctx, db, registry.Submission{
		Fingerprint: "stalesub", ImageFP: "staleimg", Filename: "old.png", CreatedAt: stale,
	}); err != nil {
		t.Fatalf("seed stale submission: %v", err)
	}

	if _, err := in.Ingest(ctx, []byte("fresh upload"), "a.png", ".png", "", false, "1.1.1.1", "ua"); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	sub, err := registry.GetSubmission(ctx, db, "stalesub")
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if sub != nil {
		t.Fatalf("stale pending submission survived an upload-triggered sweep")
	}
}

func TestIngest_EnqueuesJob(t *testing.T) {
	in, db := newTestIngester(t)
	ctx := context.Background()

	subFP, err := in.Ingest(ctx, []byte("queued"), "a.png", ".png", "", false, "1.1.1.1", "ua")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	var fp string
	if err := db.QueryRow(`SELECT submission_fp FROM jobs WHERE status = 'pending'`).Scan(&fp); err != nil {
		t.Fatalf("query jobs: %v", err)
	}
	if fp != subFP {
		t.Fatalf("queued fp = %q, want %q", fp, subFP)
	}
}
