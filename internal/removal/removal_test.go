package removal

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aperisolve/core/dbopen"
	"github.com/aperisolve/core/internal/registry"
	_ "modernc.org/sqlite"
)

func setupPolicy(t *testing.T) (*Policy, string) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := registry.Init(db); err != nil {
		t.Fatalf("registry.Init: %v", err)
	}
	root := t.TempDir()
	return &Policy{
		DB:                  db,
		ResultFolder:        filepath.Join(root, "results"),
		RemovedImagesFolder: filepath.Join(root, "removed"),
		RemovalMinAge:       300 * time.Second,
	}, root
}

func seedSubmission(t *testing.T, p *Policy, imageFP, submissionFP string, age time.Duration, ips []string) {
	t.Helper()
	ctx := context.Background()
	createdAt := time.Now().Add(-age)

	blobDir := filepath.Join(p.ResultFolder, imageFP)
	if err := os.MkdirAll(blobDir, 0o755); err != nil {
		t.Fatalf("mkdir blob dir: %v", err)
	}
	blobPath := filepath.Join(blobDir, imageFP+".png")
	if err := os.WriteFile(blobPath, []byte("fake-png"), 0o644); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	if err := registry.UpsertImageSeen(ctx, p.DB, imageFP, blobPath, 8, createdAt); err != nil {
		t.Fatalf("upsert image: %v", err)
	}

	subDir := filepath.Join(blobDir, submissionFP)
	if err := os.MkdirAll(subDir, 0o755); err != nil {
		t.Fatalf("mkdir submission dir: %v", err)
	}
	sub := registry.Submission{
		Fingerprint: submissionFP, ImageFP: imageFP, Filename: "a.png", CreatedAt: createdAt,
	}
	if err := registry.InsertSubmissionPending(ctx, p.DB, sub); err != nil {
		t.Fatalf("insert submission: %v", err)
	}

	for _, ip := range ips {
		err := registry.AppendUploadLog(ctx, p.DB, registry.UploadLog{
			SourceIP: ip, UserAgent: "ua", UploadedAt: createdAt,
			ImageFP: imageFP, SubmissionFP: submissionFP, Filename: "a.png",
		})
		if err != nil {
			t.Fatalf("append upload log: %v", err)
		}
	}
}

// TestRemoveImage_MultipleIPsDenied exercises the multi-IP gate scoped by
// image fingerprint: two uploads of the same image from distinct source
// IPs must deny removal even past the minimum age.
func TestRemoveImage_MultipleIPsDenied(t *testing.T) {
	p, _ := setupPolicy(t)
	seedSubmission(t, p, "img1", "sub1", 10*time.Minute, []string{"1.1.1.1", "2.2.2.2"})

	err := p.RemoveImage(context.Background(), "sub1")
	var gateErr *GateError
	if err == nil {
		t.Fatalf("expected gate error, got nil")
	}
	if !asGateError(err, &gateErr) || gateErr.Reason != "multiple IP addresses" {
		t.Fatalf("err = %v, want multiple IP addresses gate error", err)
	}
}

// TestRemoveImage_TooNewDenied exercises the age gate independent of the
// single-IP check.
func TestRemoveImage_TooNewDenied(t *testing.T) {
	p, _ := setupPolicy(t)
	seedSubmission(t, p, "img2", "sub2", 10*time.Second, []string{"1.1.1.1"})

	err := p.RemoveImage(context.Background(), "sub2")
	var gateErr *GateError
	if err == nil || !asGateError(err, &gateErr) {
		t.Fatalf("expected gate error, got %v", err)
	}
}

// TestRemoveImage_SingleIPAllowed exercises the success path: single
// uploader IP, old enough submission, last Submission of its Image — the
// blob and Image row must both disappear.
func TestRemoveImage_SingleIPAllowed(t *testing.T) {
	p, _ := setupPolicy(t)
	seedSubmission(t, p, "img3", "sub3", 10*time.Minute, []string{"1.1.1.1"})

	if err := p.RemoveImage(context.Background(), "sub3"); err != nil {
		t.Fatalf("RemoveImage: %v", err)
	}

	sub, err := registry.GetSubmission(context.Background(), p.DB, "sub3")
	if err != nil {
		t.Fatalf("GetSubmission: %v", err)
	}
	if sub != nil {
		t.Fatalf("submission row still present after removal")
	}
	img, err := registry.GetImage(context.Background(), p.DB, "img3")
	if err != nil {
		t.Fatalf("GetImage: %v", err)
	}
	if img != nil {
		t.Fatalf("image row still present after its last submission was removed")
	}

	quarantined, err := os.ReadDir(p.RemovedImagesFolder)
	if err != nil {
		t.Fatalf("ReadDir quarantine: %v", err)
	}
	if len(quarantined) != 1 {
		t.Fatalf("quarantine entries = %d, want 1", len(quarantined))
	}
}

// TestRemovePassword_ScopedBySubmissionNotImage checks that
// remove-password's IP set is computed over upload_log rows matching the
// submission fingerprint, not the image fingerprint, so a second
// submission of the same image from a different IP must not block
// clearing this submission's password.
func TestRemovePassword_ScopedBySubmissionNotImage(t *testing.T) {
	p, _ := setupPolicy(t)
	ctx := context.Background()
	seedSubmission(t, p, "img4", "sub4", 10*time.Minute, []string{"1.1.1.1"})

	// A second submission of the same image, uploaded from a different IP —
	// this pollutes img4's distinct-IP set but must not affect sub4's.
	if err := registry.AppendUploadLog(ctx, p.DB, registry.UploadLog{
		SourceIP: "9.9.9.9", UserAgent: "ua", UploadedAt: time.Now().Add(-10 * time.Minute),
		ImageFP: "img4", SubmissionFP: "sub5", Filename: "a.png",
	}); err != nil {
		t.Fatalf("append second upload log: %v", err)
	}

	if _, err := p.DB.Exec(`UPDATE submissions SET password = ? WHERE fingerprint = ?`, "hunter2", "sub4"); err != nil {
		t.Fatalf("seed password: %v", err)
	}

	if err := p.RemovePassword(ctx, "sub4"); err != nil {
		t.Fatalf("RemovePassword: %v", err)
	}

	got, err := registry.GetSubmission(ctx, p.DB, "sub4")
	if err != nil || got == nil {
		t.Fatalf("GetSubmission: %v, %v", got, err)
	}
	if got.Password.Valid {
		t.Fatalf("password still set after RemovePassword")
	}
}

func asGateError(err error, target **GateError) bool {
	ge, ok := err.(*GateError)
	if ok {
		*target = ge
	}
	return ok
}
