package worker

import (
	"bytes"
	"context"
	"database/sql"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aperisolve/core/dbopen"
	"github.com/aperisolve/core/internal/aggregator"
	"github.com/aperisolve/core/internal/analyzer"
	"github.com/aperisolve/core/internal/registry"
	_ "modernc.org/sqlite"
)

func encodeTestPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetRGBA(x, y, color.RGBA{R: uint8(x * 32), G: uint8(y * 32), B: 7, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func seedSubmission(t *testing.T, db *sql.DB, resultFolder string, data []byte) (imageFP, subFP string) {
	t.Helper()
	ctx := context.Background()
	imageFP, subFP = "imgfp", "subfp"

	imageDir := filepath.Join(resultFolder, imageFP)
	if err := os.MkdirAll(imageDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	blobPath := filepath.Join(imageDir, imageFP+".png")
	if err := os.WriteFile(blobPath, data, 0o644); err != nil {
		t.Fatalf("write blob: %v", err)
	}
	if err := registry.UpsertImageSeen(ctx, db, imageFP, blobPath, int64(len(data)), time.Now()); err != nil {
		t.Fatalf("upsert image: %v", err)
	}
	if err := registry.InsertSubmissionPending(ctx, db, registry.Submission{
		Fingerprint: subFP, ImageFP: imageFP, Filename: "a.png", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("insert submission: %v", err)
	}
	return imageFP, subFP
}

// TestProcessSubmission_EveryAnalyzerReportsAFragment drives a full fan-out
// against a real PNG. Tool binaries missing from the test environment must
// surface as per-analyzer error fragments, never as a missing key or a
// failed submission — sibling analyzers are isolated from each other.
func TestProcessSubmission_EveryAnalyzerReportsAFragment(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := registry.Init(db); err != nil {
		t.Fatalf("registry.Init: %v", err)
	}
	resultFolder := t.TempDir()
	data := encodeTestPNG(t)
	imageFP, subFP := seedSubmission(t, db, resultFolder, data)

	w := &Worker{
		DB:             db,
		ResultFolder:   resultFolder,
		AnalyzerDriver: analyzer.NewDriver(30 * time.Second),
		Concurrency:    8,
	}

	if err := w.ProcessSubmission(context.Background(), subFP); err != nil {
		t.Fatalf("ProcessSubmission: %v", err)
	}

	sub, err := registry.GetSubmission(context.Background(), db, subFP)
	if err != nil || sub == nil {
		t.Fatalf("GetSubmission: %v, %v", sub, err)
	}
	if sub.Status != registry.StatusCompleted {
		t.Fatalf("status = %s, want completed", sub.Status)
	}

	resultDir := filepath.Join(resultFolder, imageFP, subFP)
	doc, present, err := aggregator.Read(resultDir)
	if err != nil || !present {
		t.Fatalf("read results: present=%v err=%v", present, err)
	}

	for _, task := range analyzer.BuildTaskList(false) {
		frag, ok := doc[task.Name]
		if !ok {
			t.Fatalf("analyzer %q missing from results.json (keys: %d)", task.Name, len(doc))
		}
		if frag.Status != "ok" && frag.Status != "error" {
			t.Fatalf("analyzer %q has status %q", task.Name, frag.Status)
		}
	}

	// The pure-image analyzers have no external dependency and must have
	// succeeded outright on a valid PNG.
	for _, name := range []string{"decomposer", "color_remapping", "pcrt", "image_resize"} {
		if doc[name].Status != "ok" {
			t.Fatalf("analyzer %q status = %q (%s), want ok", name, doc[name].Status, doc[name].Error)
		}
	}
}

// TestProcessSubmission_MissingSubmissionIsANoOp checks the worker skips
// silently when the submission row vanished between enqueue and dequeue.
func TestProcessSubmission_MissingSubmissionIsANoOp(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := registry.Init(db); err != nil {
		t.Fatalf("registry.Init: %v", err)
	}
	w := &Worker{
		DB:             db,
		ResultFolder:   t.TempDir(),
		AnalyzerDriver: analyzer.NewDriver(time.Second),
	}
	if err := w.ProcessSubmission(context.Background(), "ghost"); err != nil {
		t.Fatalf("ProcessSubmission on a missing row should not error: %v", err)
	}
}
