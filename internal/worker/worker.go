// Package worker implements the submission fan-out worker: given a submission fingerprint, it loads the Submission
// and its Image, launches every analyzer task concurrently behind a
// panic-recovery boundary, and marks the submission completed once every
// task has returned, whatever the individual analyzers reported; only a
// worker-level failure (result directory, image blob) marks it error.
//
// It follows the same per-task-recover-and-report shape as a typical
// worker-pool job loop, adapted from "one job, one handler" to "one
// submission, N analyzer tasks fanned out with a bounded semaphore".
package worker

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/aperisolve/core/internal/aggregator"
	"github.com/aperisolve/core/internal/analyzer"
	"github.com/aperisolve/core/internal/ihdrtable"
	"github.com/aperisolve/core/internal/pngrepair"
	"github.com/aperisolve/core/internal/pngresize"
	"github.com/aperisolve/core/internal/registry"
	"github.com/aperisolve/core/internal/telemetry"
)

// Worker runs submissions to completion.
type Worker struct {
	DB             *sql.DB
	ResultFolder   string
	AnalyzerDriver *analyzer.Driver
	Concurrency    int
	// IHDRLookup resolves candidate IHDR rows for a given CRC; typically
	// ihdrtable.Lookup bound to the process's DB handle. May be nil, in
	// which case pcrt/image_resize fall straight through to their
	// brute-force fallbacks.
	IHDRLookup func(crc uint32) ([]ihdrtable.Row, error)
	Events     *telemetry.EventLogger
	Audit      *telemetry.AuditLogger
	Metrics    *telemetry.MetricsManager
}

func wrapPNGRepairLookup(lookup func(crc uint32) ([]ihdrtable.Row, error)) pngrepair.IHDRLookup {
	if lookup == nil {
		return nil
	}
	return func(crc uint32) ([]pngrepair.IHDRRow, error) {
		rows, err := lookup(crc)
		if err != nil {
			return nil, err
		}
		out := make([]pngrepair.IHDRRow, len(rows))
		for i, r := range rows {
			out[i] = pngrepair.IHDRRow{Width: r.Width, Height: r.Height, BitDepth: r.BitDepth, ColorType: r.ColorType, Interlace: r.Interlace}
		}
		return out, nil
	}
}

func wrapPNGResizeLookup(lookup func(crc uint32) ([]ihdrtable.Row, error)) pngresize.IHDRLookup {
	if lookup == nil {
		return nil
	}
	return func(crc uint32) ([]pngresize.IHDRRow, error) {
		rows, err := lookup(crc)
		if err != nil {
			return nil, err
		}
		out := make([]pngresize.IHDRRow, len(rows))
		for i, r := range rows {
			out[i] = pngresize.IHDRRow{Width: r.Width, Height: r.Height, BitDepth: r.BitDepth, ColorType: r.ColorType, Interlace: r.Interlace}
		}
		return out, nil
	}
}

// ProcessSubmission loads the submission and its image, fans every
// analyzer task out concurrently, and updates the submission's final
// status once every task has reported in or been cut off by its boundary.
func (w *Worker) ProcessSubmission(ctx context.Context, submissionFP string) error {
	sub, err := registry.GetSubmission(ctx, w.DB, submissionFP)
	if err != nil {
		return fmt.Errorf("worker: load submission %s: %w", submissionFP, err)
	}
	if sub == nil {
		slog.Warn("worker: submission not found, skipping", "submission_fp", submissionFP)
		return nil
	}

	img, err := registry.GetImage(ctx, w.DB, sub.ImageFP)
	if err != nil {
		return fmt.Errorf("worker: load image %s: %w", sub.ImageFP, err)
	}
	if img == nil {
		slog.Warn("worker: image not found, skipping", "image_fp", sub.ImageFP)
		return nil
	}

	if err := registry.SetStatus(ctx, w.DB, submissionFP, registry.StatusRunning); err != nil {
		return fmt.Errorf("worker: set running: %w", err)
	}

	resultDir := filepath.Join(w.ResultFolder, sub.ImageFP, submissionFP)
	if err := os.MkdirAll(resultDir, 0o755); err != nil {
		_ = registry.SetStatus(ctx, w.DB, submissionFP, registry.StatusError)
		return fmt.Errorf("worker: mkdir result dir: %w", err)
	}

	imageBytes, err := os.ReadFile(img.Path)
	if err != nil {
		_ = registry.SetStatus(ctx, w.DB, submissionFP, registry.StatusError)
		return fmt.Errorf("worker: read image blob: %w", err)
	}

	decoded, _ := decodeImage(imageBytes)

	password := ""
	if sub.Password.Valid {
		password = sub.Password.String
	}

	tasks := analyzer.BuildTaskList(sub.DeepAnalysis)
	started := time.Now()

	concurrency := w.Concurrency
	if concurrency <= 0 {
		concurrency = 20
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for _, task := range tasks {
		wg.Add(1)
		sem <- struct{}{}
		go func(t analyzer.Task) {
			defer wg.Done()
			defer func() { <-sem }()
			w.runTaskBoundary(ctx, t, img.Path, resultDir, submissionFP, password, decoded)
		}(task)
	}
	wg.Wait()

	if err := registry.SetStatus(ctx, w.DB, submissionFP, registry.StatusCompleted); err != nil {
		return fmt.Errorf("worker: set completed: %w", err)
	}

	elapsed := time.Since(started)
	if w.Metrics != nil {
		w.Metrics.Record(&telemetry.Metric{
			Name: telemetry.MetricSubmissionDurationMs, Timestamp: time.Now(),
			Value: float64(elapsed.Milliseconds()), Unit: "milliseconds",
			Labels: map[string]string{"submission_fp": submissionFP},
		})
	}
	if w.Audit != nil {
		w.Audit.LogAsync(w.Audit.NewAuditEntry("worker", "submission_process", map[string]any{
			"submission_fp": submissionFP,
			"image_fp":      sub.ImageFP,
			"filename":      sub.Filename,
			"deep_analysis": sub.DeepAnalysis,
		}, map[string]any{"analyzers": len(tasks)}, nil, elapsed))

		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.Audit.Flush(flushCtx)
	}

	return nil
}

// runTaskBoundary invokes one task's analyzer; any panic, or any error
// returned, is written as an error fragment under the task's name and
// logged — it never escapes.
func (w *Worker) runTaskBoundary(ctx context.Context, t analyzer.Task, imagePath, resultDir, submissionFP, password string, decoded image.Image) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("worker: analyzer panicked", "analyzer", t.Name, "recover", rec)
			_ = aggregator.Merge(resultDir, t.Name, aggregator.Fragment{
				Status: "error",
				Error:  fmt.Sprintf("analyzer panicked: %v", rec),
			})
			if w.Events != nil {
				w.Events.LogEvent(ctx, telemetry.BusinessEvent{
					EventType: "analyzer_panic", ServiceName: "aperisolve", EntityType: "submission",
					EntityID: submissionFP, Action: t.Name, Success: false,
				})
			}
		}
	}()

	taskStart := time.Now()
	defer func() {
		if w.Metrics != nil {
			w.Metrics.Record(&telemetry.Metric{
				Name: telemetry.MetricAnalyzerDurationMs, Timestamp: time.Now(),
				Value: float64(time.Since(taskStart).Milliseconds()), Unit: "milliseconds",
				Labels: map[string]string{"analyzer": t.Name},
			})
		}
	}()

	var err error
	switch t.Kind {
	case analyzer.KindConfig:
		err = w.AnalyzerDriver.Run(ctx, t.Config, imagePath, resultDir, submissionFP, password)
	case analyzer.KindSteghide:
		err = analyzer.RunSteghide(ctx, w.AnalyzerDriver.Timeout, imagePath, resultDir, submissionFP, password)
	case analyzer.KindOpenStego:
		err = analyzer.RunOpenStego(ctx, w.AnalyzerDriver.Timeout, imagePath, resultDir, submissionFP, password)
	case analyzer.KindPCRT:
		err = analyzer.RunPCRT(ctx, mustReadFile(imagePath), resultDir, submissionFP, wrapPNGRepairLookup(w.IHDRLookup))
	case analyzer.KindImageResize:
		err = analyzer.RunImageResize(mustReadFile(imagePath), resultDir, submissionFP, wrapPNGResizeLookup(w.IHDRLookup))
	case analyzer.KindDecomposer:
		if decoded == nil {
			err = aggregator.Merge(resultDir, "decomposer", aggregator.Fragment{
				Status: "error",
				Error:  "decomposer: image could not be decoded",
			})
		} else {
			err = analyzer.RunDecomposer(decoded, resultDir, submissionFP)
		}
	case analyzer.KindColorRemap:
		if decoded == nil {
			err = aggregator.Merge(resultDir, "color_remapping", aggregator.Fragment{
				Status: "error",
				Error:  "color_remapping: image could not be decoded",
			})
		} else {
			err = analyzer.RunColorRemap(decoded, resultDir, submissionFP, rand.New(rand.NewSource(time.Now().UnixNano())))
		}
	}

	if err != nil {
		slog.Error("worker: analyzer failed", "analyzer", t.Name, "error", err)
		_ = aggregator.Merge(resultDir, t.Name, aggregator.Fragment{Status: "error", Error: err.Error()})
		if w.Events != nil {
			w.Events.LogEvent(ctx, telemetry.BusinessEvent{
				EventType: "analyzer_error", ServiceName: "aperisolve", EntityType: "submission",
				EntityID: submissionFP, Action: t.Name, Success: false, Details: err.Error(),
			})
		}
	}
}

func mustReadFile(path string) []byte {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return b
}

func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	return img, err
}
