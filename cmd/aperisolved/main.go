// Command aperisolved is the Aperi'Solve worker-and-API process: it serves
// the HTTP surface (upload/status/infos/result/download/image/remove) and
// drains the submission queue in the same process. Deployments run one
// worker host; fan-out happens per analyzer, not per host.
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aperisolve/core/dbopen"
	"github.com/aperisolve/core/internal/analyzer"
	"github.com/aperisolve/core/internal/config"
	"github.com/aperisolve/core/internal/dbx"
	"github.com/aperisolve/core/internal/httpapi"
	"github.com/aperisolve/core/internal/ihdrtable"
	"github.com/aperisolve/core/internal/ingest"
	"github.com/aperisolve/core/internal/queue"
	"github.com/aperisolve/core/internal/registry"
	"github.com/aperisolve/core/internal/removal"
	"github.com/aperisolve/core/internal/retention"
	"github.com/aperisolve/core/internal/telemetry"
	"github.com/aperisolve/core/internal/worker"
	"github.com/aperisolve/core/shield"
)

func main() {
	logLevel := env("LOG_LEVEL", "info")
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(logLevel)}))
	slog.SetDefault(logger)

	cfg := config.FromEnv()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll())
	if err != nil {
		slog.Error("open db", "error", err)
		os.Exit(1)
	}
	defer dbx.SafeClose(db, "main db")

	if err := registry.Init(db); err != nil {
		slog.Error("registry schema", "error", err)
		os.Exit(1)
	}
	if err := queue.Init(db); err != nil {
		slog.Error("queue schema", "error", err)
		os.Exit(1)
	}
	if err := ihdrtable.Init(db); err != nil {
		slog.Error("ihdrtable schema", "error", err)
		os.Exit(1)
	}
	if err := telemetry.Init(db); err != nil {
		slog.Error("telemetry schema", "error", err)
		os.Exit(1)
	}
	if err := shield.Init(db); err != nil {
		slog.Error("shield schema", "error", err)
		os.Exit(1)
	}

	if cfg.ClearAtRestart {
		if err := queue.TruncateAll(ctx, db); err != nil {
			slog.Error("clear at restart: truncate queue", "error", err)
		}
		if n, err := queue.ResetStuckRunning(ctx, db); err != nil {
			slog.Error("clear at restart: reset stuck jobs", "error", err)
		} else if n > 0 {
			slog.Info("clear at restart: reset stuck jobs", "count", n)
		}
	}

	populated, err := ihdrtable.Populated(db)
	if err != nil {
		slog.Error("check ihdr table", "error", err)
		os.Exit(1)
	}
	if !populated {
		slog.Warn("ihdr_lookup table is empty; run cmd/ihdrgen before starting workers for fast PNG dimension recovery")
	}

	if err := os.MkdirAll(cfg.ResultFolder, 0o755); err != nil {
		slog.Error("mkdir result folder", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.RemovedImagesFolder, 0o755); err != nil {
		slog.Error("mkdir removed images folder", "error", err)
		os.Exit(1)
	}

	q := queue.New(db)
	events := telemetry.NewEventLogger(db)
	audit := telemetry.NewAuditLogger(db, 256)
	defer dbx.SafeClose(audit, "audit logger")
	metrics := telemetry.NewMetricsManager(db, 100, 5*time.Second)
	defer dbx.SafeClose(metrics, "metrics manager")

	// Workers get a query-only view of the IHDR table: population belongs
	// to cmd/ihdrgen, never to the request path.
	lookupDB, err := dbopen.Open(cfg.DBPath, dbopen.WithReadOnly())
	if err != nil {
		slog.Error("open ihdr lookup db", "error", err)
		os.Exit(1)
	}
	defer dbx.SafeClose(lookupDB, "ihdr lookup db")

	ihdrLookup := func(crc uint32) ([]ihdrtable.Row, error) { return ihdrtable.Lookup(lookupDB, crc) }

	w := &worker.Worker{
		DB:             db,
		ResultFolder:   cfg.ResultFolder,
		AnalyzerDriver: analyzer.NewDriver(cfg.MaxPendingTime),
		Concurrency:    cfg.WorkerConcurrency,
		IHDRLookup:     ihdrLookup,
		Events:         events,
		Audit:          audit,
		Metrics:        metrics,
	}

	runner := queue.NewRunner(q, logger.With("component", "queue_runner"), w.ProcessSubmission, time.Second)
	go runner.Run(ctx)

	sweeper := &retention.Sweeper{
		DB: db, ResultFolder: cfg.ResultFolder,
		MaxPendingTime: cfg.MaxPendingTime, MaxStoreTime: cfg.MaxStoreTime,
	}
	go runSweeperLoop(ctx, sweeper)

	heartbeats := telemetry.NewHeartbeatWriter(db, "aperisolved", 30*time.Second)
	heartbeats.Start(ctx)
	defer heartbeats.Stop()

	srv := &httpapi.Server{
		DB:       db,
		Ingester: &ingest.Ingester{DB: db, Queue: q, Sweeper: sweeper, ResultFolder: cfg.ResultFolder, JobTimeout: 300 * time.Second},
		RemovalPolicy: &removal.Policy{
			DB: db, ResultFolder: cfg.ResultFolder, RemovedImagesFolder: cfg.RemovedImagesFolder,
			RemovalMinAge: time.Duration(cfg.RemovalMinAgeSeconds) * time.Second,
		},
		ResultFolder:     cfg.ResultFolder,
		MaxContentLength: cfg.MaxContentLength,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		hb, err := telemetry.LatestHeartbeat(r.Context(), db, "aperisolved", 90*time.Second)
		if err != nil || hb == nil {
			rw.WriteHeader(http.StatusOK)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(hb)
	})
	mux.Handle("/", srv.Routes())

	stack, mm := shield.DefaultPublicStack(db, cfg.MaxContentLength+1<<20)
	mm.StartReloader(ctx.Done())
	var handler http.Handler = mux
	for i := len(stack) - 1; i >= 0; i-- {
		handler = stack[i](handler)
	}

	addr := ":" + env("PORT", "8085")
	httpSrv := &http.Server{Addr: addr, Handler: handler}

	go func() {
		slog.Info("aperisolved listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

func runSweeperLoop(ctx context.Context, s *retention.Sweeper) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, err := range s.Sweep(ctx) {
				slog.Error("retention sweep", "error", err)
			}
		}
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
