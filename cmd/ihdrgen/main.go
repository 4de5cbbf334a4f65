// Command ihdrgen populates the ihdr_lookup table used for fast PNG
// dimension recovery. It guards against duplicate population: it skips
// regeneration when the table already has rows, unless -force is passed.
//
// Usage:
//
//	ihdrgen -db ./data/aperisolve.db
//	ihdrgen -db ./data/aperisolve.db -force
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aperisolve/core/dbopen"
	"github.com/aperisolve/core/internal/ihdrtable"
)

func main() {
	dbPath := flag.String("db", "./data/aperisolve.db", "path to SQLite database")
	force := flag.Bool("force", false, "regenerate even if the table is already populated")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(logger)

	if err := run(*dbPath, *force); err != nil {
		logger.Error("ihdrgen: fatal", "error", err)
		os.Exit(1)
	}
}

func run(dbPath string, force bool) error {
	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll())
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	if err := ihdrtable.Init(db); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}

	populated, err := ihdrtable.Populated(db)
	if err != nil {
		return fmt.Errorf("check populated: %w", err)
	}
	if populated && !force {
		slog.Info("ihdr_lookup already populated, skipping (pass -force to regenerate)")
		return nil
	}
	if populated && force {
		if _, err := db.Exec(`DELETE FROM ihdr_lookup`); err != nil {
			return fmt.Errorf("clear existing rows: %w", err)
		}
		slog.Info("ihdr_lookup cleared for regeneration")
	}

	start := time.Now()
	n, err := ihdrtable.Populate(db)
	if err != nil {
		return fmt.Errorf("populate: %w", err)
	}
	slog.Info("ihdr_lookup populated", "rows", n, "elapsed", time.Since(start))
	return nil
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
