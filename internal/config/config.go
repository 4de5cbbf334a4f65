// Package config reads the service's environment variables into a typed
// Config, using plain os.Getenv lookups with documented defaults rather
// than a config-file library.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the core components need at startup.
type Config struct {
	// MaxPendingTime bounds both an analyzer subprocess's runtime and how
	// long a submission may sit in pending/running before the sweeper
	// reclaims it. Default 600s.
	MaxPendingTime time.Duration

	// MaxStoreTime bounds how long an Image (and its submissions) may live
	// since last_seen before the sweeper deletes it. Default 72h.
	MaxStoreTime time.Duration

	// MaxContentLength is the upload body size cap. Default 1 MiB.
	MaxContentLength int64

	// RemovalMinAgeSeconds is the minimum submission age before a user may
	// remove it. Default 300s.
	RemovalMinAgeSeconds int64

	// ClearAtRestart, when true, truncates the job queue and resets any job
	// left in processing to pending on process start; submission rows are
	// not touched.
	ClearAtRestart bool

	// ResultFolder is the root of the content-addressed result tree.
	ResultFolder string

	// RemovedImagesFolder is the quarantine root for user-removed blobs.
	RemovedImagesFolder string

	// DBPath is the SQLite file backing the registry, queue, and telemetry.
	DBPath string

	// WorkerConcurrency is the number of analyzer tasks one submission may
	// run concurrently.
	WorkerConcurrency int
}

// FromEnv builds a Config from the process environment, applying the
// documented default for every variable it leaves unset.
func FromEnv() Config {
	return Config{
		MaxPendingTime:       getEnvSeconds("MAX_PENDING_TIME", 600),
		MaxStoreTime:         getEnvDuration("MAX_STORE_TIME", 72*time.Hour),
		MaxContentLength:     getEnvInt64("MAX_CONTENT_LENGTH", 1<<20),
		RemovalMinAgeSeconds: getEnvInt64("REMOVAL_MIN_AGE_SECONDS", 300),
		ClearAtRestart:       getEnvBool("CLEAR_AT_RESTART", false),
		ResultFolder:         getEnvString("RESULT_FOLDER", "./data/results"),
		RemovedImagesFolder:  getEnvString("REMOVED_IMAGES_FOLDER", "./data/removed"),
		DBPath:               getEnvString("DB_PATH", "./data/aperisolve.db"),
		WorkerConcurrency:    int(getEnvInt64("WORKER_CONCURRENCY", 20)),
	}
}

func getEnvString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getEnvSeconds(key string, defSeconds int64) time.Duration {
	return time.Duration(getEnvInt64(key, defSeconds)) * time.Second
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
