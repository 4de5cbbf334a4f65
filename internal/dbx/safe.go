// Package dbx provides small database helpers shared by the registry, queue
// and telemetry stores: safe close/rollback wrappers that log instead of
// discarding errors.
package dbx

import (
	"database/sql"
	"io"
	"log/slog"
)

// SafeClose closes closer and logs a warning on failure instead of
// discarding the error silently.
func SafeClose(closer io.Closer, context string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		slog.Warn("dbx: failed to close", "context", context, "error", err)
	}
}

// SafeTxRollback rolls tx back and logs a warning on any failure other than
// sql.ErrTxDone (expected once the transaction has already committed).
func SafeTxRollback(tx *sql.Tx, context string) {
	if tx == nil {
		return
	}
	if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
		slog.Warn("dbx: failed to rollback", "context", context, "error", err)
	}
}
