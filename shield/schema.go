package shield

import "database/sql"

// Schema defines the SQLite tables used by shield middlewares:
//   - rate_limits: per-endpoint rate limiting rules (used by RateLimiter)
//   - maintenance: read-only-mode flag (used by MaintenanceMode)
//
// The upload endpoint's rate-limit row is seeded so operators see — and can
// tune — the one rule the limiter would otherwise enforce from its
// compiled-in default: every accepted upload fans out a full analyzer set,
// so POST /upload is never left unlimited.
//
// Apply with Init(db) or execute manually. All statements are idempotent
// (CREATE IF NOT EXISTS / INSERT OR IGNORE).
const Schema = `
CREATE TABLE IF NOT EXISTS rate_limits (
    endpoint       TEXT PRIMARY KEY,
    max_requests   INTEGER NOT NULL DEFAULT 60,
    window_seconds INTEGER NOT NULL DEFAULT 60,
    enabled        INTEGER NOT NULL DEFAULT 1
);

INSERT OR IGNORE INTO rate_limits (endpoint, max_requests, window_seconds, enabled)
VALUES ('POST /upload', 30, 60, 1);

CREATE TABLE IF NOT EXISTS maintenance (
    id      INTEGER PRIMARY KEY CHECK (id = 1),
    active  INTEGER NOT NULL DEFAULT 0,
    message TEXT NOT NULL DEFAULT 'The analysis service is temporarily offline for maintenance.'
);

INSERT OR IGNORE INTO maintenance (id, active, message)
VALUES (1, 0, 'The analysis service is temporarily offline for maintenance.');
`

// Init creates the shield tables if they don't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
