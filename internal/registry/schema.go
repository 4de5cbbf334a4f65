// Package registry implements the persistent record of Images, Submissions
// and UploadLog rows. It is the relational half of
// the ingestion/dedup/retention/removal pipeline; the content-addressed
// filesystem tree it describes lives under internal/config.Config's
// ResultFolder and is not managed by this package directly.
//
// Tables are defined with plain database/sql and hand-written DDL in a
// package-level constant; dbopen.RunTx handles multi-statement writes that
// need SQLITE_BUSY retry.
package registry

import "database/sql"

// Schema is the DDL for the images, submissions and upload_log tables.
const Schema = `
CREATE TABLE IF NOT EXISTS images (
    fingerprint  TEXT PRIMARY KEY,
    path         TEXT NOT NULL,
    size_bytes   INTEGER NOT NULL,
    first_seen   INTEGER NOT NULL,
    last_seen    INTEGER NOT NULL,
    upload_count INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS submissions (
    fingerprint   TEXT PRIMARY KEY,
    image_fp      TEXT NOT NULL REFERENCES images(fingerprint),
    filename      TEXT NOT NULL,
    password      TEXT,
    deep_analysis INTEGER NOT NULL DEFAULT 0,
    status        TEXT NOT NULL DEFAULT 'pending',
    created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_submissions_image_fp ON submissions(image_fp);
CREATE INDEX IF NOT EXISTS idx_submissions_status ON submissions(status);

CREATE TABLE IF NOT EXISTS upload_log (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    source_ip       TEXT NOT NULL,
    user_agent      TEXT NOT NULL,
    uploaded_at     INTEGER NOT NULL,
    image_fp        TEXT NOT NULL,
    submission_fp   TEXT NOT NULL,
    filename        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_upload_log_image_fp ON upload_log(image_fp);
CREATE INDEX IF NOT EXISTS idx_upload_log_submission_fp ON upload_log(submission_fp);
`

// Init applies the registry schema to db.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
