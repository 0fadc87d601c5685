package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Schema for the jobs table. Types are kept portable: the production backend
// is Postgres, the test backend is SQLite, and both read this DDL unchanged.
// One statement per string; the pgx driver rejects multi-statement execs.
var schema = []string{`
CREATE TABLE IF NOT EXISTS ocr_jobs (
	id                TEXT PRIMARY KEY,
	tenant_id         TEXT NOT NULL,
	user_id           TEXT NOT NULL,

	image_path        TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	file_size         BIGINT NOT NULL DEFAULT 0,
	mime_type         TEXT NOT NULL DEFAULT '',

	status            TEXT NOT NULL DEFAULT 'pending',
	retry_count       INTEGER NOT NULL DEFAULT 0,
	error_message     TEXT,
	processing_time   DOUBLE PRECISION,

	confidence        REAL,
	extracted_data    TEXT,
	raw_text          TEXT,
	engine_name       TEXT,

	is_confirmed      BOOLEAN NOT NULL DEFAULT FALSE,
	confirmed_data    TEXT,

	created_at        TIMESTAMP NOT NULL,
	updated_at        TIMESTAMP NOT NULL,
	deleted_at        TIMESTAMP
)`,
	`CREATE INDEX IF NOT EXISTS idx_ocr_jobs_status_created ON ocr_jobs (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_ocr_jobs_tenant_created ON ocr_jobs (tenant_id, created_at)`,
}

// Migrate creates the jobs table and its indexes if they do not exist.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}
