package store

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaDDL = `
CREATE SEQUENCE IF NOT EXISTS logs_id_seq START 1;

CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	status TEXT NOT NULL,
	worker_prompt_template TEXT NOT NULL,
	unit_type TEXT NOT NULL,
	total_units INTEGER NOT NULL DEFAULT 0,
	completed_units INTEGER NOT NULL DEFAULT 0,
	failed_units INTEGER NOT NULL DEFAULT 0,
	max_workers INTEGER NOT NULL DEFAULT 4,
	max_retries INTEGER NOT NULL DEFAULT 3,
	created_at TIMESTAMP NOT NULL,
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	test_unit_id TEXT,
	test_passed BOOLEAN NOT NULL DEFAULT false,
	output_strategy TEXT NOT NULL DEFAULT 'individual',
	metadata TEXT NOT NULL DEFAULT '{}',
	post_processing_prompt TEXT,
	post_processing_unit_id TEXT,
	bypass_failures BOOLEAN NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS work_units (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	unit_type TEXT NOT NULL,
	status TEXT NOT NULL,
	payload TEXT NOT NULL DEFAULT '{}',
	created_at TIMESTAMP NOT NULL,
	assigned_at TIMESTAMP,
	started_at TIMESTAMP,
	completed_at TIMESTAMP,
	worker_id TEXT,
	result TEXT,
	error TEXT,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	execution_time_seconds DOUBLE,
	output_files TEXT NOT NULL DEFAULT '[]',
	rendered_prompt TEXT,
	conversation TEXT NOT NULL DEFAULT '[]',
	session_id TEXT,
	cost_usd DOUBLE,
	process_id INTEGER
);

CREATE TABLE IF NOT EXISTS workers (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	job_id TEXT,
	current_unit_id TEXT,
	process_id INTEGER,
	started_at TIMESTAMP NOT NULL,
	last_heartbeat TIMESTAMP,
	units_completed INTEGER NOT NULL DEFAULT 0,
	units_failed INTEGER NOT NULL DEFAULT 0,
	total_execution_time_ms BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS logs (
	id BIGINT PRIMARY KEY DEFAULT nextval('logs_id_seq'),
	job_id TEXT NOT NULL,
	unit_id TEXT,
	worker_id TEXT,
	source TEXT NOT NULL,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	extra TEXT NOT NULL DEFAULT '{}',
	timestamp TIMESTAMP NOT NULL
);
`

// expectedColumns names every column migrateSchema must guarantee
// exists, keyed by table. New columns added to the data model over time
// get appended here; migrateSchema adds them with a default rather than
// requiring a destructive rebuild.
var expectedColumns = map[string][]columnDef{
	"jobs": {
		{"bypass_failures", "BOOLEAN NOT NULL DEFAULT false"},
		{"post_processing_prompt", "TEXT"},
		{"post_processing_unit_id", "TEXT"},
	},
	"work_units": {
		{"session_id", "TEXT"},
		{"cost_usd", "DOUBLE"},
		{"process_id", "INTEGER"},
	},
}

type columnDef struct {
	Name string
	DDL  string
}

// migrateSchema creates the schema if absent, then diffs each table in
// expectedColumns against PRAGMA table_info and adds any missing column
// with ALTER TABLE ... ADD COLUMN. Migrations here are additive only:
// nothing is ever dropped or renamed, so an older on-disk database keeps
// working unmodified alongside newer code.
func migrateSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply base schema: %w", err)
	}

	for table, cols := range expectedColumns {
		existing, err := tableColumns(ctx, db, table)
		if err != nil {
			return fmt.Errorf("inspect table %s: %w", table, err)
		}
		for _, col := range cols {
			if existing[col.Name] {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, col.Name, col.DDL)
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("add column %s.%s: %w", table, col.Name, err)
			}
		}
	}
	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    bool
			dfltValue  any
			pk         bool
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
