package enumerate

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/aulebatch/kernel/internal/domain"
)

func init() { Register("sql", func() Enumerator { return &SQLEnumerator{} }) }

// SQLEnumerator runs a tabular query against an external PostgreSQL
// database and turns each returned row into a work unit payload. This
// is a separate database from the batch kernel's own Store — it's a
// read-only data source the job enumerates from, not shared mutable
// state, so it doesn't conflict with spec.md's "the Store is the only
// shared resource" invariant.
type SQLEnumerator struct{}

func (e *SQLEnumerator) Name() string { return "sql" }

func (e *SQLEnumerator) ValidateConfig(cfg Config) error {
	if dsn, _ := cfg.Settings["dsn"].(string); dsn == "" {
		return fmt.Errorf("sql enumerator requires a non-empty \"dsn\" setting")
	}
	if query, _ := cfg.Settings["query"].(string); query == "" {
		return fmt.Errorf("sql enumerator requires a non-empty \"query\" setting")
	}
	return nil
}

func (e *SQLEnumerator) Enumerate(ctx context.Context, cfg Config) Result {
	if err := e.ValidateConfig(cfg); err != nil {
		return ErrorResult(err)
	}
	dsn, _ := cfg.Settings["dsn"].(string)
	query, _ := cfg.Settings["query"].(string)

	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return ErrorResult(fmt.Errorf("connect to sql data source: %w", err))
	}
	defer db.Close()

	rows, err := db.QueryxContext(ctx, query)
	if err != nil {
		return ErrorResult(fmt.Errorf("run enumeration query: %w", err))
	}
	defer rows.Close()

	var items []domain.Payload
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			return ErrorResult(fmt.Errorf("scan row: %w", err))
		}
		items = append(items, domain.PayloadFromMap(row))
	}
	if err := rows.Err(); err != nil {
		return ErrorResult(err)
	}
	return NewResult(items)
}
