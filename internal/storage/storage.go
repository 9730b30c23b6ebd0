// Package storage mirrors the published layer into a SQL warehouse for the
// external query/API boundary. The pipeline itself never reads from the
// warehouse; the mirror is a best-effort, per-table full reload that runs
// after publish, matching the published layer's rebuild semantics.
//
// Backend-specific code lives in subpackages (sqlite, postgres); this
// package holds the storage-agnostic contract and the export driver.
package storage

import (
	"context"
	"fmt"
	"log"
	"time"
)

// Repository is the minimal bulk-load contract a warehouse backend provides.
type Repository interface {
	// Recreate drops and recreates a table with the given text columns.
	Recreate(ctx context.Context, table string, columns []string) error
	// CopyFrom bulk-inserts rows (aligned to columns order) and returns the
	// number of rows inserted.
	CopyFrom(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	Close()
}

// Config selects and configures a backend.
type Config struct {
	// Kind is "sqlite" or "postgres". Empty disables the export stage.
	Kind string `json:"kind"`
	// DSN is the backend connection string (file path or URL for sqlite,
	// pgx DSN for postgres).
	DSN string `json:"dsn"`
	// BatchSize bounds rows per CopyFrom call. Defaults to 500.
	BatchSize int `json:"batch_size"`
}

// Enabled reports whether an export backend is configured.
func (c Config) Enabled() bool { return c.Kind != "" }

// LoadTable recreates table and streams rows into it in batches. It logs a
// progress line per flushed batch, mirroring the rebuild-style semantics of
// the published layer (no upserts, full reload).
func LoadTable(ctx context.Context, repo Repository, table string, columns []string, rows [][]any, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	if err := repo.Recreate(ctx, table, columns); err != nil {
		return 0, fmt.Errorf("recreate %s: %w", table, err)
	}
	var total int64
	start := time.Now()
	for len(rows) > 0 {
		n := batchSize
		if n > len(rows) {
			n = len(rows)
		}
		inserted, err := repo.CopyFrom(ctx, table, columns, rows[:n])
		total += inserted
		if err != nil {
			return total, fmt.Errorf("copy into %s: %w", table, err)
		}
		rows = rows[n:]
	}
	log.Printf("storage: %s: %d rows in %s", table, total, time.Since(start).Truncate(time.Millisecond))
	return total, nil
}
