// Package star derives the published (gold) layer from validated tables:
// wholesale-rebuilt dimension tables with deterministic surrogate keys, and
// fully rebuilt, hive-partitioned fact tables whose dimension references are
// total (unresolved references map to the sentinel key, never null).
//
// Each table build is independent and best-effort: a missing validated input
// skips that table, an error is reported per table, and neither blocks the
// other builds. Output tables only ever reach the published directory via an
// atomic swap.
package star

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"lakehouse/internal/table"
)

// SentinelKey is the reserved surrogate key for unresolved dimension
// references. Fact join columns are never null.
const SentinelKey = int64(-1)

// unknownRegion is the partition value for facts with no resolved store.
const unknownRegion = "Unknown"

// Result reports one table build.
type Result struct {
	Table   string
	Rows    int
	Skipped bool
	Err     error
}

// Builder rebuilds the star schema from the validated layer.
type Builder struct {
	ValidatedDir string
	PublishedDir string

	// Now is a clock seam for tests (dim_dates range, days_since_restock).
	Now func() time.Time
}

// BuildDimensions rebuilds dim_products, dim_stores and dim_dates. The SCD2
// dimension (dim_users) is owned by the scd package and not touched here.
func (b *Builder) BuildDimensions(ctx context.Context) []Result {
	return b.runAll(ctx, []build{
		{"dim_products", b.buildDimProducts},
		{"dim_stores", b.buildDimStores},
		{"dim_dates", b.buildDimDates},
	})
}

// BuildFacts rebuilds every fact table in full from validated data. Rebuild
// cost is bounded by validated-layer size, not event-log length.
func (b *Builder) BuildFacts(ctx context.Context) []Result {
	return b.runAll(ctx, []build{
		{"fact_transactions", b.buildFactTransactions},
		{"fact_inventory", b.buildFactInventory},
		{"fact_shipments", b.buildFactShipments},
	})
}

type build struct {
	name string
	fn   func(context.Context) (int, error)
}

// runAll executes the builds concurrently; outputs are disjoint. Errors are
// captured per table, never propagated across tables.
func (b *Builder) runAll(ctx context.Context, builds []build) []Result {
	results := make([]Result, len(builds))
	var g errgroup.Group
	for i, bd := range builds {
		g.Go(func() error {
			rows, err := bd.fn(ctx)
			res := Result{Table: bd.name, Rows: rows}
			switch {
			case errors.Is(err, os.ErrNotExist):
				res.Skipped = true
				res.Err = nil
				log.Printf("star: %s: validated input missing, skipping", bd.name)
			case err != nil:
				res.Err = err
				log.Printf("star: %s failed: %v", bd.name, err)
			default:
				log.Printf("star: %s: %d rows", bd.name, rows)
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// readValidated loads one validated table; a missing file surfaces as
// os.ErrNotExist for the skip path in runAll.
func (b *Builder) readValidated(name string) (table.Table, error) {
	return table.ReadCSV(b.validatedPath(name), nil)
}

func (b *Builder) validatedPath(name string) string {
	return b.ValidatedDir + "/" + name + ".csv"
}

func (b *Builder) publishedPath(name string) string {
	return b.PublishedDir + "/" + name + ".csv"
}

func (b *Builder) now() time.Time {
	if b.Now != nil {
		return b.Now()
	}
	return time.Now()
}

// dateKey renders a timestamp or date string as the YYYYMMDD integer key.
// Unparseable input reports ok=false.
func dateKey(s string) (int64, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.UTC().Date()
			return int64(y*10000 + int(m)*100 + d), true
		}
	}
	return 0, false
}
