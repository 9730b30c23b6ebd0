package storage

import (
	"context"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"strings"

	"lakehouse/internal/discovery"
	"lakehouse/internal/table"
)

// Exporter mirrors every discovered published table into the warehouse.
// Table failures are independent: one table's load error is logged and the
// rest continue, same isolation rule as the builder stages.
type Exporter struct {
	Repo      Repository
	Cache     *discovery.Cache
	BatchSize int
}

// Export loads all published tables. It returns the number of tables loaded
// and the first error encountered (after attempting every table).
func (e *Exporter) Export(ctx context.Context) (int, error) {
	cat, err := e.Cache.Get()
	if err != nil {
		return 0, err
	}
	var (
		loaded   int
		firstErr error
	)
	for _, name := range cat.Names() {
		loc, _ := cat.Locator(name)
		if err := e.exportTable(ctx, loc); err != nil {
			log.Printf("storage: export %s failed: %v", name, err)
			if firstErr == nil {
				firstErr = fmt.Errorf("export %s: %w", name, err)
			}
			continue
		}
		loaded++
	}
	return loaded, firstErr
}

func (e *Exporter) exportTable(ctx context.Context, loc discovery.Locator) error {
	t, err := readLocator(loc)
	if err != nil {
		return err
	}
	if len(t.Columns) == 0 {
		return nil
	}
	rows := make([][]any, len(t.Rows))
	for i, rec := range t.Rows {
		row := make([]any, len(t.Columns))
		for j, c := range t.Columns {
			row[j] = rec.String(c)
		}
		rows[i] = row
	}
	_, err = LoadTable(ctx, e.Repo, loc.Name, t.Columns, rows, e.BatchSize)
	return err
}

// readLocator materializes a published table: either the single CSV file or
// the concatenation of every partition file (identical headers by
// construction; the partition columns are repeated in each part file).
func readLocator(loc discovery.Locator) (table.Table, error) {
	if loc.Kind == discovery.KindFile {
		return table.ReadCSV(loc.Path, nil)
	}
	var parts []string
	err := filepath.WalkDir(loc.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(path, ".csv") {
			parts = append(parts, path)
		}
		return nil
	})
	if err != nil {
		return table.Table{}, fmt.Errorf("walk %s: %w", loc.Path, err)
	}
	var out table.Table
	for _, p := range parts {
		part, err := table.ReadCSV(p, nil)
		if err != nil {
			return table.Table{}, err
		}
		if len(out.Columns) == 0 {
			out.Columns = part.Columns
		}
		out.Rows = append(out.Rows, part.Rows...)
	}
	return out, nil
}
