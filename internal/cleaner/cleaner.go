package cleaner

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"lakehouse/internal/fsx"
	"lakehouse/internal/mapping"
	"lakehouse/internal/table"
	"lakehouse/pkg/records"
)

// sampleErrs caps how many example drop reasons a run keeps per entity.
const sampleErrs = 3

// Result summarizes one entity's normalization.
type Result struct {
	Entity    string
	Skipped   bool // no raw artifacts for this entity
	Artifacts int
	RowsIn    int
	Dropped   int // failed validation
	RowsOut   int
	Samples   []string // first few drop reasons
}

// Cleaner normalizes raw artifacts into the validated layer.
type Cleaner struct {
	RawDir       string
	ValidatedDir string

	// Mapper rewrites source headers to canonical names. Defaults to the
	// heuristic retail mapper.
	Mapper mapping.ColumnMapper

	// Scrub configures string normalization.
	Scrub Scrubber
}

// NormalizeAll runs every entity spec. Entities touch disjoint outputs, so
// they run concurrently; one entity's failure is recorded in its Result and
// never blocks the rest.
func (c *Cleaner) NormalizeAll(ctx context.Context) ([]Result, error) {
	specs := Specs()
	results := make([]Result, len(specs))

	var g errgroup.Group
	for i, spec := range specs {
		g.Go(func() error {
			res, err := c.Normalize(ctx, spec)
			if err != nil {
				// Partial-failure isolation: log and report, do not fail the
				// group. Only context cancellation stops the run.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("cleaner: %s failed: %v", spec.Entity, err)
				res = Result{Entity: spec.Entity, Samples: []string{err.Error()}}
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Normalize runs one entity: union-read its raw artifacts, resolve canonical
// fields, validate, dedup, and atomically replace the validated table. A
// missing source is reported as a skip.
func (c *Cleaner) Normalize(ctx context.Context, spec Spec) (Result, error) {
	res := Result{Entity: spec.Entity}

	paths, err := fsx.Glob(filepath.Join(c.RawDir, spec.Entity+"_*.csv"))
	if err != nil {
		return res, err
	}
	if len(paths) == 0 {
		res.Skipped = true
		log.Printf("cleaner: %s: no raw artifacts, skipping", spec.Entity)
		return res, nil
	}
	res.Artifacts = len(paths)

	mapper := c.Mapper
	if mapper == nil {
		mapper = mapping.NewHeuristic()
	}
	raw, err := table.ReadUnion(paths, mapper)
	if err != nil {
		return res, fmt.Errorf("read raw %s: %w", spec.Entity, err)
	}
	res.RowsIn = len(raw.Rows)

	agg := dropAgg{limit: sampleErrs}
	rows := make([]records.Record, 0, len(raw.Rows))
	for _, src := range raw.Rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		row, reason := c.resolve(src, spec)
		if reason != "" {
			agg.add(reason)
			continue
		}
		rows = append(rows, row)
	}
	res.Dropped = res.RowsIn - len(rows)
	res.Samples = agg.first

	rows = dedup(rows, spec)

	out := table.Table{Columns: spec.Columns(), Rows: rows}
	sortCols := append([]string(nil), spec.DedupKeys...)
	if spec.TieBreak != "" {
		sortCols = append(sortCols, spec.TieBreak)
	}
	out.SortBy(sortCols...)

	dst := filepath.Join(c.ValidatedDir, spec.Entity+".csv")
	if err := table.WriteCSV(dst, out); err != nil {
		return res, fmt.Errorf("write validated %s: %w", spec.Entity, err)
	}
	res.RowsOut = len(rows)
	log.Printf("cleaner: %s: %d raw -> %d validated (%d dropped, %d duplicate)",
		spec.Entity, res.RowsIn, res.RowsOut, res.Dropped, res.RowsIn-res.Dropped-res.RowsOut)
	return res, nil
}

// resolve builds the canonical record for one source row. It returns a
// non-empty drop reason when the row fails validation.
func (c *Cleaner) resolve(src records.Record, spec Spec) (records.Record, string) {
	row := records.Record{}
	if seq, ok := src.Int(table.SourceSeq); ok {
		row[table.SourceSeq] = seq
	}
	for _, f := range spec.Fields {
		v, ok := coalesce(src, f, c.Scrub)
		if !ok && f.Derive != nil {
			v, ok = f.Derive(src)
		}
		if !ok && f.Default != nil {
			v, ok = f.Default, true
		}
		if ok {
			row[f.Name] = v
		}
	}
	for _, f := range spec.Fields {
		if f.Required && row.IsEmpty(f.Name) {
			return nil, "null " + f.Name
		}
		if f.Positive || f.NonNegative {
			n, ok := row.Float(f.Name)
			if ok && f.Positive && n <= 0 {
				return nil, "non-positive " + f.Name
			}
			if ok && f.NonNegative && n < 0 {
				return nil, "negative " + f.Name
			}
		}
	}
	return row, ""
}

// coalesce resolves a field from its candidate source columns: the first
// non-null value that casts to the field's kind wins.
func coalesce(src records.Record, f Field, scrub Scrubber) (any, bool) {
	candidates := f.Candidates
	if len(candidates) == 0 {
		candidates = []string{f.Name}
	}
	for _, col := range candidates {
		if src.IsEmpty(col) {
			continue
		}
		if v, ok := cast(src, col, f, scrub); ok {
			return v, true
		}
	}
	return nil, false
}

// cast converts the source value at col to the field's kind. Failed casts
// report ok=false so coalescing moves on to the next candidate.
func cast(src records.Record, col string, f Field, scrub Scrubber) (any, bool) {
	switch f.Kind {
	case KindFloat:
		return floatOf(src, col)
	case KindInt:
		if v, ok := src.Int(col); ok {
			return v, true
		}
		// Integer fields in external files often arrive as "12.0".
		if v, ok := src.Float(col); ok && v == float64(int64(v)) {
			return int64(v), true
		}
		return nil, false
	case KindDate:
		return castTime(src.String(col), "2006-01-02")
	case KindDatetime:
		return castTime(src.String(col), time.RFC3339)
	default:
		s := scrub.scrub(f.Name, src.String(col))
		if s == "" {
			return nil, false
		}
		return s, true
	}
}

func floatOf(src records.Record, col string) (any, bool) {
	if v, ok := src.Float(col); ok {
		return v, true
	}
	// Currency-formatted values: "$1,234.50".
	s := strings.NewReplacer("$", "", ",", "", " ", "").Replace(src.String(col))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, false
	}
	return v, true
}

// castTime parses with each accepted layout and renders into out.
func castTime(s, out string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Format(out), true
		}
	}
	return nil, false
}

// dropAgg keeps the first few drop reasons for the run report.
type dropAgg struct {
	mu    sync.Mutex
	limit int
	count int
	first []string
}

func (a *dropAgg) add(msg string) {
	a.mu.Lock()
	if a.count < a.limit {
		a.first = append(a.first, msg)
	}
	a.count++
	a.mu.Unlock()
}
