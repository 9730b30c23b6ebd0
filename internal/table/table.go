// Package table implements the in-memory tabular model shared by the
// cleaner, the dimension merger, and the star schema builder, together with
// its CSV serialization.
//
// Artifacts from different sources may disagree on which columns they carry;
// ReadUnion therefore reads with column-union semantics: the result's column
// set is the union of all source headers, and rows simply lack the keys a
// given source did not provide. Header names can be rewritten on the way in
// via a mapping.ColumnMapper so that heterogeneous sources converge on
// canonical field names before any downstream logic sees them.
package table

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"lakehouse/internal/fsx"
	"lakehouse/internal/mapping"
	"lakehouse/pkg/records"
)

// SourceSeq is the reserved column carrying the zero-based ordinal of the
// artifact a row was read from. ReadUnion sets it; writers drop it. Dedup
// policies use it as a recency signal (later artifacts win).
const SourceSeq = "_source_seq"

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\ufeff"

// Table is an ordered set of columns plus loosely typed rows.
type Table struct {
	Columns []string
	Rows    []records.Record
}

// Empty reports whether the table holds no rows.
func (t Table) Empty() bool { return len(t.Rows) == 0 }

// HasColumn reports whether name is one of the table's columns.
func (t Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// ReadCSV reads a single CSV artifact. The first row is the header; mapper,
// when non-nil, rewrites header names to canonical field names. Values are
// kept as raw strings; empty cells become absent keys so that coalescing can
// distinguish "not provided" from a real value.
func ReadCSV(path string, mapper mapping.ColumnMapper) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return readCSV(f, path, mapper)
}

func readCSV(rd io.Reader, name string, mapper mapping.ColumnMapper) (Table, error) {
	r := csv.NewReader(rd)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err == io.EOF {
		return Table{}, nil
	}
	if err != nil {
		return Table{}, fmt.Errorf("read header %s: %w", name, err)
	}

	cols := make([]string, len(header))
	for i, raw := range header {
		h := strings.TrimSpace(strings.TrimPrefix(raw, utf8BOM))
		if mapper != nil {
			if canonical, ok := mapper.MapHeader(h); ok {
				h = canonical
			}
		}
		cols[i] = h
	}

	var t Table
	t.Columns = append(t.Columns, cols...)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("read row %s: %w", name, err)
		}
		row := make(records.Record, len(cols))
		for i, c := range cols {
			if i >= len(rec) {
				break
			}
			v := strings.TrimSpace(rec[i])
			if v == "" {
				continue
			}
			row[c] = v
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// ReadUnion reads every path with column-union semantics. Rows keep their
// per-artifact order; each row is annotated with SourceSeq so that dedup can
// prefer the most recently written artifact. Paths are expected to be sorted
// oldest first (fsx.Glob does this for dated names).
func ReadUnion(paths []string, mapper mapping.ColumnMapper) (Table, error) {
	var out Table
	seen := map[string]bool{}
	for seq, p := range paths {
		part, err := ReadCSV(p, mapper)
		if err != nil {
			return Table{}, err
		}
		for _, c := range part.Columns {
			if c != "" && !seen[c] {
				seen[c] = true
				out.Columns = append(out.Columns, c)
			}
		}
		for _, row := range part.Rows {
			row[SourceSeq] = seq
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

// WriteCSV serializes t (in column order, SourceSeq excluded) and atomically
// replaces path with the result.
func WriteCSV(path string, t Table) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	cols := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		if c != SourceSeq {
			cols = append(cols, c)
		}
	}
	if err := w.Write(cols); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	line := make([]string, len(cols))
	for _, row := range t.Rows {
		for i, c := range cols {
			line[i] = row.String(c)
		}
		if err := w.Write(line); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return fsx.WriteFileAtomic(path, buf.Bytes())
}

// SortBy orders rows by the given columns, ascending. Values that parse as
// numbers on both sides compare numerically, otherwise as strings. The sort
// is stable so equal keys keep input order.
func (t *Table) SortBy(cols ...string) {
	sort.SliceStable(t.Rows, func(i, j int) bool {
		for _, c := range cols {
			a, b := t.Rows[i].String(c), t.Rows[j].String(c)
			if a == b {
				continue
			}
			if af, errA := strconv.ParseFloat(a, 64); errA == nil {
				if bf, errB := strconv.ParseFloat(b, 64); errB == nil {
					return af < bf
				}
			}
			return a < b
		}
		return false
	})
}
