// Package scd maintains the slowly-changing user dimension (SCD Type 2).
//
// Every merge partitions the table into five row classes: current versions
// whose tracked attributes are unchanged (carried forward verbatim), current
// versions whose attributes changed (closed), freshly inserted versions for
// those changes, first versions for brand-new business keys, and history
// rows that were already closed (preserved untouched). Surrogate keys are
// allocated max+1 within the single merge invocation and never reused.
package scd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/xxh3"

	"lakehouse/internal/table"
	"lakehouse/pkg/records"
)

// Dimension column names.
const (
	ColSurrogate = "surrogate_key"
	ColEffective = "effective_date"
	ColEnd       = "end_date"
	ColCurrent   = "is_current"
)

// Merger merges validated entity snapshots into a versioned dimension.
type Merger struct {
	// BusinessKey is the natural key column, e.g. "user_id".
	BusinessKey string

	// Attributes are all dimension attribute columns in output order
	// (business key excluded).
	Attributes []string

	// Tracked names the attributes whose changes open a new version.
	// Untracked attribute changes ride along on the next tracked change.
	Tracked []string

	// EffectiveFrom is the validated column providing effective_date for
	// first-seen keys (e.g. "signup_date"). Empty means the batch date.
	EffectiveFrom string

	ValidatedPath string
	DimensionPath string

	// Now is a clock seam for tests.
	Now func() time.Time
}

// Users returns the merger for dim_users with city as the tracked attribute.
func Users(validatedDir, publishedDir string) *Merger {
	return &Merger{
		BusinessKey:   "user_id",
		Attributes:    []string{"name", "email", "city"},
		Tracked:       []string{"city"},
		EffectiveFrom: "signup_date",
		ValidatedPath: filepath.Join(validatedDir, "users.csv"),
		DimensionPath: filepath.Join(publishedDir, "dim_users.csv"),
	}
}

// Stats reports what one merge did.
type Stats struct {
	Skipped bool
	Initial bool
	Closed  int
	New     int // brand-new business keys
	Total   int
}

// Merge applies one SCD2 merge. A missing validated table is a skip. The
// merged dimension atomically replaces the previous one.
func (m *Merger) Merge(ctx context.Context) (Stats, error) {
	incoming, err := table.ReadCSV(m.ValidatedPath, nil)
	if errors.Is(err, os.ErrNotExist) {
		log.Printf("scd: %s missing, skipping merge", filepath.Base(m.ValidatedPath))
		return Stats{Skipped: true}, nil
	}
	if err != nil {
		return Stats{}, err
	}
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}

	existing, err := table.ReadCSV(m.DimensionPath, nil)
	if errors.Is(err, os.ErrNotExist) {
		return m.initialLoad(incoming)
	}
	if err != nil {
		return Stats{}, err
	}

	batchDate := m.batchDate()

	currentByKey := map[string]records.Record{}
	var alreadyClosed []records.Record
	maxSK := int64(0)
	for _, row := range existing.Rows {
		if sk, ok := row.Int(ColSurrogate); ok && sk > maxSK {
			maxSK = sk
		}
		if cur, _ := row.Bool(ColCurrent); cur {
			currentByKey[row.String(m.BusinessKey)] = row
		} else {
			alreadyClosed = append(alreadyClosed, row)
		}
	}

	incomingByKey := map[string]records.Record{}
	for _, in := range incoming.Rows {
		if key := in.String(m.BusinessKey); key != "" {
			incomingByKey[key] = in
		}
	}

	var (
		merged   []records.Record
		changed  []records.Record // incoming rows that open a new version
		brandNew []records.Record
		stats    Stats
	)
	for key, in := range incomingByKey {
		cur, ok := currentByKey[key]
		if !ok {
			brandNew = append(brandNew, in)
			continue
		}
		if m.fingerprint(cur) == m.fingerprint(in) {
			// Unchanged: carry the existing current version forward verbatim.
			merged = append(merged, cur)
			continue
		}
		closed := cur.Clone()
		closed[ColEnd] = batchDate
		closed[ColCurrent] = false
		merged = append(merged, closed)
		changed = append(changed, in)
		stats.Closed++
	}
	// Current versions absent from the batch carry forward untouched:
	// partial data availability is the steady state, and absence is not a
	// change.
	for key, cur := range currentByKey {
		if _, ok := incomingByKey[key]; !ok {
			merged = append(merged, cur)
		}
	}

	// Deterministic surrogate allocation: changed keys first, then brand-new,
	// each in business-key order.
	sortByKey(changed, m.BusinessKey)
	sortByKey(brandNew, m.BusinessKey)
	next := maxSK
	for _, in := range changed {
		next++
		merged = append(merged, m.version(in, next, batchDate, ""))
	}
	for _, in := range brandNew {
		next++
		merged = append(merged, m.version(in, next, m.effectiveFrom(in, batchDate), ""))
		stats.New++
	}
	merged = append(merged, alreadyClosed...)

	out := table.Table{Columns: m.columns(), Rows: merged}
	out.SortBy(m.BusinessKey, ColEffective)
	if err := table.WriteCSV(m.DimensionPath, out); err != nil {
		return Stats{}, fmt.Errorf("write dimension: %w", err)
	}
	stats.Total = len(merged)
	log.Printf("scd: %s updated: %d closed, %d new, %d total rows",
		filepath.Base(m.DimensionPath), stats.Closed, stats.New, stats.Total)
	return stats, nil
}

// initialLoad seeds the dimension: every incoming row becomes version 1.
func (m *Merger) initialLoad(incoming table.Table) (Stats, error) {
	batchDate := m.batchDate()
	sortByKey(incoming.Rows, m.BusinessKey)
	rows := make([]records.Record, 0, len(incoming.Rows))
	var sk int64
	for _, in := range incoming.Rows {
		if in.String(m.BusinessKey) == "" {
			continue
		}
		sk++
		rows = append(rows, m.version(in, sk, m.effectiveFrom(in, batchDate), ""))
	}
	out := table.Table{Columns: m.columns(), Rows: rows}
	if err := table.WriteCSV(m.DimensionPath, out); err != nil {
		return Stats{}, fmt.Errorf("write dimension: %w", err)
	}
	log.Printf("scd: initial %s load: %d rows", filepath.Base(m.DimensionPath), len(rows))
	return Stats{Initial: true, New: len(rows), Total: len(rows)}, nil
}

// fingerprint hashes the tracked attributes of a row. Equal fingerprints
// mean no version change.
func (m *Merger) fingerprint(r records.Record) uint64 {
	var b strings.Builder
	for i, attr := range m.Tracked {
		if i > 0 {
			b.WriteByte('\x1f')
		}
		b.WriteString(r.String(attr))
	}
	return xxh3.HashString(b.String())
}

// version builds one current dimension row from an incoming validated record.
func (m *Merger) version(in records.Record, sk int64, effective, end string) records.Record {
	row := records.Record{
		ColSurrogate:  sk,
		m.BusinessKey: in.String(m.BusinessKey),
		ColEffective:  effective,
		ColCurrent:    true,
	}
	if end != "" {
		row[ColEnd] = end
		row[ColCurrent] = false
	}
	for _, attr := range m.Attributes {
		if !in.IsEmpty(attr) {
			row[attr] = in.String(attr)
		}
	}
	return row
}

func (m *Merger) columns() []string {
	cols := []string{ColSurrogate, m.BusinessKey}
	cols = append(cols, m.Attributes...)
	return append(cols, ColEffective, ColEnd, ColCurrent)
}

func (m *Merger) effectiveFrom(in records.Record, batchDate string) string {
	if m.EffectiveFrom != "" {
		if v := in.String(m.EffectiveFrom); v != "" {
			return v
		}
	}
	return batchDate
}

func (m *Merger) batchDate() string {
	now := time.Now
	if m.Now != nil {
		now = m.Now
	}
	return now().UTC().Format("2006-01-02")
}

func sortByKey(rows []records.Record, key string) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].String(key) < rows[j].String(key)
	})
}
