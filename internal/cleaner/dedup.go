package cleaner

import (
	"strings"

	"github.com/zeebo/xxh3"

	"lakehouse/internal/table"
	"lakehouse/pkg/records"
)

// dedup collapses duplicate records by the spec's key fields and chooses a
// winner per key according to the policy. Rows missing any key field pass
// through untouched (validation already dropped rows with null primary
// keys, so this only affects optional composite keys).
//
// Keys are hashed with xxh3 over the field values joined with a 0x1f
// separator; the separator keeps ("ab","c") distinct from ("a","bc").
func dedup(in []records.Record, spec Spec) []records.Record {
	if len(in) == 0 || len(spec.DedupKeys) == 0 {
		return in
	}

	type slot struct {
		rec   records.Record
		index int
	}
	winners := make(map[uint64]slot, len(in))
	order := make([]uint64, 0, len(in))

	keyOf := func(r records.Record) (uint64, bool) {
		var b strings.Builder
		for i, k := range spec.DedupKeys {
			if r.IsEmpty(k) {
				return 0, false
			}
			if i > 0 {
				b.WriteByte('\x1f')
			}
			b.WriteString(r.String(k))
		}
		return xxh3.HashString(b.String()), true
	}

	var passthrough []records.Record
	for i, r := range in {
		key, ok := keyOf(r)
		if !ok {
			passthrough = append(passthrough, r)
			continue
		}
		prev, exists := winners[key]
		if !exists {
			winners[key] = slot{rec: r, index: i}
			order = append(order, key)
			continue
		}
		if beats(r, i, prev.rec, prev.index, spec) {
			winners[key] = slot{rec: r, index: i}
		}
	}

	out := make([]records.Record, 0, len(order)+len(passthrough))
	for _, key := range order {
		out = append(out, winners[key].rec)
	}
	return append(out, passthrough...)
}

// beats reports whether challenger (at position ci) replaces the incumbent
// (at position ii) under the spec's policy.
func beats(challenger records.Record, ci int, incumbent records.Record, ii int, spec Spec) bool {
	switch spec.Policy {
	case KeepFirst:
		// Earliest by tie-break field wins; the incumbent keeps its place on
		// equal keys so input order breaks remaining ties.
		if spec.TieBreak == "" {
			return false
		}
		c, i := challenger.String(spec.TieBreak), incumbent.String(spec.TieBreak)
		return c != "" && (i == "" || c < i)
	default: // KeepLatest
		cs, _ := challenger.Int(table.SourceSeq)
		is, _ := incumbent.Int(table.SourceSeq)
		if cs != is {
			return cs > is
		}
		if spec.TieBreak != "" {
			c, i := challenger.String(spec.TieBreak), incumbent.String(spec.TieBreak)
			if c != i {
				return c > i
			}
		}
		return ci > ii
	}
}
