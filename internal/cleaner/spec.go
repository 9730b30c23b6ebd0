// Package cleaner implements the bronze -> validated normalization step:
// schema-tolerant union reads over raw artifacts, coalesce-over-candidates
// field resolution, type casting, row validation with fail-soft drops, and
// policy-driven de-duplication. Each entity is independent; a missing source
// is a skip, never an error, and one entity's failure does not block others.
package cleaner

import (
	"time"

	"lakehouse/pkg/records"
)

// Kind names for canonical field types.
const (
	KindString   = "string"
	KindFloat    = "float"
	KindInt      = "int"
	KindDate     = "date"     // canonicalized to 2006-01-02
	KindDatetime = "datetime" // canonicalized to RFC 3339
)

// Dedup policies.
const (
	// KeepFirst keeps the earliest row per key, ordered by the tie-break
	// field then input position.
	KeepFirst = "keep-first"
	// KeepLatest keeps the most recently observed row per key: latest source
	// artifact wins, then the tie-break field, then input position.
	KeepLatest = "keep-latest"
)

// Field describes one canonical output column.
type Field struct {
	Name string
	Kind string

	// Candidates are the source column names this field coalesces over, in
	// priority order. The first value that casts successfully wins. When
	// empty, the field resolves from the column of the same name.
	Candidates []string

	// Derive computes the value from the already-resolved row when no
	// candidate produced one (e.g. amount = quantity * unit_price).
	Derive func(records.Record) (any, bool)

	// Default substitutes for a missing value after candidates and Derive.
	Default any

	Required    bool // drop the row when the value is still missing
	Positive    bool // numeric fields: drop the row unless value > 0
	NonNegative bool // numeric fields: drop the row unless value >= 0
}

// Spec is the full normalization contract for one entity.
type Spec struct {
	Entity    string
	Fields    []Field
	DedupKeys []string
	Policy    string // KeepFirst or KeepLatest
	TieBreak  string // secondary ordering field for dedup
}

// Columns returns the canonical output column order.
func (s Spec) Columns() []string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = f.Name
	}
	return cols
}

// deriveAmount reconstructs the order amount from quantity x unit price for
// sources that ship the two factors instead of a line total.
func deriveAmount(r records.Record) (any, bool) {
	q, okQ := r.Float("quantity")
	p, okP := r.Float("unit_price")
	if !okQ || !okP {
		return nil, false
	}
	return q * p, true
}

// Specs returns the normalization contracts for every entity of the retail
// model, keyed in pipeline order.
func Specs() []Spec {
	return []Spec{
		{
			Entity: "transactions",
			Fields: []Field{
				{Name: "transaction_id", Kind: KindString, Required: true},
				{Name: "user_id", Kind: KindString},
				{Name: "product_id", Kind: KindString, Required: true},
				{Name: "timestamp", Kind: KindDatetime},
				{Name: "amount", Kind: KindFloat, Derive: deriveAmount, Required: true, Positive: true},
				{Name: "store_id", Kind: KindString},
			},
			DedupKeys: []string{"transaction_id", "product_id"},
			Policy:    KeepFirst,
			TieBreak:  "timestamp",
		},
		{
			Entity: "users",
			Fields: []Field{
				{Name: "user_id", Kind: KindString, Required: true},
				{Name: "name", Kind: KindString},
				{Name: "email", Kind: KindString},
				{Name: "city", Kind: KindString, Default: "Unknown"},
				{Name: "signup_date", Kind: KindDate},
			},
			DedupKeys: []string{"user_id"},
			Policy:    KeepLatest,
			TieBreak:  "signup_date",
		},
		{
			Entity: "products",
			Fields: []Field{
				{Name: "product_id", Kind: KindString, Required: true},
				{Name: "product_name", Kind: KindString},
				{Name: "category", Kind: KindString},
				{Name: "price", Kind: KindFloat, Required: true, Positive: true},
			},
			DedupKeys: []string{"product_id"},
			Policy:    KeepLatest,
		},
		{
			Entity: "inventory",
			Fields: []Field{
				{Name: "product_id", Kind: KindString, Required: true},
				{Name: "store_id", Kind: KindString, Required: true},
				{Name: "stock_level", Kind: KindInt, Required: true, NonNegative: true},
				{Name: "reorder_point", Kind: KindInt},
				{Name: "last_restock_date", Kind: KindDate},
				{Name: "stock_status", Kind: KindString},
			},
			DedupKeys: []string{"product_id", "store_id"},
			Policy:    KeepLatest,
			TieBreak:  "last_restock_date",
		},
		{
			Entity: "shipments",
			Fields: []Field{
				{Name: "shipment_id", Kind: KindString, Required: true},
				{Name: "transaction_id", Kind: KindString},
				{Name: "origin_store_id", Kind: KindString},
				{Name: "dest_store_id", Kind: KindString},
				{Name: "shipped_date", Kind: KindDate},
				{Name: "delivered_date", Kind: KindDate},
				{Name: "delivery_days", Kind: KindInt},
				{Name: "carrier", Kind: KindString},
				{Name: "tracking_number", Kind: KindString},
				{Name: "status", Kind: KindString},
				{Name: "shipping_cost", Kind: KindFloat, NonNegative: true},
			},
			DedupKeys: []string{"shipment_id"},
			Policy:    KeepLatest,
			TieBreak:  "shipped_date",
		},
	}
}

// dateLayouts are the accepted input formats for date/datetime fields, tried
// in order.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
}
