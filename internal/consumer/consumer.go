// Package consumer implements the cursor-tracked micro-batch consumer: it
// drains event log entries past the persisted cursor, routes them by kind
// into per-entity row groups, expands order line items, and lands one dated
// raw-layer CSV artifact per entity present in the batch.
//
// Failure semantics: the cursor is advanced only after every raw artifact of
// the batch has been written, so a failed write leaves the cursor untouched
// and the whole batch is redelivered next cycle. The downstream cleaner
// dedups, which makes that redelivery harmless (at-least-once overall).
package consumer

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sort"
	"time"

	"lakehouse/internal/cursor"
	"lakehouse/internal/eventlog"
	"lakehouse/internal/fsx"
	"lakehouse/internal/table"
	"lakehouse/pkg/records"
)

// kindEntity routes an event kind to its raw-layer entity.
var kindEntity = map[string]string{
	eventlog.KindOrder:          "transactions",
	eventlog.KindUserUpdate:     "users",
	eventlog.KindCatalogUpdate:  "products",
	eventlog.KindStockSnapshot:  "inventory",
	eventlog.KindShipmentUpdate: "shipments",
}

// entityColumns fixes the leading column order of raw artifacts per entity.
// Extra payload fields are appended alphabetically; the cleaner reads with
// column-union semantics so the exact set per artifact may vary.
var entityColumns = map[string][]string{
	"transactions": {"transaction_id", "user_id", "product_id", "timestamp", "amount", "store_id"},
	"users":        {"user_id", "name", "email", "city", "signup_date"},
	"products":     {"product_id", "product_name", "category", "price"},
	"inventory":    {"product_id", "store_id", "stock_level", "reorder_point", "last_restock_date", "stock_status"},
	"shipments": {"shipment_id", "transaction_id", "origin_store_id", "dest_store_id", "shipped_date",
		"delivered_date", "delivery_days", "carrier", "tracking_number", "status", "shipping_cost"},
}

// BatchResult summarizes one Consume call.
type BatchResult struct {
	Events    int              // log entries consumed
	Rows      map[string]int   // flat rows per entity (orders expand per line item)
	Artifacts []string         // raw artifact paths written
	Cursor    int64            // cursor after the batch
}

// Empty reports whether the batch consumed nothing.
func (b BatchResult) Empty() bool { return b.Events == 0 }

// Consumer drains the event log into the raw layer.
type Consumer struct {
	Log    *eventlog.Log
	Marker *cursor.Marker
	RawDir string

	// Now is a clock seam for tests; defaults to time.Now.
	Now func() time.Time
}

// Consume reads all events past the cursor and lands them as raw artifacts.
// An empty read is a successful no-op.
func (c *Consumer) Consume(ctx context.Context) (BatchResult, error) {
	after, err := c.Marker.Load()
	if err != nil {
		return BatchResult{}, err
	}
	events, max, err := c.Log.ReadFrom(after)
	if err != nil {
		return BatchResult{}, fmt.Errorf("read event log: %w", err)
	}
	res := BatchResult{Rows: map[string]int{}, Cursor: after}
	if len(events) == 0 {
		// max may still exceed the cursor when the tail was all malformed
		// lines; move past them so they are not rescanned forever.
		if max > after {
			if err := c.Marker.Store(max); err != nil {
				return BatchResult{}, err
			}
			res.Cursor = max
		}
		return res, nil
	}

	groups := map[string][]records.Record{}
	for _, e := range events {
		entity, ok := kindEntity[e.Kind]
		if !ok {
			log.Printf("consumer: unknown event kind %q at offset %d, skipping", e.Kind, e.Offset)
			continue
		}
		if err := ctx.Err(); err != nil {
			return BatchResult{}, err
		}
		groups[entity] = append(groups[entity], expand(e)...)
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	stamp := now()
	for _, entity := range sortedKeys(groups) {
		rows := groups[entity]
		path := filepath.Join(c.RawDir, fsx.DatedName(entity, "stream", stamp))
		if err := table.WriteCSV(path, table.Table{Columns: columnsFor(entity, rows), Rows: rows}); err != nil {
			return BatchResult{}, fmt.Errorf("write raw %s: %w", entity, err)
		}
		res.Artifacts = append(res.Artifacts, path)
		res.Rows[entity] = len(rows)
		log.Printf("consumer: %s: %d rows -> %s", entity, len(rows), filepath.Base(path))
	}

	// Advance to the highest offset observed in this batch, not the log's
	// current tail: producers may have appended more lines since the read.
	if err := c.Marker.Store(max); err != nil {
		return BatchResult{}, fmt.Errorf("advance cursor: %w", err)
	}
	res.Events = len(events)
	res.Cursor = max
	return res, nil
}

// expand flattens an event into raw rows. Orders become one row per line
// item, carrying the transaction-level fields onto each; other kinds map
// 1:1 from their payload.
func expand(e eventlog.Event) []records.Record {
	if e.Kind != eventlog.KindOrder {
		return []records.Record{e.Fields.Clone()}
	}
	if len(e.Items) == 0 {
		return nil
	}
	out := make([]records.Record, 0, len(e.Items))
	for _, item := range e.Items {
		row := e.Fields.Clone()
		for k, v := range item {
			row[k] = v
		}
		out = append(out, row)
	}
	return out
}

// columnsFor returns the canonical leading columns for entity followed by
// any extra keys observed in rows, alphabetically.
func columnsFor(entity string, rows []records.Record) []string {
	cols := append([]string(nil), entityColumns[entity]...)
	known := map[string]bool{}
	for _, c := range cols {
		known[c] = true
	}
	var extra []string
	for _, r := range rows {
		for k := range r {
			if !known[k] {
				known[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(cols, extra...)
}

func sortedKeys(m map[string][]records.Record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
