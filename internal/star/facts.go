package star

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"lakehouse/internal/fsx"
	"lakehouse/internal/scd"
	"lakehouse/internal/table"
	"lakehouse/pkg/records"
)

// dimRef is a resolved dimension row reference: surrogate key plus the
// attributes the fact denormalizes (region for stores).
type dimRef struct {
	key    int64
	region string
}

// loadDim reads a published dimension into a business-key lookup. A missing
// dimension yields an empty map, so every reference resolves to the
// sentinel; facts never wait on dimensions.
func (b *Builder) loadDim(name, businessKey, surrogate string, currentOnly bool) map[string]dimRef {
	t, err := table.ReadCSV(b.publishedPath(name), nil)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("star: read %s: %v", name, err)
		}
		return map[string]dimRef{}
	}
	out := make(map[string]dimRef, len(t.Rows))
	for _, row := range t.Rows {
		if currentOnly {
			if cur, _ := row.Bool(scd.ColCurrent); !cur {
				continue
			}
		}
		sk, ok := row.Int(surrogate)
		if !ok {
			continue
		}
		out[row.String(businessKey)] = dimRef{key: sk, region: row.String("region")}
	}
	return out
}

// resolve returns the surrogate key for id, or the sentinel.
func resolve(dim map[string]dimRef, id string) int64 {
	if ref, ok := dim[id]; ok {
		return ref.key
	}
	return SentinelKey
}

// resolveRegion returns the store's region, or the unknown placeholder.
func resolveRegion(dim map[string]dimRef, id string) string {
	if ref, ok := dim[id]; ok && ref.region != "" {
		return ref.region
	}
	return unknownRegion
}

func (b *Builder) buildFactTransactions(ctx context.Context) (int, error) {
	txns, err := b.readValidated("transactions")
	if err != nil {
		return 0, err
	}
	users := b.loadDim("dim_users", "user_id", scd.ColSurrogate, true)
	products := b.loadDim("dim_products", "product_id", "product_key", false)
	stores := b.loadDim("dim_stores", "store_id", "store_key", false)

	rows := make([]records.Record, 0, len(txns.Rows))
	for _, t := range txns.Rows {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		dk, _ := dateKey(t.String("timestamp"))
		rows = append(rows, records.Record{
			"transaction_id": t.String("transaction_id"),
			"user_key":       resolve(users, t.String("user_id")),
			"product_key":    resolve(products, t.String("product_id")),
			"store_key":      resolve(stores, t.String("store_id")),
			"region":         resolveRegion(stores, t.String("store_id")),
			"date_key":       dk,
			"timestamp":      t.String("timestamp"),
			"amount":         t.String("amount"),
		})
	}
	cols := []string{"transaction_id", "user_key", "product_key", "store_key",
		"region", "date_key", "timestamp", "amount"}
	return len(rows), b.writePartitioned(ctx, "fact_transactions", cols, rows, "region", "date_key")
}

func (b *Builder) buildFactInventory(ctx context.Context) (int, error) {
	inv, err := b.readValidated("inventory")
	if err != nil {
		return 0, err
	}
	products := b.loadDim("dim_products", "product_id", "product_key", false)
	stores := b.loadDim("dim_stores", "store_id", "store_key", false)
	today := b.now().UTC()

	rows := make([]records.Record, 0, len(inv.Rows))
	for _, r := range inv.Rows {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		stock, _ := r.Int("stock_level")
		reorder, hasReorder := r.Int("reorder_point")
		dk, _ := dateKey(r.String("last_restock_date"))
		row := records.Record{
			"product_key":       resolve(products, r.String("product_id")),
			"store_key":         resolve(stores, r.String("store_id")),
			"region":            resolveRegion(stores, r.String("store_id")),
			"date_key":          dk,
			"stock_level":       stock,
			"reorder_point":     r.String("reorder_point"),
			"last_restock_date": r.String("last_restock_date"),
			"stock_status":      r.String("stock_status"),
			"needs_reorder":     hasReorder && stock <= reorder,
		}
		if t, ok := parseDate(r.String("last_restock_date")); ok {
			row["days_since_restock"] = int64(today.Sub(t).Hours() / 24)
		}
		rows = append(rows, row)
	}
	cols := []string{"product_key", "store_key", "region", "date_key", "stock_level",
		"reorder_point", "last_restock_date", "stock_status", "needs_reorder", "days_since_restock"}
	return len(rows), b.writePartitioned(ctx, "fact_inventory", cols, rows, "region", "date_key")
}

func (b *Builder) buildFactShipments(ctx context.Context) (int, error) {
	ships, err := b.readValidated("shipments")
	if err != nil {
		return 0, err
	}
	stores := b.loadDim("dim_stores", "store_id", "store_key", false)

	rows := make([]records.Record, 0, len(ships.Rows))
	for _, s := range ships.Rows {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		days, _ := s.Int("delivery_days")
		dk, _ := dateKey(s.String("shipped_date"))
		rows = append(rows, records.Record{
			"shipment_id":       s.String("shipment_id"),
			"transaction_id":    s.String("transaction_id"),
			"origin_store_key":  resolve(stores, s.String("origin_store_id")),
			"dest_store_key":    resolve(stores, s.String("dest_store_id")),
			"origin_region":     resolveRegion(stores, s.String("origin_store_id")),
			"dest_region":       resolveRegion(stores, s.String("dest_store_id")),
			"date_key":          dk,
			"shipped_date":      s.String("shipped_date"),
			"delivered_date":    s.String("delivered_date"),
			"delivery_days":     s.String("delivery_days"),
			"carrier":           s.String("carrier"),
			"tracking_number":   s.String("tracking_number"),
			"status":            s.String("status"),
			"shipping_cost":     s.String("shipping_cost"),
			"delivery_category": deliveryCategory(s.String("status"), days),
		})
	}
	cols := []string{"shipment_id", "transaction_id", "origin_store_key", "dest_store_key",
		"origin_region", "dest_region", "date_key", "shipped_date", "delivered_date",
		"delivery_days", "carrier", "tracking_number", "status", "shipping_cost", "delivery_category"}
	return len(rows), b.writePartitioned(ctx, "fact_shipments", cols, rows, "origin_region", "date_key")
}

// deliveryCategory buckets shipment speed for reporting.
func deliveryCategory(status string, days int64) string {
	switch status {
	case "delivered":
		switch {
		case days <= 3:
			return "fast"
		case days <= 7:
			return "normal"
		default:
			return "slow"
		}
	case "delayed":
		return "delayed"
	default:
		return "pending"
	}
}

// writePartitioned writes the fact table hive-style, one subdirectory level
// per partition column (e.g. region=Region_001/date_key=20250131/part-0.csv),
// into a temp directory that is atomically swapped into the published path.
func (b *Builder) writePartitioned(ctx context.Context, name string, cols []string, rows []records.Record, partitionBy ...string) error {
	tmp := filepath.Join(b.PublishedDir, fmt.Sprintf(".tmp-%s-%s", name, uuid.NewString()))
	defer os.RemoveAll(tmp) // no-op after a successful swap

	parts := map[string][]records.Record{}
	var order []string
	for _, row := range rows {
		dir := tmp
		for _, p := range partitionBy {
			dir = filepath.Join(dir, p+"="+partitionValue(row.String(p)))
		}
		if _, ok := parts[dir]; !ok {
			order = append(order, dir)
		}
		parts[dir] = append(parts[dir], row)
	}
	if len(parts) == 0 {
		// Still publish the empty table so discovery sees it.
		if err := os.MkdirAll(tmp, 0o755); err != nil {
			return err
		}
	}
	for _, dir := range order {
		if err := ctx.Err(); err != nil {
			return err
		}
		t := table.Table{Columns: cols, Rows: parts[dir]}
		if err := table.WriteCSV(filepath.Join(dir, "part-0.csv"), t); err != nil {
			return fmt.Errorf("write partition: %w", err)
		}
	}
	return fsx.SwapDir(tmp, filepath.Join(b.PublishedDir, name))
}

// partitionValue keeps partition path segments filesystem-safe.
func partitionValue(v string) string {
	if v == "" {
		return "__null__"
	}
	return filepath.Base(v)
}

func parseDate(s string) (time.Time, bool) {
	t, err := time.Parse("2006-01-02", s)
	return t, err == nil
}
