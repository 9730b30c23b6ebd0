package star

import (
	"context"
	"fmt"
	"sort"
	"time"

	"lakehouse/internal/table"
	"lakehouse/pkg/records"
)

// buildDimProducts is a straight copy from the validated layer with a
// surrogate key assigned in sorted business-key order, which keeps key
// assignment reproducible across reruns for unchanged input.
func (b *Builder) buildDimProducts(ctx context.Context) (int, error) {
	products, err := b.readValidated("products")
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	products.SortBy("product_id")
	rows := make([]records.Record, 0, len(products.Rows))
	for i, p := range products.Rows {
		rows = append(rows, records.Record{
			"product_key":  int64(i + 1),
			"product_id":   p.String("product_id"),
			"product_name": p.String("product_name"),
			"category":     p.String("category"),
			"price":        p.String("price"),
		})
	}
	out := table.Table{
		Columns: []string{"product_key", "product_id", "product_name", "category", "price"},
		Rows:    rows,
	}
	return len(rows), table.WriteCSV(b.publishedPath("dim_products"), out)
}

// buildDimStores derives the store dimension from the distinct stores seen
// in validated transactions. The region attribute is keyed off the store id
// suffix; it doubles as the fact partition key.
func (b *Builder) buildDimStores(ctx context.Context) (int, error) {
	txns, err := b.readValidated("transactions")
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	seen := map[string]bool{}
	var ids []string
	for _, t := range txns.Rows {
		id := t.String("store_id")
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	rows := make([]records.Record, 0, len(ids))
	for i, id := range ids {
		rows = append(rows, records.Record{
			"store_key": int64(i + 1),
			"store_id":  id,
			"region":    regionOf(id),
		})
	}
	out := table.Table{Columns: []string{"store_key", "store_id", "region"}, Rows: rows}
	return len(rows), table.WriteCSV(b.publishedPath("dim_stores"), out)
}

// regionOf maps a store id to its region label from the id suffix.
func regionOf(storeID string) string {
	if len(storeID) < 3 {
		return unknownRegion
	}
	return "Region_" + storeID[len(storeID)-3:]
}

// buildDimDates generates a calendar dimension covering the full range of
// validated transaction timestamps, one row per day.
func (b *Builder) buildDimDates(ctx context.Context) (int, error) {
	txns, err := b.readValidated("transactions")
	if err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var min, max time.Time
	for _, t := range txns.Rows {
		ts, err := time.Parse(time.RFC3339, t.String("timestamp"))
		if err != nil {
			continue
		}
		ts = ts.UTC()
		if min.IsZero() || ts.Before(min) {
			min = ts
		}
		if max.IsZero() || ts.After(max) {
			max = ts
		}
	}
	if min.IsZero() {
		return 0, fmt.Errorf("no parseable transaction timestamps")
	}

	start := time.Date(min.Year(), min.Month(), min.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(max.Year(), max.Month(), max.Day(), 0, 0, 0, 0, time.UTC)
	var rows []records.Record
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		wd := d.Weekday()
		rows = append(rows, records.Record{
			"date_key":    int64(d.Year()*10000 + int(d.Month())*100 + d.Day()),
			"full_date":   d.Format("2006-01-02"),
			"year":        int64(d.Year()),
			"quarter":     int64((int(d.Month())-1)/3 + 1),
			"month":       int64(d.Month()),
			"day_of_week": wd.String(),
			"is_weekend":  wd == time.Saturday || wd == time.Sunday,
		})
	}
	out := table.Table{
		Columns: []string{"date_key", "full_date", "year", "quarter", "month", "day_of_week", "is_weekend"},
		Rows:    rows,
	}
	return len(rows), table.WriteCSV(b.publishedPath("dim_dates"), out)
}
