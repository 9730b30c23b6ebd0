// Package mapping resolves source column headers to canonical field names.
//
// Internally produced artifacts already use canonical names, but externally
// supplied files (vendor exports, public datasets) do not: a point-of-sale
// dump may call the transaction key "InvoiceNo" and split the order amount
// into "UnitPrice" and "Quantity". Classification is inherently heuristic,
// so it lives behind the ColumnMapper interface and callers pick a strategy:
// an exact lookup table, the regex heuristics, or a chain of both.
package mapping

import (
	"regexp"
	"strings"
)

// ColumnMapper maps one source header to a canonical field name. ok=false
// means the mapper has no opinion and the header passes through unchanged.
type ColumnMapper interface {
	MapHeader(name string) (canonical string, ok bool)
}

// Static is an exact-match header lookup, the moral equivalent of a
// hand-written header_map in a pipeline config.
type Static map[string]string

func (s Static) MapHeader(name string) (string, bool) {
	v, ok := s[name]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Chain tries each mapper in order and returns the first match.
type Chain []ColumnMapper

func (c Chain) MapHeader(name string) (string, bool) {
	for _, m := range c {
		if v, ok := m.MapHeader(name); ok {
			return v, true
		}
	}
	return "", false
}

// rule pairs a compiled header pattern with its canonical target.
type rule struct {
	re     *regexp.Regexp
	target string
}

// Heuristic classifies headers by name patterns. Matching is done on the
// lowercased header with spaces and dashes collapsed to underscores, so
// "Invoice No", "invoice-no" and "InvoiceNo" all land on transaction_id.
type Heuristic struct {
	rules []rule
}

// NewHeuristic returns the default retail ruleset.
func NewHeuristic() *Heuristic {
	mk := func(pattern, target string) rule {
		return rule{re: regexp.MustCompile(pattern), target: target}
	}
	return &Heuristic{rules: []rule{
		mk(`^(transaction|order|invoice)_?(id|no|number)?$`, "transaction_id"),
		mk(`^(product|item|stock)_?(id|code|no)$`, "product_id"),
		mk(`^(customer|user)_?(id|no|number)?$`, "user_id"),
		mk(`^(store|location|branch)_?(id|code)?$`, "store_id"),
		mk(`^(shipment|delivery)_?(id|no)$`, "shipment_id"),
		mk(`^unit_?price$`, "unit_price"),
		// A bare "price" is the product list price, not an order amount;
		// folding it into amount would erase the products price column.
		mk(`^price$`, "price"),
		mk(`^(quantity|qty|units)$`, "quantity"),
		mk(`^(amount|total|cost|sales?)$`, "amount"),
		mk(`^(invoice_?date|order_?date|timestamp|datetime|date)$`, "timestamp"),
		mk(`^(product_?name|item_?name|description|title)$`, "product_name"),
		mk(`^(category|product_?type|class)$`, "category"),
		mk(`^(customer_?name|user_?name|name)$`, "name"),
		mk(`^(e?_?mail|email_?address)$`, "email"),
		mk(`^(city|town)$`, "city"),
		mk(`^(signup|registration)_?date$`, "signup_date"),
	}}
}

func (h *Heuristic) MapHeader(name string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.NewReplacer(" ", "_", "-", "_").Replace(n)
	// CamelCase headers like "InvoiceNo" lowercase to "invoiceno"; also try a
	// word-split form.
	split := camelToSnake(name)
	for _, r := range h.rules {
		if r.re.MatchString(n) || r.re.MatchString(split) {
			return r.target, true
		}
	}
	return "", false
}

// camelToSnake turns "InvoiceNo" into "invoice_no".
func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				prev := rune(s[i-1])
				if prev >= 'a' && prev <= 'z' || prev >= '0' && prev <= '9' {
					b.WriteByte('_')
				}
			}
			b.WriteRune(r + ('a' - 'A'))
			continue
		}
		if r == ' ' || r == '-' {
			b.WriteByte('_')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
