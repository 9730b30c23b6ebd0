package table

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lakehouse/internal/mapping"
	"lakehouse/pkg/records"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadCSV(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "t.csv",
		"\ufefftransaction_id,amount,store_id\nT1,10.5,\nT2,,S2\n")

	got, err := ReadCSV(path, nil)
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if got.Columns[0] != "transaction_id" {
		t.Errorf("BOM not stripped: %q", got.Columns[0])
	}
	if len(got.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(got.Rows))
	}
	// Empty cells must be absent, not empty strings, so coalescing can tell
	// "not provided" from a real value.
	if _, ok := got.Rows[0]["store_id"]; ok {
		t.Error("empty cell should be an absent key")
	}
	if got.Rows[1].String("store_id") != "S2" {
		t.Errorf("store_id = %q", got.Rows[1].String("store_id"))
	}
}

func TestReadCSV_HeaderMapping(t *testing.T) {
	t.Parallel()

	path := writeFile(t, t.TempDir(), "vendor.csv",
		"InvoiceNo,UnitPrice,Quantity\nT9,2.5,4\n")

	got, err := ReadCSV(path, mapping.NewHeuristic())
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	want := []string{"transaction_id", "unit_price", "quantity"}
	for i, c := range want {
		if got.Columns[i] != c {
			t.Errorf("Columns[%d] = %q, want %q", i, got.Columns[i], c)
		}
	}
}

func TestReadUnion(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p1 := writeFile(t, dir, "a.csv", "id,amount\n1,10\n")
	p2 := writeFile(t, dir, "b.csv", "id,store_id\n2,S1\n")

	got, err := ReadUnion([]string{p1, p2}, nil)
	if err != nil {
		t.Fatalf("ReadUnion: %v", err)
	}
	if strings.Join(got.Columns, ",") != "id,amount,store_id" {
		t.Errorf("union columns = %v", got.Columns)
	}
	if len(got.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(got.Rows))
	}
	if seq, _ := got.Rows[0].Int(SourceSeq); seq != 0 {
		t.Errorf("first artifact seq = %d, want 0", seq)
	}
	if seq, _ := got.Rows[1].Int(SourceSeq); seq != 1 {
		t.Errorf("second artifact seq = %d, want 1", seq)
	}
	// Row from the first artifact lacks the second's columns entirely.
	if _, ok := got.Rows[0]["store_id"]; ok {
		t.Error("row should not carry columns its artifact did not have")
	}
}

func TestWriteCSV_ExcludesSourceSeq(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	tab := Table{
		Columns: []string{"id", SourceSeq, "amount"},
		Rows: []records.Record{
			{"id": "1", SourceSeq: 0, "amount": 12.5},
		},
	}
	if err := WriteCSV(path, tab); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	got := string(b)
	if strings.Contains(got, SourceSeq) {
		t.Errorf("output contains reserved column: %q", got)
	}
	if got != "id,amount\n1,12.5\n" {
		t.Errorf("output = %q", got)
	}
}

func TestSortBy_NumericAware(t *testing.T) {
	t.Parallel()

	tab := Table{
		Columns: []string{"k"},
		Rows: []records.Record{
			{"k": "10"}, {"k": "2"}, {"k": "1"},
		},
	}
	tab.SortBy("k")
	got := []string{tab.Rows[0].String("k"), tab.Rows[1].String("k"), tab.Rows[2].String("k")}
	if got[0] != "1" || got[1] != "2" || got[2] != "10" {
		t.Errorf("numeric sort = %v, want [1 2 10]", got)
	}
}

func TestSortBy_Stable(t *testing.T) {
	t.Parallel()

	tab := Table{
		Columns: []string{"k", "v"},
		Rows: []records.Record{
			{"k": "a", "v": "first"},
			{"k": "a", "v": "second"},
		},
	}
	tab.SortBy("k")
	if tab.Rows[0].String("v") != "first" {
		t.Error("equal keys must keep input order")
	}
}
