package scd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lakehouse/internal/table"
	"lakehouse/pkg/records"
)

func newMerger(t *testing.T) *Merger {
	t.Helper()
	dir := t.TempDir()
	m := Users(filepath.Join(dir, "validated"), filepath.Join(dir, "published"))
	m.Now = func() time.Time { return time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func writeValidated(t *testing.T, m *Merger, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(m.ValidatedPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(m.ValidatedPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readDim(t *testing.T, m *Merger) table.Table {
	t.Helper()
	got, err := table.ReadCSV(m.DimensionPath, nil)
	if err != nil {
		t.Fatal(err)
	}
	return got
}

// checkInvariant asserts exactly one current row per business key and that
// every closed row has an end date.
func checkInvariant(t *testing.T, dim table.Table, key string) {
	t.Helper()
	current := map[string]int{}
	for _, row := range dim.Rows {
		cur, ok := row.Bool(ColCurrent)
		if !ok {
			t.Errorf("row missing %s: %v", ColCurrent, row)
			continue
		}
		if cur {
			current[row.String(key)]++
			if row.String(ColEnd) != "" {
				t.Errorf("current row has end date: %v", row)
			}
		} else if row.String(ColEnd) == "" {
			t.Errorf("closed row has no end date: %v", row)
		}
	}
	for k, n := range current {
		if n != 1 {
			t.Errorf("key %s has %d current rows, want 1", k, n)
		}
	}
}

func TestMerge_MissingValidatedSkips(t *testing.T) {
	t.Parallel()

	m := newMerger(t)
	stats, err := m.Merge(context.Background())
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !stats.Skipped {
		t.Errorf("stats = %+v, want skip", stats)
	}
}

func TestMerge_InitialLoad(t *testing.T) {
	t.Parallel()

	m := newMerger(t)
	writeValidated(t, m,
		"user_id,name,email,city,signup_date\n"+
			"U2,Bob,b@x.com,Austin,2024-03-01\n"+
			"U1,Ana,a@x.com,Dallas,2024-01-15\n")

	stats, err := m.Merge(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !stats.Initial || stats.New != 2 || stats.Total != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	dim := readDim(t, m)
	checkInvariant(t, dim, "user_id")
	// Surrogate keys are assigned in sorted business-key order.
	if sk, _ := dim.Rows[0].Int(ColSurrogate); sk != 1 || dim.Rows[0].String("user_id") != "U1" {
		t.Errorf("row 0 = %v", dim.Rows[0])
	}
	if sk, _ := dim.Rows[1].Int(ColSurrogate); sk != 2 || dim.Rows[1].String("user_id") != "U2" {
		t.Errorf("row 1 = %v", dim.Rows[1])
	}
	// effective_date comes from signup_date when present.
	if d := dim.Rows[0].String(ColEffective); d != "2024-01-15" {
		t.Errorf("effective = %q, want signup date", d)
	}
}

/*
TestMerge_TrackedChange walks the canonical history scenario: a user moves
city, the old version is closed on the batch date and a new current version
opens, while the other user is carried forward verbatim.
*/
func TestMerge_TrackedChange(t *testing.T) {
	t.Parallel()

	m := newMerger(t)
	writeValidated(t, m,
		"user_id,name,email,city,signup_date\n"+
			"U1,Ana,a@x.com,Austin,2024-01-15\n"+
			"U2,Bob,b@x.com,Boston,2024-03-01\n")
	if _, err := m.Merge(context.Background()); err != nil {
		t.Fatal(err)
	}

	writeValidated(t, m,
		"user_id,name,email,city,signup_date\n"+
			"U1,Ana,a@x.com,Dallas,2024-01-15\n"+
			"U2,Bob,b@x.com,Boston,2024-03-01\n")
	stats, err := m.Merge(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Closed != 1 || stats.New != 0 || stats.Total != 3 {
		t.Fatalf("stats = %+v", stats)
	}

	dim := readDim(t, m)
	checkInvariant(t, dim, "user_id")

	var u1 []records.Record
	for _, row := range dim.Rows {
		if row.String("user_id") == "U1" {
			u1 = append(u1, row)
		}
	}
	if len(u1) != 2 {
		t.Fatalf("U1 versions = %d, want 2", len(u1))
	}
	// Sorted by effective date: the closed Austin version first.
	closed, open := u1[0], u1[1]
	if closed.String("city") != "Austin" || closed.String(ColEnd) != "2025-02-01" {
		t.Errorf("closed version = %v", closed)
	}
	if cur, _ := closed.Bool(ColCurrent); cur {
		t.Error("old version still current")
	}
	if open.String("city") != "Dallas" || open.String(ColEffective) != "2025-02-01" {
		t.Errorf("new version = %v", open)
	}
	// The new version got a fresh surrogate key above the previous max.
	if sk, _ := open.Int(ColSurrogate); sk != 3 {
		t.Errorf("new surrogate = %d, want 3", sk)
	}
}

func TestMerge_UntrackedChangeIsNoop(t *testing.T) {
	t.Parallel()

	m := newMerger(t)
	writeValidated(t, m,
		"user_id,name,email,city\nU1,Ana,a@x.com,Austin\n")
	if _, err := m.Merge(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Email changes but city (the tracked attribute) does not: no new version.
	writeValidated(t, m,
		"user_id,name,email,city\nU1,Ana,new@x.com,Austin\n")
	stats, err := m.Merge(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Closed != 0 || stats.New != 0 || stats.Total != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	dim := readDim(t, m)
	// The existing version is carried forward verbatim, old email included.
	if got := dim.Rows[0].String("email"); got != "a@x.com" {
		t.Errorf("email = %q, want carried-forward a@x.com", got)
	}
}

func TestMerge_AbsentKeyCarriesForward(t *testing.T) {
	t.Parallel()

	m := newMerger(t)
	writeValidated(t, m,
		"user_id,name,city\nU1,Ana,Austin\nU2,Bob,Boston\n")
	if _, err := m.Merge(context.Background()); err != nil {
		t.Fatal(err)
	}

	// U2 is absent from the next batch; absence is not a change.
	writeValidated(t, m, "user_id,name,city\nU1,Ana,Austin\n")
	stats, err := m.Merge(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Closed != 0 || stats.Total != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	dim := readDim(t, m)
	checkInvariant(t, dim, "user_id")
	found := false
	for _, row := range dim.Rows {
		if row.String("user_id") == "U2" {
			found = true
			if cur, _ := row.Bool(ColCurrent); !cur {
				t.Error("absent key was closed")
			}
		}
	}
	if !found {
		t.Error("absent key dropped from dimension")
	}
}

/*
TestMerge_SurrogateAllocationOrder verifies the deterministic allocation
order within one merge: changed keys get keys before brand-new keys, each
group in business-key order, all above the previous max.
*/
func TestMerge_SurrogateAllocationOrder(t *testing.T) {
	t.Parallel()

	m := newMerger(t)
	writeValidated(t, m,
		"user_id,name,city\nU1,Ana,Austin\nU2,Bob,Boston\n")
	if _, err := m.Merge(context.Background()); err != nil {
		t.Fatal(err)
	}

	// U2 changes city; U0 and U3 are brand new.
	writeValidated(t, m,
		"user_id,name,city\n"+
			"U0,Zed,Miami\n"+
			"U1,Ana,Austin\n"+
			"U2,Bob,Chicago\n"+
			"U3,Eve,Denver\n")
	stats, err := m.Merge(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Closed != 1 || stats.New != 2 {
		t.Fatalf("stats = %+v", stats)
	}

	skOf := func(key, city string) int64 {
		for _, row := range readDim(t, m).Rows {
			if row.String("user_id") == key && row.String("city") == city {
				sk, _ := row.Int(ColSurrogate)
				return sk
			}
		}
		t.Fatalf("no row for %s/%s", key, city)
		return 0
	}
	// Previous max was 2. The changed key allocates first, then brand-new in
	// key order.
	if sk := skOf("U2", "Chicago"); sk != 3 {
		t.Errorf("changed U2 = %d, want 3", sk)
	}
	if sk := skOf("U0", "Miami"); sk != 4 {
		t.Errorf("brand-new U0 = %d, want 4", sk)
	}
	if sk := skOf("U3", "Denver"); sk != 5 {
		t.Errorf("brand-new U3 = %d, want 5", sk)
	}
}

func TestMerge_ClosedHistoryPreserved(t *testing.T) {
	t.Parallel()

	m := newMerger(t)
	writeValidated(t, m, "user_id,name,city\nU1,Ana,Austin\n")
	if _, err := m.Merge(context.Background()); err != nil {
		t.Fatal(err)
	}
	writeValidated(t, m, "user_id,name,city\nU1,Ana,Dallas\n")
	if _, err := m.Merge(context.Background()); err != nil {
		t.Fatal(err)
	}
	// A third merge with yet another city: the Austin row must survive as
	// closed history.
	writeValidated(t, m, "user_id,name,city\nU1,Ana,Miami\n")
	stats, err := m.Merge(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 3 {
		t.Fatalf("stats = %+v, want 3 versions", stats)
	}
	dim := readDim(t, m)
	checkInvariant(t, dim, "user_id")
	cities := map[string]bool{}
	for _, row := range dim.Rows {
		cities[row.String("city")] = true
	}
	for _, c := range []string{"Austin", "Dallas", "Miami"} {
		if !cities[c] {
			t.Errorf("history lost city %s", c)
		}
	}
}

func TestMerge_Idempotent(t *testing.T) {
	t.Parallel()

	m := newMerger(t)
	writeValidated(t, m, "user_id,name,city\nU1,Ana,Austin\n")
	if _, err := m.Merge(context.Background()); err != nil {
		t.Fatal(err)
	}
	first, err := os.ReadFile(m.DimensionPath)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Merge(context.Background()); err != nil {
		t.Fatal(err)
	}
	second, err := os.ReadFile(m.DimensionPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Errorf("unchanged input changed the dimension:\n%s\nvs\n%s", first, second)
	}
}
