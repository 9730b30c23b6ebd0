// Package discovery maps logical table names in the published layer to
// physical locations at read time, so the query boundary never hardcodes
// paths and survives tables appearing, disappearing, or changing shape
// between runs.
//
// Discovery results are cached per process behind an atomic pointer; the
// pipeline invalidates the cache after every completed run, which is the
// cache-invalidation contract the core exposes to the query layer.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
)

// Locator kinds.
const (
	KindFile        = "file"        // single-file table
	KindPartitioned = "partitioned" // directory partitioned hive-style
)

// Locator describes where and how a logical table is stored.
type Locator struct {
	Name string
	Kind string
	Path string
	// Glob matches every data file of a partitioned table.
	Glob string
}

// Catalog is an immutable snapshot of the published layer.
type Catalog struct {
	tables map[string]Locator
}

// Locator returns the locator for a logical table name.
func (c *Catalog) Locator(name string) (Locator, bool) {
	l, ok := c.tables[name]
	return l, ok
}

// Names returns all logical table names, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.tables))
	for n := range c.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Discover enumerates the published layer, classifying each entry as a
// single-file or a partitioned-directory table. Hidden and temporary entries
// (dot or underscore prefixed) are ignored. A missing root is an empty
// catalog: upstream simply has not published yet.
func Discover(root string) (*Catalog, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return &Catalog{tables: map[string]Locator{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read published layer: %w", err)
	}
	tables := make(map[string]Locator, len(entries))
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		path := filepath.Join(root, name)
		if e.IsDir() {
			tables[name] = Locator{
				Name: name,
				Kind: KindPartitioned,
				Path: path,
				Glob: filepath.Join(path, "**", "*.csv"),
			}
			continue
		}
		if strings.HasSuffix(name, ".csv") {
			logical := strings.TrimSuffix(name, ".csv")
			tables[logical] = Locator{Name: logical, Kind: KindFile, Path: path}
		}
	}
	return &Catalog{tables: tables}, nil
}

// Cache is the process-lifetime catalog cache. Writers (the pipeline)
// invalidate; readers (the query boundary) get a consistent snapshot. A
// single atomic pointer swap keeps both sides lock-free.
type Cache struct {
	root string
	ptr  atomic.Pointer[Catalog]
}

// NewCache returns a cache over the published layer at root.
func NewCache(root string) *Cache { return &Cache{root: root} }

// Get returns the cached catalog, discovering on first use or after an
// invalidation.
func (c *Cache) Get() (*Catalog, error) {
	if cat := c.ptr.Load(); cat != nil {
		return cat, nil
	}
	cat, err := Discover(c.root)
	if err != nil {
		return nil, err
	}
	c.ptr.Store(cat)
	return cat, nil
}

// Invalidate drops the cached snapshot. The next Get re-discovers.
func (c *Cache) Invalidate() { c.ptr.Store(nil) }
