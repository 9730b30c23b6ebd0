// Package config defines the canonical, JSON-serializable configuration model
// for the lakehouse pipeline. It is intentionally small, explicit, and
// dependency-free so that a run can be loaded from disk and passed through the
// program without additional glue code.
//
// Design goals:
//
//  1. Stability: Changes to this package should be additive and backwards-
//     compatible whenever possible.
//  2. Clarity: Field names in Go mirror the JSON structure used in config
//     files under configs/*.json.
//  3. Minimalism: No third-party config libraries; decoding is performed by
//     the standard library.
//
// Example (trimmed):
//
//	{
//	  "layers":   { "root": "lakehouse" },
//	  "events":   { "log_path": "events.jsonl", "cursor_path": "lakehouse/_cursor" },
//	  "mapping":  { "heuristic": true, "header_map": { "InvoiceNo": "transaction_id" } },
//	  "storage":  { "kind": "sqlite", "dsn": "file:warehouse.db" },
//	  "metrics":  { "pushgateway_url": "http://localhost:9091", "job": "lakehouse" },
//	  "runtime":  { "interval_seconds": 60 }
//	}
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config describes one full pipeline deployment. It is the top-level object
// decoded from a config file.
type Config struct {
	// Layers locates the three storage layers on the local filesystem.
	Layers Layers `json:"layers"`

	// Events configures the append-only event log and its consumption cursor.
	Events Events `json:"events"`

	// Mapping configures how raw CSV headers are canonicalized.
	Mapping Mapping `json:"mapping"`

	// Storage optionally mirrors the published layer into a SQL warehouse.
	// An empty kind disables the export stage.
	Storage Storage `json:"storage"`

	// Metrics optionally pushes run counters to a Prometheus Pushgateway.
	// An empty URL keeps the in-process no-op backend.
	Metrics Metrics `json:"metrics"`

	Runtime Runtime `json:"runtime"`
}

// Layers holds the layer directories. Raw, Validated, and Published default
// to subdirectories of Root when left empty.
type Layers struct {
	// Root is the lakehouse base directory.
	Root string `json:"root"`

	Raw       string `json:"raw"`
	Validated string `json:"validated"`
	Published string `json:"published"`
}

// RawDir returns the raw layer directory, defaulting under Root.
func (l Layers) RawDir() string { return l.dir(l.Raw, "raw") }

// ValidatedDir returns the validated layer directory, defaulting under Root.
func (l Layers) ValidatedDir() string { return l.dir(l.Validated, "validated") }

// PublishedDir returns the published layer directory, defaulting under Root.
func (l Layers) PublishedDir() string { return l.dir(l.Published, "published") }

func (l Layers) dir(explicit, name string) string {
	if explicit != "" {
		return explicit
	}
	return filepath.Join(l.Root, name)
}

// Events configures the source event log.
type Events struct {
	// LogPath is the JSONL event log to consume.
	LogPath string `json:"log_path"`

	// CursorPath persists the consumption offset between runs. Defaults to
	// "_cursor" under the layer root when empty.
	CursorPath string `json:"cursor_path"`
}

// Mapping configures header canonicalization for raw reads.
type Mapping struct {
	// HeaderMap maps source header names to canonical column names. Entries
	// here win over heuristic matches.
	HeaderMap map[string]string `json:"header_map"`

	// Heuristic enables pattern-based recognition of common retail headers
	// (InvoiceNo, UnitPrice, qty, ...) behind the static map.
	Heuristic bool `json:"heuristic"`

	// FoldDiacritics lists canonical string fields whose values are folded
	// to ASCII during normalization, so "São Paulo" and "Sao Paulo" dedup
	// together. Typically ["city"].
	FoldDiacritics []string `json:"fold_diacritics"`
}

// Storage selects the warehouse sink for the published layer.
type Storage struct {
	// Kind selects the backend. Supported values: "sqlite", "postgres".
	// Empty disables the export stage.
	Kind string `json:"kind"`

	// DSN is the connection string for the selected backend.
	DSN string `json:"dsn"`

	// BatchSize caps rows per insert batch. Zero uses the backend default.
	BatchSize int `json:"batch_size"`
}

// Metrics configures the Pushgateway sink.
type Metrics struct {
	// PushgatewayURL is the push endpoint. Empty disables pushing.
	PushgatewayURL string `json:"pushgateway_url"`

	// Job labels pushed series. Defaults to "lakehouse" when empty.
	Job string `json:"job"`
}

// Runtime controls scheduling.
type Runtime struct {
	// IntervalSeconds is the delay between scheduled runs. Zero means run
	// once and exit.
	IntervalSeconds int `json:"interval_seconds"`
}

// Load reads and decodes a config file, applying defaults for fields that
// have them. It does not validate; see Validate.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	var c Config
	if err := json.Unmarshal(b, &c); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	c.ApplyDefaults()
	return c, nil
}

// ApplyDefaults fills derivable fields left empty in the file.
func (c *Config) ApplyDefaults() {
	if c.Layers.Root == "" {
		c.Layers.Root = "lakehouse"
	}
	if c.Events.CursorPath == "" {
		c.Events.CursorPath = filepath.Join(c.Layers.Root, "_cursor")
	}
	if c.Metrics.Job == "" {
		c.Metrics.Job = "lakehouse"
	}
}
