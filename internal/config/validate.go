// Package config provides the configuration model for the lakehouse pipeline.
//
// This file adds a lightweight linter/validator for Config values. It
// performs static checks over a decoded Config and returns a list of issues
// (errors and warnings) that callers can surface in a CLI or tests.
package config

import (
	"fmt"
	"strings"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that should block execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that should be surfaced
	// to users but may not necessarily block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a Config.
//
// Path is a dotted path into the config (e.g. "storage.kind",
// "events.log_path"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a single
// error in contexts that expect error.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// Validate performs static validation of a Config.
//
// It does not mutate the config. Instead it returns a slice of Issue values.
// Callers may decide whether to treat warnings as fatal or not.
func Validate(c Config) []Issue {
	var issues []Issue

	issues = append(issues, validateLayers(c.Layers)...)
	issues = append(issues, validateEvents(c.Events)...)
	issues = append(issues, validateStorage(c.Storage)...)
	issues = append(issues, validateRuntime(c.Runtime)...)

	return issues
}

func validateLayers(l Layers) []Issue {
	var issues []Issue

	if strings.TrimSpace(l.Root) == "" && (l.Raw == "" || l.Validated == "" || l.Published == "") {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "layers.root",
			Message:  "layers.root must not be empty unless all layer directories are set explicitly",
		})
	}

	// Layer directories must be distinct; publishing swaps directories in
	// place and an aliased layer would be destroyed by the swap.
	seen := map[string]string{}
	for path, dir := range map[string]string{
		"layers.raw":       l.RawDir(),
		"layers.validated": l.ValidatedDir(),
		"layers.published": l.PublishedDir(),
	} {
		if prev, ok := seen[dir]; ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path,
				Message:  fmt.Sprintf("directory %q is shared with %s; layers must be distinct", dir, prev),
			})
			continue
		}
		seen[dir] = path
	}

	return issues
}

func validateEvents(e Events) []Issue {
	var issues []Issue

	if strings.TrimSpace(e.LogPath) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "events.log_path",
			Message:  "events.log_path must not be empty",
		})
	}
	if strings.TrimSpace(e.CursorPath) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "events.cursor_path",
			Message:  "events.cursor_path must not be empty",
		})
	}

	return issues
}

func validateStorage(s Storage) []Issue {
	var issues []Issue

	if strings.TrimSpace(s.Kind) == "" {
		// Export disabled; nothing to check.
		return issues
	}

	known := map[string]struct{}{
		"sqlite":   {},
		"postgres": {},
	}
	if _, ok := known[s.Kind]; !ok {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.kind",
			Message:  fmt.Sprintf("unknown storage kind %q; supported kinds are sqlite and postgres", s.Kind),
		})
	}
	if strings.TrimSpace(s.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.dsn",
			Message:  "storage.dsn must not be empty when a storage kind is set",
		})
	}
	if s.BatchSize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "storage.batch_size",
			Message:  "batch_size must not be negative",
		})
	}

	return issues
}

func validateRuntime(r Runtime) []Issue {
	var issues []Issue

	if r.IntervalSeconds < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.interval_seconds",
			Message:  "interval_seconds must not be negative",
		})
	}
	if r.IntervalSeconds > 0 && r.IntervalSeconds < 5 {
		issues = append(issues, Issue{
			Severity: SeverityWarning,
			Path:     "runtime.interval_seconds",
			Message:  fmt.Sprintf("interval_seconds=%d; very short intervals can overlap with slow runs", r.IntervalSeconds),
		})
	}

	return issues
}
