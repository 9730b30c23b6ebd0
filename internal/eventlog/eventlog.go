// Package eventlog implements the append-only event log feeding the
// pipeline: one self-describing JSON object per line, discriminated by a
// "kind" field. Producers only ever append; the consumer reads by line
// offset, so a log being appended to concurrently is safe to read.
package eventlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"lakehouse/pkg/records"
)

// Event kinds.
const (
	KindOrder          = "order"
	KindUserUpdate     = "user_update"
	KindCatalogUpdate  = "catalog_update"
	KindStockSnapshot  = "stock_snapshot"
	KindShipmentUpdate = "shipment_update"
)

// Event is one log entry. Offset is the 1-based line number, assigned on
// read; it is not serialized. Fields carries the kind-specific payload with
// the "kind" and "items" keys removed; Items is only populated for orders.
type Event struct {
	Kind   string
	Offset int64
	Fields records.Record
	Items  []records.Record
}

// UnmarshalJSON decodes the flat wire object, splitting off the
// discriminator and the nested order line items.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if k, ok := raw["kind"]; ok {
		if err := json.Unmarshal(k, &e.Kind); err != nil {
			return fmt.Errorf("kind: %w", err)
		}
		delete(raw, "kind")
	}
	if items, ok := raw["items"]; ok {
		if err := json.Unmarshal(items, &e.Items); err != nil {
			return fmt.Errorf("items: %w", err)
		}
		delete(raw, "items")
	}
	e.Fields = make(records.Record, len(raw))
	for k, v := range raw {
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return fmt.Errorf("field %s: %w", k, err)
		}
		e.Fields[k] = val
	}
	return nil
}

// MarshalJSON is the inverse of UnmarshalJSON.
func (e Event) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		obj[k] = v
	}
	obj["kind"] = e.Kind
	if len(e.Items) > 0 {
		obj["items"] = e.Items
	}
	return json.Marshal(obj)
}

// Log is a line-delimited event log backed by a single file.
type Log struct {
	path string
}

// New returns a Log at path. The file need not exist yet.
func New(path string) *Log { return &Log{path: path} }

// Path returns the backing file path.
func (l *Log) Path() string { return l.path }

// Append writes events to the end of the log, one JSON object per line.
func (l *Log) Append(events ...Event) error {
	if len(events) == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, e := range events {
		b, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if _, err := w.Write(append(b, '\n')); err != nil {
			return fmt.Errorf("append: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// ReadFrom returns all events with offset strictly greater than after,
// together with the highest offset observed. Malformed lines are skipped
// with a warning; they still consume an offset so the cursor can move past
// them. A missing log file is an empty log, not an error.
func (l *Log) ReadFrom(after int64) ([]Event, int64, error) {
	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, after, nil
	}
	if err != nil {
		return nil, after, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	var (
		events []Event
		offset int64
		max    = after
	)
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		offset++
		if offset <= after {
			continue
		}
		line := sc.Bytes()
		var e Event
		if err := json.Unmarshal(line, &e); err != nil {
			log.Printf("eventlog: skipping malformed event at line %d: %v", offset, err)
			if offset > max {
				max = offset
			}
			continue
		}
		e.Offset = offset
		events = append(events, e)
		if offset > max {
			max = offset
		}
	}
	if err := sc.Err(); err != nil {
		return nil, after, fmt.Errorf("scan log: %w", err)
	}
	return events, max, nil
}
