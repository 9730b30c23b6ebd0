// Package cursor persists the consumer's position in the event log: a single
// plain-text integer, replaced atomically after each successful raw-layer
// write. The marker is the only state the consumer carries across runs.
package cursor

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"lakehouse/internal/fsx"
)

// Marker tracks the last fully consumed event log offset.
type Marker struct {
	path string
}

// New returns a Marker backed by path.
func New(path string) *Marker { return &Marker{path: path} }

// Load reads the persisted offset. A missing marker means nothing has been
// consumed yet and reads as 0.
func (m *Marker) Load() (int64, error) {
	b, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cursor: %w", err)
	}
	v, err := strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cursor %q: %w", strings.TrimSpace(string(b)), err)
	}
	return v, nil
}

// Store persists offset. The marker never moves backwards; a smaller value
// is rejected so a buggy caller cannot cause events to be reconsumed.
func (m *Marker) Store(offset int64) error {
	cur, err := m.Load()
	if err != nil {
		return err
	}
	if offset < cur {
		return fmt.Errorf("cursor would move backwards: %d -> %d", cur, offset)
	}
	return fsx.WriteFileAtomic(m.path, []byte(strconv.FormatInt(offset, 10)+"\n"))
}
