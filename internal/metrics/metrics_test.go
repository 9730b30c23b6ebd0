package metrics

import (
	"testing"
	"time"
)

// captureBackend records calls for assertions.
type captureBackend struct {
	counters   map[string]float64
	histograms map[string][]float64
	flushed    int
}

func newCapture() *captureBackend {
	return &captureBackend{counters: map[string]float64{}, histograms: map[string][]float64{}}
}

func (c *captureBackend) key(name string, labels Labels) string {
	k := name
	for _, lk := range []string{"stage", "status", "entity", "kind"} {
		if v, ok := labels[lk]; ok {
			k += "|" + lk + "=" + v
		}
	}
	return k
}

func (c *captureBackend) IncCounter(name string, delta float64, labels Labels) {
	c.counters[c.key(name, labels)] += delta
}

func (c *captureBackend) ObserveHistogram(name string, value float64, labels Labels) {
	k := c.key(name, labels)
	c.histograms[k] = append(c.histograms[k], value)
}

func (c *captureBackend) Flush() error {
	c.flushed++
	return nil
}

func TestRecordStage(t *testing.T) {
	b := newCapture()
	SetBackend(b)
	defer SetBackend(nopBackend{})

	RecordStage("clean", "success", 250*time.Millisecond)
	RecordStage("clean", "success", 150*time.Millisecond)
	RecordStage("export", "failure", time.Second)

	if got := b.counters["pipeline_stage_total|stage=clean|status=success"]; got != 2 {
		t.Errorf("clean successes = %v, want 2", got)
	}
	if got := b.counters["pipeline_stage_total|stage=export|status=failure"]; got != 1 {
		t.Errorf("export failures = %v, want 1", got)
	}
	durs := b.histograms["pipeline_stage_duration_seconds|stage=clean|status=success"]
	if len(durs) != 2 || durs[0] != 0.25 {
		t.Errorf("durations = %v", durs)
	}
}

func TestRecordRows(t *testing.T) {
	b := newCapture()
	SetBackend(b)
	defer SetBackend(nopBackend{})

	RecordRows("users", "validated", 10)
	RecordRows("users", "validated", 5)
	RecordRows("users", "dropped", 0) // no-op

	if got := b.counters["pipeline_rows_total|entity=users|kind=validated"]; got != 15 {
		t.Errorf("validated = %v, want 15", got)
	}
	if _, ok := b.counters["pipeline_rows_total|entity=users|kind=dropped"]; ok {
		t.Error("zero delta should not be recorded")
	}
}

func TestSetBackend_NilKeepsCurrent(t *testing.T) {
	b := newCapture()
	SetBackend(b)
	defer SetBackend(nopBackend{})

	SetBackend(nil)
	RecordBatch()
	if got := b.counters["pipeline_batches_total"]; got != 1 {
		t.Errorf("batches = %v, want 1 (nil must not replace the backend)", got)
	}
}

func TestFlushDelegates(t *testing.T) {
	b := newCapture()
	SetBackend(b)
	defer SetBackend(nopBackend{})

	if err := Flush(); err != nil {
		t.Fatal(err)
	}
	if b.flushed != 1 {
		t.Errorf("flushed = %d", b.flushed)
	}
}
