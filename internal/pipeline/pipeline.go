// Package pipeline sequences the transformation stages — consume, clean,
// dimension merge, star build, optional warehouse export — as plain
// in-process function calls under a single-writer model: one run at a time,
// each stage completing before the next starts.
//
// Partial-failure isolation is the governing rule: a stage failure is
// recorded in the run report and the remaining independent stages still
// execute. Only event-log/cursor errors abort the cycle early, because
// nothing downstream can be fresher than the raw layer.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"lakehouse/internal/cleaner"
	"lakehouse/internal/consumer"
	"lakehouse/internal/discovery"
	"lakehouse/internal/metrics"
	"lakehouse/internal/scd"
	"lakehouse/internal/star"
	"lakehouse/internal/storage"
)

// Stage statuses in the run report.
const (
	StatusSuccess = "success"
	StatusSkip    = "skip"
	StatusFailure = "failure"
)

// StageReport is the outcome of a single stage.
type StageReport struct {
	Stage    string        `json:"stage"`
	Status   string        `json:"status"`
	Detail   string        `json:"detail,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Report is the structured outcome of one pipeline run.
type Report struct {
	RunID    string        `json:"run_id"`
	Started  time.Time     `json:"started"`
	Finished time.Time     `json:"finished"`
	Stages   []StageReport `json:"stages"`
}

// Failed reports whether any stage failed.
func (r Report) Failed() bool {
	for _, s := range r.Stages {
		if s.Status == StatusFailure {
			return true
		}
	}
	return false
}

// Pipeline wires the stages together.
type Pipeline struct {
	Consumer *consumer.Consumer
	Cleaner  *cleaner.Cleaner
	Users    *scd.Merger
	Star     *star.Builder
	Catalog  *discovery.Cache

	// Export is optional; nil disables the warehouse mirror stage.
	Export *storage.Exporter
}

// Run executes one full cycle. It never returns an error for per-entity or
// per-table conditions; those land in the report. The error return is
// reserved for the consumer path (event log unreadable, cursor unwritable),
// after which the cycle is abandoned and retried on the next invocation.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	rep := Report{RunID: uuid.NewString(), Started: time.Now()}
	log.Printf("pipeline: run %s starting", rep.RunID)

	// 1) Consume the event log into the raw layer.
	var batch consumer.BatchResult
	err := p.stage(ctx, &rep, "consume", func() (string, error) {
		err := withRetry(ctx, "consume", func() error {
			var cerr error
			batch, cerr = p.Consumer.Consume(ctx)
			return cerr
		})
		if err != nil {
			return "", err
		}
		if batch.Empty() {
			return "no new events", nil
		}
		metrics.RecordBatch()
		for entity, n := range batch.Rows {
			metrics.RecordRows(entity, "consumed", int64(n))
		}
		return fmt.Sprintf("%d events, cursor=%d", batch.Events, batch.Cursor), nil
	})
	if err != nil {
		// Nothing downstream can be fresher than the raw layer; stop here
		// and let the next cycle retry from the unchanged cursor.
		rep.Finished = time.Now()
		return rep, err
	}

	// 2) Bronze -> validated. Entities are isolated inside NormalizeAll.
	_ = p.stage(ctx, &rep, "clean", func() (string, error) {
		results, err := p.Cleaner.NormalizeAll(ctx)
		if err != nil {
			return "", err
		}
		return cleanDetail(results), nil
	})

	// 3) SCD2 merge for the user dimension.
	_ = p.stage(ctx, &rep, "scd2", func() (string, error) {
		var stats scd.Stats
		err := withRetry(ctx, "scd2", func() error {
			var err error
			stats, err = p.Users.Merge(ctx)
			return err
		})
		if err != nil {
			return "", err
		}
		if stats.Skipped {
			return "no validated users", errSkip
		}
		return fmt.Sprintf("%d closed, %d new, %d total", stats.Closed, stats.New, stats.Total), nil
	})

	// 4) Star schema: dimensions before facts so fresh keys are joinable.
	_ = p.stage(ctx, &rep, "star_dimensions", func() (string, error) {
		return starDetail(p.Star.BuildDimensions(ctx))
	})
	_ = p.stage(ctx, &rep, "star_facts", func() (string, error) {
		return starDetail(p.Star.BuildFacts(ctx))
	})

	// 5) The published layer changed shape; readers must re-discover.
	p.Catalog.Invalidate()

	// 6) Optional warehouse mirror for the query boundary.
	if p.Export != nil {
		_ = p.stage(ctx, &rep, "export", func() (string, error) {
			n, err := p.Export.Export(ctx)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d tables", n), nil
		})
	}

	rep.Finished = time.Now()
	if err := metrics.Flush(); err != nil {
		log.Printf("pipeline: metrics flush: %v", err)
	}
	log.Printf("pipeline: run %s finished in %s (failed=%v)",
		rep.RunID, rep.Finished.Sub(rep.Started).Truncate(time.Millisecond), rep.Failed())
	return rep, nil
}

// errSkip marks a stage as skipped rather than failed.
var errSkip = fmt.Errorf("stage skipped")

// stage runs fn, times it, and appends its report. The returned error is
// fn's error (nil for skips) so callers can abort on critical stages.
func (p *Pipeline) stage(ctx context.Context, rep *Report, name string, fn func() (string, error)) error {
	start := time.Now()
	detail, err := fn()
	d := time.Since(start)

	sr := StageReport{Stage: name, Detail: detail, Duration: d}
	switch {
	case err == errSkip:
		sr.Status = StatusSkip
		err = nil
	case err != nil:
		sr.Status = StatusFailure
		sr.Error = err.Error()
	default:
		sr.Status = StatusSuccess
	}
	rep.Stages = append(rep.Stages, sr)
	metrics.RecordStage(name, sr.Status, d)
	if ctx.Err() != nil && err == nil {
		err = ctx.Err()
	}
	return err
}

func cleanDetail(results []cleaner.Result) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if r.Skipped {
			parts = append(parts, r.Entity+": skip")
			continue
		}
		metrics.RecordRows(r.Entity, "validated", int64(r.RowsOut))
		metrics.RecordRows(r.Entity, "dropped", int64(r.Dropped))
		parts = append(parts, fmt.Sprintf("%s: %d", r.Entity, r.RowsOut))
	}
	return strings.Join(parts, ", ")
}

// starDetail folds per-table results into one stage detail; any table error
// marks the stage failed while the successful tables stand.
func starDetail(results []star.Result) (string, error) {
	var (
		parts    []string
		firstErr error
		allSkip  = true
	)
	for _, r := range results {
		switch {
		case r.Err != nil:
			allSkip = false
			parts = append(parts, r.Table+": failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("%s: %w", r.Table, r.Err)
			}
		case r.Skipped:
			parts = append(parts, r.Table+": skip")
		default:
			allSkip = false
			metrics.RecordRows(r.Table, "published", int64(r.Rows))
			parts = append(parts, fmt.Sprintf("%s: %d", r.Table, r.Rows))
		}
	}
	detail := strings.Join(parts, ", ")
	if firstErr != nil {
		return detail, firstErr
	}
	if allSkip {
		return detail, errSkip
	}
	return detail, nil
}
