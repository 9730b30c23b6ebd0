// Package main wires the lakehouse pipeline end-to-end. This file keeps the
// CLI layer thin: it builds the stage graph from a decoded config and
// resolves the storage backend behind the storage-agnostic Repository
// interface, so main never touches database drivers directly.
package main

import (
	"context"
	"fmt"

	"lakehouse/internal/cleaner"
	"lakehouse/internal/config"
	"lakehouse/internal/consumer"
	"lakehouse/internal/cursor"
	"lakehouse/internal/discovery"
	"lakehouse/internal/eventlog"
	"lakehouse/internal/mapping"
	"lakehouse/internal/pipeline"
	"lakehouse/internal/scd"
	"lakehouse/internal/star"
	"lakehouse/internal/storage"
	"lakehouse/internal/storage/postgres"
	"lakehouse/internal/storage/sqlite"
)

// Function variables used to introduce test seams.
// In production these point to real implementations; tests can override them.
var (
	newSQLiteFn   = func(ctx context.Context, dsn string) (storage.Repository, error) { return sqlite.New(ctx, dsn) }
	newPostgresFn = func(ctx context.Context, dsn string) (storage.Repository, error) { return postgres.New(ctx, dsn) }
)

// buildPipeline assembles the stage graph from cfg. The returned cleanup
// closes the storage backend when one was opened; it is safe to call always.
func buildPipeline(ctx context.Context, cfg config.Config) (*pipeline.Pipeline, func(), error) {
	catalog := discovery.NewCache(cfg.Layers.PublishedDir())

	p := &pipeline.Pipeline{
		Consumer: &consumer.Consumer{
			Log:    eventlog.New(cfg.Events.LogPath),
			Marker: cursor.New(cfg.Events.CursorPath),
			RawDir: cfg.Layers.RawDir(),
		},
		Cleaner: &cleaner.Cleaner{
			RawDir:       cfg.Layers.RawDir(),
			ValidatedDir: cfg.Layers.ValidatedDir(),
			Mapper:       buildMapper(cfg.Mapping),
			Scrub:        cleaner.Scrubber{FoldDiacritics: cfg.Mapping.FoldDiacritics},
		},
		Users: scd.Users(cfg.Layers.ValidatedDir(), cfg.Layers.PublishedDir()),
		Star: &star.Builder{
			ValidatedDir: cfg.Layers.ValidatedDir(),
			PublishedDir: cfg.Layers.PublishedDir(),
		},
		Catalog: catalog,
	}

	cleanup := func() {}
	if cfg.Storage.Kind != "" {
		repo, err := openRepository(ctx, cfg.Storage)
		if err != nil {
			return nil, cleanup, fmt.Errorf("storage: %w", err)
		}
		cleanup = repo.Close
		p.Export = &storage.Exporter{
			Repo:      repo,
			Cache:     catalog,
			BatchSize: cfg.Storage.BatchSize,
		}
	}
	return p, cleanup, nil
}

// buildMapper layers the configured static map over the heuristic ruleset.
// The static map wins so operators can pin a header the heuristics would
// misread.
func buildMapper(m config.Mapping) mapping.ColumnMapper {
	var chain mapping.Chain
	if len(m.HeaderMap) > 0 {
		chain = append(chain, mapping.Static(m.HeaderMap))
	}
	if m.Heuristic || len(m.HeaderMap) == 0 {
		chain = append(chain, mapping.NewHeuristic())
	}
	if len(chain) == 1 {
		return chain[0]
	}
	return chain
}

func openRepository(ctx context.Context, cfg config.Storage) (storage.Repository, error) {
	switch cfg.Kind {
	case "sqlite":
		return newSQLiteFn(ctx, cfg.DSN)
	case "postgres":
		return newPostgresFn(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage kind %q", cfg.Kind)
	}
}
