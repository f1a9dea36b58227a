// Package corpus ingests knowledge-item JSON files into the store,
// embedding each item so the selector can search them.
package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"sprintpilot/internal/config"
	"sprintpilot/internal/embedding"
	"sprintpilot/internal/logging"
	"sprintpilot/internal/types"
)

// Store is the slice of the persistence layer the loader needs.
type Store interface {
	UpsertKnowledgeItem(item *types.KnowledgeItem, vector []float32) error
	CountKnowledgeItems() (int, error)
}

// Loader reads knowledge files from disk, validates them, embeds their
// text, and upserts them into the store. Re-ingesting the same file is
// idempotent; items are keyed by name.
type Loader struct {
	store    Store
	engine   embedding.Engine
	parallel int
}

// Report summarizes one LoadDir run.
type Report struct {
	Loaded int
	Failed int
	Errors []error
}

// NewLoader builds a Loader from corpus configuration.
func NewLoader(store Store, engine embedding.Engine, cfg config.CorpusConfig) *Loader {
	parallel := cfg.IngestParallel
	if parallel < 1 {
		parallel = 1
	}
	return &Loader{store: store, engine: engine, parallel: parallel}
}

// LoadDir ingests every .json file under dir, embedding files in
// parallel up to the configured limit. A file that fails validation or
// embedding is counted and reported but does not stop the run; only a
// directory-level failure returns an error.
func (l *Loader) LoadDir(ctx context.Context, dir string) (*Report, error) {
	timer := logging.StartTimer(logging.CategoryCorpus, "LoadDir")
	defer timer.Stop()

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read corpus directory %s: %w", dir, err)
	}

	if hc, ok := l.engine.(embedding.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return nil, fmt.Errorf("embedding engine unavailable: %w", err)
		}
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	logging.Corpus("Ingesting %d knowledge files from %s (parallel=%d)", len(paths), dir, l.parallel)

	var (
		mu     sync.Mutex
		report Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.parallel)

	for _, path := range paths {
		g.Go(func() error {
			err := l.IngestFile(gctx, path)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				report.Errors = append(report.Errors, fmt.Errorf("%s: %w", filepath.Base(path), err))
				logging.Get(logging.CategoryCorpus).Warn("Skipping %s: %v", filepath.Base(path), err)
				return nil
			}
			report.Loaded++
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return &report, err
	}

	total, _ := l.store.CountKnowledgeItems()
	logging.Corpus("Ingestion complete: %d loaded, %d failed, corpus size %d",
		report.Loaded, report.Failed, total)
	return &report, nil
}

// IngestFile parses, validates, embeds, and stores a single knowledge
// file.
func (l *Loader) IngestFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read knowledge file: %w", err)
	}

	var item types.KnowledgeItem
	if err := json.Unmarshal(data, &item); err != nil {
		return fmt.Errorf("invalid knowledge JSON: %w", err)
	}
	if err := validateItem(&item); err != nil {
		return err
	}

	vector, err := l.engine.Embed(ctx, embedText(&item))
	if err != nil {
		return fmt.Errorf("failed to embed %q: %w", item.Name, err)
	}

	if err := l.store.UpsertKnowledgeItem(&item, vector); err != nil {
		return fmt.Errorf("failed to store %q: %w", item.Name, err)
	}
	logging.CorpusDebug("Ingested %q (super_model=%v, category=%s)",
		item.Name, item.IsSuperModel, item.MainCategory)
	return nil
}

// embedText is the searchable representation of an item. Definition and
// mechanism carry the semantics; the takeaway sharpens short items.
func embedText(item *types.KnowledgeItem) string {
	parts := []string{item.Name, item.Definition}
	if item.Mechanism != "" {
		parts = append(parts, item.Mechanism)
	}
	if item.KeyTakeaway != "" {
		parts = append(parts, item.KeyTakeaway)
	}
	return strings.Join(parts, "\n\n")
}
