// Package usage accumulates LLM token consumption per provider, model,
// operation, session, and phase, persisted as JSON under the workspace.
package usage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"sprintpilot/internal/logging"
	"sprintpilot/internal/types"
)

// Event is one recorded LLM transaction.
type Event struct {
	Model     string
	Provider  string
	Operation string // generation, extraction, embedding
	SessionID string
	Phase     types.Phase
	Input     int
	Output    int
}

// Tracker records token usage and persists it with debounced saves.
type Tracker struct {
	mu       sync.Mutex
	data     Data
	filePath string
	dirty    bool
}

// NewTracker creates a tracker persisting to
// <workspace>/.sprintpilot/usage.json. Existing data is loaded; a
// corrupt or missing file starts fresh.
func NewTracker(workspace string) (*Tracker, error) {
	dir := filepath.Join(workspace, ".sprintpilot")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create usage dir: %w", err)
	}

	t := &Tracker{
		filePath: filepath.Join(dir, "usage.json"),
		data: Data{
			Version:   "1.0",
			Aggregate: emptyStats(),
		},
	}
	if err := t.Load(); err != nil {
		logging.Get(logging.CategoryUsage).Warn("Could not load usage data, starting fresh: %v", err)
	}
	return t, nil
}

func emptyStats() AggregatedStats {
	return AggregatedStats{
		ByProvider:  make(map[string]TokenCounts),
		ByModel:     make(map[string]TokenCounts),
		ByOperation: make(map[string]TokenCounts),
		BySession:   make(map[string]TokenCounts),
		ByPhase:     make(map[string]TokenCounts),
	}
}

// Load reads persisted usage data from disk.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &t.data); err != nil {
		return err
	}

	// A partial file may be missing maps.
	agg := &t.data.Aggregate
	if agg.ByProvider == nil {
		agg.ByProvider = make(map[string]TokenCounts)
	}
	if agg.ByModel == nil {
		agg.ByModel = make(map[string]TokenCounts)
	}
	if agg.ByOperation == nil {
		agg.ByOperation = make(map[string]TokenCounts)
	}
	if agg.BySession == nil {
		agg.BySession = make(map[string]TokenCounts)
	}
	if agg.ByPhase == nil {
		agg.ByPhase = make(map[string]TokenCounts)
	}
	return nil
}

// Save writes the usage data to disk.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *Tracker) saveLocked() error {
	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.filePath, data, 0644)
}

// Track records one usage event and schedules a debounced save.
func (t *Tracker) Track(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	agg := &t.data.Aggregate
	agg.Total.Add(e.Input, e.Output)
	addToMap(agg.ByProvider, e.Provider, e.Input, e.Output)
	addToMap(agg.ByModel, e.Model, e.Input, e.Output)
	addToMap(agg.ByOperation, e.Operation, e.Input, e.Output)
	if e.SessionID != "" {
		addToMap(agg.BySession, e.SessionID, e.Input, e.Output)
	}
	if e.Phase.Valid() {
		addToMap(agg.ByPhase, e.Phase.String(), e.Input, e.Output)
	}

	logging.Get(logging.CategoryUsage).Debug("Tracked %s/%s %s: in=%d out=%d",
		e.Provider, e.Model, e.Operation, e.Input, e.Output)

	if !t.dirty {
		t.dirty = true
		time.AfterFunc(5*time.Second, func() {
			if err := t.Save(); err != nil {
				logging.Get(logging.CategoryUsage).Warn("Failed to save usage data: %v", err)
			}
			t.mu.Lock()
			t.dirty = false
			t.mu.Unlock()
		})
	}
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := t.data.Aggregate
	stats.ByProvider = copyCounts(stats.ByProvider)
	stats.ByModel = copyCounts(stats.ByModel)
	stats.ByOperation = copyCounts(stats.ByOperation)
	stats.BySession = copyCounts(stats.BySession)
	stats.ByPhase = copyCounts(stats.ByPhase)
	return stats
}

func copyCounts(src map[string]TokenCounts) map[string]TokenCounts {
	dst := make(map[string]TokenCounts, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func addToMap(m map[string]TokenCounts, key string, input, output int) {
	entry := m[key]
	entry.Add(input, output)
	m[key] = entry
}
