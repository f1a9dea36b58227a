package corpus

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sprintpilot/internal/config"
	"sprintpilot/internal/types"
)

type fakeStore struct {
	mu    sync.Mutex
	items map[string]*types.KnowledgeItem
}

func newFakeStore() *fakeStore {
	return &fakeStore{items: make(map[string]*types.KnowledgeItem)}
}

func (f *fakeStore) UpsertKnowledgeItem(item *types.KnowledgeItem, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.Name] = item
	return nil
}

func (f *fakeStore) CountKnowledgeItems() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items), nil
}

type fakeEngine struct {
	mu    sync.Mutex
	texts []string
	fail  bool
}

func (f *fakeEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("embedding backend down")
	}
	f.texts = append(f.texts, text)
	return []float32{0.1, 0.2, 0.3}, nil
}

func (f *fakeEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEngine) Dimensions() int { return 3 }
func (f *fakeEngine) Name() string    { return "fake" }

func writeItem(t *testing.T, dir, name string, item types.KnowledgeItem) string {
	t.Helper()
	data, err := json.Marshal(item)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

func validKnowledgeItem(name string) types.KnowledgeItem {
	return types.KnowledgeItem{
		Name:              name,
		Definition:        "A lens for separating reversible choices from one-way doors.",
		Mechanism:         "Classify the decision by how costly it is to undo.",
		KeyTakeaway:       "Move fast on two-way doors.",
		MainCategory:      "decision_making",
		ContentType:       "mental_model",
		TargetPersonas:    []string{"founder"},
		StartupPhases:     []string{"seed"},
		ProblemCategories: []string{"pivot"},
	}
}

func TestLoadDirIngestsValidFiles(t *testing.T) {
	dir := t.TempDir()
	writeItem(t, dir, "doors.json", validKnowledgeItem("one_way_doors"))
	writeItem(t, dir, "regret.json", validKnowledgeItem("regret_minimization"))
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("not json"), 0644)

	st := newFakeStore()
	eng := &fakeEngine{}
	loader := NewLoader(st, eng, config.CorpusConfig{IngestParallel: 4})

	report, err := loader.LoadDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if report.Loaded != 2 || report.Failed != 0 {
		t.Errorf("expected 2 loaded / 0 failed, got %d / %d", report.Loaded, report.Failed)
	}
	if _, ok := st.items["one_way_doors"]; !ok {
		t.Error("one_way_doors was not stored")
	}

	// The embedded text must carry the item's semantic fields.
	eng.mu.Lock()
	defer eng.mu.Unlock()
	found := false
	for _, text := range eng.texts {
		if strings.Contains(text, "one-way doors") && strings.Contains(text, "costly it is to undo") {
			found = true
		}
	}
	if !found {
		t.Errorf("embed text missing definition or mechanism: %v", eng.texts)
	}
}

func TestLoadDirSkipsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	writeItem(t, dir, "good.json", validKnowledgeItem("good_model"))

	bad := validKnowledgeItem("bad_persona")
	bad.TargetPersonas = []string{"astronaut"}
	writeItem(t, dir, "bad.json", bad)

	os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0644)

	st := newFakeStore()
	loader := NewLoader(st, &fakeEngine{}, config.CorpusConfig{IngestParallel: 2})

	report, err := loader.LoadDir(context.Background(), dir)
	if err != nil {
		t.Fatalf("LoadDir failed: %v", err)
	}
	if report.Loaded != 1 || report.Failed != 2 {
		t.Errorf("expected 1 loaded / 2 failed, got %d / %d", report.Loaded, report.Failed)
	}
	if len(st.items) != 1 {
		t.Errorf("only the valid item should be stored, got %d", len(st.items))
	}
}

func TestIngestFileValidation(t *testing.T) {
	dir := t.TempDir()
	st := newFakeStore()
	loader := NewLoader(st, &fakeEngine{}, config.CorpusConfig{})

	cases := []struct {
		name    string
		mutate  func(*types.KnowledgeItem)
		wantErr string
	}{
		{"missing name", func(k *types.KnowledgeItem) { k.Name = "" }, "knowledge_piece_name"},
		{"missing definition", func(k *types.KnowledgeItem) { k.Definition = "" }, "no definition"},
		{"bad startup phase", func(k *types.KnowledgeItem) { k.StartupPhases = []string{"ipo"} }, "startup_phase"},
		{"bad category", func(k *types.KnowledgeItem) { k.ProblemCategories = []string{"weather"} }, "problem_category"},
	}
	for _, tc := range cases {
		item := validKnowledgeItem("candidate")
		tc.mutate(&item)
		path := writeItem(t, dir, "candidate.json", item)

		err := loader.IngestFile(context.Background(), path)
		if err == nil {
			t.Errorf("%s: expected an error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.wantErr) {
			t.Errorf("%s: error %q should mention %q", tc.name, err, tc.wantErr)
		}
	}
}

func TestIngestFileEmbedFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeItem(t, dir, "doors.json", validKnowledgeItem("one_way_doors"))

	st := newFakeStore()
	loader := NewLoader(st, &fakeEngine{fail: true}, config.CorpusConfig{})

	if err := loader.IngestFile(context.Background(), path); err == nil {
		t.Fatal("expected embedding failure to surface")
	}
	if len(st.items) != 0 {
		t.Error("nothing should be stored when embedding fails")
	}
}

func TestWatcherReingestsOnWrite(t *testing.T) {
	dir := t.TempDir()
	st := newFakeStore()
	loader := NewLoader(st, &fakeEngine{}, config.CorpusConfig{})

	w, err := NewWatcher(loader, dir)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.debounceDur = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer w.Stop()

	writeItem(t, dir, "doors.json", validKnowledgeItem("one_way_doors"))

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if n, _ := st.CountKnowledgeItems(); n == 1 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("watcher did not ingest the new file in time")
}
