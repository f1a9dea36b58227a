package selector

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"sprintpilot/internal/config"
	"sprintpilot/internal/fault"
	"sprintpilot/internal/store"
	"sprintpilot/internal/types"
)

type fakeSelectorStore struct {
	brief      *types.ProblemBrief
	hits       []types.SearchHit
	items      map[string]*types.KnowledgeItem
	persisted  []*types.FrameworkSelection
	searchErr  error
	persistErr error
}

func (f *fakeSelectorStore) CurrentArtifact(sessionID string, t types.ArtifactType) (*types.Artifact, error) {
	if t == types.ArtifactProblemBrief && f.brief != nil {
		return &types.Artifact{SessionID: sessionID, Content: *f.brief}, nil
	}
	return nil, fmt.Errorf("artifact %s: %w", t, store.ErrNotFound)
}

func (f *fakeSelectorStore) SearchSimilar(queryVector []float32, threshold float64, limit int) ([]types.SearchHit, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.hits) > limit {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func (f *fakeSelectorStore) GetKnowledgeItems(ids []string) ([]*types.KnowledgeItem, error) {
	var items []*types.KnowledgeItem
	for _, id := range ids {
		if item, ok := f.items[id]; ok {
			items = append(items, item)
		}
	}
	return items, nil
}

func (f *fakeSelectorStore) ReplaceSelections(sessionID string, selections []*types.FrameworkSelection) error {
	if f.persistErr != nil {
		return f.persistErr
	}
	f.persisted = selections
	return nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func selectorConfig() config.SelectorConfig {
	return config.SelectorConfig{
		MaxFrameworks:      3,
		MinSimilarity:      0.3,
		DiversityWeight:    0.3,
		IncludeSuperModels: true,
	}
}

func selectionSession() *types.Session {
	return &types.Session{
		ID:           "sess-1",
		Status:       types.SessionActive,
		CurrentPhase: types.PhaseFrameworkSelection,
		Config:       types.SessionConfig{Persona: "founder"},
	}
}

func corpusFixture() map[string]*types.KnowledgeItem {
	return map[string]*types.KnowledgeItem{
		"ki-1": {ID: "ki-1", Name: "First Principles", IsSuperModel: true,
			MainCategory: "thinking", ContentType: "framework"},
		"ki-2": {ID: "ki-2", Name: "Opportunity Cost",
			MainCategory: "economics", ContentType: "framework"},
		"ki-3": {ID: "ki-3", Name: "Regret Minimization",
			MainCategory: "psychology", ContentType: "story"},
		"ki-exec": {ID: "ki-exec", Name: "Executive Only",
			MainCategory: "operations", ContentType: "framework",
			TargetPersonas: []string{"executive"}},
	}
}

func TestSelectFrameworksPipeline(t *testing.T) {
	st := &fakeSelectorStore{
		brief: &types.ProblemBrief{Statement: "Should we pivot to enterprise?", Context: "SMB churn is climbing"},
		hits: []types.SearchHit{
			{KnowledgeItemID: "ki-1", Similarity: 0.9},
			{KnowledgeItemID: "ki-2", Similarity: 0.85},
			{KnowledgeItemID: "ki-3", Similarity: 0.8},
			{KnowledgeItemID: "ki-exec", Similarity: 0.95},
		},
		items: corpusFixture(),
	}
	svc := NewService(st, &fakeEmbedder{}, selectorConfig())

	selections, err := svc.SelectFrameworks(context.Background(), selectionSession())
	if err != nil {
		t.Fatalf("SelectFrameworks failed: %v", err)
	}
	if len(selections) == 0 {
		t.Fatal("expected selections")
	}

	// Ranks are contiguous 1..N, scores descending.
	for i, sel := range selections {
		if sel.Rank != i+1 {
			t.Errorf("rank at %d is %d, want %d", i, sel.Rank, i+1)
		}
		if i > 0 && sel.OverallScore > selections[i-1].OverallScore {
			t.Errorf("scores not descending at rank %d", sel.Rank)
		}
	}

	// The super model leads; the persona-filtered item is excluded even
	// though it had the highest raw similarity.
	if selections[0].KnowledgeItemID != "ki-1" {
		t.Errorf("expected super model first, got %s", selections[0].KnowledgeItemID)
	}
	for _, sel := range selections {
		if sel.KnowledgeItemID == "ki-exec" {
			t.Error("persona-mismatched item must be filtered out")
		}
	}

	if len(st.persisted) != len(selections) {
		t.Errorf("persisted %d selections, returned %d", len(st.persisted), len(selections))
	}
}

func TestSelectFrameworksEmbeddingFailureAborts(t *testing.T) {
	st := &fakeSelectorStore{
		brief: &types.ProblemBrief{Statement: "Should we pivot?"},
	}
	svc := NewService(st, &fakeEmbedder{err: errors.New("service down")}, selectorConfig())

	_, err := svc.SelectFrameworks(context.Background(), selectionSession())
	if fault.CodeOf(err) != fault.CodeFrameworkSelectionFailed {
		t.Fatalf("expected %s, got %v", fault.CodeFrameworkSelectionFailed, err)
	}
	var f *fault.Error
	if !errors.As(err, &f) || f.Cause == nil {
		t.Error("wrapped error must preserve the root cause")
	}
	if st.persisted != nil {
		t.Error("no partial results may be persisted")
	}
}

func TestSelectFrameworksSearchFailureAborts(t *testing.T) {
	st := &fakeSelectorStore{
		brief:     &types.ProblemBrief{Statement: "Should we pivot?"},
		searchErr: errors.New("index corrupt"),
	}
	svc := NewService(st, &fakeEmbedder{}, selectorConfig())

	_, err := svc.SelectFrameworks(context.Background(), selectionSession())
	if fault.CodeOf(err) != fault.CodeFrameworkSelectionFailed {
		t.Fatalf("expected %s, got %v", fault.CodeFrameworkSelectionFailed, err)
	}
	if st.persisted != nil {
		t.Error("no partial results may be persisted")
	}
}

func TestSelectFrameworksPersistFailureAborts(t *testing.T) {
	st := &fakeSelectorStore{
		brief:      &types.ProblemBrief{Statement: "Should we pivot?"},
		hits:       []types.SearchHit{{KnowledgeItemID: "ki-2", Similarity: 0.9}},
		items:      corpusFixture(),
		persistErr: errors.New("disk full"),
	}
	svc := NewService(st, &fakeEmbedder{}, selectorConfig())

	_, err := svc.SelectFrameworks(context.Background(), selectionSession())
	if fault.CodeOf(err) != fault.CodeFrameworkSelectionFailed {
		t.Fatalf("expected %s, got %v", fault.CodeFrameworkSelectionFailed, err)
	}
}

func TestSelectFrameworksNoHits(t *testing.T) {
	st := &fakeSelectorStore{
		brief: &types.ProblemBrief{Statement: "Should we pivot?"},
	}
	svc := NewService(st, &fakeEmbedder{}, selectorConfig())

	selections, err := svc.SelectFrameworks(context.Background(), selectionSession())
	if err != nil {
		t.Fatalf("no hits should not be an error: %v", err)
	}
	if selections != nil {
		t.Errorf("expected nil selections, got %v", selections)
	}
}

func TestSelectFrameworksNoBriefFails(t *testing.T) {
	svc := NewService(&fakeSelectorStore{}, &fakeEmbedder{}, selectorConfig())

	_, err := svc.SelectFrameworks(context.Background(), selectionSession())
	if fault.CodeOf(err) != fault.CodeFrameworkSelectionFailed {
		t.Fatalf("missing brief should fail selection, got %v", err)
	}
}

func TestSessionMaxFrameworksOverride(t *testing.T) {
	st := &fakeSelectorStore{
		brief: &types.ProblemBrief{Statement: "Should we pivot to enterprise sales?"},
		hits: []types.SearchHit{
			{KnowledgeItemID: "ki-1", Similarity: 0.9},
			{KnowledgeItemID: "ki-2", Similarity: 0.85},
			{KnowledgeItemID: "ki-3", Similarity: 0.8},
		},
		items: corpusFixture(),
	}
	svc := NewService(st, &fakeEmbedder{}, selectorConfig())

	session := selectionSession()
	session.Config.MaxFrameworks = 2
	selections, err := svc.SelectFrameworks(context.Background(), session)
	if err != nil {
		t.Fatalf("SelectFrameworks failed: %v", err)
	}
	if len(selections) > 2 {
		t.Errorf("session override should cap at 2, got %d", len(selections))
	}
}
