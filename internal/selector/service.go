package selector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"sprintpilot/internal/config"
	"sprintpilot/internal/fault"
	"sprintpilot/internal/logging"
	"sprintpilot/internal/store"
	"sprintpilot/internal/types"
)

// Store is the slice of the persistent store the selector needs.
type Store interface {
	CurrentArtifact(sessionID string, t types.ArtifactType) (*types.Artifact, error)
	SearchSimilar(queryVector []float32, threshold float64, limit int) ([]types.SearchHit, error)
	GetKnowledgeItems(ids []string) ([]*types.KnowledgeItem, error)
	ReplaceSelections(sessionID string, selections []*types.FrameworkSelection) error
}

// Embedder generates the query vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service runs the recommendation pipeline: embed the problem, search
// the corpus, filter, score, curate, persist. Any stage failure aborts
// the whole run; partial results are never persisted.
type Service struct {
	store    Store
	embedder Embedder
	cfg      config.SelectorConfig
}

// NewService wires the selector pipeline.
func NewService(store Store, embedder Embedder, cfg config.SelectorConfig) *Service {
	if cfg.MaxFrameworks <= 0 {
		cfg.MaxFrameworks = 5
	}
	return &Service{store: store, embedder: embedder, cfg: cfg}
}

// SelectFrameworks produces and persists a ranked recommendation batch
// for the session. Each pipeline stage is timed separately.
func (s *Service) SelectFrameworks(ctx context.Context, session *types.Session) ([]*types.FrameworkSelection, error) {
	timer := logging.StartTimer(logging.CategorySelector, "SelectFrameworks")
	defer timer.Stop()

	wrap := func(code fault.Code, op string, err error) error {
		inner := fault.New(code, op, err).WithSession(session.ID, session.CurrentPhase)
		return fault.New(fault.CodeFrameworkSelectionFailed, "selector.SelectFrameworks", inner).
			WithSession(session.ID, session.CurrentPhase).
			WithSuggestion("send another message to retry framework selection")
	}

	query, err := s.buildQuery(session)
	if err != nil {
		return nil, wrap(fault.CodePersistenceFailed, "selector.buildQuery", err)
	}

	// Stage 1: embed the problem.
	embedTimer := logging.StartTimer(logging.CategorySelector, "stage.embed")
	vector, err := s.embedder.Embed(ctx, query)
	embedTimer.Stop()
	if err != nil {
		return nil, wrap(fault.CodeEmbeddingFailed, "selector.embed", err)
	}

	// Stage 2: semantic search, over-fetching for the filter and
	// diversity stages to prune.
	searchTimer := logging.StartTimer(logging.CategorySelector, "stage.search")
	hits, err := s.store.SearchSimilar(vector, s.cfg.MinSimilarity, 3*s.cfg.MaxFrameworks)
	searchTimer.Stop()
	if err != nil {
		return nil, wrap(fault.CodeSearchFailed, "selector.search", err)
	}
	if len(hits) == 0 {
		logging.Selector("No corpus hits above similarity %.2f for session %s", s.cfg.MinSimilarity, session.ID)
		return nil, nil
	}

	// Stage 3: fetch full records and apply hard filters.
	fetchTimer := logging.StartTimer(logging.CategorySelector, "stage.fetch")
	candidates, err := s.loadCandidates(session, hits)
	fetchTimer.Stop()
	if err != nil {
		return nil, wrap(fault.CodePersistenceFailed, "selector.fetchCandidates", err)
	}

	// Stage 4: score.
	scoreTimer := logging.StartTimer(logging.CategorySelector, "stage.score")
	fc := FilterContext{
		Persona:         session.Config.Persona,
		StartupPhase:    session.Config.StartupPhase,
		ProblemCategory: session.Config.ProblemCategory,
	}
	for i := range candidates {
		candidates[i].Score, candidates[i].Breakdown = ScoreCandidate(candidates[i].Item, candidates[i].Similarity, fc)
	}
	scoreTimer.Stop()

	// Stage 5: curate a diverse subset.
	curateTimer := logging.StartTimer(logging.CategorySelector, "stage.curate")
	curator := &Curator{
		MaxFrameworks:      s.maxFrameworks(session),
		DiversityWeight:    s.cfg.DiversityWeight,
		IncludeSuperModels: s.cfg.IncludeSuperModels,
	}
	curated := curator.Curate(candidates)
	curateTimer.Stop()

	// Stage 6: persist, ranked.
	selections := make([]*types.FrameworkSelection, 0, len(curated))
	for i, cand := range curated {
		selections = append(selections, &types.FrameworkSelection{
			SessionID:       session.ID,
			KnowledgeItemID: cand.Item.ID,
			OverallScore:    cand.Score,
			Breakdown:       cand.Breakdown,
			Rank:            i + 1,
			SelectionReason: cand.Breakdown.Reasoning,
		})
	}

	persistTimer := logging.StartTimer(logging.CategorySelector, "stage.persist")
	err = s.store.ReplaceSelections(session.ID, selections)
	persistTimer.Stop()
	if err != nil {
		return nil, wrap(fault.CodePersistenceFailed, "selector.persist", err)
	}

	logging.Selector("Selected %d frameworks for session %s", len(selections), session.ID)
	return selections, nil
}

// buildQuery assembles the search text from the current problem brief,
// enriched with diagnostic findings when present.
func (s *Service) buildQuery(session *types.Session) (string, error) {
	var parts []string

	artifact, err := s.store.CurrentArtifact(session.ID, types.ArtifactProblemBrief)
	if err == nil {
		if brief, ok := artifact.Content.(types.ProblemBrief); ok {
			parts = append(parts, brief.Statement, brief.Context)
		}
	} else if !isNotFound(err) {
		return "", err
	}

	if artifact, err := s.store.CurrentArtifact(session.ID, types.ArtifactDiagnosticNotes); err == nil {
		if notes, ok := artifact.Content.(types.DiagnosticNotes); ok {
			parts = append(parts, notes.KeyFindings...)
		}
	}

	query := strings.TrimSpace(strings.Join(nonEmpty(parts), "\n"))
	if query == "" {
		return "", fmt.Errorf("session has no problem brief to search with")
	}
	return query, nil
}

// loadCandidates fetches the full records for search hits and drops any
// that fail the hard persona/phase/category filters.
func (s *Service) loadCandidates(session *types.Session, hits []types.SearchHit) ([]Candidate, error) {
	ids := make([]string, len(hits))
	similarity := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.KnowledgeItemID
		similarity[h.KnowledgeItemID] = h.Similarity
	}

	items, err := s.store.GetKnowledgeItems(ids)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	dropped := 0
	for _, item := range items {
		if !passesFilters(item, session.Config) {
			dropped++
			continue
		}
		candidates = append(candidates, Candidate{Item: item, Similarity: similarity[item.ID]})
	}
	if dropped > 0 {
		logging.SelectorDebug("Filters dropped %d of %d candidates", dropped, len(items))
	}
	return candidates, nil
}

// passesFilters applies hard exclusion: an item that declares target
// dimensions which contradict the session's configuration is out.
// Items with no declared dimension always pass.
func passesFilters(item *types.KnowledgeItem, cfg types.SessionConfig) bool {
	if cfg.Persona != "" && len(item.TargetPersonas) > 0 && !item.HasPersona(cfg.Persona) {
		return false
	}
	if cfg.StartupPhase != "" && len(item.StartupPhases) > 0 && !item.HasStartupPhase(cfg.StartupPhase) {
		return false
	}
	if cfg.ProblemCategory != "" && len(item.ProblemCategories) > 0 && !item.HasProblemCategory(cfg.ProblemCategory) {
		return false
	}
	return true
}

func (s *Service) maxFrameworks(session *types.Session) int {
	if session.Config.MaxFrameworks > 0 {
		return session.Config.MaxFrameworks
	}
	return s.cfg.MaxFrameworks
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
