package selector

import (
	"testing"

	"sprintpilot/internal/types"
)

func candidate(id, category, contentType string, super bool, similarity float64) Candidate {
	item := &types.KnowledgeItem{
		ID:           id,
		Name:         id,
		MainCategory: category,
		ContentType:  contentType,
		IsSuperModel: super,
	}
	score, breakdown := ScoreCandidate(item, similarity, FilterContext{})
	return Candidate{Item: item, Similarity: similarity, Score: score, Breakdown: breakdown}
}

func defaultCurator() *Curator {
	return &Curator{MaxFrameworks: 5, DiversityWeight: 0.3, IncludeSuperModels: true}
}

func TestCurateSuperModelRanksFirstOnEqualRelevance(t *testing.T) {
	candidates := []Candidate{
		candidate("plain", "strategy", "framework", false, 0.9),
		candidate("super", "psychology", "framework", true, 0.9),
	}

	curated := defaultCurator().Curate(candidates)
	if len(curated) < 2 {
		t.Fatalf("expected both candidates, got %d", len(curated))
	}
	if curated[0].Item.ID != "super" {
		t.Errorf("super model must rank first on equal relevance, got %s", curated[0].Item.ID)
	}
	if curated[0].Breakdown.Complementarity != 1.0 {
		t.Errorf("first pick should have full diversity, got %.2f", curated[0].Breakdown.Complementarity)
	}
}

func TestCurateMinimumTwoGuarantee(t *testing.T) {
	// Two weak candidates in the same category: the second one's
	// adjusted score falls below the 0.6 acceptance threshold, yet both
	// must be accepted.
	candidates := []Candidate{
		candidate("a", "strategy", "framework", false, 0.05),
		candidate("b", "strategy", "framework", false, 0.04),
	}

	curated := defaultCurator().Curate(candidates)
	if len(curated) != 2 {
		t.Fatalf("minimum-two guarantee violated: got %d items", len(curated))
	}
}

func TestCurateDiversityPenalty(t *testing.T) {
	c := defaultCurator()
	c.IncludeSuperModels = false
	candidates := []Candidate{
		candidate("first", "strategy", "framework", false, 0.95),
		candidate("same-both", "strategy", "framework", false, 0.9),
		candidate("fresh", "psychology", "story", false, 0.9),
	}

	curated := c.Curate(candidates)
	if len(curated) != 3 {
		t.Fatalf("expected 3 curated, got %d", len(curated))
	}

	var sameBoth, fresh Candidate
	for _, cand := range curated {
		switch cand.Item.ID {
		case "same-both":
			sameBoth = cand
		case "fresh":
			fresh = cand
		}
	}
	if diff := sameBoth.Breakdown.Complementarity - 0.7; diff > 0.0001 || diff < -0.0001 {
		t.Errorf("repeated category and type should give diversity 0.7, got %.4f", sameBoth.Breakdown.Complementarity)
	}
	if diff := fresh.Breakdown.Complementarity - 1.0; diff > 0.0001 || diff < -0.0001 {
		t.Errorf("fresh category and type should keep diversity 1.0, got %.4f", fresh.Breakdown.Complementarity)
	}
	if fresh.Score <= sameBoth.Score {
		t.Error("equal base scores should rank the diverse candidate higher")
	}
}

func TestCurateRespectsMaxFrameworks(t *testing.T) {
	c := defaultCurator()
	c.MaxFrameworks = 3
	var candidates []Candidate
	categories := []string{"a", "b", "c", "d", "e", "f"}
	for i, cat := range categories {
		candidates = append(candidates, candidate(cat, cat, "framework", false, 0.95-float64(i)*0.01))
	}

	curated := c.Curate(candidates)
	if len(curated) != 3 {
		t.Errorf("expected max 3 curated, got %d", len(curated))
	}
}

func TestCurateAdjustedScoresDescending(t *testing.T) {
	candidates := []Candidate{
		candidate("a", "strategy", "framework", false, 0.9),
		candidate("b", "psychology", "story", true, 0.7),
		candidate("c", "economics", "framework", false, 0.8),
		candidate("d", "strategy", "story", false, 0.75),
	}

	curated := defaultCurator().Curate(candidates)
	for i := 1; i < len(curated); i++ {
		if curated[i].Score > curated[i-1].Score {
			t.Errorf("curated output not sorted at %d: %.3f > %.3f", i, curated[i].Score, curated[i-1].Score)
		}
	}
}

func TestCurateEmptyInput(t *testing.T) {
	if got := defaultCurator().Curate(nil); got != nil {
		t.Errorf("no candidates should curate to nil, got %v", got)
	}
}

func TestCurateSuperModelsDisabled(t *testing.T) {
	c := defaultCurator()
	c.IncludeSuperModels = false
	candidates := []Candidate{
		candidate("plain", "strategy", "framework", false, 0.9),
		candidate("super", "psychology", "framework", true, 0.5),
	}

	curated := c.Curate(candidates)
	if curated[0].Item.ID != "plain" {
		t.Errorf("with super models disabled the best base score wins, got %s", curated[0].Item.ID)
	}
}
