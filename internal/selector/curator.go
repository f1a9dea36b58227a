package selector

import (
	"sort"

	"sprintpilot/internal/logging"
)

// Curator greedily selects a diverse, size-bounded subset of scored
// candidates. Deterministic for equal inputs.
type Curator struct {
	MaxFrameworks      int
	DiversityWeight    float64
	IncludeSuperModels bool
}

// Curate picks the final recommendation set and rewrites each accepted
// candidate's Complementarity and overall Score with the
// diversity-adjusted values. The result is sorted by adjusted score,
// descending.
func (c *Curator) Curate(candidates []Candidate) []Candidate {
	if len(candidates) == 0 || c.MaxFrameworks <= 0 {
		return nil
	}

	// Descending base score; stable so equal scores keep input order.
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	usedCategories := make(map[string]bool)
	usedTypes := make(map[string]bool)
	var accepted []Candidate

	accept := func(cand Candidate, diversity float64) {
		adjusted := cand.Score*(1-c.DiversityWeight) + diversity*c.DiversityWeight
		cand.Breakdown.Complementarity = diversity
		cand.Score = adjusted
		usedCategories[cand.Item.MainCategory] = true
		usedTypes[cand.Item.ContentType] = true
		accepted = append(accepted, cand)
	}

	// The best super model is always in, ahead of any threshold.
	superIdx := -1
	if c.IncludeSuperModels {
		for i, cand := range sorted {
			if cand.Item.IsSuperModel {
				superIdx = i
				break
			}
		}
	}
	if superIdx >= 0 {
		accept(sorted[superIdx], 1.0)
	}

	for i, cand := range sorted {
		if i == superIdx {
			continue
		}
		if len(accepted) >= c.MaxFrameworks {
			break
		}

		diversity := 1.0
		if usedCategories[cand.Item.MainCategory] {
			diversity -= 0.2
		}
		if usedTypes[cand.Item.ContentType] {
			diversity -= 0.1
		}

		adjusted := cand.Score*(1-c.DiversityWeight) + diversity*c.DiversityWeight
		// Accept on merit, or to guarantee a minimum of two
		// recommendations when candidates exist.
		if adjusted > 0.6 || len(accepted) < 2 {
			accept(cand, diversity)
		}
	}

	sort.SliceStable(accepted, func(i, j int) bool {
		return accepted[i].Score > accepted[j].Score
	})

	logging.ScoringDebug("Curated %d of %d candidates (max=%d)", len(accepted), len(candidates), c.MaxFrameworks)
	return accepted
}
