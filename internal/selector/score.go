// Package selector implements the framework recommendation engine:
// pure scoring, diversity curation, and the pipeline that ties
// embedding search to persisted selections.
package selector

import (
	"fmt"
	"strings"

	"sprintpilot/internal/types"
)

// Fixed sub-score weights. They sum to 1.
const (
	weightDirectRelevance   = 0.30
	weightApplicabilityNow  = 0.25
	weightFoundationalValue = 0.20
	weightPersonalRelevance = 0.15
	weightSimplicityBonus   = 0.05
	weightComplementarity   = 0.05
)

// complementarityPlaceholder is used at scoring time; curation
// overwrites it with the diversity score.
const complementarityPlaceholder = 0.8

// FilterContext carries the per-session dimensions that personalize
// scoring. Empty fields mean "dimension not supplied, do not reward or
// punish".
type FilterContext struct {
	Persona         string
	StartupPhase    string
	ProblemCategory string
}

// Candidate is one knowledge item moving through the pipeline.
type Candidate struct {
	Item       *types.KnowledgeItem
	Similarity float64
	Score      float64
	Breakdown  types.ScoreBreakdown
}

// ScoreCandidate computes the six sub-scores and the weighted overall
// score for one candidate. Pure function, no I/O.
func ScoreCandidate(item *types.KnowledgeItem, similarity float64, fc FilterContext) (float64, types.ScoreBreakdown) {
	b := types.ScoreBreakdown{
		DirectRelevance:   clamp01(similarity),
		ApplicabilityNow:  applicabilityNow(item),
		FoundationalValue: foundationalValue(item),
		SimplicityBonus:   simplicityBonus(item),
		PersonalRelevance: personalRelevance(item, fc),
		Complementarity:   complementarityPlaceholder,
	}

	overall := b.DirectRelevance*weightDirectRelevance +
		b.ApplicabilityNow*weightApplicabilityNow +
		b.FoundationalValue*weightFoundationalValue +
		b.PersonalRelevance*weightPersonalRelevance +
		b.SimplicityBonus*weightSimplicityBonus +
		b.Complementarity*weightComplementarity

	b.Reasoning = buildReasoning(item, b)
	return overall, b
}

// applicabilityNow rewards concrete, actionable content over abstract
// mechanism dumps.
func applicabilityNow(item *types.KnowledgeItem) float64 {
	score := 0.7
	if len(item.ModernExample) > 50 {
		score += 0.1
	}
	if len(item.Payoff) > 30 {
		score += 0.1
	}
	if len(item.Mechanism) > 200 && len(item.ModernExample) < 50 {
		score -= 0.1
	}
	return clamp01(score)
}

func foundationalValue(item *types.KnowledgeItem) float64 {
	if item.IsSuperModel {
		return 0.9
	}
	return 0.7
}

// simplicityBonus favors models a user can absorb in one sitting.
func simplicityBonus(item *types.KnowledgeItem) float64 {
	bonus := 0.0
	if n := len(item.Definition); n > 0 && n < 200 {
		bonus += 0.05
	}
	if n := len(item.KeyTakeaway); n > 0 && n < 150 {
		bonus += 0.05
	}
	if len(item.Analogy) > 10 {
		bonus += 0.05
	}
	if bonus > 0.2 {
		bonus = 0.2
	}
	return bonus
}

func personalRelevance(item *types.KnowledgeItem, fc FilterContext) float64 {
	score := 0.5
	if fc.Persona != "" && item.HasPersona(fc.Persona) {
		score += 0.2
	}
	if fc.StartupPhase != "" && item.HasStartupPhase(fc.StartupPhase) {
		score += 0.2
	}
	if fc.ProblemCategory != "" && item.HasProblemCategory(fc.ProblemCategory) {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// buildReasoning assembles the human-readable explanation from the
// sub-scores that cleared notable thresholds.
func buildReasoning(item *types.KnowledgeItem, b types.ScoreBreakdown) string {
	var parts []string
	if b.DirectRelevance >= 0.7 {
		parts = append(parts, fmt.Sprintf("strong semantic match (%.2f)", b.DirectRelevance))
	} else if b.DirectRelevance >= 0.5 {
		parts = append(parts, "moderate semantic match")
	}
	if item.IsSuperModel {
		parts = append(parts, "foundational mental model")
	}
	if b.ApplicabilityNow >= 0.8 {
		parts = append(parts, "concrete and immediately applicable")
	}
	if b.PersonalRelevance >= 0.7 {
		parts = append(parts, "well matched to your situation")
	}
	if b.SimplicityBonus >= 0.1 {
		parts = append(parts, "quick to absorb")
	}
	if len(parts) == 0 {
		return "general relevance to the problem"
	}
	return strings.Join(parts, "; ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
