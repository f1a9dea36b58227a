package phase

import (
	"strings"

	"sprintpilot/internal/types"
)

// mergedContent is the union of all current artifacts created in one
// phase, flattened for element presence checks.
type mergedContent struct {
	brief          types.ProblemBrief
	notes          types.DiagnosticNotes
	classification types.ClassificationResult
	application    types.ApplicationNotes
	memo           types.CommitmentMemo
	selectionCount int
}

// mergeArtifacts folds artifact payloads into one view. Later artifacts
// win on scalar fields; list fields are unioned.
func mergeArtifacts(artifacts []*types.Artifact) mergedContent {
	var m mergedContent
	for _, a := range artifacts {
		switch c := a.Content.(type) {
		case types.ProblemBrief:
			if c.Statement != "" {
				m.brief.Statement = c.Statement
			}
			if c.Context != "" {
				m.brief.Context = c.Context
			}
			if c.Urgency != "" {
				m.brief.Urgency = c.Urgency
			}
			m.brief.Stakeholders = unionStrings(m.brief.Stakeholders, c.Stakeholders)
		case types.DiagnosticNotes:
			m.notes.Stakeholders = unionStrings(m.notes.Stakeholders, c.Stakeholders)
			m.notes.Constraints = unionStrings(m.notes.Constraints, c.Constraints)
			m.notes.SuccessCriteria = unionStrings(m.notes.SuccessCriteria, c.SuccessCriteria)
			m.notes.KeyFindings = unionStrings(m.notes.KeyFindings, c.KeyFindings)
		case types.ClassificationResult:
			m.classification = c
		case types.ApplicationNotes:
			m.application.FrameworkIDs = unionStrings(m.application.FrameworkIDs, c.FrameworkIDs)
			m.application.Insights = unionStrings(m.application.Insights, c.Insights)
			m.application.Decisions = unionStrings(m.application.Decisions, c.Decisions)
			m.application.NextSteps = unionStrings(m.application.NextSteps, c.NextSteps)
		case types.CommitmentMemo:
			m.memo = c
		}
	}
	return m
}

// hasElement implements the per-phase presence predicates.
func (m *mergedContent) hasElement(element string) bool {
	switch element {
	case ElementProblemStatement:
		return strings.TrimSpace(m.brief.Statement) != ""
	case ElementContext:
		return strings.TrimSpace(m.brief.Context) != ""
	case ElementUrgency:
		return m.brief.Urgency != ""
	case ElementStakeholders:
		return len(m.notes.Stakeholders) > 0 || len(m.brief.Stakeholders) > 0
	case ElementConstraints:
		return len(m.notes.Constraints) > 0
	case ElementSuccessCriteria:
		return len(m.notes.SuccessCriteria) > 0
	case ElementKeyFindings:
		return len(m.notes.KeyFindings) > 0
	case ElementDecisionType:
		return m.classification.DecisionType != ""
	case ElementRecommendations:
		return m.selectionCount > 0
	case ElementInsights:
		return len(m.application.Insights) > 0
	case ElementDecisions:
		return len(m.application.Decisions) > 0
	case ElementNextSteps:
		return len(m.application.NextSteps) > 0
	case ElementDecision:
		return strings.TrimSpace(m.memo.Decision) != ""
	case ElementRationale:
		return strings.TrimSpace(m.memo.Rationale) != ""
	case ElementMicroBet:
		return strings.TrimSpace(m.memo.MicroBet) != ""
	case ElementFirstDomino:
		return strings.TrimSpace(m.memo.FirstDomino) != ""
	case ElementSuccessMetrics:
		return len(m.memo.SuccessMetrics) > 0
	default:
		return false
	}
}

// unionStrings appends items not already covered by substring
// containment, matching the dedup rule the extractors use.
func unionStrings(existing, incoming []string) []string {
	for _, item := range incoming {
		if item == "" {
			continue
		}
		dup := false
		lower := strings.ToLower(item)
		for _, have := range existing {
			haveLower := strings.ToLower(have)
			if strings.Contains(haveLower, lower) || strings.Contains(lower, haveLower) {
				dup = true
				break
			}
		}
		if !dup {
			existing = append(existing, item)
		}
	}
	return existing
}
