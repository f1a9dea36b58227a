// Package phase owns the sprint's phase state machine: static phase
// metadata, readiness validation, transition logging, and rollback.
package phase

import (
	"sprintpilot/internal/fault"
	"sprintpilot/internal/types"
)

// Element names used in phase definitions and readiness checks.
const (
	ElementProblemStatement = "problem_statement"
	ElementContext          = "context"
	ElementUrgency          = "urgency"
	ElementStakeholders     = "stakeholders"
	ElementConstraints      = "constraints"
	ElementSuccessCriteria  = "success_criteria"
	ElementKeyFindings      = "key_findings"
	ElementDecisionType     = "decision_type"
	ElementRecommendations  = "framework_recommendations"
	ElementInsights         = "insights"
	ElementDecisions        = "decisions"
	ElementNextSteps        = "next_steps"
	ElementDecision         = "decision"
	ElementRationale        = "rationale"
	ElementMicroBet         = "micro_bet"
	ElementFirstDomino      = "first_domino"
	ElementSuccessMetrics   = "success_metrics"
)

// Definition is the static metadata for one phase.
type Definition struct {
	Phase            types.Phase
	Name             string
	RequiredElements []string
	MinMessages      int // user messages in this phase before transition
	MaxMessages      int // soft cap; exceeding yields a warning only
	NextPhases       []types.Phase
}

// Terminal reports whether the phase has no forward transitions.
func (d *Definition) Terminal() bool {
	return len(d.NextPhases) == 0
}

// definitions is the fixed transition graph. Forward edges only; any
// strictly earlier phase is always a legal rollback target.
var definitions = map[types.Phase]Definition{
	types.PhaseProblemIntake: {
		Phase:            types.PhaseProblemIntake,
		Name:             "Problem Intake",
		RequiredElements: []string{ElementProblemStatement, ElementContext, ElementUrgency},
		MinMessages:      2,
		MaxMessages:      10,
		NextPhases:       []types.Phase{types.PhaseDiagnosticInterview},
	},
	types.PhaseDiagnosticInterview: {
		Phase:            types.PhaseDiagnosticInterview,
		Name:             "Diagnostic Interview",
		RequiredElements: []string{ElementStakeholders, ElementConstraints, ElementSuccessCriteria, ElementKeyFindings},
		MinMessages:      4,
		MaxMessages:      15,
		NextPhases:       []types.Phase{types.PhaseTypeClassification},
	},
	types.PhaseTypeClassification: {
		Phase:            types.PhaseTypeClassification,
		Name:             "Type Classification",
		RequiredElements: []string{ElementDecisionType},
		MinMessages:      1,
		MaxMessages:      6,
		NextPhases:       []types.Phase{types.PhaseFrameworkSelection},
	},
	types.PhaseFrameworkSelection: {
		Phase:            types.PhaseFrameworkSelection,
		Name:             "Framework Selection",
		RequiredElements: []string{ElementRecommendations},
		MinMessages:      1,
		MaxMessages:      4,
		NextPhases:       []types.Phase{types.PhaseFrameworkApplication},
	},
	types.PhaseFrameworkApplication: {
		Phase:            types.PhaseFrameworkApplication,
		Name:             "Framework Application",
		RequiredElements: []string{ElementInsights, ElementDecisions, ElementNextSteps},
		MinMessages:      3,
		MaxMessages:      20,
		NextPhases:       []types.Phase{types.PhaseCommitmentMemo},
	},
	types.PhaseCommitmentMemo: {
		Phase:            types.PhaseCommitmentMemo,
		Name:             "Commitment Memo",
		RequiredElements: []string{ElementDecision, ElementRationale, ElementMicroBet, ElementFirstDomino, ElementSuccessMetrics},
		MinMessages:      1,
		MaxMessages:      8,
		NextPhases:       nil, // terminal
	},
}

// GetPhaseDefinition returns the static metadata for a phase.
func GetPhaseDefinition(p types.Phase) (Definition, error) {
	def, ok := definitions[p]
	if !ok {
		return Definition{}, fault.New(fault.CodeUnknownPhase, "phase.GetPhaseDefinition", nil)
	}
	return def, nil
}

// CanTransition reports whether to is a legal forward target from from.
func CanTransition(from, to types.Phase) bool {
	def, ok := definitions[from]
	if !ok {
		return false
	}
	for _, next := range def.NextPhases {
		if next == to {
			return true
		}
	}
	return false
}
