// Package types holds the core domain model for a decision sprint:
// sessions, messages, artifacts, phase transitions, and framework
// selections. It has no dependencies on other internal packages so that
// every subsystem can share these definitions without import cycles.
package types

import (
	"time"
)

// =============================================================================
// PHASES
// =============================================================================

// Phase identifies one of the six fixed stages of a decision sprint.
type Phase int

const (
	PhaseProblemIntake Phase = iota + 1
	PhaseDiagnosticInterview
	PhaseTypeClassification
	PhaseFrameworkSelection
	PhaseFrameworkApplication
	PhaseCommitmentMemo
)

// AllPhases lists the phases in sprint order.
var AllPhases = []Phase{
	PhaseProblemIntake,
	PhaseDiagnosticInterview,
	PhaseTypeClassification,
	PhaseFrameworkSelection,
	PhaseFrameworkApplication,
	PhaseCommitmentMemo,
}

// String returns the stable snake_case name used in storage and logs.
func (p Phase) String() string {
	switch p {
	case PhaseProblemIntake:
		return "problem_intake"
	case PhaseDiagnosticInterview:
		return "diagnostic_interview"
	case PhaseTypeClassification:
		return "type_classification"
	case PhaseFrameworkSelection:
		return "framework_selection"
	case PhaseFrameworkApplication:
		return "framework_application"
	case PhaseCommitmentMemo:
		return "commitment_memo_generation"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the six defined phases.
func (p Phase) Valid() bool {
	return p >= PhaseProblemIntake && p <= PhaseCommitmentMemo
}

// Before reports whether p is strictly earlier than other in sprint order.
func (p Phase) Before(other Phase) bool {
	return p < other
}

// ParsePhase converts a stored phase name back to a Phase.
// Returns false if the name is not one of the six phases.
func ParsePhase(name string) (Phase, bool) {
	for _, p := range AllPhases {
		if p.String() == name {
			return p, true
		}
	}
	return 0, false
}

// =============================================================================
// SESSION
// =============================================================================

// SessionStatus is the lifecycle state of a sprint session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionAbandoned SessionStatus = "abandoned"
	SessionPaused    SessionStatus = "paused"
)

// PhaseState tracks per-phase progress within a session.
type PhaseState struct {
	Started     bool       `json:"started"`
	Completed   bool       `json:"completed"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SessionConfig carries per-sprint tuning that callers may override.
type SessionConfig struct {
	Persona         string `json:"persona,omitempty"`          // founder, executive, investor, product_manager
	StartupPhase    string `json:"startup_phase,omitempty"`    // ideation, seed, growth, scale-up, crisis
	ProblemCategory string `json:"problem_category,omitempty"` // pivot, hiring, fundraising, ...
	MaxFrameworks   int    `json:"max_frameworks,omitempty"`
}

// Session identifies a single decision-sprint run.
// Invariant: CurrentPhase is always one of the six defined phases.
type Session struct {
	ID           string               `json:"id"`
	UserID       string               `json:"user_id"`
	Status       SessionStatus        `json:"status"`
	CurrentPhase Phase                `json:"current_phase"`
	PhaseStates  map[Phase]PhaseState `json:"phase_states"`
	Config       SessionConfig        `json:"config"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// Terminal reports whether the session can no longer accept messages.
func (s *Session) Terminal() bool {
	return s.Status == SessionCompleted || s.Status == SessionAbandoned
}

// =============================================================================
// MESSAGES
// =============================================================================

// MessageRole distinguishes who produced a conversational turn.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is one conversational turn. Messages form a tree via
// ParentMessageID; exactly one path through the tree is active at a time.
// A message is never mutated after creation except for ActiveBranch.
type Message struct {
	ID              string      `json:"id"`
	SessionID       string      `json:"session_id"`
	ParentMessageID string      `json:"parent_message_id,omitempty"`
	Role            MessageRole `json:"role"`
	Content         string      `json:"content"`
	Phase           Phase       `json:"phase"`
	ActiveBranch    bool        `json:"active_branch"`
	CreatedAt       time.Time   `json:"created_at"`
}

// =============================================================================
// VALIDATION
// =============================================================================

// ElementCheck is one required element's presence verdict.
type ElementCheck struct {
	Name     string  `json:"name"`
	Required bool    `json:"required"`
	Present  bool    `json:"present"`
	Score    float64 `json:"score"`
}

// ValidationResult is the readiness verdict for the current phase.
// Produced fresh on every message; only persisted embedded in a
// PhaseTransition when a transition actually occurs.
type ValidationResult struct {
	IsValid         bool           `json:"is_valid"`
	Score           float64        `json:"score"` // presence-count / total-required, in [0,1]
	Elements        []ElementCheck `json:"elements"`
	MissingElements []string       `json:"missing_elements,omitempty"`
	Warnings        []string       `json:"warnings,omitempty"`
}

// =============================================================================
// PHASE TRANSITIONS
// =============================================================================

// PhaseTransition is an immutable log record of a phase change.
// FromPhase is zero for the first transition of a session.
type PhaseTransition struct {
	ID          string           `json:"id"`
	SessionID   string           `json:"session_id"`
	FromPhase   Phase            `json:"from_phase,omitempty"`
	ToPhase     Phase            `json:"to_phase"`
	Validation  ValidationResult `json:"validation"`
	Reason      string           `json:"reason"`
	TriggeredBy string           `json:"triggered_by,omitempty"` // message id
	CreatedAt   time.Time        `json:"created_at"`
}

// IsRollback reports whether this transition moved to an earlier phase.
func (t *PhaseTransition) IsRollback() bool {
	return t.FromPhase.Valid() && t.ToPhase.Before(t.FromPhase)
}

// =============================================================================
// FRAMEWORK SELECTION
// =============================================================================

// ScoreBreakdown holds the six named sub-scores behind a recommendation.
// All sub-scores are in [0,1].
type ScoreBreakdown struct {
	DirectRelevance   float64 `json:"direct_relevance"`
	ApplicabilityNow  float64 `json:"applicability_now"`
	FoundationalValue float64 `json:"foundational_value"`
	SimplicityBonus   float64 `json:"simplicity_bonus"`
	PersonalRelevance float64 `json:"personal_relevance"`
	Complementarity   float64 `json:"complementarity"`
	Reasoning         string  `json:"reasoning"`
}

// FrameworkSelection is one recommended knowledge item for a session.
// Ranks within a selection batch are contiguous starting at 1, ordered by
// descending overall score after diversity adjustment.
type FrameworkSelection struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"session_id"`
	KnowledgeItemID string         `json:"knowledge_item_id"`
	OverallScore    float64        `json:"overall_score"`
	Breakdown       ScoreBreakdown `json:"breakdown"`
	Rank            int            `json:"rank"`
	SelectionReason string         `json:"selection_reason"`
	WasApplied      bool           `json:"was_applied"`
	CreatedAt       time.Time      `json:"created_at"`
}

// =============================================================================
// KNOWLEDGE ITEMS
// =============================================================================

// KnowledgeItem is one mental model ("framework") from the corpus.
// Field names follow the corpus JSON schema.
type KnowledgeItem struct {
	ID                string   `json:"id"`
	Name              string   `json:"knowledge_piece_name"`
	Definition        string   `json:"definition"`
	Mechanism         string   `json:"mechanism"`
	ModernExample     string   `json:"modern_example"`
	Payoff            string   `json:"payoff"`
	KeyTakeaway       string   `json:"key_takeaway"`
	Analogy           string   `json:"analogy_or_metaphor"`
	IsSuperModel      bool     `json:"is_super_model"`
	MainCategory      string   `json:"main_category"`
	ContentType       string   `json:"content_type"`
	TargetPersonas    []string `json:"target_persona,omitempty"`
	StartupPhases     []string `json:"startup_phase,omitempty"`
	ProblemCategories []string `json:"problem_category,omitempty"`
}

// HasPersona reports whether the item targets the given persona.
func (k *KnowledgeItem) HasPersona(persona string) bool {
	return containsFold(k.TargetPersonas, persona)
}

// HasStartupPhase reports whether the item targets the given startup phase.
func (k *KnowledgeItem) HasStartupPhase(phase string) bool {
	return containsFold(k.StartupPhases, phase)
}

// HasProblemCategory reports whether the item addresses the given category.
func (k *KnowledgeItem) HasProblemCategory(category string) bool {
	return containsFold(k.ProblemCategories, category)
}

func containsFold(list []string, want string) bool {
	for _, v := range list {
		if equalFold(v, want) {
			return true
		}
	}
	return false
}

// equalFold is a small ASCII-only case-insensitive compare; corpus enum
// values are ASCII by construction.
func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// SearchHit is one vector-search result: a knowledge item id plus its
// raw semantic similarity to the query.
type SearchHit struct {
	KnowledgeItemID string  `json:"knowledge_item_id"`
	Similarity      float64 `json:"similarity"`
}
