package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// ARTIFACTS
// =============================================================================

// ArtifactType tags the structured payload an artifact carries.
type ArtifactType string

const (
	ArtifactProblemBrief     ArtifactType = "problem_brief"
	ArtifactDiagnosticNotes  ArtifactType = "diagnostic_notes"
	ArtifactClassification   ArtifactType = "classification_result"
	ArtifactApplicationNotes ArtifactType = "framework_application_notes"
	ArtifactCommitmentMemo   ArtifactType = "commitment_memo"
)

// ArtifactContent is the tagged-union payload of an artifact. One concrete
// variant exists per ArtifactType; Type is the discriminant used when
// decoding from storage.
type ArtifactContent interface {
	Type() ArtifactType
}

// Artifact is a structured extraction produced by a phase handler.
// Invariant: at most one artifact per (session, type) has IsCurrent=true.
// New versions supersede old ones; rows are never deleted.
type Artifact struct {
	ID        string          `json:"id"`
	SessionID string          `json:"session_id"`
	Content   ArtifactContent `json:"content"`
	Phase     Phase           `json:"phase"`
	Version   int             `json:"version"`
	IsCurrent bool            `json:"is_current"`
	CreatedAt time.Time       `json:"created_at"`
}

// ArtifactType returns the discriminant of the artifact's content.
func (a *Artifact) ArtifactType() ArtifactType {
	if a.Content == nil {
		return ""
	}
	return a.Content.Type()
}

// Urgency levels extracted into a problem brief.
const (
	UrgencyImmediate   = "immediate"
	UrgencySoon        = "soon"
	UrgencyExploratory = "exploratory"
)

// ProblemBrief captures the intake phase's understanding of the problem.
type ProblemBrief struct {
	Statement    string   `json:"statement"`
	Context      string   `json:"context"`
	Urgency      string   `json:"urgency,omitempty"`
	Stakeholders []string `json:"stakeholders,omitempty"`
}

func (ProblemBrief) Type() ArtifactType { return ArtifactProblemBrief }

// DiagnosticNotes accumulates findings from the diagnostic interview.
type DiagnosticNotes struct {
	Stakeholders    []string `json:"stakeholders,omitempty"`
	Constraints     []string `json:"constraints,omitempty"`
	SuccessCriteria []string `json:"success_criteria,omitempty"`
	KeyFindings     []string `json:"key_findings,omitempty"`
}

func (DiagnosticNotes) Type() ArtifactType { return ArtifactDiagnosticNotes }

// Decision types produced by classification.
const (
	DecisionTypeOne    = "1"      // reversible, low consequence
	DecisionTypeTwo    = "2"      // hard to reverse, high consequence
	DecisionTypeHybrid = "hybrid" // mixed characteristics
)

// DecisionCharacteristics are the four classification inputs.
type DecisionCharacteristics struct {
	Reversibility string `json:"reversibility"` // reversible, partially_reversible, irreversible
	Consequence   string `json:"consequence"`   // low, medium, high
	Information   string `json:"information"`   // sufficient, partial, scarce
	TimePressure  string `json:"time_pressure"` // low, medium, high
}

// ClassificationResult records the derived decision type.
type ClassificationResult struct {
	DecisionType    string                  `json:"decision_type"` // "1", "2", or "hybrid"
	Confidence      float64                 `json:"confidence"`
	Characteristics DecisionCharacteristics `json:"characteristics"`
	Reasoning       string                  `json:"reasoning,omitempty"`
}

func (ClassificationResult) Type() ArtifactType { return ArtifactClassification }

// ApplicationNotes accumulates the framework-application phase's output.
type ApplicationNotes struct {
	FrameworkIDs []string `json:"framework_ids,omitempty"` // frameworks worked through so far
	Insights     []string `json:"insights,omitempty"`
	Decisions    []string `json:"decisions,omitempty"`
	NextSteps    []string `json:"next_steps,omitempty"`
}

func (ApplicationNotes) Type() ArtifactType { return ArtifactApplicationNotes }

// CommitmentMemo is the sprint's final deliverable.
type CommitmentMemo struct {
	Decision       string   `json:"decision"`
	Rationale      string   `json:"rationale"`
	MicroBet       string   `json:"micro_bet"`
	FirstDomino    string   `json:"first_domino"`
	SuccessMetrics []string `json:"success_metrics,omitempty"`
}

func (CommitmentMemo) Type() ArtifactType { return ArtifactCommitmentMemo }

// =============================================================================
// CONTENT CODEC
// =============================================================================

// MarshalArtifactContent serializes a payload for storage.
func MarshalArtifactContent(c ArtifactContent) ([]byte, error) {
	if c == nil {
		return nil, fmt.Errorf("nil artifact content")
	}
	return json.Marshal(c)
}

// UnmarshalArtifactContent decodes a stored payload using the artifact
// type as discriminant. Unknown types are an error, not a silent map.
func UnmarshalArtifactContent(t ArtifactType, data []byte) (ArtifactContent, error) {
	switch t {
	case ArtifactProblemBrief:
		var v ProblemBrief
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode problem brief: %w", err)
		}
		return v, nil
	case ArtifactDiagnosticNotes:
		var v DiagnosticNotes
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode diagnostic notes: %w", err)
		}
		return v, nil
	case ArtifactClassification:
		var v ClassificationResult
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode classification result: %w", err)
		}
		return v, nil
	case ArtifactApplicationNotes:
		var v ApplicationNotes
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode application notes: %w", err)
		}
		return v, nil
	case ArtifactCommitmentMemo:
		var v CommitmentMemo
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode commitment memo: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown artifact type %q", t)
	}
}
