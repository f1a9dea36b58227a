package handler

import (
	"encoding/json"
	"strings"

	"sprintpilot/internal/logging"
	"sprintpilot/internal/types"
)

// LLMExtractor asks the model to extract structured artifacts as JSON.
// Any failure (request, parse, empty result) falls back to the rule
// extractor so extraction never blocks the conversation.
type LLMExtractor struct {
	client   types.LLMClient
	fallback *RuleExtractor
}

var _ Extractor = (*LLMExtractor)(nil)

// NewLLMExtractor wraps an LLM client with the rule-based fallback.
func NewLLMExtractor(client types.LLMClient) *LLMExtractor {
	return &LLMExtractor{client: client, fallback: &RuleExtractor{}}
}

const extractSystemPrompt = `You extract structured facts from a decision-coaching conversation.
Respond with a single JSON object matching the requested schema and nothing else.
Omit fields you cannot support with direct evidence from the conversation.`

// ProblemBrief extracts the intake brief, rules as fallback.
func (e *LLMExtractor) ProblemBrief(pc *PhaseContext) (types.ProblemBrief, error) {
	prompt := buildExtractionPrompt(pc, types.PhaseProblemIntake, `{
  "statement": "one-sentence problem statement",
  "context": "relevant background",
  "urgency": "immediate | soon | exploratory",
  "stakeholders": ["who is affected"]
}`)

	var brief types.ProblemBrief
	if err := e.extract(pc, prompt, &brief); err != nil {
		logging.HandlerDebug("LLM brief extraction failed, using rules: %v", err)
		return e.fallback.ProblemBrief(pc)
	}
	if brief.Statement == "" {
		return e.fallback.ProblemBrief(pc)
	}
	if brief.Urgency != "" && !validUrgency(brief.Urgency) {
		brief.Urgency = ""
	}
	return brief, nil
}

// DiagnosticNotes extracts interview findings, rules as fallback.
func (e *LLMExtractor) DiagnosticNotes(pc *PhaseContext) (types.DiagnosticNotes, error) {
	prompt := buildExtractionPrompt(pc, types.PhaseDiagnosticInterview, `{
  "stakeholders": ["..."],
  "constraints": ["..."],
  "success_criteria": ["..."],
  "key_findings": ["..."]
}`)

	var notes types.DiagnosticNotes
	if err := e.extract(pc, prompt, &notes); err != nil {
		logging.HandlerDebug("LLM notes extraction failed, using rules: %v", err)
		return e.fallback.DiagnosticNotes(pc)
	}
	return notes, nil
}

// Characteristics extracts classification inputs, rules as fallback.
func (e *LLMExtractor) Characteristics(pc *PhaseContext) (types.DecisionCharacteristics, error) {
	prompt := buildExtractionPrompt(pc, 0, `{
  "reversibility": "reversible | partially_reversible | irreversible",
  "consequence": "low | medium | high",
  "information": "sufficient | partial | scarce",
  "time_pressure": "low | medium | high"
}`)

	var c types.DecisionCharacteristics
	if err := e.extract(pc, prompt, &c); err != nil {
		logging.HandlerDebug("LLM characteristics extraction failed, using rules: %v", err)
		return e.fallback.Characteristics(pc)
	}
	if !validCharacteristics(c) {
		return e.fallback.Characteristics(pc)
	}
	return c, nil
}

// ApplicationNotes extracts application progress, rules as fallback.
func (e *LLMExtractor) ApplicationNotes(pc *PhaseContext) (types.ApplicationNotes, error) {
	prompt := buildExtractionPrompt(pc, types.PhaseFrameworkApplication, `{
  "insights": ["..."],
  "decisions": ["..."],
  "next_steps": ["..."]
}`)

	var notes types.ApplicationNotes
	if err := e.extract(pc, prompt, &notes); err != nil {
		logging.HandlerDebug("LLM application extraction failed, using rules: %v", err)
		return e.fallback.ApplicationNotes(pc)
	}
	return notes, nil
}

// CommitmentMemo extracts the final memo, rules as fallback.
func (e *LLMExtractor) CommitmentMemo(pc *PhaseContext) (types.CommitmentMemo, error) {
	prompt := buildExtractionPrompt(pc, 0, `{
  "decision": "the committed decision",
  "rationale": "why",
  "micro_bet": "smallest test of the decision",
  "first_domino": "the single first action",
  "success_metrics": ["..."]
}`)

	var memo types.CommitmentMemo
	if err := e.extract(pc, prompt, &memo); err != nil {
		logging.HandlerDebug("LLM memo extraction failed, using rules: %v", err)
		return e.fallback.CommitmentMemo(pc)
	}
	if memo.Decision == "" {
		return e.fallback.CommitmentMemo(pc)
	}
	return memo, nil
}

func (e *LLMExtractor) extract(pc *PhaseContext, prompt string, out interface{}) error {
	raw, err := e.client.CompleteWithSystem(pc.Ctx, extractSystemPrompt, prompt)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(stripCodeFence(raw)), out)
}

// buildExtractionPrompt renders the conversation (one phase, or all
// user turns when phase is zero) plus the target schema.
func buildExtractionPrompt(pc *PhaseContext, phase types.Phase, schema string) string {
	var b strings.Builder
	b.WriteString("Conversation:\n")
	for _, m := range pc.History {
		if m.Role != types.RoleUser {
			continue
		}
		if phase != 0 && m.Phase != phase {
			continue
		}
		b.WriteString("- ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	b.WriteString("\nExtract JSON with this schema:\n")
	b.WriteString(schema)
	return b.String()
}

// stripCodeFence removes a markdown fence the model may wrap around
// its JSON.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func validUrgency(u string) bool {
	switch u {
	case types.UrgencyImmediate, types.UrgencySoon, types.UrgencyExploratory:
		return true
	}
	return false
}

func validCharacteristics(c types.DecisionCharacteristics) bool {
	rev := map[string]bool{"reversible": true, "partially_reversible": true, "irreversible": true}
	level := map[string]bool{"low": true, "medium": true, "high": true}
	info := map[string]bool{"sufficient": true, "partial": true, "scarce": true}
	return rev[c.Reversibility] && level[c.Consequence] && info[c.Information] && level[c.TimePressure]
}
