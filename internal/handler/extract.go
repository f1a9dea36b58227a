package handler

import (
	"strings"

	"sprintpilot/internal/types"
)

// Extractor turns raw conversation text into structured artifact
// payloads. The rule extractor is the always-available baseline; the
// LLM extractor wraps it and falls back to it on any failure.
type Extractor interface {
	ProblemBrief(pc *PhaseContext) (types.ProblemBrief, error)
	DiagnosticNotes(pc *PhaseContext) (types.DiagnosticNotes, error)
	Characteristics(pc *PhaseContext) (types.DecisionCharacteristics, error)
	ApplicationNotes(pc *PhaseContext) (types.ApplicationNotes, error)
	CommitmentMemo(pc *PhaseContext) (types.CommitmentMemo, error)
}

// RuleExtractor is a deterministic keyword scanner. It is intentionally
// conservative: it only claims an element when a clear signal exists,
// so readiness validation stays honest.
type RuleExtractor struct{}

var _ Extractor = (*RuleExtractor)(nil)

// Keyword tables. Matching is case-insensitive substring.
var (
	urgencyImmediateWords = []string{
		"urgent", "asap", "immediately", "right away", "today", "tomorrow",
		"24 hours", "48 hours", "72 hours", "this week", "by friday", "deadline",
	}
	urgencySoonWords = []string{
		"soon", "next week", "next month", "this quarter", "in a few weeks",
	}
	urgencyExploratoryWords = []string{
		"exploring", "no rush", "eventually", "someday", "thinking about", "long term",
	}

	stakeholderWords = []string{
		"board", "investors", "investor", "co-founder", "cofounder", "founders",
		"team", "employees", "customers", "users", "advisors", "partners",
		"leadership", "engineers", "sales team",
	}

	constraintWords = []string{
		"can't", "cannot", "limited", "only have", "budget", "runway",
		"constraint", "no more than", "at most", "short on", "lack of",
	}

	successWords = []string{
		"success looks like", "we win if", "goal is", "target is", "metric",
		"kpi", "success means", "we need to hit", "objective is",
	}

	findingWords = []string{
		"realized", "learned", "found that", "turns out", "discovered",
		"root cause", "the real issue", "underlying", "because",
	}

	insightWords = []string{
		"insight", "realize", "this shows", "which means", "the framework suggests",
		"looking at it this way", "now i see", "that explains",
	}

	decisionWords = []string{
		"we will", "i will", "we decided", "i've decided", "i have decided",
		"let's go with", "we choose", "i'm going to", "we are going to", "committing to",
	}

	nextStepWords = []string{
		"next step", "first step", "to start", "we'll begin", "action item",
		"this week i", "i'll schedule", "i'll talk to", "follow up",
	}
)

// ProblemBrief extracts the intake artifact from intake-phase messages.
func (e *RuleExtractor) ProblemBrief(pc *PhaseContext) (types.ProblemBrief, error) {
	msgs := userMessagesInPhase(pc.History, types.PhaseProblemIntake)
	brief := currentBrief(pc)

	for _, m := range msgs {
		text := m.Content
		lower := strings.ToLower(text)

		if brief.Statement == "" && looksLikeProblem(text) {
			brief.Statement = firstSentence(text)
			// Whatever follows the statement in the same message is
			// background, not problem.
			rest := strings.TrimSpace(strings.TrimPrefix(text, brief.Statement))
			brief.Context = joinContext(brief.Context, rest)
		} else if brief.Statement != "" {
			brief.Context = joinContext(brief.Context, text)
		}

		if u := detectUrgency(lower); u != "" {
			brief.Urgency = u
		}
		brief.Stakeholders = appendMatches(brief.Stakeholders, lower, stakeholderWords)
	}
	return brief, nil
}

// DiagnosticNotes extracts interview findings from diagnostic messages.
func (e *RuleExtractor) DiagnosticNotes(pc *PhaseContext) (types.DiagnosticNotes, error) {
	notes := currentNotes(pc)

	for _, m := range userMessagesInPhase(pc.History, types.PhaseDiagnosticInterview) {
		for _, sentence := range splitSentences(m.Content) {
			lower := strings.ToLower(sentence)
			switch {
			case matchesAny(lower, successWords):
				notes.SuccessCriteria = appendUnique(notes.SuccessCriteria, sentence)
			case matchesAny(lower, constraintWords):
				notes.Constraints = appendUnique(notes.Constraints, sentence)
			case matchesAny(lower, findingWords):
				notes.KeyFindings = appendUnique(notes.KeyFindings, sentence)
			}
			notes.Stakeholders = appendMatches(notes.Stakeholders, lower, stakeholderWords)
		}
	}

	// Stakeholders named during intake carry forward.
	if brief := currentBrief(pc); len(brief.Stakeholders) > 0 {
		for _, s := range brief.Stakeholders {
			notes.Stakeholders = appendUnique(notes.Stakeholders, s)
		}
	}
	return notes, nil
}

// Characteristics reads classification signals from the whole active
// conversation, not just the classification phase.
func (e *RuleExtractor) Characteristics(pc *PhaseContext) (types.DecisionCharacteristics, error) {
	var all strings.Builder
	for _, m := range pc.History {
		if m.Role == types.RoleUser {
			all.WriteString(strings.ToLower(m.Content))
			all.WriteString(" ")
		}
	}
	text := all.String()

	c := types.DecisionCharacteristics{
		Reversibility: "partially_reversible",
		Consequence:   "medium",
		Information:   "partial",
		TimePressure:  "medium",
	}

	switch {
	case matchesAny(text, []string{"irreversible", "one-way door", "one way door", "can't undo", "no going back", "point of no return"}):
		c.Reversibility = "irreversible"
	case matchesAny(text, []string{"hard to reverse", "difficult to undo", "costly to reverse", "partially reversible"}):
		c.Reversibility = "partially_reversible"
	case matchesAny(text, []string{"reversible", "two-way door", "two way door", "can undo", "easily revert", "easy to reverse"}):
		c.Reversibility = "reversible"
	}

	switch {
	case matchesAny(text, []string{"bet the company", "existential", "make or break", "high stakes", "major consequences", "company-defining"}):
		c.Consequence = "high"
	case matchesAny(text, []string{"low stakes", "minor", "small bet", "not a big deal", "little downside"}):
		c.Consequence = "low"
	}

	switch {
	case matchesAny(text, []string{"don't know enough", "no data", "very uncertain", "little information", "flying blind", "scarce"}):
		c.Information = "scarce"
	case matchesAny(text, []string{"we have the data", "well understood", "clear picture", "plenty of data", "well researched"}):
		c.Information = "sufficient"
	}

	switch {
	case detectUrgency(text) == types.UrgencyImmediate || matchesAny(text, []string{"running out of time", "time pressure", "under pressure"}):
		c.TimePressure = "high"
	case matchesAny(text, []string{"no rush", "no deadline", "whenever", "plenty of time"}):
		c.TimePressure = "low"
	}

	return c, nil
}

// ApplicationNotes extracts insights, decisions, and next steps from
// application-phase messages.
func (e *RuleExtractor) ApplicationNotes(pc *PhaseContext) (types.ApplicationNotes, error) {
	notes := currentApplication(pc)

	for _, m := range userMessagesInPhase(pc.History, types.PhaseFrameworkApplication) {
		for _, sentence := range splitSentences(m.Content) {
			lower := strings.ToLower(sentence)
			switch {
			case matchesAny(lower, decisionWords):
				notes.Decisions = appendUnique(notes.Decisions, sentence)
			case matchesAny(lower, nextStepWords):
				notes.NextSteps = appendUnique(notes.NextSteps, sentence)
			case matchesAny(lower, insightWords):
				notes.Insights = appendUnique(notes.Insights, sentence)
			}
		}
	}
	return notes, nil
}

// CommitmentMemo assembles the memo from accumulated artifacts plus any
// memo-phase refinements the user typed.
func (e *RuleExtractor) CommitmentMemo(pc *PhaseContext) (types.CommitmentMemo, error) {
	memo := currentMemo(pc)
	app := currentApplication(pc)
	notes := currentNotes(pc)

	if memo.Decision == "" && len(app.Decisions) > 0 {
		memo.Decision = app.Decisions[0]
	}
	if memo.Rationale == "" && len(app.Insights) > 0 {
		memo.Rationale = strings.Join(app.Insights, " ")
	}
	if len(memo.SuccessMetrics) == 0 {
		memo.SuccessMetrics = append(memo.SuccessMetrics, notes.SuccessCriteria...)
	}
	if memo.FirstDomino == "" && len(app.NextSteps) > 0 {
		memo.FirstDomino = app.NextSteps[0]
	}
	if memo.MicroBet == "" {
		for _, step := range app.NextSteps {
			lower := strings.ToLower(step)
			if matchesAny(lower, []string{"test", "experiment", "pilot", "trial", "try"}) {
				memo.MicroBet = step
				break
			}
		}
	}

	// Memo-phase messages override the derived fields.
	for _, m := range userMessagesInPhase(pc.History, types.PhaseCommitmentMemo) {
		for _, sentence := range splitSentences(m.Content) {
			lower := strings.ToLower(sentence)
			switch {
			case matchesAny(lower, decisionWords):
				memo.Decision = sentence
			case matchesAny(lower, []string{"micro-bet", "micro bet", "small test", "experiment", "pilot"}):
				memo.MicroBet = sentence
			case matchesAny(lower, []string{"first domino", "first step", "start by", "begin by"}):
				memo.FirstDomino = sentence
			case matchesAny(lower, []string{"because", "rationale", "the reason"}):
				memo.Rationale = sentence
			case matchesAny(lower, successWords):
				memo.SuccessMetrics = appendUnique(memo.SuccessMetrics, sentence)
			}
		}
	}
	return memo, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func detectUrgency(lower string) string {
	switch {
	case matchesAny(lower, urgencyImmediateWords):
		return types.UrgencyImmediate
	case matchesAny(lower, urgencySoonWords):
		return types.UrgencySoon
	case matchesAny(lower, urgencyExploratoryWords):
		return types.UrgencyExploratory
	default:
		return ""
	}
}

func matchesAny(lower string, words []string) bool {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

func appendMatches(list []string, lower string, words []string) []string {
	for _, w := range words {
		if strings.Contains(lower, w) {
			list = appendUnique(list, w)
		}
	}
	return list
}

func appendUnique(list []string, item string) []string {
	item = strings.TrimSpace(item)
	if item == "" {
		return list
	}
	lower := strings.ToLower(item)
	for _, have := range list {
		hl := strings.ToLower(have)
		if strings.Contains(hl, lower) || strings.Contains(lower, hl) {
			return list
		}
	}
	return append(list, item)
}

// looksLikeProblem filters greetings and filler out of statement
// detection. A statement is a question or a reasonably substantive
// sentence mentioning a choice.
func looksLikeProblem(text string) bool {
	lower := strings.ToLower(text)
	if strings.Contains(lower, "?") {
		return true
	}
	if matchesAny(lower, []string{"should ", "whether", "decide", "deciding", "decision", "choose", "choosing", "torn between"}) {
		return true
	}
	return len(strings.Fields(text)) >= 8
}

func firstSentence(text string) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return strings.TrimSpace(text)
	}
	return sentences[0]
}

func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '?' || r == '!' || r == '\n' {
			if s := strings.TrimSpace(cur.String()); s != "" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func joinContext(existing, addition string) string {
	addition = strings.TrimSpace(addition)
	if addition == "" {
		return existing
	}
	if existing == "" {
		return addition
	}
	if strings.Contains(existing, addition) {
		return existing
	}
	return existing + " " + addition
}

// Current-artifact accessors. Missing artifacts yield zero values so
// extractors always start from what is already known.

func currentBrief(pc *PhaseContext) types.ProblemBrief {
	if a, ok := pc.Artifacts[types.ArtifactProblemBrief]; ok {
		if b, ok := a.Content.(types.ProblemBrief); ok {
			return b
		}
	}
	return types.ProblemBrief{}
}

func currentNotes(pc *PhaseContext) types.DiagnosticNotes {
	if a, ok := pc.Artifacts[types.ArtifactDiagnosticNotes]; ok {
		if n, ok := a.Content.(types.DiagnosticNotes); ok {
			return n
		}
	}
	return types.DiagnosticNotes{}
}

func currentClassification(pc *PhaseContext) types.ClassificationResult {
	if a, ok := pc.Artifacts[types.ArtifactClassification]; ok {
		if c, ok := a.Content.(types.ClassificationResult); ok {
			return c
		}
	}
	return types.ClassificationResult{}
}

func currentApplication(pc *PhaseContext) types.ApplicationNotes {
	if a, ok := pc.Artifacts[types.ArtifactApplicationNotes]; ok {
		if n, ok := a.Content.(types.ApplicationNotes); ok {
			return n
		}
	}
	return types.ApplicationNotes{}
}

func currentMemo(pc *PhaseContext) types.CommitmentMemo {
	if a, ok := pc.Artifacts[types.ArtifactCommitmentMemo]; ok {
		if m, ok := a.Content.(types.CommitmentMemo); ok {
			return m
		}
	}
	return types.CommitmentMemo{}
}
