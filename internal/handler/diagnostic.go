package handler

import (
	"fmt"
	"strings"

	"sprintpilot/internal/logging"
	"sprintpilot/internal/types"
)

// DiagnosticHandler runs the interview phase: stakeholders,
// constraints, success criteria, and the findings underneath the
// stated problem.
type DiagnosticHandler struct {
	extractor Extractor
}

func (h *DiagnosticHandler) Phase() types.Phase { return types.PhaseDiagnosticInterview }

func (h *DiagnosticHandler) GetNextPhase() *types.Phase { return nextPhaseOf(h.Phase()) }

func (h *DiagnosticHandler) ProcessMessage(pc *PhaseContext) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryHandler, "diagnostic.ProcessMessage")
	defer timer.Stop()

	notes, err := h.extractor.DiagnosticNotes(pc)
	if err != nil {
		return nil, err
	}

	missing := missingDiagnostics(notes)
	result := &Result{
		Artifacts:    []types.ArtifactContent{notes},
		SystemPrompt: diagnosticSystemPrompt,
		UserPrompt:   diagnosticGenerationPrompt(pc, missing),
		Reply:        diagnosticFallbackReply(missing),
	}
	logging.HandlerDebug("Diagnostic extracted: stakeholders=%d constraints=%d criteria=%d findings=%d",
		len(notes.Stakeholders), len(notes.Constraints), len(notes.SuccessCriteria), len(notes.KeyFindings))
	return result, nil
}

const diagnosticSystemPrompt = `You are a decision coach running a diagnostic interview.
Probe for stakeholders, hard constraints, what success looks like, and root causes.
One question per turn. Reflect back what you heard before asking the next question.`

func missingDiagnostics(notes types.DiagnosticNotes) []string {
	var missing []string
	if len(notes.Stakeholders) == 0 {
		missing = append(missing, "who is affected by this decision")
	}
	if len(notes.Constraints) == 0 {
		missing = append(missing, "the hard constraints (budget, runway, time, people)")
	}
	if len(notes.SuccessCriteria) == 0 {
		missing = append(missing, "what success looks like")
	}
	if len(notes.KeyFindings) == 0 {
		missing = append(missing, "what you believe is really going on underneath")
	}
	return missing
}

func diagnosticGenerationPrompt(pc *PhaseContext, missing []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The user said: %q\n\n", pc.Message.Content)
	if len(missing) == 0 {
		b.WriteString("The interview has covered stakeholders, constraints, success criteria, and key findings. Summarize the diagnosis in three bullets and ask whether anything important is missing before classifying the decision.")
	} else {
		fmt.Fprintf(&b, "Not yet covered: %s. Acknowledge what the user just shared, then ask about the first uncovered area.", strings.Join(missing, "; "))
	}
	return b.String()
}

func diagnosticFallbackReply(missing []string) string {
	if len(missing) == 0 {
		return "I think we have a solid picture now. Ready to classify what kind of decision this is?"
	}
	return fmt.Sprintf("Thanks, noted. Next: tell me about %s.", missing[0])
}
