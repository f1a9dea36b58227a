package handler

import (
	"fmt"
	"strings"

	"sprintpilot/internal/logging"
	"sprintpilot/internal/types"
)

// IntakeHandler runs the problem intake phase: capture what the
// decision is, why it matters, and how urgent it is.
type IntakeHandler struct {
	extractor Extractor
}

func (h *IntakeHandler) Phase() types.Phase { return types.PhaseProblemIntake }

func (h *IntakeHandler) GetNextPhase() *types.Phase { return nextPhaseOf(h.Phase()) }

func (h *IntakeHandler) ProcessMessage(pc *PhaseContext) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryHandler, "intake.ProcessMessage")
	defer timer.Stop()

	brief, err := h.extractor.ProblemBrief(pc)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Artifacts:    []types.ArtifactContent{brief},
		SystemPrompt: intakeSystemPrompt,
		UserPrompt:   intakeGenerationPrompt(pc, brief),
		Reply:        intakeFallbackReply(pc, brief),
	}
	logging.HandlerDebug("Intake extracted: statement=%q urgency=%q stakeholders=%d",
		brief.Statement, brief.Urgency, len(brief.Stakeholders))
	return result, nil
}

const intakeSystemPrompt = `You are a decision coach opening a structured decision sprint.
Your only goal in this phase is a crisp problem statement, its context, and its urgency.
Ask one focused question at a time. Do not propose solutions yet.`

func intakeGenerationPrompt(pc *PhaseContext, brief types.ProblemBrief) string {
	var missing []string
	if brief.Statement == "" {
		missing = append(missing, "the core problem in one sentence")
	}
	if brief.Context == "" {
		missing = append(missing, "the surrounding context")
	}
	if brief.Urgency == "" {
		missing = append(missing, "how urgent this is")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "The user said: %q\n\n", pc.Message.Content)
	if len(missing) == 0 {
		b.WriteString("Everything needed for intake is captured. Summarize the problem back in two sentences and confirm before moving to a deeper interview.")
	} else {
		fmt.Fprintf(&b, "Still missing: %s. Ask for the first missing piece, nothing else.", strings.Join(missing, "; "))
	}
	return b.String()
}

func intakeFallbackReply(pc *PhaseContext, brief types.ProblemBrief) string {
	// The very first user message always gets the greeting, even when it
	// already carries a usable problem statement.
	if len(userMessagesInPhase(pc.History, types.PhaseProblemIntake)) <= 1 {
		return "Welcome to your decision sprint. In one or two sentences, what decision are you facing?"
	}
	switch {
	case brief.Statement == "":
		return "Let's nail the core question first. What decision are you actually trying to make?"
	case brief.Context == "":
		return "Got it. What's the context here? What led up to this decision?"
	case brief.Urgency == "":
		return "How urgent is this? Do you need to decide immediately, soon, or are you still exploring?"
	default:
		return fmt.Sprintf("So the decision is: %s Shall we dig into the details with a few diagnostic questions?", brief.Statement)
	}
}
