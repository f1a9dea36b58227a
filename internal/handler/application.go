package handler

import (
	"fmt"
	"strings"

	"sprintpilot/internal/logging"
	"sprintpilot/internal/types"
)

// ApplicationHandler works the selected frameworks against the
// problem, one at a time, accumulating insights, decisions, and next
// steps.
type ApplicationHandler struct {
	extractor Extractor
}

func (h *ApplicationHandler) Phase() types.Phase { return types.PhaseFrameworkApplication }

func (h *ApplicationHandler) GetNextPhase() *types.Phase { return nextPhaseOf(h.Phase()) }

func (h *ApplicationHandler) ProcessMessage(pc *PhaseContext) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryHandler, "application.ProcessMessage")
	defer timer.Stop()

	notes, err := h.extractor.ApplicationNotes(pc)
	if err != nil {
		return nil, err
	}

	current := h.currentFramework(pc, &notes)
	result := &Result{
		Artifacts:    []types.ArtifactContent{notes},
		SystemPrompt: applicationSystemPrompt,
		UserPrompt:   applicationGenerationPrompt(pc, notes, current),
		Reply:        applicationFallbackReply(notes, current),
	}
	logging.HandlerDebug("Application progress: insights=%d decisions=%d steps=%d frameworks=%d",
		len(notes.Insights), len(notes.Decisions), len(notes.NextSteps), len(notes.FrameworkIDs))
	return result, nil
}

// currentFramework picks the next unworked selection, rotating through
// the ranked list. The first time a framework comes up it is appended
// to the notes' FrameworkIDs so progress survives restarts.
func (h *ApplicationHandler) currentFramework(pc *PhaseContext, notes *types.ApplicationNotes) *types.KnowledgeItem {
	worked := make(map[string]bool, len(notes.FrameworkIDs))
	for _, id := range notes.FrameworkIDs {
		worked[id] = true
	}
	for _, sel := range pc.Selections {
		if worked[sel.KnowledgeItemID] {
			continue
		}
		notes.FrameworkIDs = append(notes.FrameworkIDs, sel.KnowledgeItemID)
		if item, ok := pc.Items[sel.KnowledgeItemID]; ok {
			return item
		}
		return &types.KnowledgeItem{ID: sel.KnowledgeItemID, Name: sel.KnowledgeItemID}
	}
	// All selections worked; stay on the last one.
	if n := len(pc.Selections); n > 0 {
		last := pc.Selections[n-1]
		if item, ok := pc.Items[last.KnowledgeItemID]; ok {
			return item
		}
	}
	return nil
}

const applicationSystemPrompt = `You are a decision coach applying one mental model at a time to the user's decision.
Walk the model's mechanism against their specifics. Push for a concrete takeaway per framework:
an insight, a decision lean, or a next step. Keep each turn short.`

func applicationGenerationPrompt(pc *PhaseContext, notes types.ApplicationNotes, current *types.KnowledgeItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The user said: %q\n\n", pc.Message.Content)
	if current != nil {
		fmt.Fprintf(&b, "Framework in play: %s\n", current.Name)
		if current.Mechanism != "" {
			fmt.Fprintf(&b, "Mechanism: %s\n", current.Mechanism)
		}
		if current.KeyTakeaway != "" {
			fmt.Fprintf(&b, "Key takeaway: %s\n", current.KeyTakeaway)
		}
	}
	missing := missingApplication(notes)
	if len(missing) == 0 {
		b.WriteString("\nInsights, decisions, and next steps are all captured. Summarize and ask if the user is ready to commit.")
	} else {
		fmt.Fprintf(&b, "\nStill needed before committing: %s. Steer the conversation there.", strings.Join(missing, "; "))
	}
	return b.String()
}

func missingApplication(notes types.ApplicationNotes) []string {
	var missing []string
	if len(notes.Insights) == 0 {
		missing = append(missing, "at least one insight")
	}
	if len(notes.Decisions) == 0 {
		missing = append(missing, "a decision lean")
	}
	if len(notes.NextSteps) == 0 {
		missing = append(missing, "a concrete next step")
	}
	return missing
}

func applicationFallbackReply(notes types.ApplicationNotes, current *types.KnowledgeItem) string {
	missing := missingApplication(notes)
	if len(missing) == 0 {
		return "We've got insights, a decision direction, and next steps. Ready to lock this into a commitment memo?"
	}
	if current != nil {
		return fmt.Sprintf("Let's apply %s to your situation. What does it change about how you see the decision?", current.Name)
	}
	return fmt.Sprintf("Before we commit, I still need %s. What's your current thinking?", missing[0])
}
