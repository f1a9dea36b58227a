package handler

import (
	"fmt"
	"strings"

	"sprintpilot/internal/logging"
	"sprintpilot/internal/types"
)

// SelectionHandler runs the framework-selection phase. The heavy
// lifting happens in the selector pipeline; this handler triggers it
// and presents the ranked recommendations.
type SelectionHandler struct {
	runner SelectionRunner
}

func (h *SelectionHandler) Phase() types.Phase { return types.PhaseFrameworkSelection }

func (h *SelectionHandler) GetNextPhase() *types.Phase { return nextPhaseOf(h.Phase()) }

func (h *SelectionHandler) ProcessMessage(pc *PhaseContext) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryHandler, "selection.ProcessMessage")
	defer timer.Stop()

	selections := pc.Selections
	if len(selections) == 0 && h.runner != nil {
		fresh, err := h.runner.SelectFrameworks(pc.Ctx, pc.Session)
		if err != nil {
			// Selection failures degrade to an empty list; the user can
			// just send another message to retry.
			logging.Get(logging.CategoryHandler).Warn(
				"Framework selection failed for session %s: %v", pc.Session.ID, err)
			return &Result{
				Reply: "I hit a snag pulling up relevant frameworks. Send another message and I'll retry.",
			}, nil
		}
		selections = fresh
		pc.Selections = fresh
	}

	if len(selections) == 0 {
		return &Result{
			Reply: "I couldn't find frameworks matching this problem yet. Can you restate the core tension in a sentence?",
		}, nil
	}

	summary := summarizeSelections(selections, pc.Items)
	return &Result{
		SystemPrompt: selectionSystemPrompt,
		UserPrompt: fmt.Sprintf(
			"The user said: %q\n\nRecommended frameworks, ranked:\n%s\nPresent the list briefly and ask which one to apply first.",
			pc.Message.Content, summary),
		Reply: fmt.Sprintf("Here are the frameworks I'd reach for, in order:\n%s\nWhich one should we apply first?", summary),
	}, nil
}

const selectionSystemPrompt = `You are a decision coach presenting mental-model recommendations.
For each framework give one sentence on why it fits this specific decision.
Recommend starting with the top-ranked one unless the user prefers another.`

func summarizeSelections(selections []*types.FrameworkSelection, items map[string]*types.KnowledgeItem) string {
	var b strings.Builder
	for _, sel := range selections {
		name := sel.KnowledgeItemID
		takeaway := sel.SelectionReason
		if item, ok := items[sel.KnowledgeItemID]; ok {
			name = item.Name
			if item.KeyTakeaway != "" {
				takeaway = item.KeyTakeaway
			}
		}
		fmt.Fprintf(&b, "%d. %s", sel.Rank, name)
		if takeaway != "" {
			fmt.Fprintf(&b, " - %s", takeaway)
		}
		b.WriteString("\n")
	}
	return b.String()
}
