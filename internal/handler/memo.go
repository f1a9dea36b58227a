package handler

import (
	"fmt"
	"strings"

	"sprintpilot/internal/logging"
	"sprintpilot/internal/types"
)

// MemoHandler produces the sprint's terminal deliverable: a commitment
// memo with the decision, its rationale, a micro-bet, the first domino,
// and success metrics.
type MemoHandler struct {
	extractor Extractor
}

func (h *MemoHandler) Phase() types.Phase { return types.PhaseCommitmentMemo }

// GetNextPhase returns nil: the memo phase is terminal.
func (h *MemoHandler) GetNextPhase() *types.Phase { return nil }

func (h *MemoHandler) ProcessMessage(pc *PhaseContext) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryHandler, "memo.ProcessMessage")
	defer timer.Stop()

	memo, err := h.extractor.CommitmentMemo(pc)
	if err != nil {
		return nil, err
	}

	missing := missingMemo(memo)
	result := &Result{
		Artifacts:    []types.ArtifactContent{memo},
		SystemPrompt: memoSystemPrompt,
		UserPrompt:   memoGenerationPrompt(pc, memo, missing),
		Reply:        memoFallbackReply(memo, missing),
	}
	if len(missing) == 0 {
		logging.Handler("Commitment memo complete for session %s", pc.Session.ID)
	}
	return result, nil
}

const memoSystemPrompt = `You are a decision coach drafting a one-page commitment memo.
The memo has five parts: the decision, the rationale, a micro-bet (smallest cheap test),
the first domino (single first action), and measurable success metrics.
Draft from the conversation; ask only for parts you cannot fill.`

func missingMemo(memo types.CommitmentMemo) []string {
	var missing []string
	if memo.Decision == "" {
		missing = append(missing, "the decision itself")
	}
	if memo.Rationale == "" {
		missing = append(missing, "the rationale")
	}
	if memo.MicroBet == "" {
		missing = append(missing, "a micro-bet to test it cheaply")
	}
	if memo.FirstDomino == "" {
		missing = append(missing, "the first domino")
	}
	if len(memo.SuccessMetrics) == 0 {
		missing = append(missing, "success metrics")
	}
	return missing
}

func memoGenerationPrompt(pc *PhaseContext, memo types.CommitmentMemo, missing []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The user said: %q\n\nDraft so far:\n%s\n", pc.Message.Content, RenderMemo(memo))
	if len(missing) == 0 {
		b.WriteString("The memo is complete. Present it cleanly and congratulate the user on committing.")
	} else {
		fmt.Fprintf(&b, "Missing: %s. Ask for the first missing part.", strings.Join(missing, "; "))
	}
	return b.String()
}

func memoFallbackReply(memo types.CommitmentMemo, missing []string) string {
	if len(missing) == 0 {
		return "Here is your commitment memo:\n\n" + RenderMemo(memo) + "\nYou're committed. Good luck with the first domino."
	}
	return fmt.Sprintf("Almost there. I still need %s to finish the memo.", missing[0])
}

// RenderMemo formats a memo for display.
func RenderMemo(memo types.CommitmentMemo) string {
	var b strings.Builder
	if memo.Decision != "" {
		fmt.Fprintf(&b, "Decision: %s\n", memo.Decision)
	}
	if memo.Rationale != "" {
		fmt.Fprintf(&b, "Rationale: %s\n", memo.Rationale)
	}
	if memo.MicroBet != "" {
		fmt.Fprintf(&b, "Micro-bet: %s\n", memo.MicroBet)
	}
	if memo.FirstDomino != "" {
		fmt.Fprintf(&b, "First domino: %s\n", memo.FirstDomino)
	}
	for i, metric := range memo.SuccessMetrics {
		if i == 0 {
			b.WriteString("Success metrics:\n")
		}
		fmt.Fprintf(&b, "  - %s\n", metric)
	}
	return b.String()
}
