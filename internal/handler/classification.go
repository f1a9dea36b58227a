package handler

import (
	"fmt"

	"sprintpilot/internal/logging"
	"sprintpilot/internal/types"
)

// ClassificationHandler derives the decision type from the four
// characteristics: reversibility, consequence, information, and time
// pressure.
type ClassificationHandler struct {
	extractor Extractor
}

func (h *ClassificationHandler) Phase() types.Phase { return types.PhaseTypeClassification }

func (h *ClassificationHandler) GetNextPhase() *types.Phase { return nextPhaseOf(h.Phase()) }

func (h *ClassificationHandler) ProcessMessage(pc *PhaseContext) (*Result, error) {
	timer := logging.StartTimer(logging.CategoryHandler, "classification.ProcessMessage")
	defer timer.Stop()

	chars, err := h.extractor.Characteristics(pc)
	if err != nil {
		return nil, err
	}
	classification := Classify(chars)

	result := &Result{
		Artifacts:    []types.ArtifactContent{classification},
		SystemPrompt: classificationSystemPrompt,
		UserPrompt: fmt.Sprintf(
			"The user said: %q\n\nClassification: type %s (confidence %.2f). %s\nExplain the classification in plain terms and ask the user to confirm or correct it.",
			pc.Message.Content, classification.DecisionType, classification.Confidence, classification.Reasoning),
		Reply: classificationFallbackReply(classification),
	}
	logging.Handler("Classified session %s as type %s (confidence %.2f)",
		pc.Session.ID, classification.DecisionType, classification.Confidence)
	return result, nil
}

const classificationSystemPrompt = `You are a decision coach explaining a decision classification.
Type 1 decisions are reversible and cheap to retry; they should be made quickly.
Type 2 decisions are hard to reverse with lasting consequences and deserve deliberation.
Be concrete about which characteristics drove the verdict.`

// Classify maps the four characteristics to a decision type.
// Weighting: irreversibility and consequence dominate; scarce
// information and high time pressure each add one point.
func Classify(c types.DecisionCharacteristics) types.ClassificationResult {
	points := 0
	extremes := 0

	switch c.Reversibility {
	case "irreversible":
		points += 2
		extremes++
	case "partially_reversible":
		points++
	case "reversible":
		extremes++
	}

	switch c.Consequence {
	case "high":
		points += 2
		extremes++
	case "medium":
		points++
	case "low":
		extremes++
	}

	if c.Information == "scarce" {
		points++
	}
	if c.Information == "scarce" || c.Information == "sufficient" {
		extremes++
	}

	if c.TimePressure == "high" {
		points++
	}
	if c.TimePressure == "high" || c.TimePressure == "low" {
		extremes++
	}

	var decisionType, reasoning string
	switch {
	case points >= 4:
		decisionType = types.DecisionTypeTwo
		reasoning = fmt.Sprintf(
			"This looks like a one-way door: %s reversibility with %s consequences. Worth slowing down for.",
			c.Reversibility, c.Consequence)
	case points <= 1:
		decisionType = types.DecisionTypeOne
		reasoning = fmt.Sprintf(
			"This is a two-way door: %s with %s consequences. Decide fast and adjust.",
			c.Reversibility, c.Consequence)
	default:
		decisionType = types.DecisionTypeHybrid
		reasoning = fmt.Sprintf(
			"Mixed signals: %s reversibility, %s consequences, %s information, %s time pressure. Parts of this can move fast; the irreversible core deserves care.",
			c.Reversibility, c.Consequence, c.Information, c.TimePressure)
	}

	// Confidence rises with the number of unambiguous characteristics.
	confidence := 0.5 + 0.125*float64(extremes)
	if confidence > 1 {
		confidence = 1
	}

	return types.ClassificationResult{
		DecisionType:    decisionType,
		Confidence:      confidence,
		Characteristics: c,
		Reasoning:       reasoning,
	}
}

func classificationFallbackReply(c types.ClassificationResult) string {
	label := map[string]string{
		types.DecisionTypeOne:    "a Type 1 decision: reversible, so bias toward speed",
		types.DecisionTypeTwo:    "a Type 2 decision: hard to reverse, so worth deliberate analysis",
		types.DecisionTypeHybrid: "a hybrid: some parts reversible, some not",
	}[c.DecisionType]
	return fmt.Sprintf("Based on what you've told me, this is %s. %s Does that match your read? If so, I'll pull the most relevant frameworks.", label, c.Reasoning)
}
