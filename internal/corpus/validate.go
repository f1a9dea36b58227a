package corpus

import (
	"fmt"

	"sprintpilot/internal/types"
)

// Targeting dimensions are closed enums. An unknown value would silently
// never match a session config, so ingestion rejects it instead.
var (
	validPersonas = map[string]bool{
		"founder":         true,
		"executive":       true,
		"investor":        true,
		"product_manager": true,
	}
	validStartupPhases = map[string]bool{
		"ideation": true,
		"seed":     true,
		"growth":   true,
		"scale-up": true,
		"crisis":   true,
	}
	validProblemCategories = map[string]bool{
		"pivot":                true,
		"hiring":               true,
		"fundraising":          true,
		"co-founder_conflict":  true,
		"product-market_fit":   true,
		"go-to-market":         true,
		"team_and_culture":     true,
		"operations":           true,
		"competitive_strategy": true,
		"pricing":              true,
		"risk_management":      true,
	}
)

func validateItem(item *types.KnowledgeItem) error {
	if item.Name == "" {
		return fmt.Errorf("missing knowledge_piece_name")
	}
	if item.Definition == "" {
		return fmt.Errorf("item %q has no definition", item.Name)
	}
	for _, p := range item.TargetPersonas {
		if !validPersonas[p] {
			return fmt.Errorf("item %q has unknown target_persona %q", item.Name, p)
		}
	}
	for _, p := range item.StartupPhases {
		if !validStartupPhases[p] {
			return fmt.Errorf("item %q has unknown startup_phase %q", item.Name, p)
		}
	}
	for _, c := range item.ProblemCategories {
		if !validProblemCategories[c] {
			return fmt.Errorf("item %q has unknown problem_category %q", item.Name, c)
		}
	}
	return nil
}
