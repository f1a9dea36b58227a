package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"sprintpilot/internal/usage"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show LLM token usage",
	RunE:  runUsage,
}

func runUsage(cmd *cobra.Command, args []string) error {
	tracker, err := usage.NewTracker(workspace)
	if err != nil {
		return err
	}

	stats := tracker.Stats()
	fmt.Printf("Total tokens: %d (input %d, output %d)\n\n",
		stats.Total.Total, stats.Total.Input, stats.Total.Output)

	printCounts("By model", stats.ByModel)
	printCounts("By operation", stats.ByOperation)
	printCounts("By phase", stats.ByPhase)
	return nil
}

func printCounts(title string, counts map[string]usage.TokenCounts) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println(title + ":")
	for _, k := range keys {
		c := counts[k]
		fmt.Printf("  %-32s %8d (in %d / out %d)\n", k, c.Total, c.Input, c.Output)
	}
	fmt.Println()
}
