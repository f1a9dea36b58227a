package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var queryLimit int

var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Search the knowledge corpus",
	Long: `Embeds the query text and prints the most similar knowledge items.
Useful for checking what the selector would see for a given problem.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().IntVar(&queryLimit, "limit", 10, "maximum results")
}

func runQuery(cmd *cobra.Command, args []string) error {
	s, err := openStack()
	if err != nil {
		return err
	}
	defer s.close()

	text := strings.Join(args, " ")
	vector, err := s.engine.Embed(context.Background(), text)
	if err != nil {
		return fmt.Errorf("failed to embed query: %w", err)
	}

	hits, err := s.store.SearchSimilar(vector, cfg.Selector.MinSimilarity, queryLimit)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	if len(hits) == 0 {
		fmt.Println("No matches. Is the corpus ingested? (sprintpilot ingest)")
		return nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.KnowledgeItemID
	}
	items, err := s.store.GetKnowledgeItems(ids)
	if err != nil {
		return err
	}
	byID := make(map[string]string, len(items))
	takeaway := make(map[string]string, len(items))
	for _, item := range items {
		byID[item.ID] = item.Name
		takeaway[item.ID] = item.KeyTakeaway
	}

	for i, h := range hits {
		fmt.Printf("%2d. %-40s %.3f\n", i+1, byID[h.KnowledgeItemID], h.Similarity)
		if t := takeaway[h.KnowledgeItemID]; t != "" {
			fmt.Printf("    %s\n", t)
		}
	}
	return nil
}
