package types

import (
	"context"
)

// LLMClient defines the interface for text-generation providers.
type LLMClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// StreamChunk is one increment of a streaming generation.
type StreamChunk struct {
	Text string
	Done bool
	// Usage is populated only on the final chunk.
	Usage *UsageMetadata
}

// StreamingClient is an optional interface for LLM clients that can
// deliver text incrementally. Incremental delivery changes no invariant
// of the orchestration pipeline; callers that don't need it use
// LLMClient alone. Check with a type assertion:
//
//	if sc, ok := client.(types.StreamingClient); ok {
//	    ch, err := sc.CompleteStream(ctx, prompt)
//	}
type StreamingClient interface {
	CompleteStream(ctx context.Context, prompt string) (<-chan StreamChunk, error)
}

// UsageMetadata captures token usage metrics from the LLM.
type UsageMetadata struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// UsageReporter is an optional interface for LLM clients that expose
// token usage for their most recent call.
type UsageReporter interface {
	LastUsage() UsageMetadata
}
