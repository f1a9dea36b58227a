package generation

import (
	"context"
	"sync"

	"sprintpilot/internal/types"
)

// ScriptedClient is a deterministic LLM client for tests and offline
// runs. It replays canned responses in order, falling back to the last
// one when the script runs out.
type ScriptedClient struct {
	mu        sync.Mutex
	responses []string
	calls     int

	// Prompts records every prompt received, for assertions.
	Prompts []string
}

// NewScriptedClient creates a client that replays the given responses.
func NewScriptedClient(responses ...string) *ScriptedClient {
	return &ScriptedClient{responses: responses}
}

// Complete returns the next scripted response.
func (c *ScriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem returns the next scripted response.
func (c *ScriptedClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.Prompts = append(c.Prompts, userPrompt)
	if len(c.responses) == 0 {
		return "", nil
	}
	idx := c.calls
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	c.calls++
	return c.responses[idx], nil
}

// CallCount returns how many completions were requested.
func (c *ScriptedClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

var _ types.LLMClient = (*ScriptedClient)(nil)
