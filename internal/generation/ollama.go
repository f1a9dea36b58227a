package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"sprintpilot/internal/fault"
	"sprintpilot/internal/logging"
	"sprintpilot/internal/types"
)

// OllamaClient implements types.LLMClient against a local Ollama server.
type OllamaClient struct {
	endpoint    string
	model       string
	temperature float64
	httpClient  *http.Client

	mu        sync.Mutex
	lastUsage types.UsageMetadata
}

// OllamaConfig holds configuration for the Ollama client.
type OllamaConfig struct {
	Endpoint    string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// NewOllamaClient creates a new Ollama generation client.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "llama3.1"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &OllamaClient{
		endpoint:    endpoint,
		model:       model,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type ollamaGenerateRequest struct {
	Model   string                 `json:"model"`
	Prompt  string                 `json:"prompt"`
	System  string                 `json:"system,omitempty"`
	Stream  bool                   `json:"stream"`
	Options map[string]interface{} `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Complete sends a single prompt and returns the generated text.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system instruction.
func (c *OllamaClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryGeneration, "ollama.Complete")
	defer timer.StopWithThreshold(30 * time.Second)

	resp, err := c.send(ctx, systemPrompt, userPrompt, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fault.New(fault.CodeGenerationFailed, "ollama.generate",
			fmt.Errorf("failed to decode response: %w", err))
	}

	c.mu.Lock()
	c.lastUsage = types.UsageMetadata{
		InputTokens:  result.PromptEvalCount,
		OutputTokens: result.EvalCount,
		TotalTokens:  result.PromptEvalCount + result.EvalCount,
	}
	c.mu.Unlock()

	return result.Response, nil
}

// CompleteStream yields text chunks from Ollama's line-delimited JSON
// streaming API. The final chunk carries the token usage report.
func (c *OllamaClient) CompleteStream(ctx context.Context, prompt string) (<-chan types.StreamChunk, error) {
	resp, err := c.send(ctx, "", prompt, true)
	if err != nil {
		return nil, err
	}

	out := make(chan types.StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		var usage types.UsageMetadata
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			var chunk ollamaGenerateResponse
			if err := json.Unmarshal(scanner.Bytes(), &chunk); err != nil {
				continue
			}
			if chunk.Response != "" {
				select {
				case out <- types.StreamChunk{Text: chunk.Response}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				usage = types.UsageMetadata{
					InputTokens:  chunk.PromptEvalCount,
					OutputTokens: chunk.EvalCount,
					TotalTokens:  chunk.PromptEvalCount + chunk.EvalCount,
				}
				break
			}
		}

		c.mu.Lock()
		c.lastUsage = usage
		c.mu.Unlock()

		select {
		case out <- types.StreamChunk{Done: true, Usage: &usage}:
		case <-ctx.Done():
		}
	}()

	return out, nil
}

// LastUsage returns token usage from the most recent call.
func (c *OllamaClient) LastUsage() types.UsageMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsage
}

func (c *OllamaClient) send(ctx context.Context, systemPrompt, userPrompt string, stream bool) (*http.Response, error) {
	req := ollamaGenerateRequest{
		Model:  c.model,
		Prompt: userPrompt,
		System: systemPrompt,
		Stream: stream,
		Options: map[string]interface{}{
			"temperature": c.temperature,
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fault.New(fault.CodeGenerationFailed, "ollama.generate", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fault.New(fault.CodeGenerationFailed, "ollama.generate",
			fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(respBody)))
	}
	return resp, nil
}
