package generation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"sprintpilot/internal/fault"
	"sprintpilot/internal/logging"
	"sprintpilot/internal/types"
)

// GeminiClient implements types.LLMClient against the Gemini REST API.
type GeminiClient struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client

	mu        sync.Mutex
	lastUsage types.UsageMetadata
}

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.0-flash"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	return &GeminiClient{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       model,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

// =============================================================================
// GEMINI API TYPES
// =============================================================================

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Complete sends a single prompt and returns the generated text.
func (c *GeminiClient) Complete(ctx context.Context, prompt string) (string, error) {
	return c.CompleteWithSystem(ctx, "", prompt)
}

// CompleteWithSystem sends a prompt with a system instruction.
func (c *GeminiClient) CompleteWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	timer := logging.StartTimer(logging.CategoryGeneration, "gemini.Complete")
	defer timer.StopWithThreshold(30 * time.Second)

	req := c.buildRequest(systemPrompt, userPrompt)

	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fault.New(fault.CodeGenerationFailed, "gemini.generateContent", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fault.New(fault.CodeGenerationFailed, "gemini.generateContent", err)
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(respBody, &geminiResp); err != nil {
		return "", fault.New(fault.CodeGenerationFailed, "gemini.generateContent",
			fmt.Errorf("failed to decode response: %w", err))
	}

	if geminiResp.Error != nil {
		return "", fault.New(fault.CodeGenerationFailed, "gemini.generateContent",
			fmt.Errorf("gemini API error %d (%s): %s", geminiResp.Error.Code, geminiResp.Error.Status, geminiResp.Error.Message))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fault.New(fault.CodeGenerationFailed, "gemini.generateContent",
			fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, string(respBody)))
	}
	if len(geminiResp.Candidates) == 0 {
		return "", fault.New(fault.CodeGenerationFailed, "gemini.generateContent",
			fmt.Errorf("no candidates returned"))
	}

	c.recordUsage(geminiResp)

	var sb strings.Builder
	for _, part := range geminiResp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}

	logging.GenerationDebug("gemini response: %d chars, %d tokens",
		sb.Len(), geminiResp.UsageMetadata.TotalTokenCount)
	return sb.String(), nil
}

// CompleteStream sends a prompt and yields text chunks over SSE.
// The final chunk carries the token usage report.
func (c *GeminiClient) CompleteStream(ctx context.Context, prompt string) (<-chan types.StreamChunk, error) {
	req := c.buildRequest("", prompt)
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, c.model, c.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fault.New(fault.CodeGenerationFailed, "gemini.streamGenerateContent", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fault.New(fault.CodeGenerationFailed, "gemini.streamGenerateContent",
			fmt.Errorf("gemini returned status %d: %s", resp.StatusCode, string(respBody)))
	}

	out := make(chan types.StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()

		var usage types.UsageMetadata
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				break
			}

			var chunk geminiResponse
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				logging.GenerationDebug("skipping malformed SSE chunk: %v", err)
				continue
			}
			if chunk.UsageMetadata.TotalTokenCount > 0 {
				usage = types.UsageMetadata{
					InputTokens:  chunk.UsageMetadata.PromptTokenCount,
					OutputTokens: chunk.UsageMetadata.CandidatesTokenCount,
					TotalTokens:  chunk.UsageMetadata.TotalTokenCount,
				}
			}
			for _, cand := range chunk.Candidates {
				for _, part := range cand.Content.Parts {
					if part.Text == "" {
						continue
					}
					select {
					case out <- types.StreamChunk{Text: part.Text}:
					case <-ctx.Done():
						return
					}
				}
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
func (c *GeminiClient) LastUsage() types.UsageMetadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUsage
}

func (c *GeminiClient) buildRequest(systemPrompt, userPrompt string) geminiRequest {
	req := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: userPrompt}}},
		},
		GenerationConfig: &geminiGenerationConfig{
			Temperature: c.temperature,
		},
	}
	if systemPrompt != "" {
		req.SystemInstruction = &geminiContent{
			Parts: []geminiPart{{Text: systemPrompt}},
		}
	}
	return req
}

func (c *GeminiClient) recordUsage(resp geminiResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUsage = types.UsageMetadata{
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		TotalTokens:  resp.UsageMetadata.TotalTokenCount,
	}
}
