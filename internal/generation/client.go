// Package generation provides text-generation clients for the sprint
// engine. The orchestrator and phase handlers depend only on
// types.LLMClient; this package supplies the Gemini and Ollama backends
// plus a retry wrapper for transient API failures.
package generation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"sprintpilot/internal/config"
	"sprintpilot/internal/fault"
	"sprintpilot/internal/logging"
	"sprintpilot/internal/types"
)

// NewClient creates an LLM client based on configuration.
func NewClient(cfg config.LLMConfig) (types.LLMClient, error) {
	timeout := 120 * time.Second
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid llm.timeout %q: %w", cfg.Timeout, err)
		}
		timeout = d
	}

	logging.Generation("Creating LLM client with provider=%s model=%s", cfg.Provider, cfg.Model)

	switch cfg.Provider {
	case "genai", "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("LLM API key is required for provider %s", cfg.Provider)
		}
		return NewGeminiClient(GeminiConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     timeout,
		}), nil
	case "ollama":
		return NewOllamaClient(OllamaConfig{
			Endpoint:    cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     timeout,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (use 'genai' or 'ollama')", cfg.Provider)
	}
}

// =============================================================================
// RETRY
// =============================================================================

// RetryConfig configures retry behavior for generation calls.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     8 * time.Second,
	}
}

// ErrMaxRetriesExceeded indicates all retry attempts failed.
var ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")

// CompleteWithRetry runs client.Complete with exponential backoff.
// Non-retryable faults abort immediately.
func CompleteWithRetry(ctx context.Context, client types.LLMClient, cfg RetryConfig, prompt string) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		text, err := client.Complete(ctx, prompt)
		if err == nil {
			if attempt > 0 {
				logging.Generation("Retry succeeded on attempt %d", attempt+1)
			}
			return text, nil
		}

		lastErr = err
		if fault.CodeOf(err) != "" && !fault.IsRetryable(err) {
			return "", err
		}
		logging.Generation("Attempt %d/%d failed: %v", attempt+1, cfg.MaxRetries+1, err)

		if attempt < cfg.MaxRetries {
			backoff := calculateBackoff(cfg, attempt)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return "", fmt.Errorf("%w: %v", ErrMaxRetriesExceeded, lastErr)
}

// calculateBackoff computes exponential backoff: initial * 2^attempt,
// capped at MaxBackoff.
func calculateBackoff(cfg RetryConfig, attempt int) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(2, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	return time.Duration(backoff)
}
