// Package config loads and validates sprintpilot configuration from a
// YAML file with environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"sprintpilot/internal/logging"
)

// Config holds all sprintpilot configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM text generation
	LLM LLMConfig `yaml:"llm"`

	// Embedding generation
	Embedding EmbeddingConfig `yaml:"embedding"`

	// SQLite store
	Store StoreConfig `yaml:"store"`

	// Framework selector tuning
	Selector SelectorConfig `yaml:"selector"`

	// Orchestration pipeline
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`

	// Knowledge corpus
	Corpus CorpusConfig `yaml:"corpus"`

	// Logging
	Logging logging.Settings `yaml:"logging"`
}

// LLMConfig configures the text-generation provider.
type LLMConfig struct {
	Provider    string  `yaml:"provider"` // genai, ollama
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	Timeout     string  `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // genai, ollama
	GenAIAPIKey    string `yaml:"genai_api_key"`
	GenAIModel     string `yaml:"genai_model"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
	OllamaModel    string `yaml:"ollama_model"`
	Dimensions     int    `yaml:"dimensions"`
}

// StoreConfig configures the SQLite store.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
	RequireVec   bool   `yaml:"require_vec"` // fail fast if sqlite-vec unavailable
}

// SelectorConfig tunes the framework recommendation engine.
type SelectorConfig struct {
	MaxFrameworks      int     `yaml:"max_frameworks"`
	MinSimilarity      float64 `yaml:"min_similarity"`
	DiversityWeight    float64 `yaml:"diversity_weight"`
	IncludeSuperModels bool    `yaml:"include_super_models"`
}

// OrchestratorConfig bounds the per-message pipeline.
type OrchestratorConfig struct {
	RequestTimeout string `yaml:"request_timeout"`
}

// CorpusConfig configures knowledge corpus ingestion.
type CorpusConfig struct {
	Dir            string `yaml:"dir"`
	Watch          bool   `yaml:"watch"`
	IngestParallel int    `yaml:"ingest_parallel"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "sprintpilot",
		Version: "0.1.0",
		LLM: LLMConfig{
			Provider:    "genai",
			Model:       "gemini-2.0-flash",
			Temperature: 0.7,
			Timeout:     "120s",
		},
		Embedding: EmbeddingConfig{
			Provider:       "genai",
			GenAIModel:     "gemini-embedding-001",
			OllamaEndpoint: "http://localhost:11434",
			OllamaModel:    "embeddinggemma",
			Dimensions:     768,
		},
		Store: StoreConfig{
			DatabasePath: ".sprintpilot/sprintpilot.db",
		},
		Selector: SelectorConfig{
			MaxFrameworks:      5,
			MinSimilarity:      0.3,
			DiversityWeight:    0.3,
			IncludeSuperModels: true,
		},
		Orchestrator: OrchestratorConfig{
			RequestTimeout: "180s",
		},
		Corpus: CorpusConfig{
			Dir:            "knowledge",
			IngestParallel: 4,
		},
		Logging: logging.Settings{
			Level: "info",
		},
	}
}

// Load reads config from the given path, applying defaults for missing
// fields and environment overrides for secrets. A missing file is not an
// error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to the given path.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// applyEnvOverrides lets environment variables win over file values so
// API keys never have to live in the YAML.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SPRINTPILOT_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = v
		}
		if cfg.Embedding.GenAIAPIKey == "" {
			cfg.Embedding.GenAIAPIKey = v
		}
	}
	if v := os.Getenv("SPRINTPILOT_DB_PATH"); v != "" {
		cfg.Store.DatabasePath = v
	}
	if v := os.Getenv("SPRINTPILOT_CORPUS_DIR"); v != "" {
		cfg.Corpus.Dir = v
	}
}

// Validate checks cross-field constraints that YAML parsing can't.
func (c *Config) Validate() error {
	if c.Selector.MaxFrameworks < 1 {
		return fmt.Errorf("selector.max_frameworks must be >= 1, got %d", c.Selector.MaxFrameworks)
	}
	if c.Selector.MinSimilarity < 0 || c.Selector.MinSimilarity > 1 {
		return fmt.Errorf("selector.min_similarity must be in [0,1], got %f", c.Selector.MinSimilarity)
	}
	if c.Selector.DiversityWeight < 0 || c.Selector.DiversityWeight > 1 {
		return fmt.Errorf("selector.diversity_weight must be in [0,1], got %f", c.Selector.DiversityWeight)
	}
	if _, err := c.RequestTimeout(); err != nil {
		return err
	}
	if _, err := c.LLMTimeout(); err != nil {
		return err
	}
	return nil
}

// RequestTimeout parses the orchestrator request timeout.
func (c *Config) RequestTimeout() (time.Duration, error) {
	return parseTimeout(c.Orchestrator.RequestTimeout, 180*time.Second, "orchestrator.request_timeout")
}

// LLMTimeout parses the LLM call timeout.
func (c *Config) LLMTimeout() (time.Duration, error) {
	return parseTimeout(c.LLM.Timeout, 120*time.Second, "llm.timeout")
}

func parseTimeout(raw string, fallback time.Duration, field string) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %s", field, raw)
	}
	return d, nil
}
