// sprintpilot is a decision-sprint assistant: it walks a founder from a
// fuzzy problem statement to a written commitment memo in six phases,
// recommending mental-model frameworks from a local knowledge corpus
// along the way.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sprintpilot/internal/config"
	"sprintpilot/internal/embedding"
	"sprintpilot/internal/generation"
	"sprintpilot/internal/handler"
	"sprintpilot/internal/logging"
	"sprintpilot/internal/orchestrator"
	"sprintpilot/internal/phase"
	"sprintpilot/internal/selector"
	"sprintpilot/internal/store"
	"sprintpilot/internal/types"
	"sprintpilot/internal/usage"
)

var (
	// Global flags
	cfgPath   string
	workspace string
	verbose   bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "sprintpilot",
	Short: "sprintpilot - decision sprint assistant",
	Long: `sprintpilot runs structured decision sprints.

A sprint moves through six phases: problem intake, diagnostic interview,
decision type classification, framework selection, framework application,
and commitment memo generation. Each phase extracts structured artifacts
from the conversation and gates the transition to the next.

Run "sprintpilot chat" to start or resume a sprint.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if workspace == "" {
			workspace, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to resolve workspace: %w", err)
			}
		}

		settings := cfg.Logging
		if verbose {
			settings.DebugMode = true
			settings.Level = "debug"
		}
		if err := logging.Initialize(workspace, settings); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// stack is everything a command needs wired together.
type stack struct {
	store        *store.LocalStore
	engine       embedding.Engine
	llm          types.LLMClient
	tracker      *usage.Tracker
	orchestrator *orchestrator.Orchestrator
}

func (s *stack) close() {
	if s.tracker != nil {
		if err := s.tracker.Save(); err != nil {
			logger.Warn("failed to save usage data", zap.Error(err))
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			logger.Warn("failed to close store", zap.Error(err))
		}
	}
}

// openStack wires the full pipeline. The LLM client is optional; when
// no API key is configured the assistant runs on deterministic replies.
func openStack() (*stack, error) {
	st, err := store.NewLocalStore(cfg.Store.DatabasePath, store.Options{
		RequireVec: cfg.Store.RequireVec,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	engine, err := embedding.NewEngine(cfg.Embedding)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create embedding engine: %w", err)
	}

	llm, err := generation.NewClient(cfg.LLM)
	if err != nil {
		logger.Warn("no LLM client; using deterministic replies", zap.Error(err))
		llm = nil
	}

	tracker, err := usage.NewTracker(workspace)
	if err != nil {
		logger.Warn("usage tracking disabled", zap.Error(err))
		tracker = nil
	}

	svc := selector.NewService(st, engine, cfg.Selector)

	var extractor handler.Extractor = &handler.RuleExtractor{}
	if llm != nil {
		extractor = handler.NewLLMExtractor(llm)
	}
	registry := handler.NewRegistry(extractor, svc)

	timeout, err := cfg.RequestTimeout()
	if err != nil {
		st.Close()
		return nil, err
	}

	orch := orchestrator.New(st, phase.NewManager(st), registry, llm, tracker, orchestrator.Options{
		RequestTimeout: timeout,
		Model:          cfg.LLM.Model,
		Provider:       cfg.LLM.Provider,
	})

	return &stack{store: st, engine: engine, llm: llm, tracker: tracker, orchestrator: orch}, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", ".sprintpilot/config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", "", "workspace directory (default: cwd)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(usageCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
