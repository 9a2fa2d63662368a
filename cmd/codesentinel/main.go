// Codesentinel is a resumable code-quality analysis engine.
//
// It walks a codebase, runs analysis and documentation workers in
// parallel with periodic checkpoints, reviews the combined results, and
// can pause, resume, and survive crashes without losing completed work.
//
// Usage:
//
//	# Analyze the current directory
//	codesentinel analyze --path .
//
//	# Pause and later resume a run
//	codesentinel pause <session-id>
//	codesentinel resume <session-id>
//
//	# Serve the HTTP API
//	codesentinel serve
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/SudoKMaar/CodeSentinel/internal/analyze"
	"github.com/SudoKMaar/CodeSentinel/internal/capability"
	"github.com/SudoKMaar/CodeSentinel/internal/change"
	"github.com/SudoKMaar/CodeSentinel/internal/config"
	"github.com/SudoKMaar/CodeSentinel/internal/coordinator"
	"github.com/SudoKMaar/CodeSentinel/internal/document"
	"github.com/SudoKMaar/CodeSentinel/internal/logging"
	"github.com/SudoKMaar/CodeSentinel/internal/memorybank"
	"github.com/SudoKMaar/CodeSentinel/internal/review"
	"github.com/SudoKMaar/CodeSentinel/internal/session"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "codesentinel",
	Short: "Resumable code-quality analysis engine",
	Long: `codesentinel analyzes a codebase for quality issues, generates
documentation, and produces a prioritized review. Runs checkpoint their
progress and can be paused, resumed, and recovered after a crash.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("codesentinel\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

// app wires the engine from configuration. Every command builds one.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *session.Store
	coord  *coordinator.Coordinator
}

// newApp loads configuration and assembles the coordinator stack. The
// discovery strategy follows the analysis config: git changeset mode
// when base_ref is set, a filesystem walk otherwise. Overrides run after
// loading, so command flags win over file and environment values.
func newApp(overrides ...func(*config.Config)) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	detector, err := change.NewDetector(cfg.Analysis.HashContents, logger)
	if err != nil {
		return nil, err
	}
	store, err := session.NewStore(cfg.Storage.Dir, detector, logger)
	if err != nil {
		return nil, err
	}

	analyzer, err := analyze.New(logger)
	if err != nil {
		return nil, err
	}
	documenter, err := document.New(analyzer, logger)
	if err != nil {
		return nil, err
	}
	reviewer, err := buildReviewer(cfg, logger)
	if err != nil {
		return nil, err
	}

	var discovery capability.Discovery
	if cfg.Analysis.BaseRef != "" {
		discovery, err = discoveryForChangeset(detector, cfg.Analysis, logger)
	} else {
		discovery, err = discoveryForWalk(detector, cfg.Analysis, logger)
	}
	if err != nil {
		return nil, err
	}

	var bank *memorybank.Bank
	if cfg.Patterns.Enabled {
		bank, err = memorybank.New(cfg.Patterns.Dir, cfg.Patterns.MinConfidence, logger)
		if err != nil {
			logger.Warn("pattern store unavailable", zap.Error(err))
			bank = nil
		}
	}

	coord, err := coordinator.New(store, coordinator.Capabilities{
		Discovery:  discovery,
		Analyzer:   analyzer,
		Documenter: documenter,
		Reviewer:   reviewer,
	}, detector, bank, logger)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, store: store, coord: coord}, nil
}

func buildReviewer(cfg *config.Config, logger *zap.Logger) (capability.Reviewer, error) {
	rules, err := review.NewRuleReviewer(logger)
	if err != nil {
		return nil, err
	}
	if !cfg.Review.UseLLM {
		return rules, nil
	}
	if !cfg.Review.APIKey.IsSet() {
		logger.Warn("review.use_llm set but no api key, using rule reviewer")
		return rules, nil
	}
	return review.NewLLMReviewer(cfg.Review.APIKey.Value(), cfg.Review.Model, rules, logger)
}
