// Package config provides configuration loading for codesentinel.
package config

import (
	"fmt"
	"time"
)

// Config is the full configuration tree.
type Config struct {
	Storage   StorageConfig   `koanf:"storage"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Server    ServerConfig    `koanf:"server"`
	Analysis  AnalysisConfig  `koanf:"analysis"`
	Review    ReviewConfig    `koanf:"review"`
	Patterns  PatternsConfig  `koanf:"patterns"`
}

// StorageConfig controls the session store.
type StorageConfig struct {
	// Dir is the directory holding one JSON record per session.
	Dir string `koanf:"dir"`

	// KeepRecent is how many completed sessions retention keeps.
	KeepRecent int `koanf:"keep_recent"`

	// MaxAge is the age past which sessions are swept regardless of status.
	MaxAge Duration `koanf:"max_age"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
	Caller bool   `koanf:"caller"`
}

// TelemetryConfig controls OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"` // "grpc" or "http/protobuf"
	ServiceName    string   `koanf:"service_name"`
	ServiceVersion string   `koanf:"service_version"`
	Insecure       bool     `koanf:"insecure"`
	SampleRate     float64  `koanf:"sample_rate"`
	ExportInterval Duration `koanf:"export_interval"`
}

// ServerConfig controls the HTTP API server.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`
}

// AnalysisConfig is the immutable per-run configuration snapshot. It is
// captured into the session at creation and never mutated afterwards.
type AnalysisConfig struct {
	// TargetPath is the codebase root to analyze.
	TargetPath string `koanf:"target_path" json:"target_path"`

	// IncludePatterns and ExcludePatterns filter discovered files
	// (path.Match globs applied to slash-separated relative paths).
	IncludePatterns []string `koanf:"include_patterns" json:"include_patterns"`
	ExcludePatterns []string `koanf:"exclude_patterns" json:"exclude_patterns,omitempty"`

	// Depth selects how aggressive the analyzer heuristics are.
	Depth string `koanf:"depth" json:"depth"` // quick, standard, deep

	// Concurrency bounds the parallel-phase worker pool.
	Concurrency int `koanf:"concurrency" json:"concurrency"`

	// CheckpointEvery and CheckpointInterval bound lost work on crash:
	// progress is flushed after this many completed items or this much
	// elapsed time, whichever comes first.
	CheckpointEvery    int      `koanf:"checkpoint_every" json:"checkpoint_every"`
	CheckpointInterval Duration `koanf:"checkpoint_interval" json:"checkpoint_interval"`

	// FailureThreshold is the skipped-item ratio above which the session
	// aborts instead of completing over mostly-failed input.
	FailureThreshold float64 `koanf:"failure_threshold" json:"failure_threshold"`

	// RequeueFront controls where change detection reinserts demoted items
	// in the pending queue: front (default) or back.
	RequeueFront bool `koanf:"requeue_front" json:"requeue_front"`

	// HashContents enables sha256 content signatures in addition to
	// mtime+size for change detection.
	HashContents bool `koanf:"hash_contents" json:"hash_contents"`

	// MaxFileSize caps which files discovery admits, in bytes.
	MaxFileSize int64 `koanf:"max_file_size" json:"max_file_size"`

	// BaseRef and HeadRef enable PR mode: only files changed between the
	// two git refs are discovered. Both empty means full discovery.
	BaseRef string `koanf:"base_ref" json:"base_ref,omitempty"`
	HeadRef string `koanf:"head_ref" json:"head_ref,omitempty"`
}

// ReviewConfig controls the reviewer capability.
type ReviewConfig struct {
	// UseLLM switches from the rule-based reviewer to the LLM-backed one.
	// The rule-based reviewer remains the fallback on API errors.
	UseLLM    bool   `koanf:"use_llm"`
	Model     string `koanf:"model"`
	APIKey    Secret `koanf:"api_key"`
	MaxTokens int    `koanf:"max_tokens"`
}

// PatternsConfig controls the project pattern store.
type PatternsConfig struct {
	Enabled       bool    `koanf:"enabled"`
	Dir           string  `koanf:"dir"`
	MinConfidence float64 `koanf:"min_confidence"`
}

// NewDefaultConfig returns a config populated with defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Dir:        ".codesentinel/sessions",
			KeepRecent: 10,
			MaxAge:     Duration(30 * 24 * time.Hour),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: true,
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			Endpoint:       "localhost:4317",
			Protocol:       "grpc",
			ServiceName:    "codesentinel",
			ServiceVersion: "0.1.0",
			Insecure:       true,
			SampleRate:     1.0,
			ExportInterval: Duration(15 * time.Second),
		},
		Server: ServerConfig{
			Host: "localhost",
			Port: 8632,
		},
		Analysis:  NewDefaultAnalysisConfig(),
		Review:    ReviewConfig{Model: "claude-sonnet-4-5", MaxTokens: 4096},
		Patterns:  PatternsConfig{Enabled: true, Dir: ".codesentinel/patterns", MinConfidence: 0.5},
	}
}

// NewDefaultAnalysisConfig returns per-run defaults.
func NewDefaultAnalysisConfig() AnalysisConfig {
	return AnalysisConfig{
		IncludePatterns:    []string{"*.go", "*.py", "*.js", "*.ts", "*.java", "*.rb"},
		Depth:              "standard",
		Concurrency:        4,
		CheckpointEvery:    8,
		CheckpointInterval: Duration(30 * time.Second),
		FailureThreshold:   0.5,
		RequeueFront:       true,
		MaxFileSize:        1024 * 1024,
	}
}

// Validate checks the full tree for errors.
func (c *Config) Validate() error {
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}
	if c.Storage.KeepRecent < 0 {
		return fmt.Errorf("storage.keep_recent must be >= 0, got %d", c.Storage.KeepRecent)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if err := c.Analysis.Validate(); err != nil {
		return err
	}
	if c.Review.UseLLM && c.Review.Model == "" {
		return fmt.Errorf("review.model is required when review.use_llm is enabled")
	}
	if c.Patterns.MinConfidence < 0 || c.Patterns.MinConfidence > 1 {
		return fmt.Errorf("patterns.min_confidence must be between 0 and 1, got %f", c.Patterns.MinConfidence)
	}
	return nil
}

// Validate checks the per-run analysis config.
//
// TargetPath is intentionally not checked for existence here; that is a
// session-level concern validated at discovery time.
func (a *AnalysisConfig) Validate() error {
	switch a.Depth {
	case "", "quick", "standard", "deep":
	default:
		return fmt.Errorf("analysis.depth must be quick, standard, or deep, got %q", a.Depth)
	}
	if a.Concurrency < 1 {
		return fmt.Errorf("analysis.concurrency must be >= 1, got %d", a.Concurrency)
	}
	if a.CheckpointEvery < 1 {
		return fmt.Errorf("analysis.checkpoint_every must be >= 1, got %d", a.CheckpointEvery)
	}
	if a.FailureThreshold < 0 || a.FailureThreshold > 1 {
		return fmt.Errorf("analysis.failure_threshold must be between 0 and 1, got %f", a.FailureThreshold)
	}
	if a.MaxFileSize < 0 {
		return fmt.Errorf("analysis.max_file_size must be >= 0, got %d", a.MaxFileSize)
	}
	if (a.BaseRef == "") != (a.HeadRef == "") {
		return fmt.Errorf("analysis.base_ref and analysis.head_ref must be set together")
	}
	return nil
}
