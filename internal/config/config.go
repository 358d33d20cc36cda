// Package config provides configuration loading and management.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the reviewd configuration.
type Config struct {
	Service   ServiceConfig   `toml:"service"`
	LLM       LLMConfig       `toml:"llm"`      // Worker model settings
	CriticLLM LLMConfig       `toml:"critic"`   // Model for feedback synthesis and fix assessment
	Grading   GradingConfig   `toml:"grading"`  // Scoring weights and thresholds
	Fix       FixConfig       `toml:"fix"`      // Fix loop settings
	Storage   StorageConfig   `toml:"storage"`  // Persistent storage settings
	Events    EventsConfig    `toml:"events"`   // Event streaming
	Telemetry TelemetryConfig `toml:"telemetry"`
	Timeouts  TimeoutsConfig  `toml:"timeouts"` // Stage and tool call timeouts
}

// ServiceConfig contains service identification settings.
type ServiceConfig struct {
	ID        string `toml:"id"`
	Workspace string `toml:"workspace"`
}

// LLMConfig contains LLM provider settings.
type LLMConfig struct {
	Provider  string `toml:"provider"`
	Model     string `toml:"model"`
	APIKeyEnv string `toml:"api_key_env"`
	MaxTokens int    `toml:"max_tokens"`
	BaseURL   string `toml:"base_url"` // Custom API endpoint (OpenRouter, LiteLLM, Ollama)
}

// GradingConfig contains scoring weights and thresholds.
// Weights must sum to 1.0.
type GradingConfig struct {
	StyleWeight      float64 `toml:"style_weight"`      // Weight for the style score
	TestWeight       float64 `toml:"test_weight"`       // Weight for the test pass rate
	StructureWeight  float64 `toml:"structure_weight"`  // Weight for structural health
	PassingThreshold float64 `toml:"passing_threshold"` // Composite grade below this offers a fix
	MaxCodeLength    int     `toml:"max_code_length"`   // Maximum submission size in characters
	MaxIssuesShown   int     `toml:"max_issues_shown"`  // Style issues kept in state per review
}

// FixConfig contains fix loop settings.
type FixConfig struct {
	MaxIterations int `toml:"max_iterations"` // Bound on the refinement loop
}

// StorageConfig contains persistent storage settings.
type StorageConfig struct {
	Path string `toml:"path"` // Base directory for sessions, users, artifacts, history
}

// EventsConfig contains event streaming settings.
type EventsConfig struct {
	NATSUrl       string `toml:"nats_url"`       // Empty disables the NATS publisher
	SubjectPrefix string `toml:"subject_prefix"` // Default "reviewd.sessions"
}

// TelemetryConfig contains telemetry settings.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Endpoint string `toml:"endpoint"` // OTLP endpoint (e.g., localhost:4317)
	Protocol string `toml:"protocol"` // grpc (default) or http
}

// TimeoutsConfig contains timeout settings in seconds.
type TimeoutsConfig struct {
	Stage int `toml:"stage"` // Per-stage timeout (default 120)
	Tool  int `toml:"tool"`  // Per-tool-call timeout (default 30)
}

// New creates a new config with defaults.
func New() *Config {
	return &Config{
		LLM: LLMConfig{
			MaxTokens: 4096,
		},
		Grading: GradingConfig{
			StyleWeight:      0.3,
			TestWeight:       0.5,
			StructureWeight:  0.2,
			PassingThreshold: 0.8,
			MaxCodeLength:    10000,
			MaxIssuesShown:   10,
		},
		Fix: FixConfig{
			MaxIterations: 3,
		},
		Storage: StorageConfig{
			Path: "~/.local/reviewd",
		},
		Events: EventsConfig{
			SubjectPrefix: "reviewd.sessions",
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
		Timeouts: TimeoutsConfig{
			Stage: 120,
			Tool:  30,
		},
	}
}

// Default returns a default configuration.
func Default() *Config {
	return New()
}

// LoadFile loads configuration from a TOML file and validates it.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault loads configuration from reviewd.toml in the current directory.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	return LoadFile(filepath.Join(cwd, "reviewd.toml"))
}

// Validate checks invariants the pipeline depends on.
func (c *Config) Validate() error {
	total := c.Grading.StyleWeight + c.Grading.TestWeight + c.Grading.StructureWeight
	if math.Abs(total-1.0) > 0.001 {
		return fmt.Errorf("grading weights must sum to 1.0, got %.3f (style=%.2f, test=%.2f, structure=%.2f)",
			total, c.Grading.StyleWeight, c.Grading.TestWeight, c.Grading.StructureWeight)
	}
	if c.Grading.PassingThreshold < 0 || c.Grading.PassingThreshold > 1 {
		return fmt.Errorf("passing_threshold must be in [0,1], got %.3f", c.Grading.PassingThreshold)
	}
	if c.Fix.MaxIterations <= 0 {
		return fmt.Errorf("fix.max_iterations must be > 0, got %d", c.Fix.MaxIterations)
	}
	return nil
}

// GetAPIKey returns the API key from the configured environment variable.
// If api_key_env is not set, uses the default env var for the provider.
func (c *Config) GetAPIKey() string {
	return apiKeyFor(c.LLM)
}

// GetCriticAPIKey returns the API key for the critic model, falling back to
// the worker model's key when the critic has no separate configuration.
func (c *Config) GetCriticAPIKey() string {
	if key := apiKeyFor(c.CriticLLM); key != "" {
		return key
	}
	return c.GetAPIKey()
}

// CriticOrWorker returns the critic LLM config if one is set, else the worker config.
func (c *Config) CriticOrWorker() LLMConfig {
	if c.CriticLLM.Model == "" {
		return c.LLM
	}
	critic := c.CriticLLM
	if critic.Provider == "" {
		critic.Provider = c.LLM.Provider
	}
	if critic.MaxTokens == 0 {
		critic.MaxTokens = c.LLM.MaxTokens
	}
	return critic
}

// StageTimeout returns the per-stage timeout as a duration.
func (c *Config) StageTimeout() time.Duration {
	return time.Duration(c.Timeouts.Stage) * time.Second
}

// ToolTimeout returns the per-tool-call timeout as a duration.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Timeouts.Tool) * time.Second
}

func apiKeyFor(llm LLMConfig) string {
	envVar := llm.APIKeyEnv
	if envVar == "" {
		envVar = DefaultAPIKeyEnv(llm.Provider)
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// DefaultAPIKeyEnv returns the default environment variable name for a provider.
func DefaultAPIKeyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "mistral":
		return "MISTRAL_API_KEY"
	case "groq":
		return "GROQ_API_KEY"
	default:
		return ""
	}
}
