package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefaults(t *testing.T) {
	cfg := New()

	if cfg.Fix.MaxIterations != 3 {
		t.Errorf("expected default max_iterations 3, got %d", cfg.Fix.MaxIterations)
	}
	if cfg.Grading.PassingThreshold != 0.8 {
		t.Errorf("expected default passing threshold 0.8, got %f", cfg.Grading.PassingThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
	if cfg.StageTimeout() != 120*time.Second {
		t.Errorf("expected 120s stage timeout, got %v", cfg.StageTimeout())
	}
}

func TestValidateWeights(t *testing.T) {
	cfg := New()
	cfg.Grading.StyleWeight = 0.5
	cfg.Grading.TestWeight = 0.5
	cfg.Grading.StructureWeight = 0.5

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for weights summing to 1.5")
	}
}

func TestValidateMaxIterations(t *testing.T) {
	cfg := New()
	cfg.Fix.MaxIterations = 0

	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero max_iterations")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reviewd.toml")

	content := `
[llm]
provider = "anthropic"
model = "claude-sonnet-4-5"

[critic]
model = "claude-opus-4-1"

[fix]
max_iterations = 5

[grading]
style_weight = 0.2
test_weight = 0.6
structure_weight = 0.2
passing_threshold = 0.75
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}

	if cfg.LLM.Model != "claude-sonnet-4-5" {
		t.Errorf("unexpected worker model: %s", cfg.LLM.Model)
	}
	if cfg.Fix.MaxIterations != 5 {
		t.Errorf("expected max_iterations 5, got %d", cfg.Fix.MaxIterations)
	}

	critic := cfg.CriticOrWorker()
	if critic.Model != "claude-opus-4-1" {
		t.Errorf("expected critic model, got %s", critic.Model)
	}
	if critic.Provider != "anthropic" {
		t.Errorf("critic should inherit worker provider, got %q", critic.Provider)
	}
}

func TestLoadFileInvalidWeights(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reviewd.toml")

	content := `
[grading]
style_weight = 0.9
test_weight = 0.9
structure_weight = 0.9
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFile(path); err == nil {
		t.Error("expected error for invalid weights")
	}
}

func TestCriticFallsBackToWorker(t *testing.T) {
	cfg := New()
	cfg.LLM.Model = "gpt-5"
	cfg.LLM.Provider = "openai"

	critic := cfg.CriticOrWorker()
	if critic.Model != "gpt-5" {
		t.Errorf("expected worker model fallback, got %s", critic.Model)
	}
}
