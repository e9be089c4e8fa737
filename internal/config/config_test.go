package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Limits.MaxSteps != 8 {
		t.Errorf("MaxSteps = %d, want 8", cfg.Limits.MaxSteps)
	}
	if cfg.Limits.MaxReplans != 2 {
		t.Errorf("MaxReplans = %d, want 2", cfg.Limits.MaxReplans)
	}
	if cfg.Retrieval.ShortlistK != 5 {
		t.Errorf("ShortlistK = %d, want 5", cfg.Retrieval.ShortlistK)
	}
	if cfg.Retrieval.RerankerEnable {
		t.Error("reranker should be disabled by default")
	}
	if !cfg.Execution.SubtaskEnabled {
		t.Error("sub-task strategy should be enabled by default")
	}
	if cfg.Memory.ResultCacheEntries != 500 {
		t.Errorf("ResultCacheEntries = %d, want 500", cfg.Memory.ResultCacheEntries)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Name != "kompass" {
		t.Errorf("Name = %q, want kompass", cfg.Name)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
limits:
  max_steps: 12
execution:
  parallelism: 2
  subtask_enabled: false
memory:
  source_ttls:
    weather: 1m
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Limits.MaxSteps != 12 {
		t.Errorf("MaxSteps = %d, want 12", cfg.Limits.MaxSteps)
	}
	if cfg.Execution.Parallelism != 2 {
		t.Errorf("Parallelism = %d, want 2", cfg.Execution.Parallelism)
	}
	if got := cfg.ResultTTL("weather"); got != time.Minute {
		t.Errorf("ResultTTL(weather) = %v, want 1m", got)
	}
	if cfg.Execution.SubtaskEnabled {
		t.Error("explicit subtask_enabled: false should stick")
	}
	// Untouched defaults survive a partial file.
	if cfg.Critic.NominalConfidence != 0.70 {
		t.Errorf("NominalConfidence = %f, want 0.70", cfg.Critic.NominalConfidence)
	}
}

func TestValidateRejectsUnboundedTurns(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Limits.MaxSteps = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero max_steps should fail validation")
	}

	cfg = DefaultConfig()
	cfg.Critic.NominalConfidence = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("out-of-range confidence should fail validation")
	}
}

func TestResultTTLFallback(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.ResultTTL("weather"); got != 5*time.Minute {
		t.Errorf("ResultTTL(weather) = %v, want 5m", got)
	}
	if got := cfg.ResultTTL("unknown_source"); got != 15*time.Minute {
		t.Errorf("ResultTTL(unknown) = %v, want 15m default", got)
	}
	if got := cfg.ResultTTL("company_registry"); got != 168*time.Hour {
		t.Errorf("ResultTTL(company_registry) = %v, want 168h", got)
	}
	if got := cfg.MaxResultTTL(); got != 168*time.Hour {
		t.Errorf("MaxResultTTL = %v, want 168h", got)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("KOMPASS_DB", "/tmp/override.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.APIKey != "test-key" {
		t.Errorf("APIKey = %q, want env override", cfg.LLM.APIKey)
	}
	if cfg.Memory.DatabasePath != "/tmp/override.db" {
		t.Errorf("DatabasePath = %q, want env override", cfg.Memory.DatabasePath)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "config.yaml")

	cfg := DefaultConfig()
	cfg.Limits.SearchBudget = 4
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Limits.SearchBudget != 4 {
		t.Errorf("SearchBudget = %d, want 4", loaded.Limits.SearchBudget)
	}
}
