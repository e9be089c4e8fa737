// Package config loads and validates kompass configuration from YAML,
// with environment variable overrides for secrets and paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all kompass configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Embedding engine configuration
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Agent/tool catalog configuration
	Catalog CatalogConfig `yaml:"catalog"`

	// Retrieval and ranking
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Execution strategies and timeouts
	Execution ExecutionConfig `yaml:"execution"`

	// Critic thresholds
	Critic CriticConfig `yaml:"critic"`

	// Anti-looping limits
	Limits LimitsConfig `yaml:"limits"`

	// Caches and feedback memory
	Memory MemoryConfig `yaml:"memory"`

	// Human approval gates
	HITL HITLConfig `yaml:"hitl"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the language model client.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // genai, hash
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	CachePath  string `yaml:"cache_path"`
}

// CatalogConfig configures the agent/tool catalog.
type CatalogConfig struct {
	Path      string `yaml:"path"`       // YAML catalog file
	HotReload bool   `yaml:"hot_reload"` // watch the file for admin edits
}

// RetrievalConfig configures agent and tool retrieval.
type RetrievalConfig struct {
	ShortlistK     int     `yaml:"shortlist_k"`     // tools per agent after ranking
	RerankTopN     int     `yaml:"rerank_top_n"`    // candidates sent to the reranker
	MinScore       float64 `yaml:"min_score"`       // similarity floor for shortlist
	RerankerEnable bool    `yaml:"reranker_enable"` // off by default
}

// ExecutionConfig configures step execution.
type ExecutionConfig struct {
	Parallelism     int    `yaml:"parallelism"`       // concurrent tool calls in fan-out
	SpeculativeMax  int    `yaml:"speculative_max"`   // max agents probed speculatively
	PerToolCharCap  int    `yaml:"per_tool_char_cap"` // truncation per tool result
	TotalCharCap    int    `yaml:"total_char_cap"`    // truncation across a step
	InlineTimeout   string `yaml:"inline_timeout"`
	ParallelTimeout string `yaml:"parallel_timeout"`
	SubTaskTimeout  string `yaml:"sub_task_timeout"`
	SubtaskEnabled  bool   `yaml:"subtask_enabled"` // allow the 300s sub-task strategy
}

// CriticConfig configures the contract critic.
type CriticConfig struct {
	NominalConfidence float64 `yaml:"nominal_confidence"` // acceptance threshold
	Window            int     `yaml:"window"`             // verdict history window
	ThrashLimit       int     `yaml:"thrash_limit"`       // replans within window before fail
}

// LimitsConfig bounds a turn so it always terminates.
type LimitsConfig struct {
	MaxSteps       int `yaml:"max_steps"`        // execution passes per turn
	MaxReplans     int `yaml:"max_replans"`      // replan verdicts per turn
	MetaToolStreak int `yaml:"meta_tool_streak"` // consecutive meta-only steps
	SearchBudget   int `yaml:"search_budget"`    // retrieval calls per turn
}

// MemoryConfig configures caches, feedback, and durable state.
type MemoryConfig struct {
	DatabasePath       string            `yaml:"database_path"`
	CheckpointDir      string            `yaml:"checkpoint_dir"`
	EpisodicStores     int               `yaml:"episodic_stores"`      // max per-thread stores
	EntriesPer         int               `yaml:"entries_per_store"`    // max entries per store
	ResultCacheEntries int               `yaml:"result_cache_entries"` // max durable result-cache rows
	ComboTTL           string            `yaml:"combo_ttl"`            // agent/tool combo cache TTL
	DefaultTTL         string            `yaml:"default_ttl"`          // result cache fallback TTL
	SourceTTLs         map[string]string `yaml:"source_ttls"`          // per-source result TTLs
}

// HITLConfig configures human approval gates.
type HITLConfig struct {
	Stages  []string `yaml:"stages"`  // planner, execution, synthesis
	Timeout string   `yaml:"timeout"` // how long a gate waits before expiring
}

// LoggingConfig configures categorized logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "kompass",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider: "gemini",
			Model:    "gemini-2.0-flash",
			BaseURL:  "https://generativelanguage.googleapis.com/v1beta",
			Timeout:  "120s",
		},

		Embedding: EmbeddingConfig{
			Provider:   "genai",
			Model:      "text-embedding-004",
			Dimensions: 768,
			CachePath:  "data/embeddings.json",
		},

		Catalog: CatalogConfig{
			Path:      "config/catalog.yaml",
			HotReload: true,
		},

		Retrieval: RetrievalConfig{
			ShortlistK:     5,
			RerankTopN:     6,
			MinScore:       0.15,
			RerankerEnable: false,
		},

		Execution: ExecutionConfig{
			Parallelism:     4,
			SpeculativeMax:  3,
			PerToolCharCap:  1200,
			TotalCharCap:    6000,
			InlineTimeout:   "120s",
			ParallelTimeout: "120s",
			SubTaskTimeout:  "300s",
			SubtaskEnabled:  true,
		},

		Critic: CriticConfig{
			NominalConfidence: 0.70,
			Window:            3,
			ThrashLimit:       2,
		},

		Limits: LimitsConfig{
			MaxSteps:       8,
			MaxReplans:     2,
			MetaToolStreak: 3,
			SearchBudget:   8,
		},

		Memory: MemoryConfig{
			DatabasePath:       "data/kompass.db",
			CheckpointDir:      "data/checkpoints",
			EpisodicStores:     100,
			EntriesPer:         200,
			ResultCacheEntries: 500,
			ComboTTL:           "20m",
			DefaultTTL:         "15m",
			SourceTTLs: map[string]string{
				"weather":          "5m",
				"traffic":          "2m",
				"statistics":       "24h",
				"company_registry": "168h",
				"parliament":       "1h",
			},
		},

		HITL: HITLConfig{
			Stages:  []string{"execution"},
			Timeout: "10m",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults
// when the file does not exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate rejects configurations that would make a turn unbounded.
func (c *Config) Validate() error {
	if c.Limits.MaxSteps <= 0 {
		return fmt.Errorf("limits.max_steps must be positive, got %d", c.Limits.MaxSteps)
	}
	if c.Limits.MaxReplans < 0 {
		return fmt.Errorf("limits.max_replans must not be negative, got %d", c.Limits.MaxReplans)
	}
	if c.Execution.Parallelism <= 0 {
		return fmt.Errorf("execution.parallelism must be positive, got %d", c.Execution.Parallelism)
	}
	if c.Critic.NominalConfidence <= 0 || c.Critic.NominalConfidence > 1 {
		return fmt.Errorf("critic.nominal_confidence must be in (0,1], got %f", c.Critic.NominalConfidence)
	}
	if c.Retrieval.ShortlistK <= 0 {
		return fmt.Errorf("retrieval.shortlist_k must be positive, got %d", c.Retrieval.ShortlistK)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "gemini"
	}
	if path := os.Getenv("KOMPASS_DB"); path != "" {
		c.Memory.DatabasePath = path
	}
	if path := os.Getenv("KOMPASS_CATALOG"); path != "" {
		c.Catalog.Path = path
	}
	if dir := os.Getenv("KOMPASS_CHECKPOINT_DIR"); dir != "" {
		c.Memory.CheckpointDir = dir
	}
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// GetInlineTimeout returns the inline strategy deadline.
func (c *Config) GetInlineTimeout() time.Duration {
	return parseDuration(c.Execution.InlineTimeout, 120*time.Second)
}

// GetParallelTimeout returns the parallel strategy deadline.
func (c *Config) GetParallelTimeout() time.Duration {
	return parseDuration(c.Execution.ParallelTimeout, 120*time.Second)
}

// GetSubTaskTimeout returns the sub-task strategy deadline.
func (c *Config) GetSubTaskTimeout() time.Duration {
	return parseDuration(c.Execution.SubTaskTimeout, 300*time.Second)
}

// GetComboTTL returns the agent/tool combination cache TTL.
func (c *Config) GetComboTTL() time.Duration {
	return parseDuration(c.Memory.ComboTTL, 20*time.Minute)
}

// GetHITLTimeout returns how long approval gates wait for a human.
func (c *Config) GetHITLTimeout() time.Duration {
	return parseDuration(c.HITL.Timeout, 10*time.Minute)
}

// MaxResultTTL returns the longest configured result-cache TTL. Rows
// older than this are dead under every source's policy.
func (c *Config) MaxResultTTL() time.Duration {
	max := parseDuration(c.Memory.DefaultTTL, 15*time.Minute)
	for _, s := range c.Memory.SourceTTLs {
		if d := parseDuration(s, 0); d > max {
			max = d
		}
	}
	return max
}

// ResultTTL returns the result-cache TTL for a data source, falling back
// to the default TTL for unlisted sources.
func (c *Config) ResultTTL(source string) time.Duration {
	if s, ok := c.Memory.SourceTTLs[source]; ok {
		return parseDuration(s, 15*time.Minute)
	}
	return parseDuration(c.Memory.DefaultTTL, 15*time.Minute)
}
