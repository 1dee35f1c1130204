// Package config loads and validates magetools configuration.
// Configuration lives in .magetools/config.yaml; environment variables
// override file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath is where the CLI looks for configuration relative to the
// working directory.
const DefaultConfigPath = ".magetools/config.yaml"

// Sentinel errors for configuration failures. These are fatal: callers abort
// the whole operation rather than continuing with partial state.
var (
	// ErrBadRoot indicates the discovery root is missing or unreadable.
	ErrBadRoot = errors.New("discovery root not usable")

	// ErrInvalidConfig indicates a configuration value that cannot be used.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// Config holds all magetools configuration.
type Config struct {
	// Root is the discovery root: each immediate child directory is a
	// grimorium candidate.
	Root string `yaml:"root"`

	// Strict requires a valid, enabled manifest before any spell in a
	// grimorium is loaded. When false, manifest-less grimoriums load
	// unfiltered.
	Strict bool `yaml:"strict"`

	// AllowedGrimoriums restricts discovery and execution to the named
	// grimoriums. Empty means no restriction.
	AllowedGrimoriums []string `yaml:"allowed_grimoriums"`

	// DigestMTime folds file modification times into the staleness digest.
	// Off by default: identical bytes produce an identical digest.
	DigestMTime bool `yaml:"digest_mtime"`

	// DatabasePath is the SQLite file backing the vector index and the
	// summary/digest records.
	DatabasePath string `yaml:"database_path"`

	Provider ProviderConfig `yaml:"provider"`
	Sync     SyncConfig     `yaml:"sync"`
	Search   SearchConfig   `yaml:"search"`
	Exec     ExecConfig     `yaml:"exec"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ProviderConfig selects and configures the generation capability.
type ProviderConfig struct {
	Backend    string `yaml:"backend"` // mock, genai, ollama
	Model      string `yaml:"model"`
	EmbedModel string `yaml:"embed_model"`
	APIKey     string `yaml:"api_key"`
	Host       string `yaml:"host"` // ollama base URL
}

// SyncConfig tunes the summary synchronization pipeline.
type SyncConfig struct {
	// Concurrency bounds how many grimoriums sync in parallel.
	Concurrency int `yaml:"concurrency"`

	// Timeout bounds one grimorium's summarize+embed round trip.
	Timeout string `yaml:"timeout"`
}

// SearchConfig tunes semantic discovery queries.
type SearchConfig struct {
	// TopK bounds how many results one discovery query returns.
	TopK int `yaml:"top_k"`

	// MinScore drops results scoring below this similarity. Zero keeps
	// everything; 0.6 (cosine distance 0.4) is a reasonable cut for real
	// embedding backends. The mock backend's bag-of-words vectors score
	// much lower than real embeddings, so the default is no cut.
	MinScore float64 `yaml:"min_score"`
}

// ExecConfig tunes spell execution.
type ExecConfig struct {
	// Timeout bounds a single spell invocation.
	Timeout string `yaml:"timeout"`
}

// LoggingConfig mirrors internal/logging's file-logging controls.
type LoggingConfig struct {
	Enabled    bool            `yaml:"enabled"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories,omitempty"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Root:         "./grimoriums",
		Strict:       true,
		DigestMTime:  false,
		DatabasePath: ".magetools/index.db",

		Provider: ProviderConfig{
			Backend:    "mock",
			Model:      "gemini-2.5-flash",
			EmbedModel: "gemini-embedding-001",
			Host:       "http://localhost:11434",
		},

		Sync: SyncConfig{
			Concurrency: 5,
			Timeout:     "60s",
		},

		Search: SearchConfig{
			TopK: 5,
		},

		Exec: ExecConfig{
			Timeout: "30s",
		},

		Logging: LoggingConfig{
			Enabled: false,
			Level:   "info",
		},
	}
}

// Load loads configuration from a YAML file, falling back to defaults when
// the file does not exist, then applies environment overrides.
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
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	cfg.applyEnvOverrides()
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

// Validate checks values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("%w: root must not be empty", ErrInvalidConfig)
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("%w: sync.concurrency must be >= 1", ErrInvalidConfig)
	}
	switch c.Provider.Backend {
	case "", "mock", "genai", "ollama":
	default:
		return fmt.Errorf("%w: unknown provider backend %q", ErrInvalidConfig, c.Provider.Backend)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if root := os.Getenv("MAGETOOLS_ROOT"); root != "" {
		c.Root = root
	}
	if db := os.Getenv("MAGETOOLS_DB"); db != "" {
		c.DatabasePath = db
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Provider.APIKey = key
		if c.Provider.Backend == "" || c.Provider.Backend == "mock" {
			c.Provider.Backend = "genai"
		}
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		c.Provider.Host = host
		if c.Provider.Backend == "" || c.Provider.Backend == "mock" {
			c.Provider.Backend = "ollama"
		}
	}
}

// SyncTimeout parses Sync.Timeout, defaulting to 60s on absence or error.
func (c *Config) SyncTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Sync.Timeout); err == nil && d > 0 {
		return d
	}
	return 60 * time.Second
}

// ExecTimeout parses Exec.Timeout, defaulting to 30s on absence or error.
func (c *Config) ExecTimeout() time.Duration {
	if d, err := time.ParseDuration(c.Exec.Timeout); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// GrimoriumAllowed reports whether the policy permits the named grimorium.
// An empty policy permits everything.
func (c *Config) GrimoriumAllowed(id string) bool {
	if len(c.AllowedGrimoriums) == 0 {
		return true
	}
	for _, g := range c.AllowedGrimoriums {
		if g == id {
			return true
		}
	}
	return false
}
