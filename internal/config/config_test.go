package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Root != "./grimoriums" {
		t.Errorf("expected Root=./grimoriums, got %s", cfg.Root)
	}
	if !cfg.Strict {
		t.Error("expected Strict=true by default")
	}
	if cfg.DigestMTime {
		t.Error("expected DigestMTime=false by default")
	}
	if cfg.Provider.Backend != "mock" {
		t.Errorf("expected Backend=mock, got %s", cfg.Provider.Backend)
	}
	if cfg.Sync.Concurrency != 5 {
		t.Errorf("expected Concurrency=5, got %d", cfg.Sync.Concurrency)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	// Ensure no env vars interfere
	t.Setenv("MAGETOOLS_ROOT", "")
	t.Setenv("MAGETOOLS_DB", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OLLAMA_HOST", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.Root = "/srv/spells"
	cfg.Strict = false
	cfg.AllowedGrimoriums = []string{"math", "text"}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Root != "/srv/spells" {
		t.Errorf("expected Root=/srv/spells, got %s", loaded.Root)
	}
	if loaded.Strict {
		t.Error("expected Strict=false after load")
	}
	if len(loaded.AllowedGrimoriums) != 2 {
		t.Errorf("expected 2 allowed grimoriums, got %d", len(loaded.AllowedGrimoriums))
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("MAGETOOLS_ROOT", "")
	t.Setenv("MAGETOOLS_DB", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OLLAMA_HOST", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Root != "./grimoriums" {
		t.Errorf("expected default root, got %s", cfg.Root)
	}
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}

	cfg.Root = ""
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for empty root, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Sync.Concurrency = 0
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for zero concurrency, got %v", err)
	}

	cfg = DefaultConfig()
	cfg.Provider.Backend = "chroma"
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for unknown backend, got %v", err)
	}
}

func TestTimeouts(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.SyncTimeout(); got != 60*time.Second {
		t.Errorf("expected 60s sync timeout, got %v", got)
	}
	if got := cfg.ExecTimeout(); got != 30*time.Second {
		t.Errorf("expected 30s exec timeout, got %v", got)
	}

	cfg.Sync.Timeout = "bogus"
	if got := cfg.SyncTimeout(); got != 60*time.Second {
		t.Errorf("expected fallback 60s on parse error, got %v", got)
	}

	cfg.Exec.Timeout = "5s"
	if got := cfg.ExecTimeout(); got != 5*time.Second {
		t.Errorf("expected 5s exec timeout, got %v", got)
	}
}

func TestGrimoriumAllowed(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.GrimoriumAllowed("anything") {
		t.Error("empty policy should allow everything")
	}

	cfg.AllowedGrimoriums = []string{"math"}
	if !cfg.GrimoriumAllowed("math") {
		t.Error("math should be allowed")
	}
	if cfg.GrimoriumAllowed("secret") {
		t.Error("secret should not be allowed")
	}
}
