package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEnvOverrides_Provider(t *testing.T) {
	t.Run("GEMINI_API_KEY switches mock backend to genai", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "gm-key")
		t.Setenv("OLLAMA_HOST", "")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "gm-key", cfg.Provider.APIKey)
		assert.Equal(t, "genai", cfg.Provider.Backend)
	})

	t.Run("GEMINI_API_KEY does not override explicit backend", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "gm-key")
		t.Setenv("OLLAMA_HOST", "")

		cfg := DefaultConfig()
		cfg.Provider.Backend = "ollama"
		cfg.applyEnvOverrides()

		assert.Equal(t, "gm-key", cfg.Provider.APIKey)
		assert.Equal(t, "ollama", cfg.Provider.Backend)
	})

	t.Run("OLLAMA_HOST sets host and backend", func(t *testing.T) {
		t.Setenv("GEMINI_API_KEY", "")
		t.Setenv("OLLAMA_HOST", "http://10.0.0.2:11434")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "http://10.0.0.2:11434", cfg.Provider.Host)
		assert.Equal(t, "ollama", cfg.Provider.Backend)
	})
}

func TestEnvOverrides_Paths(t *testing.T) {
	t.Setenv("MAGETOOLS_ROOT", "/var/grimoriums")
	t.Setenv("MAGETOOLS_DB", "/var/index.db")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OLLAMA_HOST", "")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "/var/grimoriums", cfg.Root)
	assert.Equal(t, "/var/index.db", cfg.DatabasePath)
}
