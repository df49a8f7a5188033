package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chriskillpack/promptenhance/internal/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.Endpoint)
	assert.Equal(t, 3, cfg.Performance.PoolSize)
}

func TestNewOllama(t *testing.T) {
	o, err := config.NewOllama("http://localhost:11434", "  llama3  ", 30, 3)
	require.NoError(t, err)
	assert.Equal(t, "llama3", o.Model)
	assert.Equal(t, config.APIOllama, o.API)

	for _, boundary := range []struct{ timeout, retries int }{{1, 1}, {300, 10}} {
		_, err := config.NewOllama("https://example.com", "m", boundary.timeout, boundary.retries)
		assert.NoError(t, err, "timeout=%d retries=%d", boundary.timeout, boundary.retries)
	}
}

func TestNewOllamaRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		model    string
		timeout  int
		retries  int
		field    string
	}{
		{"zero timeout", "http://localhost:11434", "m", 0, 3, "ollama.timeout"},
		{"timeout too large", "http://localhost:11434", "m", 301, 3, "ollama.timeout"},
		{"zero retries", "http://localhost:11434", "m", 30, 0, "ollama.max_retries"},
		{"too many retries", "http://localhost:11434", "m", 30, 11, "ollama.max_retries"},
		{"empty model", "http://localhost:11434", "", 30, 3, "ollama.model"},
		{"whitespace model", "http://localhost:11434", "   ", 30, 3, "ollama.model"},
		{"no scheme", "localhost:11434", "m", 30, 3, "ollama.endpoint"},
		{"empty endpoint", "", "m", 30, 3, "ollama.endpoint"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.NewOllama(tt.endpoint, tt.model, tt.timeout, tt.retries)
			var verr *config.ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestLoadWritesDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	store := config.NewStore(path)

	cfg, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)

	_, err = os.Stat(path)
	require.NoError(t, err, "defaults should be written on first load")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	store := config.NewStore(path)

	cfg := config.Default()
	cfg.Ollama.Endpoint = "http://gpu-box:11434"
	cfg.Ollama.Model = "mistral"
	cfg.Ollama.Timeout = 300
	cfg.Ollama.MaxRetries = 10
	cfg.Logging.Level = "DEBUG"
	cfg.Performance.MemoryLimitGB = 2.5
	cfg.UI.ShowPreview = true
	require.NoError(t, store.Save(cfg))

	loaded, err := config.NewStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSaveRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	store := config.NewStore(path)

	cfg := config.Default()
	cfg.Ollama.Timeout = 0
	err := store.Save(cfg)
	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "invalid config must not be persisted")
}

func TestLoadMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ollama": `), 0o644))

	_, err := config.NewStore(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestLoadOutOfRangeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ollama": {"max_retries": 11}}`), 0o644))

	_, err := config.NewStore(path).Load()
	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "ollama.max_retries", verr.Field)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"ollama": {"model": "phi3"}}`), 0o644))

	cfg, err := config.NewStore(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "phi3", cfg.Ollama.Model)
	assert.Equal(t, 30, cfg.Ollama.Timeout)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestUpdateDeepMerge(t *testing.T) {
	store := config.NewStore(filepath.Join(t.TempDir(), "config.json"))
	_, err := store.Load()
	require.NoError(t, err)

	cfg, err := store.Update(map[string]any{
		"ollama":  map[string]any{"timeout": 60},
		"logging": map[string]any{"level": "debug"},
	})
	require.NoError(t, err)
	assert.Equal(t, 60, cfg.Ollama.Timeout)
	assert.Equal(t, "openhermes", cfg.Ollama.Model, "untouched nested field keeps its value")
	assert.Equal(t, 5, cfg.Ollama.MaxRetries)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)

	got, err := store.Get()
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestUpdateInvalidKeepsPrevious(t *testing.T) {
	store := config.NewStore(filepath.Join(t.TempDir(), "config.json"))
	before, err := store.Get()
	require.NoError(t, err)

	_, err = store.Update(map[string]any{"ollama": map[string]any{"timeout": 301}})
	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)

	_, err = store.Update(map[string]any{"ollama": map[string]any{"no_such_field": 1}})
	require.ErrorAs(t, err, &verr)

	after, err := store.Get()
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestGetReturnsCopy(t *testing.T) {
	store := config.NewStore(filepath.Join(t.TempDir(), "config.json"))
	cfg, err := store.Get()
	require.NoError(t, err)
	cfg.Prompt.ExpansionTargets[0] = "mutated"

	again, err := store.Get()
	require.NoError(t, err)
	assert.Equal(t, "scene", again.Prompt.ExpansionTargets[0])
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		config.EnvEndpoint: "http://remote:11434/",
		config.EnvModel:    "llava",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg, err := config.ApplyEnv(config.Default(), lookup)
	require.NoError(t, err)
	assert.Equal(t, "http://remote:11434/", cfg.Ollama.Endpoint)
	assert.Equal(t, "http://remote:11434", cfg.Ollama.BaseURL())
	assert.Equal(t, "llava", cfg.Ollama.Model)

	env[config.EnvEndpoint] = "not a url"
	_, err = config.ApplyEnv(config.Default(), lookup)
	var verr *config.ValidationError
	assert.ErrorAs(t, err, &verr)
}
