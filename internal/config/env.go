package config

import "strings"

// Environment variables that override the file values.
const (
	EnvEndpoint = "PROMPTENHANCE_ENDPOINT"
	EnvModel    = "PROMPTENHANCE_MODEL"
	EnvAPIKey   = "PROMPTENHANCE_API_KEY"
)

// ApplyEnv overlays environment overrides on cfg and re-validates it.
// lookup is usually os.LookupEnv.
func ApplyEnv(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	cfg = cfg.Clone()
	if v, ok := lookup(EnvEndpoint); ok && strings.TrimSpace(v) != "" {
		cfg.Ollama.Endpoint = v
	}
	if v, ok := lookup(EnvModel); ok && strings.TrimSpace(v) != "" {
		cfg.Ollama.Model = v
	}
	if v, ok := lookup(EnvAPIKey); ok {
		cfg.Ollama.APIKey = v
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
