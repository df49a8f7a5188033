package config

import (
	"slices"
	"strings"
	"time"
)

const (
	// APIOllama talks to the native Ollama endpoints (/api/generate, /api/tags).
	APIOllama = "ollama"
	// APIOpenAI talks to the OpenAI compatible endpoints under /v1.
	APIOpenAI = "openai"
)

// Ollama contains the connection settings for the generation service.
type Ollama struct {
	Endpoint   string `json:"endpoint"`
	Model      string `json:"model"`
	Timeout    int    `json:"timeout"`
	MaxRetries int    `json:"max_retries"`
	API        string `json:"api"`
	APIKey     string `json:"api_key,omitempty"`
}

// Prompt contains the prompt expansion parameters.
type Prompt struct {
	MaxTokens         int      `json:"max_tokens"`
	TemplateLanguage  string   `json:"template_language"`
	TemplateMaxTokens int      `json:"template_max_tokens"`
	ExpansionTargets  []string `json:"expansion_targets"`
	ExpansionExcludes []string `json:"expansion_excludes"`
}

// UI contains presentation toggles for the hosting application.
type UI struct {
	ShowProgress bool `json:"show_progress"`
	ShowStatus   bool `json:"show_status"`
	ShowPreview  bool `json:"show_preview"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level               string `json:"level"`
	Format              string `json:"format"`
	IncludeTimestamp    bool   `json:"include_timestamp"`
	LogAPICommunication bool   `json:"log_api_communication"`
	LogPromptConversion bool   `json:"log_prompt_conversion"`
}

// Performance contains resource limits and the client pool size.
type Performance struct {
	MemoryLimitGB   float64 `json:"memory_limit_gb"`
	CPULimitPercent int     `json:"cpu_limit_percent"`
	PoolSize        int     `json:"pool_size"`
}

// Config encapsulates all configuration values.
//
// Sections:
//   - Ollama: endpoint, model, timeout and retry policy
//   - Prompt: token budgets and expansion categories
//   - UI: host presentation toggles
//   - Logging: level, format and which API events are logged
//   - Performance: resource limits and pool size
type Config struct {
	Ollama      Ollama      `json:"ollama"`
	Prompt      Prompt      `json:"prompt"`
	UI          UI          `json:"ui"`
	Logging     Logging     `json:"logging"`
	Performance Performance `json:"performance"`
}

// NewOllama builds a validated Ollama section.
func NewOllama(endpoint, model string, timeout, maxRetries int) (Ollama, error) {
	o := Ollama{
		Endpoint:   endpoint,
		Model:      model,
		Timeout:    timeout,
		MaxRetries: maxRetries,
		API:        APIOllama,
	}
	o.normalize()
	if err := o.validate(); err != nil {
		return Ollama{}, err
	}
	return o, nil
}

// TimeoutDuration returns the per call timeout.
func (o Ollama) TimeoutDuration() time.Duration {
	return time.Duration(o.Timeout) * time.Second
}

// BaseURL returns the endpoint without trailing slashes.
func (o Ollama) BaseURL() string {
	return strings.TrimRight(o.Endpoint, "/")
}

func (o *Ollama) normalize() {
	o.Endpoint = strings.TrimSpace(o.Endpoint)
	o.Model = strings.TrimSpace(o.Model)
	o.API = strings.ToLower(strings.TrimSpace(o.API))
	if o.API == "" {
		o.API = APIOllama
	}
	o.APIKey = strings.TrimSpace(o.APIKey)
}

func (c *Config) normalize() {
	c.Ollama.normalize()
	c.Logging.Level = strings.ToUpper(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Prompt.TemplateLanguage = strings.TrimSpace(c.Prompt.TemplateLanguage)
}

// Clone returns a deep copy so callers can't mutate shared slices.
func (c Config) Clone() Config {
	c.Prompt.ExpansionTargets = slices.Clone(c.Prompt.ExpansionTargets)
	c.Prompt.ExpansionExcludes = slices.Clone(c.Prompt.ExpansionExcludes)
	return c
}
