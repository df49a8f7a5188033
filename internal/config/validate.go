package config

import (
	"fmt"
	"net/url"
)

// ValidationError reports a configuration value that is missing or out of range.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.Ollama.validate(); err != nil {
		return err
	}
	if err := c.validatePrompt(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validatePerformance(); err != nil {
		return err
	}
	return nil
}

func (o *Ollama) validate() error {
	u, err := url.Parse(o.Endpoint)
	if err != nil || o.Endpoint == "" {
		return invalid("ollama.endpoint", "must be a valid URL, got %q", o.Endpoint)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid("ollama.endpoint", "must use http or https, got %q", o.Endpoint)
	}
	if u.Host == "" {
		return invalid("ollama.endpoint", "must include a host, got %q", o.Endpoint)
	}
	if o.Model == "" {
		return invalid("ollama.model", "cannot be empty")
	}
	if o.Timeout < 1 || o.Timeout > 300 {
		return invalid("ollama.timeout", "must be between 1 and 300 seconds, got %d", o.Timeout)
	}
	if o.MaxRetries < 1 || o.MaxRetries > 10 {
		return invalid("ollama.max_retries", "must be between 1 and 10, got %d", o.MaxRetries)
	}
	switch o.API {
	case APIOllama, APIOpenAI:
	default:
		return invalid("ollama.api", "must be %q or %q, got %q", APIOllama, APIOpenAI, o.API)
	}
	return nil
}

func (c *Config) validatePrompt() error {
	p := c.Prompt
	if p.MaxTokens < 50 || p.MaxTokens > 500 {
		return invalid("prompt.max_tokens", "must be between 50 and 500, got %d", p.MaxTokens)
	}
	if p.TemplateMaxTokens < 10 || p.TemplateMaxTokens > 100 {
		return invalid("prompt.template_max_tokens", "must be between 10 and 100, got %d", p.TemplateMaxTokens)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL":
	default:
		return invalid("logging.level", "must be one of DEBUG, INFO, WARNING, ERROR, CRITICAL, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return invalid("logging.format", "must be json or text, got %q", c.Logging.Format)
	}
	return nil
}

func (c *Config) validatePerformance() error {
	p := c.Performance
	if p.MemoryLimitGB < 0.1 || p.MemoryLimitGB > 16.0 {
		return invalid("performance.memory_limit_gb", "must be between 0.1 and 16.0, got %g", p.MemoryLimitGB)
	}
	if p.CPULimitPercent < 10 || p.CPULimitPercent > 100 {
		return invalid("performance.cpu_limit_percent", "must be between 10 and 100, got %d", p.CPULimitPercent)
	}
	if p.PoolSize < 1 || p.PoolSize > 16 {
		return invalid("performance.pool_size", "must be between 1 and 16, got %d", p.PoolSize)
	}
	return nil
}
