// Package promptenhance expands short image generation prompts with scene,
// mood and lighting detail using a locally hosted language model.
package promptenhance

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/chriskillpack/promptenhance/enhancer"
	"github.com/chriskillpack/promptenhance/internal/config"
	"github.com/chriskillpack/promptenhance/internal/logging"
	"github.com/chriskillpack/promptenhance/internal/ollama"
	"github.com/chriskillpack/promptenhance/internal/openai"
)

type InitOptions struct {
	Config config.Config
	Logger *slog.Logger

	// HTTPClient is the base for outgoing requests. If nil each client builds
	// its own. Pools give every client a copy with its own transport.
	HTTPClient *http.Client
}

// NewEnhancer returns a client for the backend named by Config.Ollama.API.
func NewEnhancer(opts InitOptions) (enhancer.Enhancer, error) {
	return newEnhancer(opts, opts.HTTPClient, nil)
}

func newEnhancer(opts InitOptions, hc *http.Client, rl *openai.RateLimiter) (enhancer.Enhancer, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.OrNop(opts.Logger)
	api := logging.NewAPILogger(logger, cfg.Logging)

	switch cfg.Ollama.API {
	case config.APIOllama:
		return ollama.New(cfg.Ollama,
			ollama.WithHTTPClient(hc),
			ollama.WithLogger(logger),
			ollama.WithAPILogger(api),
			ollama.WithPrompt(cfg.Prompt),
		), nil
	case config.APIOpenAI:
		return openai.New(cfg.Ollama,
			openai.WithHTTPClient(hc),
			openai.WithRateLimiter(rl),
			openai.WithLogger(logger),
			openai.WithAPILogger(api),
			openai.WithPrompt(cfg.Prompt),
		), nil
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Ollama.API)
}

// NewPoolFromConfig builds a pool of performance.pool_size clients. Each client
// owns its connections. OpenAI clients in the pool share one rate limit.
func NewPoolFromConfig(opts InitOptions) (*Pool, error) {
	var rl *openai.RateLimiter
	if opts.Config.Ollama.API == config.APIOpenAI {
		rl = openai.NewDefaultRateLimiter()
	}
	pool, err := NewPool(opts.Config.Performance.PoolSize, func() (enhancer.Enhancer, error) {
		return newEnhancer(opts, ownHTTPClient(opts.HTTPClient), rl)
	})
	if err != nil {
		return nil, err
	}
	pool.Logger = logging.OrNop(opts.Logger)
	return pool, nil
}

// ownHTTPClient copies hc so the copy's idle connections belong to it alone.
// Round trippers other than *http.Transport are shared as is.
func ownHTTPClient(hc *http.Client) *http.Client {
	if hc == nil {
		return nil
	}
	own := *hc
	if t, ok := hc.Transport.(*http.Transport); ok {
		own.Transport = t.Clone()
	} else if hc.Transport == nil {
		own.Transport = http.DefaultTransport.(*http.Transport).Clone()
	}
	return &own
}
