package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	oagc "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/chriskillpack/promptenhance/enhancer"
	"github.com/chriskillpack/promptenhance/internal/config"
	"github.com/chriskillpack/promptenhance/internal/logging"
)

// Local OpenAI compatible servers accept any key but the SDK insists on one.
const placeholderKey = "promptenhance"

const (
	defaultRate   = 60
	defaultWindow = time.Minute

	modelsTimeout = 10 * time.Second
)

// Client enhances prompts through an OpenAI compatible chat completions API.
type Client struct {
	oac    *oagc.Client
	cfg    config.Ollama
	prompt config.Prompt

	httpClient *http.Client
	rl         *RateLimiter
	logger     *slog.Logger
	api        *logging.APILogger
	parser     *enhancer.Parser
	batchDelay time.Duration

	closed atomic.Bool
}

var _ enhancer.Enhancer = &Client{}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logging.OrNop(logger) }
}

func WithAPILogger(api *logging.APILogger) Option {
	return func(c *Client) { c.api = api }
}

func WithPrompt(p config.Prompt) Option {
	return func(c *Client) { c.prompt = p }
}

func WithBatchDelay(d time.Duration) Option {
	return func(c *Client) { c.batchDelay = d }
}

// WithRateLimit allows rate requests per window.
func WithRateLimit(rate int, window time.Duration) Option {
	return func(c *Client) { c.rl = NewRateLimiter(rate, window) }
}

// WithRateLimiter makes the client draw from rl. A nil rl keeps the client's
// own limiter.
func WithRateLimiter(rl *RateLimiter) Option {
	return func(c *Client) {
		if rl != nil {
			c.rl = rl
		}
	}
}

// NewDefaultRateLimiter returns a limiter with the rate clients use when none
// is given.
func NewDefaultRateLimiter() *RateLimiter {
	return NewRateLimiter(defaultRate, defaultWindow)
}

// New returns a client for the server at cfg.Endpoint. The SDK retries
// failed calls itself, up to cfg.MaxRetries times.
func New(cfg config.Ollama, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		prompt: config.Default().Prompt,
		httpClient: &http.Client{
			Timeout:   cfg.TimeoutDuration(),
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		},
		rl:         NewDefaultRateLimiter(),
		logger:     logging.NewNop(),
		batchDelay: enhancer.DefaultBatchDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String(logging.FieldComponent, "openai"))
	c.parser = enhancer.NewParser(c.logger)

	key := cfg.APIKey
	if key == "" {
		key = placeholderKey
	}
	c.oac = oagc.NewClient(
		option.WithBaseURL(cfg.BaseURL()+"/v1/"),
		option.WithAPIKey(key),
		option.WithHTTPClient(c.httpClient),
		option.WithMaxRetries(cfg.MaxRetries),
		option.WithRequestTimeout(cfg.TimeoutDuration()),
		option.WithMiddleware(c.logExchange),
	)
	return c
}

func (c *Client) Name() string { return config.APIOpenAI }

func (c *Client) Model() string { return c.cfg.Model }

func (c *Client) Enhance(ctx context.Context, prompt string) (string, error) {
	if c.closed.Load() {
		return "", enhancer.ErrClosed
	}
	if _, ok := logging.RequestID(ctx); !ok {
		ctx = logging.WithRequestID(ctx, uuid.NewString())
	}
	logger := logging.WithContext(ctx, c.logger)

	// Rate limit use of the remote API
	if err := c.rl.Acquire(ctx); err != nil {
		return "", c.classify(err)
	}

	start := time.Now()
	text := enhancer.BuildRequestText(prompt, c.prompt.TemplateMaxTokens)
	params := oagc.ChatCompletionNewParams{
		Messages: oagc.F([]oagc.ChatCompletionMessageParamUnion{
			oagc.UserMessage(text),
		}),
		Model:       oagc.F(oagc.ChatModel(c.cfg.Model)),
		Temperature: oagc.Float(0.7),
		TopP:        oagc.Float(0.9),
		MaxTokens:   oagc.Int(int64(c.prompt.MaxTokens)),
	}
	resp, err := c.oac.Chat.Completions.New(ctx, params)
	if err != nil {
		err = c.classify(err)
		logger.Error("prompt enhancement failed", slog.String("error", err.Error()))
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", &enhancer.APIError{
			Kind: enhancer.ErrResponse,
			Op:   "openai chat completion",
			URL:  c.cfg.BaseURL() + "/v1/chat/completions",
			Err:  errors.New("no choices in response"),
		}
	}

	addition := c.parser.Parse(resp.Choices[0].Message.Content)
	result := enhancer.Combine(prompt, addition)
	logger.Info("prompt enhanced", slog.Duration("elapsed", time.Since(start)))
	c.api.Conversion(ctx, prompt, result)
	return result, nil
}

func (c *Client) BatchEnhance(ctx context.Context, prompts []string) []string {
	return enhancer.Batch(ctx, c.Enhance, prompts, enhancer.BatchOptions{
		Delay:  c.batchDelay,
		Logger: c.logger,
	})
}

// TestConnection reports whether the model listing succeeds.
func (c *Client) TestConnection(ctx context.Context) bool {
	if c.closed.Load() {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, modelsTimeout)
	defer cancel()

	page, err := c.oac.Models.List(ctx, option.WithMaxRetries(0))
	if err != nil {
		c.logger.Error("connection test failed", slog.String("error", err.Error()))
		return false
	}

	found := false
	names := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		names = append(names, m.ID)
		found = found || m.ID == c.cfg.Model
	}
	c.logger.Info("connection successful", slog.Any("models", names))
	if !found {
		c.logger.Warn("configured model not found in available models", slog.String("model", c.cfg.Model))
	}
	return true
}

func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.httpClient.CloseIdleConnections()
	return nil
}

// classify maps SDK and transport errors onto enhancer failure classes. Errors
// that come from neither the HTTP status nor the transport are reply decoding
// failures.
func (c *Client) classify(err error) error {
	apiErr := &enhancer.APIError{
		Op:  "openai chat completion",
		URL: c.cfg.BaseURL() + "/v1/chat/completions",
		Err: err,
	}
	var oaErr *oagc.Error
	var urlErr *url.Error
	var netErr net.Error
	switch {
	case errors.As(err, &oaErr):
		apiErr.Kind = enhancer.ErrStatus
		apiErr.StatusCode = oaErr.StatusCode
		apiErr.Err = nil
		if oaErr.Message != "" {
			apiErr.Body = logging.Snippet(oaErr.Message)
		}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled),
		errors.As(err, &urlErr), errors.As(err, &netErr):
		apiErr.Kind = enhancer.ClassifyTransport(err)
	default:
		apiErr.Kind = enhancer.ErrResponse
	}
	return apiErr
}

// logExchange is SDK middleware feeding every HTTP round trip to the API
// logger.
func (c *Client) logExchange(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
	ctx := req.Context()
	c.api.Request(ctx, req.Method, req.URL.String(), nil)

	start := time.Now()
	resp, err := next(req)
	if err != nil {
		return resp, err
	}
	if c.api == nil || !c.api.LogCommunication {
		return resp, nil
	}

	body, rerr := io.ReadAll(resp.Body)
	resp.Body.Close()
	if rerr != nil {
		return nil, fmt.Errorf("read response: %w", rerr)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	c.api.Response(ctx, req.URL.String(), resp.StatusCode, string(body), time.Since(start))
	return resp, nil
}
