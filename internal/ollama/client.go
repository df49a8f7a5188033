package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/chriskillpack/promptenhance/enhancer"
	"github.com/chriskillpack/promptenhance/internal/config"
	"github.com/chriskillpack/promptenhance/internal/logging"
)

const (
	userAgent = "promptenhance/1.0.0"

	defaultRetryInterval    = 1 * time.Second
	defaultRetryMaxInterval = 60 * time.Second

	// Model listing is cheap, don't wait on it for as long as a generation.
	tagsTimeout = 10 * time.Second
)

type jsonmap map[string]any

// Sampling options sent with every generation request.
var defaultOptions = jsonmap{
	"temperature": 0.7,
	"top_p":       0.9,
	"max_tokens":  150,
}

// Statuses worth another attempt; everything else but 200 is final.
var retryStatuses = []int{
	http.StatusTooManyRequests,
	http.StatusInternalServerError,
	http.StatusBadGateway,
	http.StatusServiceUnavailable,
	http.StatusGatewayTimeout,
}

// Client talks to the native Ollama API.
type Client struct {
	cfg    config.Ollama
	prompt config.Prompt

	client *http.Client
	logger *slog.Logger
	api    *logging.APILogger
	parser *enhancer.Parser

	retryInterval    time.Duration
	retryMaxInterval time.Duration
	batchDelay       time.Duration
	sleep            func(context.Context, time.Duration)

	closed atomic.Bool
}

var _ enhancer.Enhancer = &Client{}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client, including its timeout.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.client = client
		}
	}
}

// WithLogger sets the logger used for client events.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrNop(logger)
	}
}

// WithAPILogger sets the logger for request, response and conversion events.
func WithAPILogger(api *logging.APILogger) Option {
	return func(c *Client) {
		c.api = api
	}
}

// WithPrompt overrides the prompt expansion parameters.
func WithPrompt(p config.Prompt) Option {
	return func(c *Client) {
		c.prompt = p
	}
}

// WithRetryBackoff overrides the first retry delay and the delay cap.
func WithRetryBackoff(initial, maxInterval time.Duration) Option {
	return func(c *Client) {
		c.retryInterval = initial
		c.retryMaxInterval = maxInterval
	}
}

// WithBatchDelay overrides the pause between BatchEnhance calls.
func WithBatchDelay(d time.Duration) Option {
	return func(c *Client) {
		c.batchDelay = d
	}
}

// New returns a client for cfg. Each client owns its own transport so
// clients never share connections.
func New(cfg config.Ollama, opts ...Option) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	c := &Client{
		cfg:    cfg,
		prompt: config.Default().Prompt,
		client: &http.Client{
			Timeout:   cfg.TimeoutDuration(),
			Transport: transport,
		},
		logger:           logging.NewNop(),
		retryInterval:    defaultRetryInterval,
		retryMaxInterval: defaultRetryMaxInterval,
		batchDelay:       enhancer.DefaultBatchDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String(logging.FieldComponent, "ollama"))
	c.parser = enhancer.NewParser(c.logger)
	return c
}

func (c *Client) Name() string { return config.APIOllama }

func (c *Client) Model() string { return c.cfg.Model }

// Enhance sends prompt to /api/generate and appends the generated detail.
func (c *Client) Enhance(ctx context.Context, prompt string) (string, error) {
	if c.closed.Load() {
		return "", enhancer.ErrClosed
	}
	if _, ok := logging.RequestID(ctx); !ok {
		ctx = logging.WithRequestID(ctx, uuid.NewString())
	}
	logger := logging.WithContext(ctx, c.logger)

	start := time.Now()
	logger.Info("enhancing prompt", slog.String("prompt", truncate(prompt, 100)))

	body, err := c.sendRequest(ctx, enhancer.BuildRequestText(prompt, c.prompt.TemplateMaxTokens))
	if err != nil {
		logger.Error("prompt enhancement failed", slog.String("error", err.Error()))
		return "", err
	}

	addition, err := c.extract(logger, body)
	if err != nil {
		logger.Error("prompt enhancement failed", slog.String("error", err.Error()))
		return "", err
	}

	result := enhancer.Combine(prompt, addition)
	logger.Info("prompt enhanced", slog.Duration("elapsed", time.Since(start)))
	logger.Debug("final enhanced prompt", slog.String("result", result))
	c.api.Conversion(ctx, prompt, result)
	return result, nil
}

// BatchEnhance enhances prompts sequentially, falling back to the original
// prompt for any item that fails.
func (c *Client) BatchEnhance(ctx context.Context, prompts []string) []string {
	return enhancer.Batch(ctx, c.Enhance, prompts, enhancer.BatchOptions{
		Delay:  c.batchDelay,
		Logger: c.logger,
		Sleep:  c.sleep,
	})
}

// extract pulls the generated text out of the server envelope.
func (c *Client) extract(logger *slog.Logger, body []byte) (string, error) {
	var envelope map[string]any
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", &enhancer.APIError{
			Kind: enhancer.ErrResponse,
			Op:   "ollama generate",
			URL:  c.url("/api/generate"),
			Body: logging.Snippet(string(body)),
			Err:  err,
		}
	}
	response, ok := envelope["response"].(string)
	if !ok {
		logger.Warn("unexpected response format", slog.String("body", logging.Snippet(string(body))))
		return strings.TrimSpace(string(body)), nil
	}
	return c.parser.Parse(response), nil
}

func (c *Client) url(path string) string {
	return c.cfg.BaseURL() + path
}

// sendRequest posts promptText to /api/generate, retrying transient failures
// with exponential backoff, and returns the raw response body.
func (c *Client) sendRequest(ctx context.Context, promptText string) ([]byte, error) {
	options := maps.Clone(defaultOptions)
	options["max_tokens"] = c.prompt.MaxTokens
	data := jsonmap{
		"model":   c.cfg.Model,
		"prompt":  promptText,
		"stream":  false,
		"options": options,
	}

	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(&data); err != nil {
		return nil, fmt.Errorf("ollama generate: encode body: %w", err)
	}
	encoded := buf.Bytes()

	endpoint := c.url("/api/generate")
	logger := logging.WithContext(ctx, c.logger)
	c.api.Request(ctx, http.MethodPost, endpoint, data)

	var (
		body     []byte
		attempts int
	)
	op := func() error {
		attempts++
		var err error
		body, err = c.post(ctx, endpoint, encoded)
		if err == nil {
			return nil
		}
		var apiErr *enhancer.APIError
		if errors.As(err, &apiErr) && apiErr.Kind == enhancer.ErrStatus && !slices.Contains(retryStatuses, apiErr.StatusCode) {
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("retrying generate request",
			slog.Int("attempt", attempts),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
	}

	err := backoff.RetryNotify(op, c.newBackOff(ctx), notify)
	if err == nil {
		return body, nil
	}

	var apiErr *enhancer.APIError
	if !errors.As(err, &apiErr) {
		// The context ended while waiting between attempts.
		apiErr = &enhancer.APIError{
			Kind: enhancer.ClassifyTransport(err),
			Op:   "ollama generate",
			URL:  endpoint,
			Err:  err,
		}
	}
	apiErr.Attempts = attempts
	return nil, apiErr
}

func (c *Client) newBackOff(ctx context.Context) backoff.BackOff {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = c.retryInterval
	expo.MaxInterval = c.retryMaxInterval
	expo.Multiplier = 2
	expo.RandomizationFactor = 0
	expo.MaxElapsedTime = 0
	expo.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(expo, uint64(c.cfg.MaxRetries)), ctx)
}

// post performs a single attempt.
func (c *Client) post(ctx context.Context, endpoint string, encoded []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("ollama generate: new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &enhancer.APIError{
			Kind: enhancer.ClassifyTransport(err),
			Op:   "ollama generate",
			URL:  endpoint,
			Err:  err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &enhancer.APIError{
			Kind: enhancer.ClassifyTransport(err),
			Op:   "ollama generate",
			URL:  endpoint,
			Err:  fmt.Errorf("read body: %w", err),
		}
	}
	c.api.Response(ctx, endpoint, resp.StatusCode, string(body), time.Since(start))

	if resp.StatusCode != http.StatusOK {
		return nil, &enhancer.APIError{
			Kind:       enhancer.ErrStatus,
			Op:         "ollama generate",
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Body:       logging.Snippet(string(body)),
		}
	}
	return body, nil
}

// TestConnection lists the models served at /api/tags and logs whether the
// configured model is among them. It reports only whether the listing call
// returned 200.
func (c *Client) TestConnection(ctx context.Context) bool {
	if c.closed.Load() {
		return false
	}
	logger := c.logger
	logger.Info("testing ollama connection")

	ctx, cancel := context.WithTimeout(ctx, tagsTimeout)
	defer cancel()

	endpoint := c.url("/api/tags")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		logger.Error("connection test failed", slog.String("error", err.Error()))
		return false
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		logger.Error("connection test failed", slog.String("error", err.Error()))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logger.Error("connection test failed", slog.Int("status", resp.StatusCode))
		return false
	}

	var tags struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		logger.Warn("could not decode model list", slog.String("error", err.Error()))
		return true
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	logger.Info("connection successful", slog.Any("models", names))

	if hasModel(names, c.cfg.Model) {
		logger.Info("configured model is available", slog.String("model", c.cfg.Model))
	} else {
		logger.Warn("configured model not found in available models", slog.String("model", c.cfg.Model))
	}
	return true
}

// hasModel treats "name" and "name:latest" as the same model.
func hasModel(names []string, model string) bool {
	for _, n := range names {
		if n == model || n == model+":latest" {
			return true
		}
	}
	return false
}

// Close releases idle connections. Later calls are no-ops.
func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.client.CloseIdleConnections()
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
