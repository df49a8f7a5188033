package logging

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/chriskillpack/promptenhance/internal/config"
)

const snippetLimit = 160

// APILogger records communication with the generation service. Request and
// response events are emitted only when LogCommunication is set, conversion
// events only when LogConversion is set. A nil *APILogger logs nothing.
type APILogger struct {
	Logger           *slog.Logger
	LogCommunication bool
	LogConversion    bool
}

// NewAPILogger returns an APILogger honouring the logging section toggles.
func NewAPILogger(logger *slog.Logger, cfg config.Logging) *APILogger {
	return &APILogger{
		Logger:           OrNop(logger).With(slog.String(FieldComponent, "api")),
		LogCommunication: cfg.LogAPICommunication,
		LogConversion:    cfg.LogPromptConversion,
	}
}

// Request logs an outgoing call.
func (a *APILogger) Request(ctx context.Context, method, url string, payload any) {
	if a == nil || !a.LogCommunication {
		return
	}
	WithContext(ctx, a.Logger).InfoContext(ctx, "api request",
		slog.Group("api_request",
			slog.String("method", method),
			slog.String("url", url),
			slog.Any("payload", payload),
		),
	)
}

// Response logs the outcome of a call.
func (a *APILogger) Response(ctx context.Context, url string, status int, body string, elapsed time.Duration) {
	if a == nil || !a.LogCommunication {
		return
	}
	WithContext(ctx, a.Logger).InfoContext(ctx, "api response",
		slog.Group("api_response",
			slog.String("url", url),
			slog.Int("status_code", status),
			slog.String("response_data", Snippet(body)),
			slog.Duration("elapsed", elapsed),
		),
	)
}

// Conversion logs a finished prompt enhancement.
func (a *APILogger) Conversion(ctx context.Context, original, enhanced string) {
	if a == nil || !a.LogConversion {
		return
	}
	WithContext(ctx, a.Logger).InfoContext(ctx, "prompt conversion completed",
		slog.Group("prompt_conversion",
			slog.String("original", original),
			slog.String("enhanced", enhanced),
			slog.Int("original_length", len(original)),
			slog.Int("enhanced_length", len(enhanced)),
		),
	)
}

// Snippet collapses whitespace and truncates s for log output.
func Snippet(s string) string {
	clean := strings.Join(strings.Fields(s), " ")
	if clean == "" {
		return "<empty>"
	}
	runes := []rune(clean)
	if len(runes) > snippetLimit {
		return string(runes[:snippetLimit]) + "..."
	}
	return clean
}
