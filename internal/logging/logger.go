package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chriskillpack/promptenhance/internal/config"
)

// LevelCritical sits above slog.LevelError for the CRITICAL config level.
const LevelCritical = slog.LevelError + 4

// Options describes logger construction parameters.
type Options struct {
	Level            string
	Format           string
	IncludeTimestamp bool
	Output           io.Writer // defaults to os.Stderr
	AddSource        bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	levelVar := new(slog.LevelVar)
	levelVar.Set(parseLevel(opts.Level))

	w := opts.Output
	if w == nil {
		w = os.Stderr
	}

	handlerOpts := &slog.HandlerOptions{
		Level:       levelVar,
		AddSource:   opts.AddSource,
		ReplaceAttr: replaceAttr(opts.IncludeTimestamp),
	}

	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "json", "":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig creates a logger from the logging section of the config.
func NewFromConfig(cfg config.Logging, w io.Writer) (*slog.Logger, error) {
	return New(Options{
		Level:            cfg.Level,
		Format:           cfg.Format,
		IncludeTimestamp: cfg.IncludeTimestamp,
		Output:           w,
		AddSource:        parseLevel(cfg.Level) <= slog.LevelDebug,
	})
}

func parseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	case "CRITICAL":
		return LevelCritical
	default:
		return slog.LevelInfo
	}
}

func replaceAttr(includeTimestamp bool) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, attr slog.Attr) slog.Attr {
		if len(groups) > 0 {
			return attr
		}
		switch attr.Key {
		case slog.TimeKey:
			if !includeTimestamp {
				return slog.Attr{}
			}
			attr.Key = "ts"
			if attr.Value.Kind() == slog.KindTime {
				attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339))
			}
		case slog.LevelKey:
			if lvl, ok := attr.Value.Any().(slog.Level); ok && lvl >= LevelCritical {
				attr.Value = slog.StringValue("critical")
			} else {
				attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
			}
		case slog.SourceKey:
			if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
				attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
			}
		}
		return attr
	}
}

// NewNop returns a logger that discards everything.
func NewNop() *slog.Logger {
	return slog.New(noopHandler{})
}

type noopHandler struct{}

func (noopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (noopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h noopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h noopHandler) WithGroup(string) slog.Handler           { return h }

// OrNop returns logger, or a discarding logger when it is nil.
func OrNop(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return NewNop()
	}
	return logger
}
