package enhancer

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chriskillpack/promptenhance/internal/logging"
)

// Strategy tries to extract generated text from a response body. ok reports a
// match; a non-nil error stops the chain and the raw body is used instead.
type Strategy struct {
	Name    string
	Extract func(body string) (text string, ok bool, err error)
}

// Label prefixes stripped from free text answers, checked in order.
var labelPrefixes = []string{"Enhanced prompt:", "Result:", "Output:", "Enhanced:"}

// Parser runs its strategies in order; the first match wins and the trimmed
// body is the catch-all.
type Parser struct {
	Strategies []Strategy
	Logger     *slog.Logger
}

// NewParser returns the default chain: JSON field, then labelled line.
func NewParser(logger *slog.Logger) *Parser {
	return &Parser{
		Strategies: []Strategy{
			{Name: "json_field", Extract: jsonField},
			{Name: "first_line", Extract: firstLine},
		},
		Logger: logging.OrNop(logger),
	}
}

// ParseGeneratedText extracts the generated text from body with the default
// chain. It never fails.
func ParseGeneratedText(body string) string {
	return NewParser(nil).Parse(body)
}

// Parse extracts the generated text from body.
func (p *Parser) Parse(body string) string {
	trimmed := strings.TrimSpace(body)
	for _, s := range p.Strategies {
		text, ok, err := s.Extract(trimmed)
		if err != nil {
			logging.OrNop(p.Logger).Warn("response parsing fell back to raw text",
				slog.String("strategy", s.Name),
				slog.String("error", err.Error()),
				slog.String("body", logging.Snippet(trimmed)),
			)
			return trimmed
		}
		if ok {
			return text
		}
	}
	return trimmed
}

// jsonField matches a JSON object carrying a "response" or "text" string.
func jsonField(body string) (string, bool, error) {
	if !strings.HasPrefix(body, "{") {
		return "", false, nil
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(body), &data); err != nil {
		return "", false, fmt.Errorf("decode json: %w", err)
	}
	for _, key := range []string{"response", "text"} {
		v, present := data[key]
		if !present {
			continue
		}
		s, isString := v.(string)
		if !isString {
			return "", false, fmt.Errorf("field %q is %T, not a string", key, v)
		}
		return strings.TrimSpace(s), true, nil
	}
	return "", false, nil
}

// firstLine returns the first line that is not blank or a comment, with a
// known label prefix removed.
func firstLine(body string) (string, bool, error) {
	for line := range strings.SplitSeq(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		for _, prefix := range labelPrefixes {
			if rest, found := strings.CutPrefix(line, prefix); found {
				line = strings.TrimSpace(rest)
				break
			}
		}
		if line != "" {
			return line, true, nil
		}
	}
	return "", false, nil
}
