package enhancer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseGeneratedText(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"json response", `{"response": "X"}`, "X"},
		{"json text field", `{"text": "  spaced  "}`, "spaced"},
		{"json response wins over text", `{"text": "b", "response": "a"}`, "a"},
		{"json empty response", `{"response": ""}`, ""},
		{"json without known field", `{"other": 1}`, `{"other": 1}`},
		{"label prefix", "Enhanced prompt: Y", "Y"},
		{"result prefix", "Result: golden hour light", "golden hour light"},
		{"plain line", "  misty forest at dawn  ", "misty forest at dawn"},
		{
			"comments skipped",
			"\n        # Comment line\n        Enhanced prompt: scenic mountain view\n        // Another comment\n        ",
			"scenic mountain view",
		},
		{"label only then text", "Enhanced prompt:\nsoft rim lighting", "soft rim lighting"},
		{"only comments", "# a\n// b", "# a\n// b"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseGeneratedText(tt.body))
		})
	}
}

func TestParseMalformedJSONFallsBackToRaw(t *testing.T) {
	body := `{"response": "unterminated`
	assert.Equal(t, body, ParseGeneratedText(body))

	nonString := `{"response": 42}`
	assert.Equal(t, nonString, ParseGeneratedText(nonString))
}

func TestParserCustomChain(t *testing.T) {
	p := NewParser(nil)
	p.Strategies = append([]Strategy{{
		Name: "upper",
		Extract: func(body string) (string, bool, error) {
			if strings.HasPrefix(body, "!") {
				return strings.ToUpper(body[1:]), true, nil
			}
			return "", false, nil
		},
	}}, p.Strategies...)

	assert.Equal(t, "LOUD", p.Parse("!loud"))
	assert.Equal(t, "quiet", p.Parse("Output: quiet"))
}

func TestCombine(t *testing.T) {
	assert.Equal(t, "a cat, sitting on a mat", Combine("a cat", "sitting on a mat"))
	assert.Equal(t, "a cat", Combine("a cat", "A CAT"))
	assert.Equal(t, "a cat", Combine("a cat", ""))
}

func TestBuildRequestText(t *testing.T) {
	text := BuildRequestText("a beautiful landscape", 0)
	assert.Contains(t, text, "Original prompt: a beautiful landscape")
	assert.Contains(t, text, "scene, background, mood, lighting, or composition")
	assert.Contains(t, text, "Do not add artist names, specific techniques, or style information.")
	assert.Contains(t, text, "Maximum 50 tokens")
	assert.True(t, strings.HasSuffix(text, "Enhanced prompt:"))
	assert.Equal(t, text, BuildRequestText("a beautiful landscape", 0), "template is deterministic")

	assert.Contains(t, BuildRequestText("100% cat", 80), "Original prompt: 100% cat")
	assert.Contains(t, BuildRequestText("x", 80), "Maximum 80 tokens")
}

func TestAPIErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &APIError{Kind: ErrStatus, Op: "generate", StatusCode: 503, Attempts: 3})
	assert.ErrorIs(t, err, ErrStatus)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, "status", KindName(err))
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "after 3 attempts")

	timeout := &APIError{Kind: ErrTimeout, Op: "generate", Err: context.DeadlineExceeded}
	assert.ErrorIs(t, timeout, ErrTimeout)
	assert.ErrorIs(t, timeout, context.DeadlineExceeded)
	assert.Equal(t, "", KindName(errors.New("plain")))

	assert.Equal(t, ErrTimeout, ClassifyTransport(context.DeadlineExceeded))
	assert.Equal(t, ErrConnection, ClassifyTransport(errors.New("connection refused")))
}

func TestBatchFallsBackPerItem(t *testing.T) {
	enhance := func(_ context.Context, p string) (string, error) {
		if p == "p2" {
			return "", &APIError{Kind: ErrConnection, Op: "generate"}
		}
		return p + ", enhanced", nil
	}

	var slept []time.Duration
	var progress []bool
	got := Batch(context.Background(), enhance, []string{"p1", "p2", "p3"}, BatchOptions{
		Delay:    DefaultBatchDelay,
		Sleep:    func(_ context.Context, d time.Duration) { slept = append(slept, d) },
		Progress: func(_ int, fallback bool) { progress = append(progress, fallback) },
	})

	require.Equal(t, []string{"p1, enhanced", "p2", "p3, enhanced"}, got)
	assert.Equal(t, []time.Duration{DefaultBatchDelay, DefaultBatchDelay}, slept, "no delay after the last item")
	assert.Equal(t, []bool{false, true, false}, progress)
}

func TestBatchEmpty(t *testing.T) {
	got := Batch(context.Background(), nil, nil, BatchOptions{})
	assert.Empty(t, got)
}
