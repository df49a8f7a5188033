package enhancer

import (
	"context"
	"strings"
)

// Enhancer appends descriptive detail to image generation prompts using a
// specific text generation backend.
type Enhancer interface {
	// Name returns the name of the backend, e.g. "ollama" or "openai"
	Name() string

	// Model returns the model the backend asks for.
	Model() string

	// Enhance returns prompt with generated detail appended. Failures are
	// returned as *APIError; callers decide whether to fall back.
	Enhance(ctx context.Context, prompt string) (string, error)

	// BatchEnhance enhances prompts one after another. It never fails; an item
	// that can't be enhanced is returned unchanged.
	BatchEnhance(ctx context.Context, prompts []string) []string

	// TestConnection reports whether the backend answered its model listing.
	TestConnection(ctx context.Context) bool

	// Close releases the connection resources. It is safe to call repeatedly.
	Close() error
}

// Combine joins the original prompt and the generated addition. The addition
// is dropped when it is empty or equal to the original ignoring case.
func Combine(original, addition string) string {
	if addition == "" || strings.ToLower(addition) == strings.ToLower(original) {
		return original
	}
	return original + ", " + addition
}
