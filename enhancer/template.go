package enhancer

import "fmt"

// DefaultTokenBudget is the addition budget stated in the instruction.
const DefaultTokenBudget = 50

const requestTemplate = `Enhance this image generation prompt by adding complementary details.
Keep the original meaning and add scene, background, mood, lighting, or composition details.
Do not add artist names, specific techniques, or style information.
Maximum %d tokens for additions.

Original prompt: %s

Enhanced prompt:`

// BuildRequestText embeds prompt verbatim in the instruction sent to the
// model. A budget <= 0 uses DefaultTokenBudget.
func BuildRequestText(prompt string, budget int) string {
	if budget <= 0 {
		budget = DefaultTokenBudget
	}
	return fmt.Sprintf(requestTemplate, budget, prompt)
}
