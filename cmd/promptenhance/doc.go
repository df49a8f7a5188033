// Command promptenhance expands image generation prompts through a local
// Ollama (or OpenAI compatible) server.
//
// Usage:
//
//	promptenhance enhance "a cat on a windowsill"
//	promptenhance batch prompts.txt --concurrent
//	promptenhance check
//	promptenhance config show
//	promptenhance serve --addr :8188
package main
