package domain

import "context"

// LLMProvider is the interface promptsynth.LLMSynthesizer depends on.
// internal/adapters/llm's Ollama and OpenAI providers satisfy this
// structurally without importing this package.
type LLMProvider interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}
