package ai

import "context"

// TextGenerator generates text from a system prompt and user prompt.
// Gemini and OpenAI-compatible providers implement this interface.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// TextGeneratorFunc adapts a function to TextGenerator.
type TextGeneratorFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

// GenerateText calls f.
func (f TextGeneratorFunc) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}
