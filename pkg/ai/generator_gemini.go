package ai

import (
	"context"
	"strings"
)

// GeminiGenerator pins a GeminiClient to one model.
type GeminiGenerator struct {
	client *GeminiClient
	model  string
}

// NewGeminiGenerator builds a Gemini-based TextGenerator. An empty model
// selects DefaultGeminiModel.
func NewGeminiGenerator(client *GeminiClient, model string) *GeminiGenerator {
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultGeminiModel
	}
	return &GeminiGenerator{client: client, model: model}
}

// Model returns the configured model name.
func (g *GeminiGenerator) Model() string {
	return g.model
}

func (g *GeminiGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return g.client.GenerateText(ctx, g.model, systemPrompt, userPrompt)
}
