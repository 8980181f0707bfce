// Package studygen turns source text into study material.
package studygen

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"eduflow/pkg/ai"
	"eduflow/pkg/domain"
)

// ErrGeneration wraps any failure of the upstream generation call.
var ErrGeneration = errors.New("content generation failed")

const (
	assistantPreamble = "You are an educational content assistant. "
	fallbackPrompt    = "Summarize this text:"
)

var prompts = map[domain.OutputType]string{
	domain.OutputShortNotes: "Summarize this text into concise short notes:",
	domain.OutputLongNotes:  "Explain this content in detailed long notes:",
	domain.OutputQuiz:       "Create a quiz from this content:",
}

// Instruction returns the prompt instruction for outputType. Unknown types
// fall back to a plain summary.
func Instruction(outputType domain.OutputType) string {
	if p, ok := prompts[outputType]; ok {
		return p
	}
	return fallbackPrompt
}

// BuildPrompt assembles the full prompt sent to the model.
func BuildPrompt(text string, outputType domain.OutputType) string {
	return assistantPreamble + Instruction(outputType) + "\n\n" + text
}

type Generator struct {
	gen ai.TextGenerator
}

func New(gen ai.TextGenerator) *Generator {
	return &Generator{gen: gen}
}

// Generate makes one blocking call to the model and returns the trimmed result.
func (g *Generator) Generate(ctx context.Context, text string, outputType domain.OutputType) (string, error) {
	if g == nil || g.gen == nil {
		return "", fmt.Errorf("%w: generator not configured", ErrGeneration)
	}
	out, err := g.gen.GenerateText(ctx, "", BuildPrompt(text, outputType))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: empty response", ErrGeneration)
	}
	return out, nil
}
