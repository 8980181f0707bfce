package studygen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"eduflow/pkg/ai"
	"eduflow/pkg/domain"
)

func TestBuildPromptPerOutputType(t *testing.T) {
	tests := []struct {
		outputType domain.OutputType
		want       string
	}{
		{domain.OutputShortNotes, "Summarize this text into concise short notes:"},
		{domain.OutputLongNotes, "Explain this content in detailed long notes:"},
		{domain.OutputQuiz, "Create a quiz from this content:"},
		{"flashcards", "Summarize this text:"},
		{"", "Summarize this text:"},
	}
	for _, tc := range tests {
		t.Run(string(tc.outputType), func(t *testing.T) {
			got := BuildPrompt("cells", tc.outputType)
			want := "You are an educational content assistant. " + tc.want + "\n\ncells"
			if got != want {
				t.Fatalf("BuildPrompt = %q, want %q", got, want)
			}
		})
	}
}

func TestGenerateTrimsResult(t *testing.T) {
	var gotPrompt string
	gen := New(ai.TextGeneratorFunc(func(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
		gotPrompt = userPrompt
		return "  1. What powers the cell?\n", nil
	}))
	out, err := gen.Generate(context.Background(), "mitochondria", domain.OutputQuiz)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "1. What powers the cell?" {
		t.Fatalf("unexpected output: %q", out)
	}
	if !strings.HasSuffix(gotPrompt, "Create a quiz from this content:\n\nmitochondria") {
		t.Fatalf("unexpected prompt: %q", gotPrompt)
	}
}

func TestGenerateWrapsFailures(t *testing.T) {
	upstream := errors.New("quota exceeded")
	tests := []struct {
		name string
		gen  ai.TextGenerator
	}{
		{name: "provider error", gen: ai.TextGeneratorFunc(func(context.Context, string, string) (string, error) {
			return "", upstream
		})},
		{name: "blank response", gen: ai.TextGeneratorFunc(func(context.Context, string, string) (string, error) {
			return "   ", nil
		})},
		{name: "nil generator", gen: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.gen).Generate(context.Background(), "text", domain.OutputShortNotes)
			if !errors.Is(err, ErrGeneration) {
				t.Fatalf("expected ErrGeneration, got %v", err)
			}
		})
	}
	_, err := New(ai.TextGeneratorFunc(func(context.Context, string, string) (string, error) {
		return "", upstream
	})).Generate(context.Background(), "text", domain.OutputQuiz)
	if !errors.Is(err, upstream) {
		t.Fatalf("expected upstream reason to be wrapped, got %v", err)
	}
}
