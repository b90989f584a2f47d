package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("empty response from model")

// Generator is the single-prompt text generation contract used by the judge and
// the summarizer.
type Generator interface {
	Generate(ctx context.Context, prompt string, format ResponseFormat) (string, error)
}

// ProviderGenerator adapts a Provider to Generator.
type ProviderGenerator struct {
	provider    Provider
	model       string
	maxTokens   int
	temperature float64
}

// NewGenerator wraps a provider. An empty model uses the provider default.
func NewGenerator(p Provider, model string, maxTokens int, temperature float64) *ProviderGenerator {
	if model == "" {
		model = p.DefaultModel()
	}
	return &ProviderGenerator{provider: p, model: model, maxTokens: maxTokens, temperature: temperature}
}

// Generate sends prompt as a single user message and returns the trimmed reply text.
func (g *ProviderGenerator) Generate(ctx context.Context, prompt string, format ResponseFormat) (string, error) {
	ctx, span := otel.Tracer("chimein/providers").Start(ctx, "provider.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("provider", g.provider.Name()),
		attribute.String("model", g.model),
		attribute.Bool("json_mode", format == FormatJSON),
	)

	req := ChatRequest{
		Messages:       []Message{{Role: "user", Content: prompt}},
		Model:          g.model,
		ResponseFormat: format,
		Options:        map[string]interface{}{},
	}
	if g.maxTokens > 0 {
		req.Options[OptMaxTokens] = g.maxTokens
	}
	if g.temperature > 0 {
		req.Options[OptTemperature] = g.temperature
	}

	resp, err := g.provider.Chat(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%s: generate: %w", g.provider.Name(), err)
	}
	if resp.Usage != nil {
		span.SetAttributes(
			attribute.Int("usage.prompt_tokens", resp.Usage.PromptTokens),
			attribute.Int("usage.completion_tokens", resp.Usage.CompletionTokens),
		)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		span.SetStatus(codes.Error, "empty response")
		return "", fmt.Errorf("%s: %w", g.provider.Name(), ErrEmptyResponse)
	}
	return text, nil
}

// GeneratorFunc lets a plain function satisfy Generator.
type GeneratorFunc func(ctx context.Context, prompt string, format ResponseFormat) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, prompt string, format ResponseFormat) (string, error) {
	return f(ctx, prompt, format)
}
