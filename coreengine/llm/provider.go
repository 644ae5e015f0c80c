// Package llm wraps chat completion providers behind a small interface so
// the response composer never talks to a vendor SDK directly.
package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/rs/zerolog/log"

	"github.com/leaseflow/coreengine/coreengine/observability"
)

// FallbackMessage is returned when a configured provider fails at request
// time. A missing provider is a different case, handled by the composer.
const FallbackMessage = "Unable to generate a full answer now. " +
	"Please verify that required identity and income documents are provided."

// Provider generates one chat completion.
type Provider interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Result carries generated text. FallbackUsed is true when the provider
// failed and FallbackMessage was substituted.
type Result struct {
	Text         string `json:"text"`
	FallbackUsed bool   `json:"fallback_used"`
}

// GenerateWithFallback calls the provider and degrades to FallbackMessage on
// any error. Provider failures never propagate out of the pipeline.
func GenerateWithFallback(ctx context.Context, provider Provider, systemPrompt, userPrompt string) Result {
	text, err := provider.Generate(ctx, systemPrompt, userPrompt)
	if err != nil {
		log.Error().Err(err).Msg("llm_generate_failed")
		return Result{Text: FallbackMessage, FallbackUsed: true}
	}
	return Result{Text: text}
}

// OpenAIProvider generates completions through the OpenAI chat API.
type OpenAIProvider struct {
	client  *openai.Client
	model   string
	timeout time.Duration
}

// NewOpenAIProvider creates a provider for the given model. Every request is
// bounded by timeout.
func NewOpenAIProvider(apiKey, model string, timeout time.Duration) *OpenAIProvider {
	return &OpenAIProvider{
		client:  openai.NewClient(apiKey),
		model:   model,
		timeout: timeout,
	}
}

// Generate implements Provider.
func (p *OpenAIProvider) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0.2,
		MaxTokens:   400,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	durationMS := int(time.Since(start).Milliseconds())

	if err != nil {
		observability.RecordLLMCall("openai", p.model, "error", durationMS)
		return "", err
	}
	if len(resp.Choices) == 0 {
		observability.RecordLLMCall("openai", p.model, "error", durationMS)
		return "", errors.New("chat completion returned no choices")
	}
	observability.RecordLLMCall("openai", p.model, "success", durationMS)
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
