package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubProvider struct {
	text string
	err  error
}

func (s *stubProvider) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return s.text, s.err
}

func TestGenerateWithFallbackSuccess(t *testing.T) {
	result := GenerateWithFallback(context.Background(), &stubProvider{text: "Here is your answer."}, "sys", "user")

	assert.Equal(t, "Here is your answer.", result.Text)
	assert.False(t, result.FallbackUsed)
}

func TestGenerateWithFallbackOnError(t *testing.T) {
	result := GenerateWithFallback(context.Background(), &stubProvider{err: assert.AnError}, "sys", "user")

	assert.Equal(t, FallbackMessage, result.Text)
	assert.True(t, result.FallbackUsed)
}
