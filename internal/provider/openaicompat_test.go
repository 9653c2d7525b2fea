package provider

import (
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/llmerrors"
)

func TestTranslateOpenAIError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind llmerrors.Kind
		want404  bool
	}{
		{
			name:     "rate limit",
			err:      &openai.APIError{HTTPStatusCode: 429, Message: "Rate limit reached"},
			wantKind: llmerrors.KindRateLimit,
		},
		{
			name:     "invalid key",
			err:      &openai.APIError{HTTPStatusCode: 401, Message: "Incorrect API key provided"},
			wantKind: llmerrors.KindAuth,
		},
		{
			name:     "model not found",
			err:      &openai.APIError{HTTPStatusCode: 404, Message: "The model gpt-9 does not exist"},
			wantKind: llmerrors.KindUnknown,
			want404:  true,
		},
		{
			name:     "server error via request error",
			err:      &openai.RequestError{HTTPStatusCode: 502, Err: errors.New("bad gateway")},
			wantKind: llmerrors.KindProvider,
		},
		{
			name:     "plain network error",
			err:      errors.New("dial tcp: connection refused"),
			wantKind: llmerrors.KindNetwork,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateOpenAIError(tt.err, "openai", "gpt-4o")

			var apiErr *llmerrors.APIError
			require.ErrorAs(t, got, &apiErr)
			assert.Equal(t, "openai", apiErr.Provider)
			assert.Equal(t, "gpt-4o", apiErr.Model)
			assert.Equal(t, tt.wantKind, llmerrors.Categorize(got))
			assert.Equal(t, tt.want404, isModelUnavailable(got))
		})
	}
}

func TestOpenAIAdapters_Names(t *testing.T) {
	cfg := config.ProviderConfig{APIKey: "k", SupportedModels: []string{"m"}}
	assert.Equal(t, "openai", NewOpenAI(cfg, zap.NewNop()).Name())
	assert.Equal(t, "deepseek", NewDeepSeek(cfg, zap.NewNop()).Name())
	assert.Equal(t, "kimi", NewKimi(cfg, zap.NewNop()).Name())

	schema := NewOpenAI(cfg, zap.NewNop()).ConfigSchema()
	assert.Equal(t, "openai", schema.Provider)
	assert.NotEmpty(t, schema.Fields)
}
