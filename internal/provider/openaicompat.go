package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/llmerrors"
)

// openAICompat drives any vendor that speaks the OpenAI chat-completions
// dialect: OpenAI itself plus DeepSeek and Kimi (Moonshot) through their
// base_url overrides.
type openAICompat struct {
	*base
	client *openai.Client
}

// NewOpenAI builds the adapter for api.openai.com (or a compatible endpoint
// when cfg.BaseURL is set).
func NewOpenAI(cfg config.ProviderConfig, logger *zap.Logger) Provider {
	return newOpenAICompat("openai", "OpenAI chat completions", cfg, logger)
}

// NewDeepSeek builds the adapter for the DeepSeek OpenAI-compatible API.
func NewDeepSeek(cfg config.ProviderConfig, logger *zap.Logger) Provider {
	return newOpenAICompat("deepseek", "DeepSeek chat completions (OpenAI-compatible)", cfg, logger)
}

// NewKimi builds the adapter for Moonshot's Kimi API, including the .cn
// endpoint variant selected at configuration time.
func NewKimi(cfg config.ProviderConfig, logger *zap.Logger) Provider {
	return newOpenAICompat("kimi", "Moonshot Kimi chat completions (OpenAI-compatible)", cfg, logger)
}

func newOpenAICompat(name, description string, cfg config.ProviderConfig, logger *zap.Logger) Provider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	clientCfg.HTTPClient = &http.Client{Timeout: cfg.APITimeout}

	p := &openAICompat{client: openai.NewClientWithConfig(clientCfg)}
	p.base = newBase(name, description, cfg, logger, p)
	return p
}

func (p *openAICompat) complete(ctx context.Context, model, system, user string, images []schemas.ImageInput) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	if len(images) > 0 {
		parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: user}}
		for _, img := range images {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL: fmt.Sprintf("data:%s;base64,%s", img.MediaType, img.Data),
				},
			})
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:         openai.ChatMessageRoleUser,
			MultiContent: parts,
		})
	} else {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: user,
		})
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	})
	if err != nil {
		return "", translateOpenAIError(err, p.name, model)
	}
	if len(resp.Choices) == 0 {
		return "", llmerrors.New(llmerrors.KindProvider, 0, p.name+" returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// translateOpenAIError maps go-openai errors onto the taxonomy, carrying the
// upstream status so ladder and retry logic can key off it.
func translateOpenAIError(err error, providerName, model string) error {
	var reqErr *openai.RequestError
	var apiErr *openai.APIError

	status := 0
	message := err.Error()
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		message = apiErr.Message
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	return &llmerrors.APIError{
		Status:   status,
		Kind:     llmerrors.Categorize(&llmerrors.APIError{Status: status, Message: message}),
		Message:  fmt.Sprintf("%s request failed: %s", providerName, message),
		Provider: providerName,
		Model:    model,
		Err:      err,
	}
}
