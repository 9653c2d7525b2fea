package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/llmerrors"
)

const (
	anthropicDefaultEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion         = "2023-06-01"
)

// anthropicProvider talks to the Anthropic Messages API over raw HTTP.
type anthropicProvider struct {
	*base
	endpoint   string
	httpClient *http.Client
}

// -- Anthropic wire structures (internal to this file) --

type anthropicContentBlock struct {
	Type   string           `json:"type"`
	Text   string           `json:"text,omitempty"`
	Source *anthropicSource `json:"source,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature float32            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	Error   *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropic builds the Anthropic adapter.
func NewAnthropic(cfg config.ProviderConfig, logger *zap.Logger) Provider {
	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = anthropicDefaultEndpoint
	}
	p := &anthropicProvider{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: cfg.APITimeout},
	}
	p.base = newBase("anthropic", "Anthropic Claude messages API", cfg, logger, p)
	return p
}

func (p *anthropicProvider) complete(ctx context.Context, model, system, user string, images []schemas.ImageInput) (string, error) {
	blocks := make([]anthropicContentBlock, 0, 1+len(images))
	for _, img := range images {
		blocks = append(blocks, anthropicContentBlock{
			Type: "image",
			Source: &anthropicSource{
				Type:      "base64",
				MediaType: img.MediaType,
				Data:      img.Data,
			},
		})
	}
	blocks = append(blocks, anthropicContentBlock{Type: "text", Text: user})

	maxTokens := p.cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	body, err := json.Marshal(anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      system,
		Temperature: p.cfg.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: blocks}},
	})
	if err != nil {
		return "", llmerrors.Wrap(err, "failed to marshal anthropic request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", llmerrors.Wrap(err, "failed to create anthropic request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", &llmerrors.APIError{
			Kind:     llmerrors.KindNetwork,
			Message:  "anthropic request failed",
			Provider: "anthropic",
			Model:    model,
			Err:      err,
		}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", llmerrors.Wrap(err, "failed to read anthropic response")
	}

	if resp.StatusCode != http.StatusOK {
		message := fmt.Sprintf("anthropic API error: status %d", resp.StatusCode)
		var parsed anthropicResponse
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != nil {
			message = fmt.Sprintf("anthropic API error: %s", parsed.Error.Message)
		}
		p.logger.Warn("Anthropic API returned error status",
			zap.Int("status", resp.StatusCode), zap.String("model", model))
		return "", &llmerrors.APIError{
			Status:   resp.StatusCode,
			Kind:     llmerrors.Categorize(&llmerrors.APIError{Status: resp.StatusCode, Message: message}),
			Message:  message,
			Provider: "anthropic",
			Model:    model,
		}
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", llmerrors.Wrap(err, "failed to decode anthropic response")
	}
	for _, block := range parsed.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", llmerrors.New(llmerrors.KindProvider, 0, "anthropic returned no text content")
}
