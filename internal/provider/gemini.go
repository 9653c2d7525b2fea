package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/llmerrors"
)

const geminiDefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models"

// geminiProvider talks to the Google Generative Language REST API directly.
// The SDK is deliberately avoided: the fallback ladder needs raw 404s for
// unavailable models, which the SDK folds into opaque errors.
type geminiProvider struct {
	*base
	endpoint   string
	httpClient *http.Client
}

// -- Gemini wire structures (internal to this file) --

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inline_data,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"system_instruction,omitempty"`
	GenerationConfig  struct {
		Temperature     float32 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// NewGemini builds the Gemini adapter.
func NewGemini(cfg config.ProviderConfig, logger *zap.Logger) Provider {
	endpoint := cfg.BaseURL
	if endpoint == "" {
		endpoint = geminiDefaultEndpoint
	}
	p := &geminiProvider{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: cfg.APITimeout},
	}
	p.base = newBase("gemini", "Google Gemini generative language API", cfg, logger, p)
	return p
}

func (p *geminiProvider) complete(ctx context.Context, model, system, user string, images []schemas.ImageInput) (string, error) {
	parts := []geminiPart{{Text: user}}
	for _, img := range images {
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: img.MediaType,
			Data:     img.Data,
		}})
	}

	payload := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
	}
	if system != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	}
	payload.GenerationConfig.Temperature = p.cfg.Temperature
	payload.GenerationConfig.MaxOutputTokens = p.cfg.MaxTokens

	body, err := json.Marshal(payload)
	if err != nil {
		return "", llmerrors.Wrap(err, "failed to marshal gemini request")
	}

	url := fmt.Sprintf("%s/%s:generateContent", p.endpoint, model)

	// Pure network failures (refused connections, resets) are retried here
	// with a short backoff; HTTP status errors are permanent at this layer so
	// the shared adapter policy decides what to do with them.
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 15 * time.Second

	var content string
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(llmerrors.Wrap(err, "failed to create gemini request"))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", p.cfg.APIKey)

		start := time.Now()
		resp, err := p.httpClient.Do(req)
		if err != nil {
			p.logger.Warn("Network error during Gemini request, retrying", zap.Error(err))
			return llmerrors.Wrap(err, "gemini request failed")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return llmerrors.Wrap(err, "failed to read gemini response")
		}

		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(&llmerrors.APIError{
				Status:   resp.StatusCode,
				Kind:     llmerrors.Categorize(&llmerrors.APIError{Status: resp.StatusCode, Message: string(respBody)}),
				Message:  fmt.Sprintf("gemini API error: status %d", resp.StatusCode),
				Provider: "gemini",
				Model:    model,
				Err:      fmt.Errorf("response body: %s", truncateBody(respBody)),
			})
		}

		var parsed geminiResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return backoff.Permanent(llmerrors.Wrap(err, "failed to decode gemini response"))
		}
		if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
			reason := ""
			if len(parsed.Candidates) > 0 {
				reason = parsed.Candidates[0].FinishReason
			}
			return backoff.Permanent(llmerrors.New(llmerrors.KindProvider, 0,
				fmt.Sprintf("gemini returned no content (reason: %s)", reason)))
		}

		p.logger.Debug("Gemini generation complete",
			zap.String("model", model),
			zap.Duration("duration", time.Since(start)),
			zap.Int("prompt_tokens", parsed.UsageMetadata.PromptTokenCount),
			zap.Int("completion_tokens", parsed.UsageMetadata.CandidatesTokenCount))

		content = parsed.Candidates[0].Content.Parts[0].Text
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return content, nil
}

func truncateBody(b []byte) string {
	const limit = 500
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
