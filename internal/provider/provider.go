// Package provider implements the uniform adapter contract over the LLM
// vendors (OpenAI, Gemini, Anthropic, DeepSeek, Kimi) plus the registry that
// tracks their configuration and health. Vendor request shaping and the
// model-fallback ladder live inside each adapter; callers only ever see the
// Provider interface.
package provider

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/llmerrors"
)

// Provider is the capability set every vendor adapter implements.
type Provider interface {
	// Name returns the registry key, e.g. "openai" or "gemini".
	Name() string
	// IsConfigured reports whether required credentials are present.
	IsConfigured() bool
	// GenerateQuestions produces a standardised QuestionSet from source text.
	GenerateQuestions(ctx context.Context, text string, opts schemas.GenerationOptions) (*schemas.QuestionSet, error)
	// GenerateResponse runs a free-form prompt (debug, quality judging),
	// optionally with inline images.
	GenerateResponse(ctx context.Context, prompt string, images []schemas.ImageInput) (string, error)
	// TestConnection probes the vendor with a trivial prompt.
	TestConnection(ctx context.Context) (*schemas.ConnectionTest, error)
	// Descriptor snapshots the adapter state for callers.
	Descriptor() schemas.ProviderDescriptor
	// ConfigSchema describes the settings the adapter accepts.
	ConfigSchema() ConfigSchema
}

// ConfigField documents one adapter setting.
type ConfigField struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// ConfigSchema is the set of settings an adapter accepts.
type ConfigSchema struct {
	Provider string        `json:"provider"`
	Fields   []ConfigField `json:"fields"`
}

// baseConfigSchema covers the settings shared by every adapter.
func baseConfigSchema(name string) ConfigSchema {
	return ConfigSchema{
		Provider: name,
		Fields: []ConfigField{
			{Name: "api_key", Type: "string", Required: true, Description: "vendor API key"},
			{Name: "base_url", Type: "string", Required: false, Description: "endpoint override (OpenAI-compatible vendors)"},
			{Name: "model", Type: "string", Required: false, Description: "initial model; defaults to the head of the ladder"},
			{Name: "max_retries", Type: "int", Required: false, Description: "adapter-internal retries for 429/503"},
		},
	}
}

// -- Model fallback ladder --

// ErrModelsExhausted signals that every rung of the ladder failed with a
// model-availability error.
var ErrModelsExhausted = llmerrors.New(llmerrors.KindProvider, 0, "all models unavailable")

// ladder walks an ordered list of vendor model names. Advance moves to the
// next rung on a model-availability failure; the index never exceeds the list
// while the provider is healthy.
type ladder struct {
	mu     sync.Mutex
	models []string
	index  int
}

func newLadder(models []string, initial string) *ladder {
	l := &ladder{models: models}
	if initial != "" {
		for i, m := range models {
			if m == initial {
				l.index = i
				break
			}
		}
	}
	return l
}

// Current returns the active model name, or "" when the ladder is empty.
func (l *ladder) Current() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.index >= len(l.models) {
		return ""
	}
	return l.models[l.index]
}

// Index returns the current rung.
func (l *ladder) Index() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.index
}

// Advance moves to the next rung, returning the new model and false when the
// ladder is exhausted.
func (l *ladder) Advance() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.index++
	if l.index >= len(l.models) {
		return "", false
	}
	return l.models[l.index], true
}

// isModelUnavailable detects the vendor responses that mean "this model does
// not exist or is not served for you" and should advance the ladder rather
// than burn retries.
func isModelUnavailable(err error) bool {
	var apiErr *llmerrors.APIError
	if errors.As(err, &apiErr) && apiErr.Status == 404 {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "model not found") ||
		strings.Contains(msg, "model_not_found") ||
		strings.Contains(msg, "does not exist")
}
