package provider

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/llmerrors"
	"github.com/quizforge/quizforge/internal/retry"
)

// completer is the single vendor-specific primitive: one completion call
// against one concrete model. Everything above it (ladder walking, retry,
// prompt shaping, standardisation) is shared.
type completer interface {
	complete(ctx context.Context, model, system, user string, images []schemas.ImageInput) (string, error)
}

// base implements the Provider contract on top of a completer.
type base struct {
	name        string
	description string
	cfg         config.ProviderConfig
	ladder      *ladder
	logger      *zap.Logger
	impl        completer
}

func newBase(name, description string, cfg config.ProviderConfig, logger *zap.Logger, impl completer) *base {
	return &base{
		name:        name,
		description: description,
		cfg:         cfg,
		ladder:      newLadder(cfg.SupportedModels, cfg.Model),
		logger:      logger.Named("provider." + name),
		impl:        impl,
	}
}

func (b *base) Name() string { return b.name }

func (b *base) IsConfigured() bool { return b.cfg.APIKey != "" }

func (b *base) ConfigSchema() ConfigSchema { return baseConfigSchema(b.name) }

func (b *base) Descriptor() schemas.ProviderDescriptor {
	return schemas.ProviderDescriptor{
		Name:              b.name,
		Description:       b.description,
		SupportedModels:   append([]string(nil), b.ladder.models...),
		CurrentModel:      b.ladder.Current(),
		CurrentModelIndex: b.ladder.Index(),
		Configured:        b.IsConfigured(),
	}
}

// retryableByAdapter gates the adapter-internal retry loop: only rate limits
// and upstream 5xx are retried here. Other transient kinds bubble up to the
// caller's generic executor, and model-availability errors advance the ladder
// instead.
func retryableByAdapter(err error) bool {
	if isModelUnavailable(err) {
		return false
	}
	switch llmerrors.Categorize(err) {
	case llmerrors.KindRateLimit, llmerrors.KindProvider:
		return true
	}
	return false
}

// generate walks the model ladder. Each rung gets a full retry budget; a
// model-availability error advances to the next rung with the counter reset,
// any other terminal error is surfaced as-is.
func (b *base) generate(ctx context.Context, system, user string, images []schemas.ImageInput) (string, string, error) {
	if !b.IsConfigured() {
		return "", "", llmerrors.New(llmerrors.KindConfiguration, 0,
			fmt.Sprintf("provider %s is missing an API key", b.name))
	}

	policy := retry.Policy{
		MaxRetries: b.cfg.MaxRetries,
		BaseDelay:  b.cfg.BaseDelay,
		MaxDelay:   0,
		ExpBase:    2,
	}

	model := b.ladder.Current()
	for model != "" {
		response, err := retry.Do(ctx, policy, func(attempt int) (string, error) {
			return b.impl.complete(ctx, model, system, user, images)
		}, retry.Options{
			ShouldRetry: retryableByAdapter,
			Context:     b.name + "/" + model,
			Logger:      b.logger,
		})
		if err == nil {
			return response, model, nil
		}

		if !isModelUnavailable(err) {
			return "", "", err
		}

		next, ok := b.ladder.Advance()
		if !ok {
			b.logger.Error("Model ladder exhausted", zap.Strings("models", b.ladder.models))
			return "", "", ErrModelsExhausted
		}
		b.logger.Warn("Model unavailable, advancing fallback ladder",
			zap.String("failed_model", model),
			zap.String("next_model", next),
			zap.Error(err))
		model = next
	}
	return "", "", ErrModelsExhausted
}

func (b *base) GenerateQuestions(ctx context.Context, text string, opts schemas.GenerationOptions) (*schemas.QuestionSet, error) {
	response, model, err := b.generate(ctx, quizSystemPrompt, buildQuizPrompt(text, opts), nil)
	if err != nil {
		return nil, err
	}
	set, err := standardize(response, b.name, model, opts)
	if err != nil {
		return nil, err
	}
	b.logger.Debug("Generated question set",
		zap.String("model", model),
		zap.Int("questions", len(set.Questions)))
	return set, nil
}

func (b *base) GenerateResponse(ctx context.Context, prompt string, images []schemas.ImageInput) (string, error) {
	response, _, err := b.generate(ctx, "", prompt, images)
	return response, err
}

func (b *base) TestConnection(ctx context.Context) (*schemas.ConnectionTest, error) {
	result := &schemas.ConnectionTest{Provider: b.name, Model: b.ladder.Current()}
	if !b.IsConfigured() {
		result.Message = "no API key configured"
		return result, nil
	}

	_, model, err := b.generate(ctx, "", "Reply with the single word: ok", nil)
	if err != nil {
		result.Message = err.Error()
		return result, nil
	}
	result.Success = true
	result.Model = model
	result.Message = "connection verified"
	return result, nil
}
