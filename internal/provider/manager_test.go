package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/llmerrors"
)

// fakeProvider satisfies the Provider contract without any network access.
type fakeProvider struct {
	name       string
	configured bool
}

func (f *fakeProvider) Name() string       { return f.name }
func (f *fakeProvider) IsConfigured() bool { return f.configured }

func (f *fakeProvider) GenerateQuestions(context.Context, string, schemas.GenerationOptions) (*schemas.QuestionSet, error) {
	return &schemas.QuestionSet{}, nil
}

func (f *fakeProvider) GenerateResponse(context.Context, string, []schemas.ImageInput) (string, error) {
	return "ok", nil
}

func (f *fakeProvider) TestConnection(context.Context) (*schemas.ConnectionTest, error) {
	return &schemas.ConnectionTest{Provider: f.name, Success: f.configured}, nil
}

func (f *fakeProvider) Descriptor() schemas.ProviderDescriptor {
	return schemas.ProviderDescriptor{Name: f.name, Configured: f.configured}
}

func (f *fakeProvider) ConfigSchema() ConfigSchema { return baseConfigSchema(f.name) }

func newTestManager() *Manager {
	m := NewManager(zap.NewNop())
	m.Register(&fakeProvider{name: "alpha", configured: false}, 0)
	m.Register(&fakeProvider{name: "beta", configured: true}, 0)
	m.Register(&fakeProvider{name: "gamma", configured: true}, 0)
	return m
}

func TestManager_GetAndCurrent(t *testing.T) {
	m := newTestManager()

	p, err := m.Get("beta")
	require.NoError(t, err)
	assert.Equal(t, "beta", p.Name())

	_, err = m.Get("missing")
	require.Error(t, err)
	assert.Equal(t, llmerrors.KindConfiguration, llmerrors.Categorize(err))

	// The first configured provider becomes the default.
	p, err = m.Current()
	require.NoError(t, err)
	assert.Equal(t, "beta", p.Name())

	require.NoError(t, m.SetCurrent("gamma"))
	p, err = m.Current()
	require.NoError(t, err)
	assert.Equal(t, "gamma", p.Name())

	assert.Error(t, m.SetCurrent("missing"))
}

func TestManager_ConfiguredNamesOrder(t *testing.T) {
	m := newTestManager()
	assert.Equal(t, []string{"beta", "gamma"}, m.ConfiguredNames())
}

func TestManager_Descriptors(t *testing.T) {
	m := newTestManager()
	descriptors := m.Descriptors()
	require.Len(t, descriptors, 3)
	assert.Equal(t, "alpha", descriptors[0].Name)
	assert.Equal(t, "beta", descriptors[1].Name)
}

func TestManager_HealthCounters(t *testing.T) {
	m := newTestManager()

	h := m.Health("beta")
	assert.Equal(t, 1.0, h.SuccessRate, "fresh providers start optimistic")
	assert.Zero(t, h.Requests)

	m.RecordSuccess("beta")
	m.RecordSuccess("beta")
	m.RecordFailure("beta", llmerrors.New(llmerrors.KindTimeout, 0, "timed out"))

	h = m.Health("beta")
	assert.Equal(t, 3, h.Requests)
	assert.Equal(t, 2, h.Successes)
	assert.Equal(t, 1, h.Failures)
	assert.Equal(t, h.Requests, h.Successes+h.Failures)
	assert.InDelta(t, 2.0/3.0, h.SuccessRate, 1e-9)
	assert.False(t, h.LastSuccess.IsZero())
	assert.False(t, h.LastFailure.IsZero())

	// Unknown providers report the optimistic default rather than a zero value.
	h = m.Health("missing")
	assert.Equal(t, 1.0, h.SuccessRate)
}

func TestManager_WaitWithoutLimiter(t *testing.T) {
	m := newTestManager()
	assert.NoError(t, m.Wait(context.Background(), "beta"))
	assert.NoError(t, m.Wait(context.Background(), "missing"))
}

func TestManager_WaitHonoursContext(t *testing.T) {
	m := NewManager(zap.NewNop())
	// 1 req/hour with an empty bucket forces Wait to block until cancelled.
	m.Register(&fakeProvider{name: "slow", configured: true}, 1.0/3600)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Wait(ctx, "slow"), "first request consumes the burst token")
	cancel()
	assert.Error(t, m.Wait(ctx, "slow"))
}

func TestNewManagerFromConfig_RegistersAllVendors(t *testing.T) {
	cfg := config.NewDefaultConfig()
	cfg.Providers.OpenAI.APIKey = "sk-test"
	cfg.Providers.Gemini.APIKey = "g-test"

	m := NewManagerFromConfig(cfg.Providers, zap.NewNop())
	descriptors := m.Descriptors()
	require.Len(t, descriptors, 5)

	names := make([]string, len(descriptors))
	for i, d := range descriptors {
		names[i] = d.Name
	}
	assert.Equal(t, []string{"openai", "gemini", "anthropic", "deepseek", "kimi"}, names)
	assert.Equal(t, []string{"openai", "gemini"}, m.ConfiguredNames())

	p, err := m.Current()
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())
}

func TestManager_Configure(t *testing.T) {
	cfg := config.NewDefaultConfig()
	m := NewManagerFromConfig(cfg.Providers, zap.NewNop())
	require.Empty(t, m.ConfiguredNames())

	openai := cfg.Providers.OpenAI
	openai.APIKey = "sk-test"
	require.NoError(t, m.Configure("openai", openai))

	assert.Equal(t, []string{"openai"}, m.ConfiguredNames())
	p, err := m.Current()
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	err = m.Configure("bogus", openai)
	require.Error(t, err)
	assert.Equal(t, llmerrors.KindConfiguration, llmerrors.Categorize(err))
}
