package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/llmerrors"
)

// Manager owns the provider registry, health counters, and per-provider rate
// limiters. The router reads from it; adapters never see each other.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]Provider
	order     []string
	health    map[string]*schemas.ProviderHealth
	limiters  map[string]*rate.Limiter
	current   string
	logger    *zap.Logger
}

// NewManager builds an empty registry.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		providers: make(map[string]Provider),
		health:    make(map[string]*schemas.ProviderHealth),
		limiters:  make(map[string]*rate.Limiter),
		logger:    logger.Named("provider_manager"),
	}
}

// NewManagerFromConfig registers every vendor adapter that has credentials.
func NewManagerFromConfig(cfg config.ProvidersConfig, logger *zap.Logger) *Manager {
	m := NewManager(logger)
	m.Register(NewOpenAI(cfg.OpenAI, logger), cfg.OpenAI.RateLimit)
	m.Register(NewGemini(cfg.Gemini, logger), cfg.Gemini.RateLimit)
	m.Register(NewAnthropic(cfg.Anthropic, logger), cfg.Anthropic.RateLimit)
	m.Register(NewDeepSeek(cfg.DeepSeek, logger), cfg.DeepSeek.RateLimit)
	m.Register(NewKimi(cfg.Kimi, logger), cfg.Kimi.RateLimit)
	return m
}

// Register adds a provider. ratePerSec bounds outbound requests to the
// vendor; zero means unlimited.
func (m *Manager) Register(p Provider, ratePerSec float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := p.Name()
	m.providers[name] = p
	m.order = append(m.order, name)
	// Health starts optimistic so fresh providers are routable.
	m.health[name] = &schemas.ProviderHealth{SuccessRate: 1.0}
	if ratePerSec > 0 {
		m.limiters[name] = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}
	if m.current == "" && p.IsConfigured() {
		m.current = name
	}
	m.logger.Info("Registered provider",
		zap.String("provider", name),
		zap.Bool("configured", p.IsConfigured()))
}

// adapterFactories maps registry names to constructors, for Configure.
var adapterFactories = map[string]func(config.ProviderConfig, *zap.Logger) Provider{
	"openai":    NewOpenAI,
	"gemini":    NewGemini,
	"anthropic": NewAnthropic,
	"deepseek":  NewDeepSeek,
	"kimi":      NewKimi,
}

// Configure rebuilds a registered adapter with new settings. Health history
// is kept; the rate limiter follows the new RateLimit.
func (m *Manager) Configure(name string, cfg config.ProviderConfig) error {
	factory, ok := adapterFactories[name]
	if !ok {
		return llmerrors.New(llmerrors.KindConfiguration, 0,
			fmt.Sprintf("unknown provider %q", name))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.providers[name]; !ok {
		return llmerrors.New(llmerrors.KindConfiguration, 0,
			fmt.Sprintf("provider %q is not registered", name))
	}

	p := factory(cfg, m.logger)
	m.providers[name] = p
	if cfg.RateLimit > 0 {
		m.limiters[name] = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	} else {
		delete(m.limiters, name)
	}
	if m.current == "" && p.IsConfigured() {
		m.current = name
	}
	m.logger.Info("Reconfigured provider",
		zap.String("provider", name),
		zap.Bool("configured", p.IsConfigured()))
	return nil
}

// Get returns a provider by name.
func (m *Manager) Get(name string) (Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[name]
	if !ok {
		return nil, llmerrors.New(llmerrors.KindConfiguration, 0,
			fmt.Sprintf("unknown provider %q", name))
	}
	return p, nil
}

// Current returns the active default provider.
func (m *Manager) Current() (Provider, error) {
	m.mu.RLock()
	name := m.current
	m.mu.RUnlock()
	if name == "" {
		return nil, llmerrors.New(llmerrors.KindConfiguration, 0, "no provider is configured")
	}
	return m.Get(name)
}

// SetCurrent switches the default provider.
func (m *Manager) SetCurrent(name string) error {
	if _, err := m.Get(name); err != nil {
		return err
	}
	m.mu.Lock()
	m.current = name
	m.mu.Unlock()
	return nil
}

// ConfiguredNames returns the providers with credentials, in registration order.
func (m *Manager) ConfiguredNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for _, name := range m.order {
		if m.providers[name].IsConfigured() {
			names = append(names, name)
		}
	}
	return names
}

// Descriptors snapshots every registered provider.
func (m *Manager) Descriptors() []schemas.ProviderDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]schemas.ProviderDescriptor, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.providers[name].Descriptor())
	}
	return out
}

// Health returns a copy of the health record for name.
func (m *Manager) Health(name string) schemas.ProviderHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if h, ok := m.health[name]; ok {
		return *h
	}
	return schemas.ProviderHealth{SuccessRate: 1.0}
}

// RecordSuccess updates health counters after a successful call.
func (m *Manager) RecordSuccess(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.health[name]
	if !ok {
		return
	}
	h.Requests++
	h.Successes++
	h.LastSuccess = time.Now().UTC()
	h.SuccessRate = float64(h.Successes) / float64(h.Requests)
}

// RecordFailure updates health counters after a failed call.
func (m *Manager) RecordFailure(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.health[name]
	if !ok {
		return
	}
	h.Requests++
	h.Failures++
	h.LastFailure = time.Now().UTC()
	h.SuccessRate = float64(h.Successes) / float64(h.Requests)
	m.logger.Warn("Provider failure recorded",
		zap.String("provider", name),
		zap.Float64("success_rate", h.SuccessRate),
		zap.Error(err))
}

// Wait blocks until the provider's rate limiter admits another request.
func (m *Manager) Wait(ctx context.Context, name string) error {
	m.mu.RLock()
	limiter := m.limiters[name]
	m.mu.RUnlock()
	if limiter == nil {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return llmerrors.Wrap(err, "rate limiter wait aborted")
	}
	return nil
}
