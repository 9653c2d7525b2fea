// Package router picks a provider for each generation request. Candidates
// are filtered by observed health, then ranked by the requested strategy
// against the static pricing table.
package router

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/llmerrors"
	"github.com/quizforge/quizforge/internal/pricing"
)

// Strategy names accepted by Select.
type Strategy string

const (
	StrategyCost       Strategy = "cost"
	StrategySpeed      Strategy = "speed"
	StrategyQuality    Strategy = "quality"
	StrategyBalanced   Strategy = "balanced"
	StrategyRoundRobin Strategy = "round-robin"
)

// ParseStrategy validates a strategy string, mapping "" onto fallback.
func ParseStrategy(s string, fallback Strategy) (Strategy, error) {
	if s == "" {
		return fallback, nil
	}
	switch Strategy(s) {
	case StrategyCost, StrategySpeed, StrategyQuality, StrategyBalanced, StrategyRoundRobin:
		return Strategy(s), nil
	}
	return "", llmerrors.New(llmerrors.KindInvalidInput, 400,
		fmt.Sprintf("unknown routing strategy %q", s))
}

// HealthBook is the slice of the provider manager the router reads and
// writes. Satisfied by *provider.Manager.
type HealthBook interface {
	Health(name string) schemas.ProviderHealth
	RecordSuccess(name string)
	RecordFailure(name string, err error)
}

// Request carries the routing-relevant part of a generation request.
type Request struct {
	Text         string
	NumQuestions int
}

// Decision is the outcome of one routing pass.
type Decision struct {
	Provider string           `json:"provider"`
	Strategy Strategy         `json:"strategy"`
	Estimate schemas.CostCalc `json:"estimate"`
}

// Usage accumulates per-provider post-hoc accounting.
type Usage struct {
	Calls     int     `json:"calls"`
	Failures  int     `json:"failures"`
	TotalCost float64 `json:"totalCost"`
}

// Router ranks candidate providers. Safe for concurrent use.
type Router struct {
	cfg    config.RouterConfig
	health HealthBook
	logger *zap.Logger

	rr atomic.Uint64

	mu    sync.Mutex
	usage map[string]*Usage
}

func New(cfg config.RouterConfig, health HealthBook, logger *zap.Logger) *Router {
	return &Router{
		cfg:    cfg,
		health: health,
		logger: logger.Named("router"),
		usage:  make(map[string]*Usage),
	}
}

// Select picks one provider from candidates under the given strategy.
// Candidates with a success rate below the configured floor are skipped
// unless that would leave nothing to pick from.
func (r *Router) Select(candidates []string, req Request, strategy Strategy) (Decision, error) {
	if len(candidates) == 0 {
		return Decision{}, llmerrors.New(llmerrors.KindConfiguration, 0, "no providers available for routing")
	}

	healthy := r.filterHealthy(candidates)
	if len(healthy) == 0 {
		// Soft failure: a fully degraded fleet still routes somewhere.
		r.logger.Warn("No candidate meets the health floor, routing over the full set",
			zap.Float64("min_success_rate", r.cfg.MinSuccessRate))
		healthy = candidates
	}

	var chosen string
	switch strategy {
	case StrategyCost:
		chosen = r.pickMin(healthy, func(name string) float64 {
			return pricing.Estimate(name, req.Text, req.NumQuestions).TotalCost
		})
	case StrategySpeed:
		chosen = r.pickMin(healthy, func(name string) float64 {
			return float64(pricing.Lookup(name).Speed)
		})
	case StrategyQuality:
		chosen = r.pickMin(healthy, func(name string) float64 {
			return float64(pricing.Lookup(name).Quality)
		})
	case StrategyBalanced:
		chosen = r.pickBalanced(healthy, req)
	case StrategyRoundRobin:
		chosen = healthy[(r.rr.Add(1)-1)%uint64(len(healthy))]
	default:
		return Decision{}, llmerrors.New(llmerrors.KindInvalidInput, 400,
			fmt.Sprintf("unknown routing strategy %q", strategy))
	}

	decision := Decision{
		Provider: chosen,
		Strategy: strategy,
		Estimate: pricing.Estimate(chosen, req.Text, req.NumQuestions),
	}
	r.logger.Debug("Routed request",
		zap.String("provider", decision.Provider),
		zap.String("strategy", string(strategy)),
		zap.Float64("estimated_cost", decision.Estimate.TotalCost))
	return decision, nil
}

func (r *Router) filterHealthy(candidates []string) []string {
	var out []string
	for _, name := range candidates {
		if r.health.Health(name).SuccessRate >= r.cfg.MinSuccessRate {
			out = append(out, name)
		}
	}
	return out
}

// pickMin returns the candidate with the smallest key; ties keep the
// earliest candidate, preserving input order.
func (r *Router) pickMin(candidates []string, key func(string) float64) string {
	best := candidates[0]
	bestKey := key(best)
	for _, name := range candidates[1:] {
		if k := key(name); k < bestKey {
			best, bestKey = name, k
		}
	}
	return best
}

// pickBalanced scores each candidate 0-100 on cost, speed, quality, and
// health, then blends with the configured weights. Highest score wins; ties
// keep input order.
func (r *Router) pickBalanced(candidates []string, req Request) string {
	best := candidates[0]
	bestScore := math.Inf(-1)
	for _, name := range candidates {
		score := r.balancedScore(name, req)
		if score > bestScore {
			best, bestScore = name, score
		}
	}
	return best
}

func (r *Router) balancedScore(name string, req Request) float64 {
	cap := pricing.Lookup(name)

	cost := pricing.Estimate(name, req.Text, req.NumQuestions).TotalCost
	maxCost := r.cfg.MaxCostPerCall
	if maxCost <= 0 {
		maxCost = 0.01
	}
	costScore := 100 * (1 - math.Min(cost, maxCost)/maxCost)

	// Ordinals run 1 (best) to 3 (worst).
	speedScore := 100 * float64(3-cap.Speed) / 2
	qualityScore := 100 * float64(3-cap.Quality) / 2
	healthScore := 100 * r.health.Health(name).SuccessRate

	return r.cfg.CostWeight*costScore +
		r.cfg.SpeedWeight*speedScore +
		r.cfg.QualityWeight*qualityScore +
		r.cfg.HealthWeight*healthScore
}

// RecordSuccess feeds the outcome of a routed call back into health and
// cost accounting.
func (r *Router) RecordSuccess(name string, cost float64) {
	r.health.RecordSuccess(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.ensureUsage(name)
	u.Calls++
	u.TotalCost += cost
}

// RecordFailure feeds a failed call back into health accounting.
func (r *Router) RecordFailure(name string, err error) {
	r.health.RecordFailure(name, err)
	r.mu.Lock()
	defer r.mu.Unlock()
	u := r.ensureUsage(name)
	u.Calls++
	u.Failures++
}

// UsageSnapshot copies the accumulated per-provider accounting.
func (r *Router) UsageSnapshot() map[string]Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Usage, len(r.usage))
	for name, u := range r.usage {
		out[name] = *u
	}
	return out
}

func (r *Router) ensureUsage(name string) *Usage {
	u, ok := r.usage[name]
	if !ok {
		u = &Usage{}
		r.usage[name] = u
	}
	return u
}
