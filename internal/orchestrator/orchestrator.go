// Package orchestrator drives one generation request end to end: cache
// check, provider routing, (possibly chunked) generation, then the
// dedup/quality/balance pipeline.
package orchestrator

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/quizforge/quizforge/api/schemas"
	"github.com/quizforge/quizforge/internal/cache"
	"github.com/quizforge/quizforge/internal/config"
	"github.com/quizforge/quizforge/internal/llmerrors"
	"github.com/quizforge/quizforge/internal/parallel"
	"github.com/quizforge/quizforge/internal/pipeline"
	"github.com/quizforge/quizforge/internal/provider"
	"github.com/quizforge/quizforge/internal/retry"
	"github.com/quizforge/quizforge/internal/router"
)

// Orchestrator owns a generation run. Providers, health, and the breaker
// per provider are process-wide; everything else is per request.
type Orchestrator struct {
	cfg      *config.Config
	manager  *provider.Manager
	router   *router.Router
	parallel *parallel.Executor
	dedup    *pipeline.Deduplicator
	balancer *pipeline.Balancer
	cache    *cache.Cache
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*retry.Breaker
}

func New(cfg *config.Config, manager *provider.Manager, rtr *router.Router, resultCache *cache.Cache, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		manager:  manager,
		router:   rtr,
		parallel: parallel.New(cfg.Parallel, logger),
		dedup:    pipeline.NewDeduplicator(cfg.Pipeline.DedupThreshold, logger),
		balancer: pipeline.NewBalancer(logger),
		cache:    resultCache,
		logger:   logger.Named("orchestrator"),
		breakers: make(map[string]*retry.Breaker),
	}
}

// Generate runs the full pipeline for one request. The returned set's
// metadata records the provider, strategy, chunking, and any shortfall.
func (o *Orchestrator) Generate(ctx context.Context, req schemas.GenerationRequest) (*schemas.QuestionSet, error) {
	return o.GenerateWithProgress(ctx, req, nil)
}

// GenerateWithProgress is Generate with a percent-complete callback, fed by
// chunk completions when the request runs through the parallel executor.
// progress may be nil.
func (o *Orchestrator) GenerateWithProgress(ctx context.Context, req schemas.GenerationRequest, progress func(int)) (*schemas.QuestionSet, error) {
	if err := req.Validate(); err != nil {
		return nil, llmerrors.New(llmerrors.KindInvalidInput, 400, err.Error())
	}

	key := cache.Key(req)
	if set := o.cache.Get(ctx, key); set != nil {
		o.logger.Debug("Cache hit", zap.String("key", key))
		set.Metadata.Cached = true
		return set, nil
	}

	strategy, err := router.ParseStrategy(req.Strategy, router.Strategy(o.cfg.Router.DefaultStrategy))
	if err != nil {
		return nil, err
	}

	decision, err := o.router.Select(o.manager.ConfiguredNames(),
		router.Request{Text: req.Text, NumQuestions: req.NumQuestions}, strategy)
	if err != nil {
		return nil, err
	}
	prov, err := o.manager.Get(decision.Provider)
	if err != nil {
		return nil, err
	}

	opts := schemas.GenerationOptions{
		NumQuestions: req.NumQuestions,
		BloomLevel:   req.BloomLevel,
		Difficulty:   req.Difficulty,
	}

	set, err := o.generate(ctx, prov, req.Text, opts, progress)
	if err != nil {
		o.router.RecordFailure(decision.Provider, err)
		return nil, err
	}
	o.router.RecordSuccess(decision.Provider, decision.Estimate.TotalCost)

	set.Truncate(req.NumQuestions)
	set = o.postProcess(ctx, prov, req, set)

	set.Metadata.Strategy = string(strategy)
	if len(set.Questions) < req.NumQuestions {
		set.Metadata.Short = true
		set.Metadata.Missing = req.NumQuestions - len(set.Questions)
	}

	o.cache.Put(ctx, key, set)
	o.logger.Info("Generation complete",
		zap.String("provider", decision.Provider),
		zap.String("strategy", string(strategy)),
		zap.Int("requested", req.NumQuestions),
		zap.Int("delivered", len(set.Questions)))
	return set, nil
}

// generate invokes the provider, chunked when the request is large enough.
func (o *Orchestrator) generate(ctx context.Context, prov provider.Provider, text string, opts schemas.GenerationOptions, progress func(int)) (*schemas.QuestionSet, error) {
	if o.parallel.ShouldUseParallel(opts.NumQuestions) {
		fn := func(ctx context.Context, _, size int) (*schemas.QuestionSet, error) {
			chunkOpts := opts
			chunkOpts.NumQuestions = size
			return o.callProvider(ctx, prov, text, chunkOpts)
		}
		if progress == nil {
			return o.parallel.Execute(ctx, opts.NumQuestions, fn)
		}
		return o.parallel.ExecuteWithProgress(ctx, opts.NumQuestions, fn, func(ev parallel.Event) {
			progress(ev.Progress)
		})
	}
	set, err := o.callProvider(ctx, prov, text, opts)
	if err == nil && progress != nil {
		progress(100)
	}
	return set, err
}

// callProvider is one guarded provider invocation: rate limit, circuit
// breaker, then the generic retry executor around the adapter (which does
// its own 429/503 retries and ladder fallback internally).
func (o *Orchestrator) callProvider(ctx context.Context, prov provider.Provider, text string, opts schemas.GenerationOptions) (*schemas.QuestionSet, error) {
	if err := o.manager.Wait(ctx, prov.Name()); err != nil {
		return nil, err
	}

	breaker := o.breakerFor(prov.Name())
	policy := retry.Policy{
		MaxRetries: 1,
		BaseDelay:  o.cfg.Providers.RetryBaseDelay,
		ExpBase:    2,
	}
	return retry.Do(ctx, policy, func(int) (*schemas.QuestionSet, error) {
		return retry.Execute(breaker, func() (*schemas.QuestionSet, error) {
			return prov.GenerateQuestions(ctx, text, opts)
		})
	}, retry.Options{
		Context: "orchestrator/" + prov.Name(),
		Logger:  o.logger,
	})
}

// postProcess runs dedup, quality filtering, and difficulty balancing on
// the merged set. Each stage only ever shrinks the set; there is no refill
// pass, a shortfall is reported in metadata instead.
func (o *Orchestrator) postProcess(ctx context.Context, judge pipeline.Judge, req schemas.GenerationRequest, set *schemas.QuestionSet) *schemas.QuestionSet {
	if o.cfg.Pipeline.DedupThreshold > 0 && len(set.Questions) > 1 {
		dedup := o.dedup.Run(set.Questions, nil)
		set.Questions = dedup.Questions
	}

	if o.cfg.Pipeline.QualityEnabled && len(set.Questions) > 0 {
		scorer := pipeline.NewScorer(judge, o.cfg.Pipeline.QualityBatchSize, o.logger)
		scores := scorer.Score(ctx, set.Questions, req.Text)
		kept, rejected := pipeline.ApplyScores(set.Questions, scores)
		if rejected > 0 {
			o.logger.Info("Quality filter removed questions", zap.Int("rejected", rejected))
		}
		set.Questions = kept
	}

	if o.cfg.Pipeline.BalanceEnabled && len(set.Questions) > 0 {
		result := o.balancer.BalanceByRemoval(set.Questions)
		set.Questions = result.Questions
	}

	set.Metadata.NumQuestions = len(set.Questions)
	return set
}

// VerifyProvider runs a free-form prompt against a named (or the current)
// provider, for the debug surface.
func (o *Orchestrator) VerifyProvider(ctx context.Context, name, prompt string, images []schemas.ImageInput) (string, string, error) {
	var prov provider.Provider
	var err error
	if name != "" {
		prov, err = o.manager.Get(name)
	} else {
		prov, err = o.manager.Current()
	}
	if err != nil {
		return "", "", err
	}
	response, err := prov.GenerateResponse(ctx, prompt, images)
	return prov.Name(), response, err
}

// Usage exposes the router's per-provider accounting.
func (o *Orchestrator) Usage() map[string]router.Usage {
	return o.router.UsageSnapshot()
}

func (o *Orchestrator) breakerFor(name string) *retry.Breaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.breakers[name]
	if !ok {
		b = retry.NewBreaker(o.cfg.Providers.BreakerThreshold, o.cfg.Providers.BreakerReset,
			o.logger.Named("breaker."+name))
		o.breakers[name] = b
	}
	return b
}
