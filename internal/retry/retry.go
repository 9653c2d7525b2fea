// Package retry provides the mechanical resilience layer of the generation
// stack: exponential backoff with optional jitter, a fallback variant, a
// deadline wrapper, and a circuit breaker. Strategic provider selection and
// model fallback live elsewhere; this package only re-runs functions.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/quizforge/quizforge/internal/llmerrors"
)

// Policy tunes the backoff schedule.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	ExpBase    float64
	// Jitter applies a uniform +/-10% spread to each delay.
	Jitter bool
}

// DefaultPolicy mirrors the adapter-facing defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		ExpBase:    2,
		Jitter:     true,
	}
}

// Delay computes the pause before retry number attempt (1-based):
// min(MaxDelay, BaseDelay * ExpBase^(attempt-1)), jittered when enabled.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.ExpBase
	if base <= 0 {
		base = 2
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(base, float64(attempt-1)))
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter {
		// Uniform in [0.9, 1.1].
		d = time.Duration(float64(d) * (0.9 + 0.2*rand.Float64()))
	}
	return d
}

// Options customises a single Do call.
type Options struct {
	// ShouldRetry gates the next attempt; nil defaults to llmerrors.IsTransient.
	ShouldRetry func(error) bool
	// OnRetry is invoked before each sleep with the upcoming attempt number
	// (2-based: the attempt about to run) and the error that triggered it.
	OnRetry func(attempt int, err error)
	// Context tags log lines so concurrent retries can be told apart.
	Context string
	Logger  *zap.Logger
}

// Do runs fn up to MaxRetries+1 times. fn receives the 1-based attempt
// number. The last error is returned once attempts run out or ShouldRetry
// declines.
func Do[T any](ctx context.Context, p Policy, fn func(attempt int) (T, error), opts Options) (T, error) {
	var zero T
	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = llmerrors.IsTransient
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxRetries+1; attempt++ {
		result, err := fn(attempt)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if attempt > p.MaxRetries || !shouldRetry(err) {
			break
		}

		delay := p.Delay(attempt)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt+1, err)
		}
		if opts.Logger != nil {
			opts.Logger.Warn("Retrying after transient failure",
				zap.String("context", opts.Context),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return zero, llmerrors.Wrap(ctx.Err(), "retry aborted by context")
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}

// DoWithFallback behaves like Do, then invokes fallback once on terminal
// failure of the primary function.
func DoWithFallback[T any](ctx context.Context, p Policy, fn func(attempt int) (T, error), fallback func() (T, error), opts Options) (T, error) {
	result, err := Do(ctx, p, fn, opts)
	if err == nil {
		return result, nil
	}
	if opts.Logger != nil {
		opts.Logger.Warn("Primary exhausted, invoking fallback",
			zap.String("context", opts.Context), zap.Error(err))
	}
	return fallback()
}

// DoWithTimeout races fn against a deadline. On expiry the caller receives a
// synthetic timeout-kind error; the work itself is cancelled through ctx.
func DoWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result T
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := fn(timeoutCtx)
		done <- outcome{result, err}
	}()

	select {
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return zero, llmerrors.Wrap(ctx.Err(), "operation cancelled")
		}
		return zero, llmerrors.New(llmerrors.KindTimeout, 0,
			"operation timed out after "+timeout.String())
	case out := <-done:
		return out.result, out.err
	}
}
