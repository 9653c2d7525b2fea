package retry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quizforge/quizforge/internal/llmerrors"
)

// BreakerState is the gate position of a circuit breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// Breaker blocks calls after a streak of failures. While open and within the
// reset window every call fails fast; after the window one trial call is
// admitted (half-open). A trial success closes the circuit and zeroes the
// failure count, a trial failure reopens it.
type Breaker struct {
	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       BreakerState

	threshold    int
	resetTimeout time.Duration
	logger       *zap.Logger

	// now is swappable for deterministic tests.
	now func() time.Time
}

// NewBreaker builds a closed breaker.
func NewBreaker(threshold int, resetTimeout time.Duration, logger *zap.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		state:        BreakerClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		logger:       logger.Named("breaker"),
		now:          time.Now,
	}
}

// State reports the current gate position without mutating it.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// allow decides whether a call may proceed, transitioning open -> half-open
// once the reset window has elapsed. Half-open means the single trial call
// is in flight, so further callers fail fast until it resolves.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		return false
	}
	if b.now().Sub(b.lastFailure) >= b.resetTimeout {
		b.state = BreakerHalfOpen
		b.logger.Info("Circuit breaker half-open, admitting trial call")
		return true
	}
	return false
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerHalfOpen {
		b.logger.Info("Trial call succeeded, closing circuit")
	}
	b.state = BreakerClosed
	b.failures = 0
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = b.now()
	if b.state == BreakerHalfOpen || b.failures >= b.threshold {
		if b.state != BreakerOpen {
			b.logger.Warn("Circuit breaker opened",
				zap.Int("failures", b.failures))
		}
		b.state = BreakerOpen
	}
}

// Execute wraps fn with the breaker gate. While open it fails fast with a
// synthetic provider_error without invoking fn.
func Execute[T any](b *Breaker, fn func() (T, error)) (T, error) {
	var zero T
	if !b.allow() {
		return zero, llmerrors.New(llmerrors.KindProvider, 0,
			"circuit breaker is open, failing fast")
	}
	result, err := fn()
	if err != nil {
		b.recordFailure()
		return zero, err
	}
	b.recordSuccess()
	return result, nil
}
