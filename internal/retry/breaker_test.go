package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quizforge/quizforge/internal/llmerrors"
)

// testClock lets the breaker's reset window be advanced without sleeping.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(threshold int, reset time.Duration) (*Breaker, *testClock) {
	b := NewBreaker(threshold, reset, zap.NewNop())
	clock := &testClock{t: time.Unix(1000, 0)}
	b.now = clock.now
	return b, clock
}

func failing(b *Breaker) error {
	_, err := Execute(b, func() (int, error) { return 0, errors.New("boom") })
	return err
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.Error(t, failing(b))
	}
	assert.Equal(t, BreakerOpen, b.State())

	// Next call must fail fast without invoking fn.
	invoked := false
	_, err := Execute(b, func() (int, error) { invoked = true; return 1, nil })
	require.Error(t, err)
	assert.False(t, invoked)
	assert.Equal(t, llmerrors.KindProvider, llmerrors.Categorize(err))
}

func TestBreaker_HalfOpenTrialSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)
	require.Error(t, failing(b))
	require.Error(t, failing(b))
	require.Equal(t, BreakerOpen, b.State())

	clock.advance(time.Minute)

	result, err := Execute(b, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, result)
	assert.Equal(t, BreakerClosed, b.State())

	// Failure count was zeroed: it takes a full streak to reopen.
	require.Error(t, failing(b))
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_HalfOpenTrialFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)
	require.Error(t, failing(b))
	require.Error(t, failing(b))

	clock.advance(time.Minute)
	require.Error(t, failing(b))
	assert.Equal(t, BreakerOpen, b.State())

	// Still within the fresh window: fail fast again.
	invoked := false
	_, err := Execute(b, func() (int, error) { invoked = true; return 0, nil })
	require.Error(t, err)
	assert.False(t, invoked)
}

func TestBreaker_HalfOpenAdmitsSingleTrial(t *testing.T) {
	b, clock := newTestBreaker(2, time.Minute)
	require.Error(t, failing(b))
	require.Error(t, failing(b))

	clock.advance(time.Minute)

	// The first caller after the window becomes the trial.
	require.True(t, b.allow())
	require.Equal(t, BreakerHalfOpen, b.State())

	// Callers arriving while the trial is unresolved fail fast.
	invoked := false
	_, err := Execute(b, func() (int, error) { invoked = true; return 1, nil })
	require.Error(t, err)
	assert.False(t, invoked)
	assert.Equal(t, llmerrors.KindProvider, llmerrors.Categorize(err))

	b.recordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreaker_SuccessResetsStreak(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)
	require.Error(t, failing(b))
	require.Error(t, failing(b))

	_, err := Execute(b, func() (int, error) { return 1, nil })
	require.NoError(t, err)

	// Two more failures are not enough after the reset.
	require.Error(t, failing(b))
	require.Error(t, failing(b))
	assert.Equal(t, BreakerClosed, b.State())
}
