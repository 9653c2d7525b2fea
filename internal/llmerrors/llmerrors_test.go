package llmerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Verifies the priority-ordered classification rules for status/message pairs.
func TestCategorize_RuleTable(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
		want    Kind
	}{
		{"429 status", http.StatusTooManyRequests, "too many requests", KindRateLimit},
		{"rate limit message", 0, "Rate Limit exceeded, slow down", KindRateLimit},
		{"401 status", http.StatusUnauthorized, "nope", KindAuth},
		{"403 status", http.StatusForbidden, "nope", KindAuth},
		{"connection refused", 0, "dial tcp: ECONNREFUSED", KindNetwork},
		{"fetch failed", 0, "fetch failed", KindNetwork},
		{"408 status", http.StatusRequestTimeout, "slow", KindTimeout},
		{"timeout message", 0, "request timeout after 30s", KindTimeout},
		{"400 status", http.StatusBadRequest, "bad", KindInvalidInput},
		{"invalid message", 0, "invalid request payload", KindInvalidInput},
		{"500 status", http.StatusInternalServerError, "boom", KindProvider},
		{"503 status", http.StatusServiceUnavailable, "down", KindProvider},
		{"service unavailable message", 0, "service unavailable right now", KindProvider},
		{"parse message", 0, "failed to parse response", KindParsing},
		{"json message", 0, "unexpected json token", KindParsing},
		{"config message", 0, "config value absent", KindConfiguration},
		{"missing key", 0, "missing API key", KindConfiguration},
		{"unknown", 0, "something odd happened", KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(KindUnknown, tt.status, tt.message)
			err.Kind = "" // force re-classification from status/message
			got := Categorize(err)
			assert.Equal(t, tt.want, got)

			// Determinism: same pair, same kind.
			assert.Equal(t, got, Categorize(New("", tt.status, tt.message)))
		})
	}
}

// Rate limit outranks the 5xx rule: a 429 with "server error" text stays rate_limit.
func TestCategorize_PriorityOrder(t *testing.T) {
	err := New("", http.StatusTooManyRequests, "internal server error")
	assert.Equal(t, KindRateLimit, Categorize(err))
}

// Transience must align exactly with the four retry-eligible kinds.
func TestIsTransient_Alignment(t *testing.T) {
	all := []Kind{
		KindRateLimit, KindAuth, KindNetwork, KindTimeout,
		KindInvalidInput, KindProvider, KindParsing, KindConfiguration, KindUnknown,
	}
	transient := map[Kind]bool{
		KindRateLimit: true, KindNetwork: true, KindTimeout: true, KindProvider: true,
	}
	for _, kind := range all {
		err := New(kind, 0, "x")
		assert.Equal(t, transient[kind], IsTransient(err), "kind %s", kind)
	}
}

func TestWrap_PreservesExistingClassification(t *testing.T) {
	orig := New(KindRateLimit, 429, "slow down")
	wrapped := Wrap(fmt.Errorf("calling provider: %w", orig), "generation failed")
	assert.Equal(t, KindRateLimit, wrapped.Kind)
}

func TestWrap_ClassifiesPlainErrors(t *testing.T) {
	wrapped := Wrap(errors.New("dial tcp: connection refused"), "probe failed")
	assert.Equal(t, KindNetwork, wrapped.Kind)
	assert.Equal(t, "probe failed", wrapped.Message)
}

func TestEnvelope_Shape(t *testing.T) {
	err := &APIError{
		Status:  http.StatusServiceUnavailable,
		Kind:    KindProvider,
		Message: "provider unavailable",
		Err:     errors.New("upstream said 503"),
	}

	resp := Envelope(err, "/generate", false)
	require.False(t, resp.Success)
	assert.Equal(t, "provider unavailable", resp.Error.Message)
	assert.Equal(t, KindProvider, resp.Error.Type)
	assert.True(t, resp.Error.Transient)
	assert.True(t, resp.Error.Retryable)
	assert.Empty(t, resp.Error.Details, "details must be omitted outside development")
	assert.Equal(t, "/generate", resp.Error.Path)
	assert.False(t, resp.Error.Timestamp.IsZero())

	dev := Envelope(err, "/generate", true)
	assert.Equal(t, "upstream said 503", dev.Error.Details)
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, 429, HTTPStatus(New(KindRateLimit, 429, "x")))
	assert.Equal(t, 500, HTTPStatus(errors.New("plain")))
	assert.Equal(t, 500, HTTPStatus(New(KindUnknown, 0, "no status")))
}
