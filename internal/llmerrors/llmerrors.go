// Package llmerrors classifies the failures seen while talking to LLM
// providers into a fixed taxonomy and decides which of them are worth
// retrying. Every outward error response is shaped here.
package llmerrors

import (
	"errors"
	"net/http"
	"strings"
	"time"
)

// Kind is one of the fixed error categories.
type Kind string

const (
	KindRateLimit     Kind = "rate_limit"
	KindAuth          Kind = "authentication"
	KindNetwork       Kind = "network"
	KindTimeout       Kind = "timeout"
	KindInvalidInput  Kind = "invalid_input"
	KindProvider      Kind = "provider_error"
	KindParsing       Kind = "parsing_error"
	KindConfiguration Kind = "configuration"
	KindUnknown       Kind = "unknown"
)

// APIError is the error type carried through the generation stack. Status is
// the upstream HTTP status when one exists, zero otherwise.
type APIError struct {
	Status   int
	Kind     Kind
	Message  string
	Provider string
	Model    string
	Err      error
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *APIError) Unwrap() error { return e.Err }

// New builds an APIError with an explicit kind.
func New(kind Kind, status int, message string) *APIError {
	return &APIError{Status: status, Kind: kind, Message: message}
}

// Wrap classifies err and attaches context. If err is already an APIError it
// is returned unchanged so the original classification survives rewrapping.
func Wrap(err error, message string) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return &APIError{
		Status:  0,
		Kind:    categorize(0, err.Error()),
		Message: message,
		Err:     err,
	}
}

// Categorize maps any error onto the taxonomy. The result is a pure function
// of the numeric status (when the error carries one) and the lowercased
// message, evaluated against a priority-ordered rule list.
func Categorize(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.Kind != "" && apiErr.Kind != KindUnknown {
			return apiErr.Kind
		}
		return categorize(apiErr.Status, apiErr.Error())
	}
	return categorize(0, err.Error())
}

func categorize(status int, message string) Kind {
	msg := strings.ToLower(message)

	switch {
	case status == http.StatusTooManyRequests || strings.Contains(msg, "rate limit"):
		return KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case strings.Contains(msg, "econnrefused") || strings.Contains(msg, "fetch failed") ||
		strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host"):
		return KindNetwork
	case status == http.StatusRequestTimeout || strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded"):
		return KindTimeout
	case status == http.StatusBadRequest || strings.Contains(msg, "invalid"):
		return KindInvalidInput
	case status >= 500 || strings.Contains(msg, "service unavailable"):
		return KindProvider
	case strings.Contains(msg, "parse") || strings.Contains(msg, "json") ||
		strings.Contains(msg, "syntax"):
		return KindParsing
	case strings.Contains(msg, "config") || strings.Contains(msg, "missing"):
		return KindConfiguration
	default:
		return KindUnknown
	}
}

// transientKinds are the retry-eligible categories.
var transientKinds = map[Kind]bool{
	KindRateLimit: true,
	KindNetwork:   true,
	KindTimeout:   true,
	KindProvider:  true,
}

// IsTransient reports whether err belongs to a retry-eligible kind.
func IsTransient(err error) bool {
	return transientKinds[Categorize(err)]
}

// -- Standardised error envelope --

// ErrorBody is the wire shape of a classified error.
type ErrorBody struct {
	Message   string    `json:"message"`
	Type      Kind      `json:"type"`
	Transient bool      `json:"transient"`
	Retryable bool      `json:"retryable"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path,omitempty"`
}

// ErrorResponse is the envelope every failing endpoint returns.
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   ErrorBody `json:"error"`
}

// Envelope shapes err into the standard response. Raw error detail is only
// included when development is true.
func Envelope(err error, path string, development bool) ErrorResponse {
	kind := Categorize(err)
	transient := transientKinds[kind]

	body := ErrorBody{
		Message:   err.Error(),
		Type:      kind,
		Transient: transient,
		Retryable: transient,
		Timestamp: time.Now().UTC(),
		Path:      path,
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		body.Message = apiErr.Message
		if development && apiErr.Err != nil {
			body.Details = apiErr.Err.Error()
		}
	} else if development {
		body.Details = err.Error()
	}
	return ErrorResponse{Success: false, Error: body}
}

// HTTPStatus picks the response status for err: the APIError status when it
// carries a valid one, 500 otherwise.
func HTTPStatus(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status >= 400 && apiErr.Status < 600 {
		return apiErr.Status
	}
	return http.StatusInternalServerError
}
