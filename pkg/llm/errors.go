package llm

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/openai/openai-go"
)

// ErrNoProviders is returned by Failover when every profile is cooling down.
var ErrNoProviders = errors.New("no model provider available")

// ErrEmptyResponse is returned when a provider answers with nothing usable.
var ErrEmptyResponse = errors.New("model returned an empty response")

// StatusError carries an HTTP status from a provider that has no typed error.
type StatusError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *StatusError) Unwrap() error { return e.Err }

// IsRetryable reports whether another provider (or a later attempt) might
// succeed: rate limits, server errors, timeouts and dropped connections.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	if status := statusCode(err); status != 0 {
		return status == 408 || status == 429 || status >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"econnreset", "etimedout", "connection reset", "rate limit", "429", "500", "502", "503", "504"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func statusCode(err error) int {
	var oaErr *openai.Error
	if errors.As(err, &oaErr) {
		return oaErr.StatusCode
	}
	var anErr *anthropic.Error
	if errors.As(err, &anErr) {
		return anErr.StatusCode
	}
	var stErr *StatusError
	if errors.As(err, &stErr) {
		return stErr.StatusCode
	}
	return 0
}
