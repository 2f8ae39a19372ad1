package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Reason classifies a normalized provider failure.
type Reason string

const (
	// ReasonTransient failures (network, 429, 5xx, overloaded) are worth
	// retrying against the same provider.
	ReasonTransient Reason = "transient"
	// ReasonTerminal failures (bad credentials, malformed requests) advance
	// the fallback chain immediately.
	ReasonTerminal Reason = "terminal"
	// ReasonContentPolicy means this provider cannot serve this input;
	// the chain returns the degraded result directly.
	ReasonContentPolicy Reason = "content_policy"
)

// Error is the normalized failure shape every adapter reports.
type Error struct {
	Provider string
	Status   int
	Reason   Reason
	Message  string
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s (status %d, %s)", e.Provider, e.Message, e.Status, e.Reason)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Provider, e.Message, e.Reason)
}

// Retryable implements the retry executor's classification hook.
func (e *Error) Retryable() bool { return e.Reason == ReasonTransient }

// statusError normalizes an upstream HTTP status into an Error. 429 and
// 502/503/504 plus provider "overloaded" signals are transient; the 400
// family is terminal.
func statusError(provider string, status int, body string) *Error {
	msg := strings.TrimSpace(body)
	if len(msg) > 300 {
		msg = msg[:300]
	}
	reason := ReasonTerminal
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout,
		status == 529, // anthropic-style overloaded
		status >= 500:
		reason = ReasonTransient
	case looksLikeContentPolicy(msg):
		reason = ReasonContentPolicy
	}
	return &Error{Provider: provider, Status: status, Reason: reason, Message: msg}
}

// looksLikeContentPolicy sniffs the provider error body for moderation
// rejections, which are expected for some inputs and logged at lower
// severity.
func looksLikeContentPolicy(body string) bool {
	b := strings.ToLower(body)
	return strings.Contains(b, "content_policy") ||
		strings.Contains(b, "content policy") ||
		strings.Contains(b, "safety system")
}

// terminalError builds a non-retryable failure with no HTTP status.
func terminalError(provider, format string, args ...any) *Error {
	return &Error{Provider: provider, Reason: ReasonTerminal, Message: fmt.Sprintf(format, args...)}
}

// IsContentPolicy reports whether err is a moderation rejection.
func IsContentPolicy(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Reason == ReasonContentPolicy
}
