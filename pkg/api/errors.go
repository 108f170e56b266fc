package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"
)

// Sentinel errors for comparison using errors.Is()
var (
	// Transport failures: DNS, refused connections, resets, timeouts
	ErrConnectionFailed = errors.New("connection failed")
	// The backend answered with a non-2xx status or an unreadable body
	ErrRequestFailed = errors.New("request failed")
	// The bearer token is no longer accepted
	ErrSessionExpired = errors.New("session expired")

	// Local precondition failures, raised before any network call
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrEmptyCart        = errors.New("cart is empty")
	ErrInvalidRequest   = errors.New("invalid request")
)

// maxMessageLength caps messages lifted from plain-text error bodies.
const maxMessageLength = 300

// Error is the single failure shape every Client operation returns.
// StatusCode is 0 when no HTTP response was received.
type Error struct {
	Op         string // e.g. "cart.get"
	StatusCode int
	Message    string // human readable, safe to show to the shopper
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op + ": error"
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage extracts the shopper-facing message from err, or fallback.
func UserMessage(err error, fallback string) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}

// StatusCode returns the HTTP status carried by err, or 0
func StatusCode(err error) int {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsSessionExpired reports whether err means the session must be dropped
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// IsRetryable reports transient failures: transport errors and 5xx answers.
// Client errors (4xx) and local precondition failures are never retried.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, ErrSessionExpired) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrConnectionFailed) {
		return true
	}
	return StatusCode(err) >= http.StatusInternalServerError
}

// extractMessage picks the best human-readable message out of an error
// response: a JSON "message" or "error" field, else the plain-text body,
// else the raw status line.
func extractMessage(status string, body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return status
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &payload); err == nil {
		for _, key := range []string{"message", "error"} {
			if s, ok := payload[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
		return status
	}
	var other interface{}
	if json.Unmarshal([]byte(trimmed), &other) == nil {
		// valid JSON but not an object: a bare string is still a message
		if s, ok := other.(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		return status
	}

	return truncate(trimmed, maxMessageLength)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// mentionsSessionExpiry matches the backend's wording for rejected tokens.
func mentionsSessionExpiry(message string) bool {
	return strings.Contains(strings.ToLower(message), "session expired")
}
