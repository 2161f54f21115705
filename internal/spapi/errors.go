package spapi

import (
	"fmt"
)

// AuthError means the credential exchange failed. It is fatal for the whole
// run: no driver can proceed without a token.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("auth: token exchange failed with status %d: %s", e.StatusCode, e.Message)
	}
	return "auth: " + e.Message
}

// APIError is a non-retryable HTTP failure (non-2xx outside 429/5xx).
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.StatusCode, truncate(e.Body, 700))
}

// RateLimitError means retries were exhausted against repeated 429 responses.
type RateLimitError struct {
	Attempts int
	Last     *Response
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded after %d attempts", e.Attempts)
}

// ServerError means retries were exhausted against 5xx responses or
// network-level failures. Last is nil when no status code was ever received.
type ServerError struct {
	Attempts int
	Last     *Response
	Cause    error
}

func (e *ServerError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("server error after %d attempts, last status %d", e.Attempts, e.Last.StatusCode)
	}
	return fmt.Sprintf("transport error after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *ServerError) Unwrap() error { return e.Cause }

// ReportFailedError means the remote explicitly terminated the report
// (FATAL or CANCELLED). The data window is permanently unavailable; callers
// walking backwards through history treat repeats of this as end of retention.
type ReportFailedError struct {
	ReportID string
	Status   string
}

func (e *ReportFailedError) Error() string {
	return fmt.Sprintf("report %s failed with remote status %s", e.ReportID, e.Status)
}

// ReportTimeoutError means polling exhausted its attempt budget without the
// remote reaching a terminal state. Retryable on a later run.
type ReportTimeoutError struct {
	ReportID string
	Attempts int
}

func (e *ReportTimeoutError) Error() string {
	return fmt.Sprintf("report %s still processing after %d poll attempts", e.ReportID, e.Attempts)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
