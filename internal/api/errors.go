// Package api provides the authenticated HTTP client for the CrashPusher
// admin API. It attaches the bearer token to every request, detects expiry
// before sending, and transparently recovers from 401 responses through a
// single-flight token refresh with a waiting-request queue.
package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification.
// Use errors.Is(err, api.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("api: bad request")
	ErrUnauthorized = errors.New("api: unauthorized")
	ErrForbidden    = errors.New("api: forbidden")
	ErrNotFound     = errors.New("api: not found")
	ErrConflict     = errors.New("api: conflict")
	ErrServerError  = errors.New("api: server error")
)

// Session lifecycle sentinels.
var (
	// ErrSessionExpired is returned when the stored token is already expired
	// before a request is sent. The slot is cleared and the session-expired
	// callback fires; the request is never dispatched.
	ErrSessionExpired = errors.New("api: session expired")

	// ErrRefreshUnauthorized is a hard refresh failure: the refresh endpoint
	// itself answered 401. The token slot is cleared and every queued caller
	// is rejected.
	ErrRefreshUnauthorized = errors.New("api: token refresh rejected")

	// ErrRefreshFailed is a soft refresh failure: the refresh endpoint was
	// unreachable or answered with a non-401 error.
	ErrRefreshFailed = errors.New("api: token refresh failed")
)

// APIError wraps a sentinel error with the HTTP status code, the client-side
// request ID, and the response body for debugging.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("api: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("api: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}
