package api

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/crashpusher/crashctl/internal/jwtclaims"
	"github.com/crashpusher/crashctl/internal/tokenstore"
)

const userAgent = "crashctl/0.1"

// ReasonSessionExpired is passed to the session-expired callback and matches
// the query indicator the web login surface understands
// (/auth?message=session_expired).
const ReasonSessionExpired = "session_expired"

// Client is an HTTP client for the CrashPusher admin API. It owns the token
// slot, attaches credentials to outgoing requests, and recovers from 401
// responses through the session guard's single-flight refresh.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *tokenstore.Store
	guard      *SessionGuard
	logger     *slog.Logger

	// sleepFunc is called to wait between ForceRefresh attempts.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates an admin API client. The token slot and the guard policy
// come from opts; zero-value GuardOptions give the baseline behavior
// (logout on any refresh failure).
func NewClient(baseURL string, httpClient *http.Client, tokens *tokenstore.Store, logger *slog.Logger, opts GuardOptions) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
	c.guard = newSessionGuard(c, opts)

	return c
}

// OnSessionExpired registers the callback invoked when the session is
// irrecoverably over (proactive expiry or hard refresh failure). The hosting
// application decides what that means: a navigation, a modal, or a test hook.
func (c *Client) OnSessionExpired(fn func(reason string)) {
	c.guard.onExpired = fn
}

// Tokens exposes the client's token slot for callers that need claim
// projections (whoami) or logout.
func (c *Client) Tokens() *tokenstore.Store {
	return c.tokens
}

// Do executes an authenticated request against the admin API.
// The path is appended to the client's base URL. For non-nil bodies,
// Content-Type is application/json; use DoForm for multipart payloads.
//
// Before sending: an expired stored token aborts the request with
// ErrSessionExpired, clears the slot, and fires the session-expired callback.
// After sending: a 401 triggers one single-flight token refresh and exactly
// one replay of the request with the new credential. The body must be an
// io.ReadSeeker so the replay can rewind it.
//
// The caller is responsible for closing the response body on success.
func (c *Client) Do(ctx context.Context, method, path string, body io.ReadSeeker) (*http.Response, error) {
	contentType := ""
	if body != nil {
		contentType = "application/json"
	}

	return c.do(ctx, method, path, contentType, body)
}

// DoForm is Do with an explicit Content-Type, for multipart chunk uploads.
// It shares the full pipeline: expiry check, bearer attach, refresh-and-replay.
func (c *Client) DoForm(ctx context.Context, method, path, contentType string, body io.ReadSeeker) (*http.Response, error) {
	return c.do(ctx, method, path, contentType, body)
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.ReadSeeker) (*http.Response, error) {
	token := c.tokens.Token()

	// Proactive expiry check: never send a request with a token the server is
	// guaranteed to reject.
	if token != "" && jwtclaims.IsExpired(token) {
		c.logger.Info("stored token expired, ending session",
			slog.String("method", method),
			slog.String("path", path),
		)
		c.guard.expireSession(ReasonSessionExpired)

		return nil, fmt.Errorf("api: %s %s aborted: %w", method, path, ErrSessionExpired)
	}

	reqID := uuid.NewString()

	resp, err := c.doOnce(ctx, method, path, contentType, body, token, reqID)
	if err != nil {
		return nil, err
	}

	// Only a request that carried a credential can recover from 401; an
	// unauthenticated 401 (bad login) is a plain error.
	if resp.StatusCode != http.StatusUnauthorized || token == "" {
		return c.finish(resp, method, path, reqID)
	}

	// 401: recover through the guard. The original request is marked as
	// retried by construction: this path runs at most once per request.
	drainBody(resp)

	c.logger.Info("request unauthorized, refreshing token",
		slog.String("method", method),
		slog.String("path", path),
		slog.String("request_id", reqID),
	)

	newToken, refreshErr := c.guard.refresh(ctx, token)
	if refreshErr != nil {
		return nil, fmt.Errorf("api: %s %s: %w", method, path, refreshErr)
	}

	if body != nil {
		if _, seekErr := body.Seek(0, io.SeekStart); seekErr != nil {
			return nil, fmt.Errorf("api: rewinding body for replay of %s %s: %w", method, path, seekErr)
		}
	}

	resp, err = c.doOnce(ctx, method, path, contentType, body, newToken, reqID)
	if err != nil {
		return nil, err
	}

	return c.finish(resp, method, path, reqID)
}

// doOnce executes a single HTTP request (no refresh, no replay).
func (c *Client) doOnce(
	ctx context.Context, method, path, contentType string, body io.Reader, token, reqID string,
) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("api: creating request: %w", err)
	}

	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("request-id", reqID)

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("api: %s %s failed: %w", method, path, err)
	}

	return resp, nil
}

// finish passes 2xx responses through and converts everything else into an
// *APIError wrapping the classification sentinel.
func (c *Client) finish(resp *http.Response, method, path, reqID string) (*http.Response, error) {
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		c.logger.Debug("request succeeded",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", resp.StatusCode),
		)

		return resp, nil
	}

	errBody, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()

	if readErr != nil {
		errBody = []byte("(failed to read response body)")
	}

	c.logger.Warn("request failed",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.String("request_id", reqID),
	)

	return nil, &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  reqID,
		Message:    string(errBody),
		Err:        classifyStatus(resp.StatusCode),
	}
}

// drainBody reads and closes a response body so the connection can be reused.
func drainBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain
	resp.Body.Close()
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
