package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// GuardOptions configures the session guard's failure policy.
type GuardOptions struct {
	// KeepSessionOnSoftFailure keeps the user logged in when a refresh in the
	// request pipeline fails without an explicit 401 (network error, 5xx).
	// The zero value preserves the baseline behavior: any refresh failure
	// ends the session. The explicit ForceRefresh path is always lenient
	// about soft failures regardless of this setting.
	KeepSessionOnSoftFailure bool
}

// refreshResult is delivered to each queued caller when the in-flight
// refresh settles.
type refreshResult struct {
	token string
	err   error
}

// SessionGuard serializes token refreshes. At most one refresh is in flight
// per guard; callers that hit a 401 while one is running are queued and
// resolved in arrival order when it settles. The guard is owned by a Client,
// so independent clients in one process refresh independently.
type SessionGuard struct {
	client    *Client
	opts      GuardOptions
	onExpired func(reason string)

	// refreshFn performs the actual refresh call. Defaults to the client's
	// /auth/refresh request; tests override it to control timing.
	refreshFn func(ctx context.Context, oldToken string) (string, map[string]string, error)

	mu         sync.Mutex
	refreshing bool
	waiters    []chan refreshResult
}

func newSessionGuard(c *Client, opts GuardOptions) *SessionGuard {
	g := &SessionGuard{client: c, opts: opts}
	g.refreshFn = c.refreshRequest

	return g
}

// refresh returns a fresh token for a caller whose request was rejected with
// 401. If a refresh is already in flight the caller is enqueued and receives
// that refresh's outcome; otherwise this caller performs the refresh and
// settles the whole queue.
func (g *SessionGuard) refresh(ctx context.Context, oldToken string) (string, error) {
	g.mu.Lock()

	if g.refreshing {
		ch := make(chan refreshResult, 1)
		g.waiters = append(g.waiters, ch)
		waiting := len(g.waiters)
		g.mu.Unlock()

		g.client.logger.Debug("refresh in flight, queueing request",
			slog.Int("queue_position", waiting),
		)

		select {
		case <-ctx.Done():
			// The caller gives up; the buffered channel lets the drain
			// complete without blocking.
			return "", ctx.Err()
		case res := <-ch:
			return res.token, res.err
		}
	}

	g.refreshing = true
	g.mu.Unlock()

	token, meta, err := g.refreshFn(ctx, oldToken)
	if err != nil {
		hard := errors.Is(err, ErrRefreshUnauthorized)
		if hard || !g.opts.KeepSessionOnSoftFailure {
			g.expireSession(ReasonSessionExpired)
		}

		g.client.logger.Warn("token refresh failed",
			slog.Bool("hard", hard),
			slog.String("error", err.Error()),
		)

		g.settle("", err)

		return "", err
	}

	if setErr := g.client.tokens.Set(token, meta); setErr != nil {
		// The new token still works for this process; only persistence failed.
		g.client.logger.Warn("failed to persist refreshed token",
			slog.String("error", setErr.Error()),
		)
	}

	g.client.logger.Info("token refreshed",
		slog.Int("queued_requests", g.queueLen()),
	)

	g.settle(token, nil)

	return token, nil
}

// settle clears the in-flight flag and resolves every queued caller with the
// refresh outcome, in enqueue order. Success hands each waiter the new token;
// failure rejects them all with the same error.
func (g *SessionGuard) settle(token string, err error) {
	g.mu.Lock()
	g.refreshing = false
	waiters := g.waiters
	g.waiters = nil
	g.mu.Unlock()

	for _, ch := range waiters {
		ch <- refreshResult{token: token, err: err}
	}
}

func (g *SessionGuard) queueLen() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return len(g.waiters)
}

// expireSession clears the token slot and notifies the host application that
// the session is over. The web frontend navigates to
// /auth?message=session_expired here; the CLI prints a re-login hint.
func (g *SessionGuard) expireSession(reason string) {
	if err := g.client.tokens.Clear(); err != nil {
		g.client.logger.Warn("failed to clear token slot",
			slog.String("error", err.Error()),
		)
	}

	g.client.logger.Info("session ended", slog.String("reason", reason))

	if g.onExpired != nil {
		g.onExpired(reason)
	}
}

// ForceRefresh is the explicit, user-triggered refresh path, independent of
// the request pipeline. It retries with linear backoff (attempt seconds
// between tries). A 401 from the refresh endpoint aborts immediately and ends
// the session; exhausting the attempts without a 401 returns false without
// logging out, since the stored token may still be valid.
func (c *Client) ForceRefresh(ctx context.Context, maxAttempts int) (bool, error) {
	token := c.tokens.Token()
	if token == "" {
		c.logger.Debug("force refresh: no stored token")
		return false, nil
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleepFunc(ctx, time.Duration(attempt)*time.Second); err != nil {
				return false, err
			}
		}

		c.logger.Debug("force refresh attempt",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
		)

		newToken, meta, err := c.refreshRequest(ctx, token)
		if err == nil {
			if setErr := c.tokens.Set(newToken, meta); setErr != nil {
				return false, setErr
			}

			c.logger.Info("token refreshed", slog.Int("attempts", attempt))

			return true, nil
		}

		if errors.Is(err, ErrRefreshUnauthorized) {
			c.guard.expireSession(ReasonSessionExpired)
			return false, err
		}

		c.logger.Warn("force refresh attempt failed",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
	}

	c.logger.Warn("force refresh exhausted attempts, keeping current token",
		slog.Int("max_attempts", maxAttempts),
	)

	return false, nil
}
