package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedRefresh replaces the guard's refresh call with one that blocks until
// released, so tests can pile up waiters deterministically.
type gatedRefresh struct {
	calls   atomic.Int32
	release chan struct{}
	token   string
	err     error
}

func newGatedRefresh(token string, err error) *gatedRefresh {
	return &gatedRefresh{release: make(chan struct{}), token: token, err: err}
}

func (gr *gatedRefresh) fn(ctx context.Context, _ string) (string, map[string]string, error) {
	gr.calls.Add(1)

	select {
	case <-ctx.Done():
		return "", nil, ctx.Err()
	case <-gr.release:
	}

	return gr.token, nil, gr.err
}

// waitForQueue blocks until the guard has n queued waiters.
func waitForQueue(t *testing.T, g *SessionGuard, n int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for g.queueLen() < n {
		if time.Now().After(deadline) {
			t.Fatalf("queue never reached %d waiters (have %d)", n, g.queueLen())
		}

		time.Sleep(time.Millisecond)
	}
}

func TestRefresh_SingleFlight(t *testing.T) {
	client := newTestClient(t, "http://unused")
	require.NoError(t, client.tokens.Set(validToken(t), nil))

	gate := newGatedRefresh("fresh-token", nil)
	client.guard.refreshFn = gate.fn

	const callers = 5

	var wg sync.WaitGroup

	results := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = client.guard.refresh(context.Background(), "old-token")
		}(i)

		if i == 0 {
			// Let the first caller become the refresher before queueing the rest.
			deadline := time.Now().Add(2 * time.Second)
			for gate.calls.Load() == 0 {
				if time.Now().After(deadline) {
					t.Fatal("first caller never started the refresh")
				}

				time.Sleep(time.Millisecond)
			}
		}
	}

	waitForQueue(t, client.guard, callers-1)
	close(gate.release)
	wg.Wait()

	assert.Equal(t, int32(1), gate.calls.Load(), "exactly one refresh request for the whole burst")

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i], "caller %d", i)
		assert.Equal(t, "fresh-token", results[i], "caller %d", i)
	}

	assert.Equal(t, "fresh-token", client.tokens.Token(), "refreshed token persisted")
}

func TestRefresh_FailureRejectsWholeQueue(t *testing.T) {
	client := newTestClient(t, "http://unused")
	require.NoError(t, client.tokens.Set(validToken(t), nil))

	var expired atomic.Int32
	client.OnSessionExpired(func(string) { expired.Add(1) })

	refreshErr := fmt.Errorf("%w: invalid token", ErrRefreshUnauthorized)
	gate := newGatedRefresh("", refreshErr)
	client.guard.refreshFn = gate.fn

	const callers = 4

	var wg sync.WaitGroup

	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()
			_, errs[i] = client.guard.refresh(context.Background(), "old-token")
		}(i)

		if i == 0 {
			deadline := time.Now().Add(2 * time.Second)
			for gate.calls.Load() == 0 {
				if time.Now().After(deadline) {
					t.Fatal("first caller never started the refresh")
				}

				time.Sleep(time.Millisecond)
			}
		}
	}

	waitForQueue(t, client.guard, callers-1)
	close(gate.release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		assert.ErrorIs(t, errs[i], ErrRefreshUnauthorized, "caller %d", i)
	}

	assert.Equal(t, int32(1), expired.Load(), "session ends once, not per caller")
	assert.Empty(t, client.tokens.Token(), "token slot cleared")
}

func TestRefresh_WaiterAbandonsOnContextCancel(t *testing.T) {
	client := newTestClient(t, "http://unused")

	gate := newGatedRefresh("fresh-token", nil)
	client.guard.refreshFn = gate.fn

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		_, _ = client.guard.refresh(context.Background(), "old") //nolint:errcheck // outcome checked below
	}()

	deadline := time.Now().Add(2 * time.Second)
	for gate.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("refresh never started")
		}

		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())

	var waiterWG sync.WaitGroup

	waiterWG.Add(1)

	go func() {
		defer waiterWG.Done()

		_, err := client.guard.refresh(ctx, "old")
		assert.ErrorIs(t, err, context.Canceled)
	}()

	waitForQueue(t, client.guard, 1)
	cancel()
	waiterWG.Wait()

	// The abandoned waiter must not block settle.
	close(gate.release)
	wg.Wait()
}

func TestRefresh_SoftFailurePolicy(t *testing.T) {
	softErr := fmt.Errorf("%w: connection refused", ErrRefreshFailed)

	tests := []struct {
		name        string
		keep        bool
		wantExpired bool
	}{
		{"baseline logs out on soft failure", false, true},
		{"lenient keeps session on soft failure", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, "http://unused")
			client.guard.opts = GuardOptions{KeepSessionOnSoftFailure: tt.keep}
			require.NoError(t, client.tokens.Set(validToken(t), nil))

			var expired atomic.Bool
			client.OnSessionExpired(func(string) { expired.Store(true) })

			gate := newGatedRefresh("", softErr)
			close(gate.release)
			client.guard.refreshFn = gate.fn

			_, err := client.guard.refresh(context.Background(), "old")
			require.ErrorIs(t, err, ErrRefreshFailed)

			assert.Equal(t, tt.wantExpired, expired.Load())
			assert.Equal(t, tt.wantExpired, client.tokens.Token() == "")
		})
	}
}

func TestRefresh_HardFailureIgnoresKeepPolicy(t *testing.T) {
	client := newTestClient(t, "http://unused")
	client.guard.opts = GuardOptions{KeepSessionOnSoftFailure: true}
	require.NoError(t, client.tokens.Set(validToken(t), nil))

	var expired atomic.Bool
	client.OnSessionExpired(func(string) { expired.Store(true) })

	gate := newGatedRefresh("", fmt.Errorf("%w: bad token", ErrRefreshUnauthorized))
	close(gate.release)
	client.guard.refreshFn = gate.fn

	_, err := client.guard.refresh(context.Background(), "old")
	require.ErrorIs(t, err, ErrRefreshUnauthorized)

	assert.True(t, expired.Load(), "a 401 from the refresh endpoint always ends the session")
	assert.Empty(t, client.tokens.Token())
}

func TestForceRefresh_Success(t *testing.T) {
	newToken := testToken(t, time.Now().Add(2*time.Hour))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/refresh", r.URL.Path)
		_, _ = w.Write([]byte(`{"token":"` + newToken + `","username":"alice"}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.tokens.Set(validToken(t), nil))

	ok, err := client.ForceRefresh(context.Background(), 3)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, newToken, client.tokens.Token())
	assert.Equal(t, "alice", client.tokens.Meta()["username"])
}

func TestForceRefresh_NoToken(t *testing.T) {
	client := newTestClient(t, "http://unused")

	ok, err := client.ForceRefresh(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestForceRefresh_UnauthorizedEndsSession(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.tokens.Set(validToken(t), nil))

	var expiredReason string
	client.OnSessionExpired(func(reason string) { expiredReason = reason })

	ok, err := client.ForceRefresh(context.Background(), 5)
	assert.False(t, ok)
	require.ErrorIs(t, err, ErrRefreshUnauthorized)

	assert.Equal(t, int32(1), calls.Load(), "401 aborts immediately, no retries")
	assert.Equal(t, ReasonSessionExpired, expiredReason)
	assert.Empty(t, client.tokens.Token())
}

func TestForceRefresh_ExhaustionKeepsToken(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	token := validToken(t)
	require.NoError(t, client.tokens.Set(token, nil))

	var expired atomic.Bool
	client.OnSessionExpired(func(string) { expired.Store(true) })

	ok, err := client.ForceRefresh(context.Background(), 3)
	require.NoError(t, err, "exhaustion is not an error")
	assert.False(t, ok)

	assert.Equal(t, int32(3), calls.Load())
	assert.False(t, expired.Load(), "soft exhaustion never logs out")
	assert.Equal(t, token, client.tokens.Token(), "stored token untouched")
}

func TestForceRefresh_LinearBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.tokens.Set(validToken(t), nil))

	var sleeps []time.Duration

	client.sleepFunc = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}

	_, err := client.ForceRefresh(context.Background(), 4)
	require.NoError(t, err)

	// No wait before the first attempt, then attempt*1s between tries.
	assert.Equal(t, []time.Duration{2 * time.Second, 3 * time.Second, 4 * time.Second}, sleeps)
}

func TestForceRefresh_ContextCanceledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.tokens.Set(validToken(t), nil))

	client.sleepFunc = func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}

	ok, err := client.ForceRefresh(context.Background(), 3)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}
