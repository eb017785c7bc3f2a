package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOverallStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stats/overall", r.URL.Path)
		_, _ = w.Write([]byte(`{"totalCrashes":100,"uniqueUsers":7,"fixedCrashes":40,
			"fixRate":40,"avgCrashesPerUser":14.3,"crashChange":5,"userChange":0,"avgChange":0.0}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.tokens.Set(validToken(t), nil))

	stats, err := client.OverallStats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), stats.TotalCrashes)
	assert.Equal(t, int64(7), stats.UniqueUsers)
	assert.Equal(t, int64(40), stats.FixedCrashes)
	assert.InDelta(t, 14.3, stats.AvgCrashesPerUser, 0.001)
}

func TestCrashTrends(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stats/trends", r.URL.Path)
		assert.Equal(t, "30d", r.URL.Query().Get("period"))
		_, _ = w.Write([]byte(`{"dailyTrends":[{"date":"2026-08-29","count":3},{"date":"2026-08-30","count":4}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.tokens.Set(validToken(t), nil))

	trends, err := client.CrashTrends(context.Background(), "30d")
	require.NoError(t, err)
	require.Len(t, trends, 2)
	assert.Equal(t, "2026-08-30", trends[1].Date)
	assert.Equal(t, int64(4), trends[1].Count)
}

func TestTopPlayers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stats/top-players", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "7d", r.URL.Query().Get("period"))
		_, _ = w.Write([]byte(`{"topPlayers":[{"username":"alice","crashCount":12,"userId":7}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.tokens.Set(validToken(t), nil))

	players, err := client.TopPlayers(context.Background(), 5, "7d")
	require.NoError(t, err)
	require.Len(t, players, 1)
	assert.Equal(t, "alice", players[0].Username)
	assert.Equal(t, int64(12), players[0].CrashCount)
	assert.Equal(t, int64(7), players[0].UserID)
}

func TestFixStatusStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stats/fix-status", r.URL.Path)
		_, _ = w.Write([]byte(`{"distribution":[
			{"name":"Fixed","value":60,"color":"#10B981"},
			{"name":"Not Fixed","value":40,"color":"#EF4444"}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.tokens.Set(validToken(t), nil))

	slices, err := client.FixStatusStats(context.Background())
	require.NoError(t, err)
	require.Len(t, slices, 2)
	assert.Equal(t, "Not Fixed", slices[1].Name)
	assert.Equal(t, int64(40), slices[1].Value)
}

func TestExceptionStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stats/exceptions", r.URL.Path)
		assert.Equal(t, "15", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"topExceptions":[{"exception":"java.lang.NullPointerException","count":31}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.tokens.Set(validToken(t), nil))

	stats, err := client.ExceptionStats(context.Background(), 15)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "java.lang.NullPointerException", stats[0].Exception)
	assert.Equal(t, int64(31), stats[0].Count)
}

func TestHourlyDistribution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stats/hourly", r.URL.Path)
		assert.Empty(t, r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"hourlyDistribution":[{"hour":"14:00","count":9}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.tokens.Set(validToken(t), nil))

	buckets, err := client.HourlyDistribution(context.Background())
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, "14:00", buckets[0].Hour)
	assert.Equal(t, int64(9), buckets[0].Count)
}

func TestCrashFrequency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stats/frequency", r.URL.Path)
		assert.Empty(t, r.URL.RawQuery)
		_, _ = w.Write([]byte(`{"frequencyDistribution":[{"frequency":1,"users":20},{"frequency":5,"users":3}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.tokens.Set(validToken(t), nil))

	buckets, err := client.CrashFrequency(context.Background())
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, int64(5), buckets[1].Frequency)
	assert.Equal(t, int64(3), buckets[1].Users)
}

func TestRecentActivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stats/recent-activity", r.URL.Path)
		assert.Equal(t, "24", r.URL.Query().Get("hours"))
		_, _ = w.Write([]byte(`{"recentActivity":[{"id":3,"username":"bob","timestamp":"2026-08-30T12:00:00","fixed":false}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.tokens.Set(validToken(t), nil))

	entries, err := client.RecentActivity(context.Background(), 24)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bob", entries[0].Username)
	assert.False(t, entries[0].Fixed)
}

func TestOverview_FansOut(t *testing.T) {
	paths := make(chan string, 8)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path

		switch r.URL.Path {
		case "/stats/overall":
			_, _ = w.Write([]byte(`{"totalCrashes":100,"uniqueUsers":7}`))
		case "/stats/trends":
			_, _ = w.Write([]byte(`{"dailyTrends":[{"date":"2026-08-30","count":4}]}`))
		case "/stats/top-players":
			_, _ = w.Write([]byte(`{"topPlayers":[{"username":"alice","crashCount":12,"userId":7}]}`))
		case "/stats/fix-status":
			_, _ = w.Write([]byte(`{"distribution":[{"name":"Fixed","value":60},{"name":"Not Fixed","value":40}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.tokens.Set(validToken(t), nil))

	ov, err := client.Overview(context.Background(), "7d", 10)
	require.NoError(t, err)

	close(paths)

	seen := map[string]bool{}
	for p := range paths {
		seen[p] = true
	}

	assert.Len(t, seen, 4, "all four stats queries issued")

	require.NotNil(t, ov.Overall)
	assert.Equal(t, int64(100), ov.Overall.TotalCrashes)
	require.Len(t, ov.Trends, 1)
	require.Len(t, ov.TopPlayers, 1)
	require.Len(t, ov.FixStatus, 2)
	assert.Equal(t, int64(40), ov.FixStatus[1].Value)
}

func TestOverview_ErrorCancelsSiblings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/stats/overall" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	require.NoError(t, client.tokens.Set(validToken(t), nil))

	_, err := client.Overview(context.Background(), "7d", 10)
	require.ErrorIs(t, err, ErrServerError)
}
