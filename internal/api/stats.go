package api

import (
	"context"
	"strconv"

	"golang.org/x/sync/errgroup"
)

// OverallStats is the dashboard headline block.
type OverallStats struct {
	TotalCrashes      int64   `json:"totalCrashes"`
	UniqueUsers       int64   `json:"uniqueUsers"`
	FixedCrashes      int64   `json:"fixedCrashes"`
	FixRate           float64 `json:"fixRate"`
	AvgCrashesPerUser float64 `json:"avgCrashesPerUser"`
	CrashChange       int64   `json:"crashChange"`
	UserChange        int64   `json:"userChange"`
	AvgChange         float64 `json:"avgChange"`
}

// TrendPoint is one bucket of the crash trend series.
type TrendPoint struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// TopPlayer is one row of the top-players-by-crashes table.
type TopPlayer struct {
	Username   string `json:"username"`
	CrashCount int64  `json:"crashCount"`
	UserID     int64  `json:"userId"`
}

// FixStatusSlice is one slice of the fixed/open breakdown chart.
type FixStatusSlice struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
	Color string `json:"color"`
}

// ExceptionStat is one exception type with its occurrence count.
type ExceptionStat struct {
	Exception string `json:"exception"`
	Count     int64  `json:"count"`
}

// HourBucket is one hour-of-day bucket of the crash distribution. Hour is
// the server's display label ("14:00").
type HourBucket struct {
	Hour  string `json:"hour"`
	Count int64  `json:"count"`
}

// FrequencyBucket is one bucket of the crashes-per-user distribution.
type FrequencyBucket struct {
	Frequency int64 `json:"frequency"`
	Users     int64 `json:"users"`
}

// ActivityEntry is one row of the recent-activity feed.
type ActivityEntry struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Timestamp string `json:"timestamp"`
	Fixed     bool   `json:"fixed"`
}

// StatsOverview aggregates the independent dashboard queries.
type StatsOverview struct {
	Overall    *OverallStats
	Trends     []TrendPoint
	TopPlayers []TopPlayer
	FixStatus  []FixStatusSlice
}

// OverallStats returns the headline statistics block.
func (c *Client) OverallStats(ctx context.Context) (*OverallStats, error) {
	var stats OverallStats
	if err := c.getJSON(ctx, "/stats/overall", &stats); err != nil {
		return nil, err
	}

	return &stats, nil
}

// CrashTrends returns the crash-count time series for a period ("7d", "30d", ...).
func (c *Client) CrashTrends(ctx context.Context, period string) ([]TrendPoint, error) {
	var result struct {
		DailyTrends []TrendPoint `json:"dailyTrends"`
	}

	if err := c.getJSON(ctx, "/stats/trends?period="+period, &result); err != nil {
		return nil, err
	}

	return result.DailyTrends, nil
}

// TopPlayers returns the players with the most crashes in a period.
func (c *Client) TopPlayers(ctx context.Context, limit int, period string) ([]TopPlayer, error) {
	path := "/stats/top-players?limit=" + strconv.Itoa(limit) + "&period=" + period

	var result struct {
		TopPlayers []TopPlayer `json:"topPlayers"`
	}

	if err := c.getJSON(ctx, path, &result); err != nil {
		return nil, err
	}

	return result.TopPlayers, nil
}

// FixStatusStats returns the fixed/open breakdown.
func (c *Client) FixStatusStats(ctx context.Context) ([]FixStatusSlice, error) {
	var result struct {
		Distribution []FixStatusSlice `json:"distribution"`
	}

	if err := c.getJSON(ctx, "/stats/fix-status", &result); err != nil {
		return nil, err
	}

	return result.Distribution, nil
}

// ExceptionStats returns the most common exception types.
func (c *Client) ExceptionStats(ctx context.Context, limit int) ([]ExceptionStat, error) {
	var result struct {
		TopExceptions []ExceptionStat `json:"topExceptions"`
	}

	if err := c.getJSON(ctx, "/stats/exceptions?limit="+strconv.Itoa(limit), &result); err != nil {
		return nil, err
	}

	return result.TopExceptions, nil
}

// HourlyDistribution returns crash counts bucketed by hour of day.
func (c *Client) HourlyDistribution(ctx context.Context) ([]HourBucket, error) {
	var result struct {
		HourlyDistribution []HourBucket `json:"hourlyDistribution"`
	}

	if err := c.getJSON(ctx, "/stats/hourly", &result); err != nil {
		return nil, err
	}

	return result.HourlyDistribution, nil
}

// CrashFrequency returns the distribution of crash counts per user.
func (c *Client) CrashFrequency(ctx context.Context) ([]FrequencyBucket, error) {
	var result struct {
		FrequencyDistribution []FrequencyBucket `json:"frequencyDistribution"`
	}

	if err := c.getJSON(ctx, "/stats/frequency", &result); err != nil {
		return nil, err
	}

	return result.FrequencyDistribution, nil
}

// RecentActivity returns the activity feed for the last N hours.
func (c *Client) RecentActivity(ctx context.Context, hours int) ([]ActivityEntry, error) {
	var result struct {
		RecentActivity []ActivityEntry `json:"recentActivity"`
	}

	if err := c.getJSON(ctx, "/stats/recent-activity?hours="+strconv.Itoa(hours), &result); err != nil {
		return nil, err
	}

	return result.RecentActivity, nil
}

// Overview fetches the dashboard's stats blocks concurrently. The queries are
// independent, so they fan out; the first error cancels the rest.
func (c *Client) Overview(ctx context.Context, trendPeriod string, topLimit int) (*StatsOverview, error) {
	var ov StatsOverview

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		stats, err := c.OverallStats(gctx)
		ov.Overall = stats
		return err
	})

	g.Go(func() error {
		trends, err := c.CrashTrends(gctx, trendPeriod)
		ov.Trends = trends
		return err
	})

	g.Go(func() error {
		players, err := c.TopPlayers(gctx, topLimit, "all")
		ov.TopPlayers = players
		return err
	})

	g.Go(func() error {
		fix, err := c.FixStatusStats(gctx)
		ov.FixStatus = fix
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &ov, nil
}
