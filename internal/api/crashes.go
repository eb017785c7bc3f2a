package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// CrashSummary is one row of a user's crash list.
type CrashSummary struct {
	ID        int64  `json:"id"`
	CreatedAt string `json:"createdAt"`
	Summary   string `json:"summary"`
}

// Crash is the full content of a single crash report.
type Crash struct {
	ID         int64  `json:"id"`
	PlayerName string `json:"playerName"`
	Content    string `json:"content"`
	CreatedAt  string `json:"createdAt"`
	IsFix      bool   `json:"isFix"`
}

// GroupedCrash is one signature group in the global crash list.
type GroupedCrash struct {
	ID        int64  `json:"id"`
	Signature string `json:"signature"`
	Count     int    `json:"count"`
	LastSeen  string `json:"lastSeen"`
	Example   *Crash `json:"example,omitempty"`
	IsFix     bool   `json:"isFix"`
}

// GlobalCrashOpts filters the global crash list.
type GlobalCrashOpts struct {
	Grouped bool
	Page    int
	Size    int
}

// Crash fetches a single crash report with its full content.
func (c *Client) Crash(ctx context.Context, id int64) (*Crash, error) {
	var crash Crash
	if err := c.getJSON(ctx, fmt.Sprintf("/crashes/%d", id), &crash); err != nil {
		return nil, err
	}

	return &crash, nil
}

// GlobalCrashes lists crashes across all users, optionally grouped by signature.
func (c *Client) GlobalCrashes(ctx context.Context, opts GlobalCrashOpts) ([]GroupedCrash, error) {
	q := url.Values{}
	if opts.Grouped {
		q.Set("grouped", "true")
	}

	if opts.Size > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
		q.Set("size", strconv.Itoa(opts.Size))
	}

	path := "/crashes"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var crashes []GroupedCrash
	if err := c.getJSON(ctx, path, &crashes); err != nil {
		return nil, err
	}

	return crashes, nil
}

// TopCrashes lists the most frequent crash signatures.
func (c *Client) TopCrashes(ctx context.Context, limit int) ([]GroupedCrash, error) {
	var crashes []GroupedCrash
	if err := c.getJSON(ctx, "/crashes/top?limit="+strconv.Itoa(limit), &crashes); err != nil {
		return nil, err
	}

	return crashes, nil
}

// SetCrashFixed updates a crash's fix status.
func (c *Client) SetCrashFixed(ctx context.Context, id int64, fixed bool) error {
	body := struct {
		IsFix bool `json:"isFix"`
	}{IsFix: fixed}

	return c.requestJSON(ctx, http.MethodPatch, fmt.Sprintf("/crashes/%d/fix", id), body, nil)
}
