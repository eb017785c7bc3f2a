package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// LogEntry is one structured log record from the admin log browser. Value is
// the free-form event payload; the server strips credential fields before
// returning it.
type LogEntry struct {
	Value     json.RawMessage `json:"value"`
	CreatedAt string          `json:"createdAt"`
}

// LogPage is one page of log records with the total match count.
type LogPage struct {
	Content       []LogEntry `json:"content"`
	TotalElements int64      `json:"totalElements"`
	TotalPages    int        `json:"totalPages"`
}

// LogFilter narrows and orders a log query. Zero fields are omitted and the
// server applies its defaults (createdAt descending, page size 50). Dates
// are ISO 8601 timestamps.
type LogFilter struct {
	Sort     string
	Order    string
	DateFrom string
	DateTo   string
	Page     int
	Size     int
}

// Logs queries the admin log browser, one page at a time.
func (c *Client) Logs(ctx context.Context, filter LogFilter) (*LogPage, error) {
	q := url.Values{}
	if filter.Sort != "" {
		q.Set("sort", filter.Sort)
	}

	if filter.Order != "" {
		q.Set("order", filter.Order)
	}

	if filter.DateFrom != "" {
		q.Set("dateFrom", filter.DateFrom)
	}

	if filter.DateTo != "" {
		q.Set("dateTo", filter.DateTo)
	}

	if filter.Size > 0 {
		q.Set("page", strconv.Itoa(filter.Page))
		q.Set("size", strconv.Itoa(filter.Size))
	}

	path := "/admin/logs/fetch"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page LogPage
	if err := c.getJSON(ctx, path, &page); err != nil {
		return nil, err
	}

	return &page, nil
}

// LogEventTypes lists the event types the log store recognizes.
func (c *Client) LogEventTypes(ctx context.Context) ([]string, error) {
	var types []string
	if err := c.getJSON(ctx, "/admin/logs/event-types", &types); err != nil {
		return nil, err
	}

	return types, nil
}

// LogCount returns the total number of stored log records.
func (c *Client) LogCount(ctx context.Context) (int64, error) {
	var result struct {
		Count int64 `json:"count"`
	}

	if err := c.getJSON(ctx, "/admin/logs/count", &result); err != nil {
		return 0, err
	}

	return result.Count, nil
}

// DeleteLog removes one log record.
func (c *Client) DeleteLog(ctx context.Context, logID int64) error {
	return c.requestJSON(ctx, http.MethodDelete, fmt.Sprintf("/admin/logs/%d", logID), nil, nil)
}
