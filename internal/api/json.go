package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// getJSON executes an authenticated GET and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.requestJSON(ctx, http.MethodGet, path, nil, out)
}

// requestJSON executes an authenticated request with an optional JSON body
// and decodes the response into out (skipped when out is nil).
func (c *Client) requestJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.ReadSeeker

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encoding %s %s body: %w", method, path, err)
		}

		body = bytes.NewReader(data)
	}

	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		drainBody(resp)
		return nil
	}

	if decErr := json.NewDecoder(resp.Body).Decode(out); decErr != nil {
		return fmt.Errorf("api: decoding %s %s response: %w", method, path, decErr)
	}

	return nil
}
