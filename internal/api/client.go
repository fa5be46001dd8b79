package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/banshee-data/tspv.relay/internal/db"
)

// HTTPClient abstracts HTTP operations for testability.
// *http.Client satisfies it.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to a running relay's /api routes.
type Client struct {
	base string
	http HTTPClient
}

// NewClient creates a Client for the relay at baseURL (e.g. http://localhost:8080).
// A nil c uses http.DefaultClient.
func NewClient(baseURL string, c HTTPClient) *Client {
	if c == nil {
		c = http.DefaultClient
	}
	return &Client{base: strings.TrimRight(baseURL, "/"), http: c}
}

// Status fetches GET /api/status.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/api/status", &st)
	return st, err
}

// Reset issues POST /api/reset and returns the post-reset status.
func (c *Client) Reset(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodPost, "/api/reset", &st)
	return st, err
}

// Summary fetches GET /api/summary.
func (c *Client) Summary(ctx context.Context) ([]db.StatusSummary, error) {
	var out []db.StatusSummary
	err := c.do(ctx, http.MethodGet, "/api/summary", &out)
	return out, err
}

// Samples fetches GET /api/samples, newest first. limit <= 0 uses the
// server default.
func (c *Client) Samples(ctx context.Context, limit int) ([]db.StoredSample, error) {
	path := "/api/samples"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out []db.StoredSample
	err := c.do(ctx, http.MethodGet, path, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, into interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, e.Error)
		}
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	if err := json.Unmarshal(body, into); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
