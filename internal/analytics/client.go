// Package analytics is the HTTP client for the tracking and analytics
// service: history reports for successful deliveries and the read-only
// open-rate and per-department queries.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/sendgrid/rest"

	"github.com/lattiq/smartmailer/internal/core"
)

// Service paths, relative to the base URL.
const (
	PathEmailHistory      = "/email-history"
	PathTrackingCounter   = "/tracking/counter"
	PathCountByDepartment = "/email-count-by-dept"
)

// Config contains analytics service settings.
type Config struct {
	// BaseURL is the service root, e.g. "https://analytics.example.com".
	BaseURL string

	// Token is sent as a bearer token. Optional for the read-only queries.
	Token string

	// Timeout bounds each request. Zero means no client-side timeout.
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// HTTPClient overrides the underlying HTTP client.
	HTTPClient *http.Client
}

// Client talks to the analytics service. It is safe for concurrent use.
type Client struct {
	baseURL   string
	token     string
	userAgent string
	rest      *rest.Client
}

// New creates a new analytics client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, core.NewValidationError("base_url", "analytics base URL is required")
	}

	u, err := url.Parse(cfg.BaseURL)
	if err != nil || !u.IsAbs() {
		return nil, core.NewValidationErrorWithValue("base_url", "must be an absolute URL", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		token:     cfg.Token,
		userAgent: cfg.UserAgent,
		rest:      &rest.Client{HTTPClient: httpClient},
	}, nil
}

// RecordHistory posts one successful delivery to the history endpoint.
// Any non-2xx response is returned as a *core.HistoryError.
func (c *Client) RecordHistory(ctx context.Context, entry core.HistoryEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode history entry: %w", err)
	}

	req := c.request(rest.Post, PathEmailHistory)
	req.Headers["Content-Type"] = "application/json"
	req.Body = body

	_, err = c.send(ctx, req)
	return err
}

// TrackingCounter returns the beacon hit counters.
func (c *Client) TrackingCounter(ctx context.Context) (*Table, error) {
	return c.query(ctx, PathTrackingCounter)
}

// EmailCountByDepartment returns the number of emails sent per department.
func (c *Client) EmailCountByDepartment(ctx context.Context) (*Table, error) {
	return c.query(ctx, PathCountByDepartment)
}

func (c *Client) query(ctx context.Context, path string) (*Table, error) {
	req := c.request(rest.Get, path)
	req.Headers["Accept"] = "application/json"

	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data []map[string]any `json:"data"`
	}
	if err := json.Unmarshal([]byte(resp.Body), &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", path, err)
	}

	return NewTable(envelope.Data), nil
}

func (c *Client) request(method rest.Method, path string) rest.Request {
	headers := map[string]string{}
	if c.token != "" {
		headers["Authorization"] = "Bearer " + c.token
	}
	if c.userAgent != "" {
		headers["User-Agent"] = c.userAgent
	}

	return rest.Request{
		Method:  method,
		BaseURL: c.baseURL + path,
		Headers: headers,
	}
}

func (c *Client) send(ctx context.Context, req rest.Request) (*rest.Response, error) {
	resp, err := c.rest.SendWithContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.BaseURL, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &core.HistoryError{
			Endpoint:   req.BaseURL,
			StatusCode: resp.StatusCode,
			Body:       truncate(resp.Body, 512),
		}
	}

	return resp, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Table is a query result: the union of keys across rows as sorted columns,
// and each row's values rendered as text in column order.
type Table struct {
	Columns []string
	Rows    [][]string
}

// NewTable builds a table from decoded JSON objects. Missing keys render empty.
func NewTable(data []map[string]any) *Table {
	seen := make(map[string]struct{})
	var columns []string
	for _, row := range data {
		for k := range row {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				columns = append(columns, k)
			}
		}
	}
	sort.Strings(columns)

	rows := make([][]string, 0, len(data))
	for _, row := range data {
		cells := make([]string, len(columns))
		for i, col := range columns {
			if v, ok := row[col]; ok && v != nil {
				cells[i] = formatCell(v)
			}
		}
		rows = append(rows, cells)
	}

	return &Table{Columns: columns, Rows: rows}
}

func formatCell(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		// JSON numbers; integers print without a fraction
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%g", val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}
