// Package topvisor is a typed client for the parts of the Topvisor API the
// sync uses. Each supported call is a method; there is no dispatch by name.
package topvisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/allcookiesaccept/rankmirror/internal/upstream"
)

const DefaultBaseURL = "https://api.topvisor.com"

// Operation is the closed set of Topvisor calls the client can make.
type Operation int

const (
	OpHistory Operation = iota
	OpSummaryChart
	OpProjects
)

// String returns the task name used in errors and logs.
func (o Operation) String() string {
	switch o {
	case OpHistory:
		return "get_history"
	case OpSummaryChart:
		return "get_summary_chart"
	case OpProjects:
		return "get_projects"
	}
	return fmt.Sprintf("operation(%d)", int(o))
}

// Endpoint returns the request path for o.
func (o Operation) Endpoint() string {
	switch o {
	case OpHistory:
		return "/v2/json/get/positions_2/history"
	case OpSummaryChart:
		return "/v2/json/get/positions_2/summary/chart"
	case OpProjects:
		return "/v2/json/get/projects_2/projects"
	}
	return ""
}

type Client struct {
	baseURL string
	userID  string
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout on a copy of the underlying HTTP
// client, so a client passed to WithHTTPClient is left as it was.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			hc := *c.http
			hc.Timeout = d
			c.http = &hc
		}
	}
}

// WithRateLimit caps outgoing requests per second. rps <= 0 disables the cap.
func WithRateLimit(rps float64) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient creates a client for baseURL (DefaultBaseURL when empty).
func NewClient(baseURL, userID, apiKey string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		userID:  userID,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(5), 1),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// History lists the dates with a position check in the requested range.
func (c *Client) History(ctx context.Context, req HistoryRequest) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.do(ctx, OpHistory, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SummaryChart fetches the per-date metric series for one project/region.
func (c *Client) SummaryChart(ctx context.Context, req SummaryChartRequest) (*SummaryChartResponse, error) {
	var resp SummaryChartResponse
	if err := c.do(ctx, OpSummaryChart, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Projects lists the account's projects with their searchers and regions.
func (c *Client) Projects(ctx context.Context, req ProjectsRequest) (*ProjectsResponse, error) {
	var resp ProjectsResponse
	if err := c.do(ctx, OpProjects, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// do posts payload to op's endpoint and decodes the reply into out.
// Failures to reach the API, non-2xx replies and error envelopes become
// TransportError; bodies that cannot be decoded become DataFormatError.
func (c *Client) do(ctx context.Context, op Operation, payload, out any) error {
	task := op.String()

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: %w", task, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: failed to encode payload: %w", task, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+op.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", task, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Id", c.userID)
	req.Header.Set("Authorization", "bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return &upstream.TransportError{Task: task, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &upstream.TransportError{Task: task, StatusCode: resp.StatusCode, Err: err}
	}

	c.logger.Debug("topvisor request",
		zap.String("task", task),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	var env struct {
		Errors []APIError `json:"errors"`
	}
	envErr := json.Unmarshal(data, &env)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if envErr == nil && len(env.Errors) > 0 {
			return &upstream.TransportError{Task: task, StatusCode: resp.StatusCode, Err: &env.Errors[0]}
		}
		return &upstream.TransportError{Task: task, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status %s", resp.Status)}
	}
	if envErr != nil {
		return &upstream.DataFormatError{Task: task, Err: envErr}
	}
	if len(env.Errors) > 0 {
		return &upstream.TransportError{Task: task, StatusCode: resp.StatusCode, Err: &env.Errors[0]}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &upstream.DataFormatError{Task: task, Err: err}
	}
	return nil
}
