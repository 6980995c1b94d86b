// Package dispatch posts JSON documents to transformer and sink services.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/telhawk-systems/auditflow/internal/logging"
	"github.com/telhawk-systems/auditflow/internal/metrics"
)

// ErrUnexpectedStatus is wrapped by DispatchError for non-2xx responses
// under the Fail policy.
var ErrUnexpectedStatus = errors.New("unexpected status")

// maxResponseBytes caps how much of a response body is read.
const maxResponseBytes = 32 << 20

// StatusPolicy decides what a non-2xx response means.
type StatusPolicy string

const (
	// Forward logs a warning and returns the body as if the call succeeded.
	Forward StatusPolicy = "forward"
	// Fail returns a DispatchError carrying the status.
	Fail StatusPolicy = "fail"
)

// ParseStatusPolicy maps a configuration value to a policy. Unknown values fail.
func ParseStatusPolicy(s string) (StatusPolicy, error) {
	switch StatusPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case Forward:
		return Forward, nil
	case Fail:
		return Fail, nil
	}
	return "", fmt.Errorf("unknown status policy %q", s)
}

// DispatchError reports a failed call: transport, timeout, serialization or,
// under the Fail policy, a non-2xx status.
type DispatchError struct {
	URL string
	// Status is the HTTP status, or 0 when no response was received.
	Status int
	Err    error
}

func (e *DispatchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("POST %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("POST %s: %v", e.URL, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// Options configures a Client.
type Options struct {
	// Target labels metrics and logs, e.g. "transformer" or "sink".
	Target string

	// Timeout bounds each call including reading the response.
	Timeout time.Duration

	Policy              StatusPolicy
	MaxIdleConnsPerHost int
}

// Client posts JSON to destinations. One *http.Client is kept per base URL so
// connections to the same destination are reused. Safe for concurrent use.
type Client struct {
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*http.Client
}

// NewClient creates a dispatch client.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Policy == "" {
		opts.Policy = Fail
	}
	if opts.Target == "" {
		opts.Target = "destination"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		opts:    opts,
		logger:  logger.With(slog.String("component", "dispatch"), slog.String("target", opts.Target)),
		clients: make(map[string]*http.Client),
	}
}

// Post serializes body as JSON, posts it to baseURL+path and returns the
// response body. json.RawMessage bodies are sent verbatim.
func (c *Client) Post(ctx context.Context, baseURL, path string, body any) ([]byte, error) {
	url := strings.TrimRight(baseURL, "/") + path

	payload, err := json.Marshal(body)
	if err != nil {
		metrics.DispatchRequests.WithLabelValues(c.opts.Target, "serialization_error").Inc()
		return nil, &DispatchError{URL: url, Err: fmt.Errorf("marshal request: %w", err)}
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		metrics.DispatchRequests.WithLabelValues(c.opts.Target, "request_error").Inc()
		return nil, &DispatchError{URL: url, Err: fmt.Errorf("build request: %w", err)}
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient(baseURL).Do(request)
	metrics.DispatchDuration.WithLabelValues(c.opts.Target).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.DispatchRequests.WithLabelValues(c.opts.Target, "transport_error").Inc()
		return nil, &DispatchError{URL: url, Err: fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.DispatchRequests.WithLabelValues(c.opts.Target, "transport_error").Inc()
		return nil, &DispatchError{URL: url, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if c.opts.Policy == Forward {
			metrics.DispatchRequests.WithLabelValues(c.opts.Target, "forwarded_status").Inc()
			c.logger.Warn("Non-2xx response, forwarding body",
				logging.URL(url),
				logging.Status(resp.StatusCode))
			return respBody, nil
		}
		metrics.DispatchRequests.WithLabelValues(c.opts.Target, "status_error").Inc()
		return nil, &DispatchError{
			URL:    url,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("%w: %s", ErrUnexpectedStatus, snippet(respBody)),
		}
	}

	metrics.DispatchRequests.WithLabelValues(c.opts.Target, "ok").Inc()
	return respBody, nil
}

// httpClient returns the cached client for a base URL, creating it once.
func (c *Client) httpClient(baseURL string) *http.Client {
	c.mu.RLock()
	client, ok := c.clients[baseURL]
	c.mu.RUnlock()
	if ok {
		return client
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[baseURL]; ok {
		return client
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if c.opts.MaxIdleConnsPerHost > 0 {
		transport.MaxIdleConnsPerHost = c.opts.MaxIdleConnsPerHost
	}
	client = &http.Client{
		Timeout:   c.opts.Timeout,
		Transport: transport,
	}
	c.clients[baseURL] = client
	c.logger.Debug("Created HTTP client for destination", slog.String("base_url", baseURL))
	return client
}

// Destinations reports how many base URLs have a cached client.
func (c *Client) Destinations() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.clients)
}

// Close releases idle connections of every cached client.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, client := range c.clients {
		client.CloseIdleConnections()
	}
}

func snippet(body []byte) string {
	const limit = 256
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	if s == "" {
		return "empty response body"
	}
	return s
}
