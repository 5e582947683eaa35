package poky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public catalog used when no override is configured.
const DefaultBaseURL = "https://pokeapi.co/api/v2"

const maxBodySize = 10 * 1024 * 1024

// Client issues GET requests against the catalog and normalizes every
// failure into a *ClientError. It never retries: one Fetch is one network
// call. It is safe for concurrent use.
type Client struct {
	httpClient      *http.Client
	baseURL         string
	timeout         time.Duration
	middleware      []Middleware
	rateLimiter     *RateLimiter
	metrics         *MetricsCollector
	debug           *DebugConfig
	logger          Logger
	validationError error
}

// New constructs a Client using the provided functional options. A best effort
// validation is performed; call IsValid / ValidationError for errors.
func New(options ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		baseURL:    DefaultBaseURL,
		timeout:    30 * time.Second,
		middleware: []Middleware{},
		debug:      DefaultDebugConfig(),
	}

	for _, option := range options {
		option(client)
	}

	if err := client.ValidateConfiguration(); err != nil {
		client.validationError = err
	}

	return client
}

// BaseURL returns the base URL requests are resolved against.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Fetch issues GET {baseURL}{path}?{params} and returns the compacted JSON
// body of a 2xx response. Parameters are encoded in key order so equal
// parameter sets always produce the same URL.
func (c *Client) Fetch(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	if c.validationError != nil {
		return nil, c.validationError
	}

	start := time.Now()
	endpoint := endpointFromPath(path)

	var requestID string
	if c.debug != nil && c.debug.Enabled && c.debug.RequestIDGen != nil {
		requestID = c.debug.RequestIDGen()
	}

	rawURL := c.buildURL(path, params)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &ClientError{
			Type:      ErrorTypeValidation,
			Message:   "invalid request URL",
			Cause:     err,
			RequestID: requestID,
			Method:    http.MethodGet,
			URL:       rawURL,
			Endpoint:  endpoint,
			Timestamp: time.Now(),
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent())

	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("Starting request", "requestID", requestID, "url", rawURL, "endpoint", endpoint)
	}

	if c.rateLimiter != nil {
		if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil && c.rateLimiter.Tokens() == 0 {
			c.logger.Debug("Waiting for rate limit token", "requestID", requestID, "endpoint", endpoint)
		}
		if err := c.rateLimiter.Wait(ctx); err != nil {
			c.metrics.RecordError(ErrorTypeTransport, endpoint)
			return nil, c.createClientError(ErrorTypeTransport, "request aborted while rate limited", err, 0, requestID, endpoint, req, time.Since(start))
		}
	}

	c.metrics.RecordRequestStart(endpoint)
	resp, err := c.executeMiddleware(req)
	c.metrics.RecordRequestEnd(endpoint)

	if err != nil {
		c.metrics.RecordRequest(endpoint, 0, time.Since(start))
		c.metrics.RecordError(ErrorTypeTransport, endpoint)
		if c.debug != nil && c.debug.Enabled && c.logger != nil {
			c.logger.Warn("Request failed", "requestID", requestID, "url", rawURL, "error", err.Error())
		}
		return nil, c.createClientError(ErrorTypeTransport, "network request failed", err, 0, requestID, endpoint, req, time.Since(start))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	c.metrics.RecordRequest(endpoint, resp.StatusCode, time.Since(start))
	if err != nil {
		c.metrics.RecordError(ErrorTypeTransport, endpoint)
		return nil, c.createClientError(ErrorTypeTransport, "reading response body failed", err, 0, requestID, endpoint, req, time.Since(start))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.metrics.RecordError(ErrorTypeHTTPStatus, endpoint)
		if c.debug != nil && c.debug.Enabled && c.logger != nil {
			c.logger.Warn("Unexpected status", "requestID", requestID, "url", rawURL, "statusCode", resp.StatusCode)
		}
		return nil, c.createClientError(ErrorTypeHTTPStatus, statusMessage(resp.StatusCode), nil, resp.StatusCode, requestID, endpoint, req, time.Since(start))
	}

	var compacted bytes.Buffer
	if err := json.Compact(&compacted, body); err != nil {
		c.metrics.RecordError(ErrorTypeDecode, endpoint)
		return nil, c.createClientError(ErrorTypeDecode, "response is not valid JSON", err, 0, requestID, endpoint, req, time.Since(start))
	}

	if c.debug != nil && c.debug.Enabled && c.debug.LogRequests && c.logger != nil {
		c.logger.Debug("Request completed", "requestID", requestID, "statusCode", resp.StatusCode, "bytes", compacted.Len(), "duration", time.Since(start))
	}

	return compacted.Bytes(), nil
}

func (c *Client) buildURL(path string, params map[string]string) string {
	var builder strings.Builder
	builder.WriteString(strings.TrimRight(c.baseURL, "/"))
	if !strings.HasPrefix(path, "/") {
		builder.WriteByte('/')
	}
	builder.WriteString(path)

	if len(params) > 0 {
		values := make(url.Values, len(params))
		for k, v := range params {
			values.Set(k, v)
		}
		builder.WriteByte('?')
		builder.WriteString(values.Encode())
	}

	return builder.String()
}

func (c *Client) executeMiddleware(req *http.Request) (*http.Response, error) {
	if len(c.middleware) == 0 {
		return c.httpClient.Do(req)
	}

	current := RoundTripperFunc(c.httpClient.Do)

	for i := len(c.middleware) - 1; i >= 0; i-- {
		middleware := c.middleware[i]
		next := current
		current = RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
			return middleware(r, next)
		})
	}

	return current.RoundTrip(req)
}

func (c *Client) createClientError(errorType, message string, cause error, statusCode int, requestID, endpoint string, req *http.Request, duration time.Duration) *ClientError {
	return &ClientError{
		Type:       errorType,
		Message:    message,
		Cause:      cause,
		StatusCode: statusCode,
		RequestID:  requestID,
		Method:     req.Method,
		URL:        req.URL.String(),
		Endpoint:   endpoint,
		Timestamp:  time.Now(),
		Duration:   duration,
	}
}

// IsValid reports whether configuration validation passed at construction.
func (c *Client) IsValid() bool {
	return c.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (c *Client) ValidationError() error {
	return c.validationError
}

func statusMessage(code int) string {
	if text := http.StatusText(code); text != "" {
		return strings.ToLower(text)
	}
	return fmt.Sprintf("unexpected status %d", code)
}

// endpointFromPath reduces a catalog path to its resource collection so
// metric labels stay bounded: "/pokemon/25/" becomes "pokemon".
func endpointFromPath(path string) string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return "root"
	}
	if i := strings.IndexByte(trimmed, '/'); i >= 0 {
		return trimmed[:i]
	}
	return trimmed
}
