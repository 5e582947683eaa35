package poky

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// maxTimeout bounds WithTimeout; a catalog page never takes this long.
const maxTimeout = 10 * time.Minute

// WithBaseURL points the client at another catalog root, for example a
// local mirror. An empty string keeps DefaultBaseURL.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

// WithTimeout bounds each Fetch.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the transport. A supplied client without its own
// timeout inherits the one set by WithTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
		if hc != nil && hc.Timeout == 0 && c.timeout != 0 {
			hc.Timeout = c.timeout
		}
	}
}

// WithMiddleware appends round-trip middleware. The first one added is the
// outermost.
func WithMiddleware(middleware ...Middleware) Option {
	return func(c *Client) {
		c.middleware = append(c.middleware, middleware...)
	}
}

// WithRateLimit paces outgoing requests with a token bucket holding
// maxTokens tokens and refilling one token per refillRate. Requests wait for
// a token instead of failing.
func WithRateLimit(maxTokens int, refillRate time.Duration) Option {
	return func(c *Client) {
		c.rateLimiter = NewRateLimiter(maxTokens, refillRate)
	}
}

// WithMetrics registers a collector on the default Prometheus registry.
func WithMetrics() Option {
	return func(c *Client) {
		c.metrics = NewMetricsCollector()
	}
}

func WithMetricsCollector(collector *MetricsCollector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// WithDebug turns on request logging. A logger must also be supplied.
func WithDebug() Option {
	return func(c *Client) {
		c.ensureDebug().Enabled = true
	}
}

func WithDebugConfig(config *DebugConfig) Option {
	return func(c *Client) {
		c.debug = config
	}
}

func WithLogger(logger Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithSimpleLogger turns on request logging to stderr.
func WithSimpleLogger() Option {
	return func(c *Client) {
		c.ensureDebug().Enabled = true
		c.logger = NewSimpleLogger()
	}
}

// WithRequestIDGenerator overrides how request IDs are minted.
func WithRequestIDGenerator(gen func() string) Option {
	return func(c *Client) {
		c.ensureDebug().RequestIDGen = gen
	}
}

func (c *Client) ensureDebug() *DebugConfig {
	if c.debug == nil {
		c.debug = DefaultDebugConfig()
	}
	return c.debug
}

// ValidateConfiguration checks the option set as a whole and reports every
// problem found in a single validation ClientError.
func (c *Client) ValidateConfiguration() error {
	checks := []func() []error{
		c.checkBaseURL,
		c.checkTimeout,
		c.checkRateLimit,
		c.checkDebug,
		c.checkTransport,
	}

	var problems []error
	for _, check := range checks {
		problems = append(problems, check()...)
	}
	if len(problems) == 0 {
		return nil
	}

	return &ClientError{
		Type:    ErrorTypeValidation,
		Message: "invalid client configuration",
		Cause:   errors.Join(problems...),
	}
}

func (c *Client) checkBaseURL() []error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return []error{fmt.Errorf("base URL %q: %w", c.baseURL, err)}
	}

	var problems []error
	if u.Scheme != "http" && u.Scheme != "https" {
		problems = append(problems, fmt.Errorf("base URL scheme %q is not http or https", u.Scheme))
	}
	if u.Host == "" {
		problems = append(problems, errors.New("base URL has no host"))
	}
	return problems
}

func (c *Client) checkTimeout() []error {
	switch {
	case c.timeout < 0:
		return []error{fmt.Errorf("timeout %v is negative", c.timeout)}
	case c.timeout > maxTimeout:
		return []error{fmt.Errorf("timeout %v exceeds %v", c.timeout, maxTimeout)}
	}
	return nil
}

func (c *Client) checkRateLimit() []error {
	if c.rateLimiter == nil {
		return nil
	}

	var problems []error
	if c.rateLimiter.maxTokens <= 0 {
		problems = append(problems, errors.New("rate limit needs at least one token"))
	}
	if c.rateLimiter.refillRate <= 0 {
		problems = append(problems, errors.New("rate limit refill interval must be positive"))
	}
	return problems
}

func (c *Client) checkDebug() []error {
	if c.debug == nil || !c.debug.Enabled {
		return nil
	}

	var problems []error
	if c.debug.RequestIDGen == nil {
		problems = append(problems, errors.New("debug logging needs a request ID generator"))
	}
	if c.logger == nil {
		problems = append(problems, errors.New("debug logging needs a logger"))
	}
	return problems
}

func (c *Client) checkTransport() []error {
	var problems []error
	if c.httpClient == nil {
		problems = append(problems, errors.New("HTTP client is nil"))
	}
	for i, mw := range c.middleware {
		if mw == nil {
			problems = append(problems, fmt.Errorf("middleware %d is nil", i))
		}
	}
	return problems
}
