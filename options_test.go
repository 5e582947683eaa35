package poky

import (
	"net/http"
	"testing"
	"time"
)

func TestWithOptions(t *testing.T) {
	httpClient := &http.Client{}
	collector := NewMetricsCollectorWithRegistry(nil)
	logger := NewSimpleLogger()

	client := New(
		WithBaseURL("http://localhost:9000/api/v2"),
		WithHTTPClient(httpClient),
		WithTimeout(5*time.Second),
		WithRateLimit(5, 100*time.Millisecond),
		WithMetricsCollector(collector),
		WithLogger(logger),
		WithDebug(),
	)

	if !client.IsValid() {
		t.Fatalf("Expected valid client, got %v", client.ValidationError())
	}
	if client.BaseURL() != "http://localhost:9000/api/v2" {
		t.Errorf("Expected custom base URL, got %s", client.BaseURL())
	}
	if client.httpClient != httpClient {
		t.Error("Expected custom HTTP client")
	}
	if client.httpClient.Timeout != 5*time.Second {
		t.Errorf("Expected timeout=5s, got %v", client.httpClient.Timeout)
	}
	if client.rateLimiter == nil || client.rateLimiter.Tokens() != 5 {
		t.Error("Expected rate limiter with 5 tokens")
	}
	if client.metrics != collector {
		t.Error("Expected custom metrics collector")
	}
	if !client.debug.Enabled {
		t.Error("Expected debug enabled")
	}
}

func TestWithHTTPClientKeepsTimeout(t *testing.T) {
	httpClient := &http.Client{}
	client := New(WithTimeout(3*time.Second), WithHTTPClient(httpClient))

	if httpClient.Timeout != 3*time.Second {
		t.Errorf("Expected timeout=3s on supplied client, got %v", httpClient.Timeout)
	}
	if !client.IsValid() {
		t.Errorf("Expected valid client, got %v", client.ValidationError())
	}
}

func TestWithRequestIDGenerator(t *testing.T) {
	client := New(WithRequestIDGenerator(func() string { return "fixed" }))

	if got := client.debug.RequestIDGen(); got != "fixed" {
		t.Errorf("Expected 'fixed', got '%s'", got)
	}
}

func TestValidateConfiguration(t *testing.T) {
	tests := []struct {
		name    string
		options []Option
		valid   bool
	}{
		{"defaults", nil, true},
		{"bad scheme", []Option{WithBaseURL("ftp://pokeapi.co")}, false},
		{"missing host", []Option{WithBaseURL("http://")}, false},
		{"negative timeout", []Option{WithTimeout(-time.Second)}, false},
		{"huge timeout", []Option{WithTimeout(time.Hour)}, false},
		{"bad rate limit", []Option{WithRateLimit(0, time.Second)}, false},
		{"debug without logger", []Option{WithDebug()}, false},
		{"debug with simple logger", []Option{WithSimpleLogger()}, true},
		{"nil middleware", []Option{WithMiddleware(nil)}, false},
		{"nil http client", []Option{WithHTTPClient(nil)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(tt.options...)
			if client.IsValid() != tt.valid {
				t.Errorf("Expected valid=%v, got %v (%v)", tt.valid, client.IsValid(), client.ValidationError())
			}
			if !tt.valid {
				err, ok := client.ValidationError().(*ClientError)
				if !ok || err.Type != ErrorTypeValidation {
					t.Errorf("Expected validation ClientError, got %v", client.ValidationError())
				}
			}
		})
	}
}
