package poky

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(2, time.Hour)

	if !rl.Allow() || !rl.Allow() {
		t.Fatal("Expected the first two requests to be allowed")
	}
	if rl.Allow() {
		t.Error("Expected the third request to be rejected")
	}
	if rl.Tokens() != 0 {
		t.Errorf("Expected 0 tokens, got %d", rl.Tokens())
	}
}

func TestRateLimiterRefill(t *testing.T) {
	rl := NewRateLimiter(1, 10*time.Millisecond)

	if !rl.Allow() {
		t.Fatal("Expected first request to be allowed")
	}
	time.Sleep(25 * time.Millisecond)
	if !rl.Allow() {
		t.Error("Expected a token after refill")
	}
}

func TestRateLimiterWait(t *testing.T) {
	rl := NewRateLimiter(1, 20*time.Millisecond)
	rl.Allow()

	start := time.Now()
	if err := rl.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() returned error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("Expected Wait to block for a refill, returned after %v", elapsed)
	}
}

func TestRateLimiterWaitCancelled(t *testing.T) {
	rl := NewRateLimiter(1, time.Hour)
	rl.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := rl.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestClientRateLimitAbortIsTransport(t *testing.T) {
	server := newCatalogServer(t, nil)
	client := New(WithBaseURL(server.URL), WithRateLimit(1, time.Hour))

	if _, err := client.Fetch(context.Background(), "/pokemon/25/", nil); err != nil {
		t.Fatalf("Fetch() returned error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := client.Fetch(ctx, "/pokemon/25/", nil)

	var clientErr *ClientError
	if !errors.As(err, &clientErr) || clientErr.Type != ErrorTypeTransport {
		t.Errorf("Expected transport error while rate limited, got %v", err)
	}
}
