package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, Backoff: time.Millisecond}
	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, Backoff: time.Millisecond}
	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		return Permanent(errors.New("rejected"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
	if !IsPermanent(err) {
		t.Fatal("expected permanent marker to survive")
	}
}

func TestRetryHonorsContext(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 10, Backoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := policy.Do(ctx, func() error { return errors.New("transient") })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}

func TestCircuitBreakerOpensOnRateLimits(t *testing.T) {
	breaker := NewCircuitBreaker(2, time.Minute)
	if !breaker.Allow() {
		t.Fatal("expected closed breaker initially")
	}

	breaker.OnError(errors.New("not a rate limit"))
	breaker.OnError(RateLimitError{Backend: "whisperd"})
	if !breaker.Allow() {
		t.Fatal("expected breaker closed below threshold")
	}

	breaker.OnError(RateLimitError{Backend: "whisperd"})
	if breaker.Allow() {
		t.Fatal("expected breaker open after threshold")
	}

	breaker.OnSuccess()
	if !breaker.Allow() {
		t.Fatal("expected breaker reset on success")
	}
}
