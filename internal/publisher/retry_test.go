package publisher

import (
	"context"
	"testing"
	"time"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:      3,
		Backoff:          time.Millisecond,
		RateLimitBackoff: 2 * time.Millisecond,
		Budget:           time.Second,
		AttemptTimeout:   100 * time.Millisecond,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	id, err := fastPolicy().Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "ext-1", nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if id != "ext-1" {
		t.Errorf("Do() = %q, want ext-1", id)
	}
	if calls != 1 {
		t.Errorf("attempts = %d, want 1", calls)
	}
}

func TestDoRetriesTransient(t *testing.T) {
	calls := 0
	id, err := fastPolicy().Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewError(KindTransient, "youtube", "upstream hiccup")
		}
		return "ext-2", nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if id != "ext-2" {
		t.Errorf("Do() = %q, want ext-2", id)
	}
	if calls != 3 {
		t.Errorf("attempts = %d, want 3", calls)
	}
}

func TestDoExhaustsTransientAttempts(t *testing.T) {
	calls := 0
	_, err := fastPolicy().Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", NewError(KindTransient, "youtube", "still down")
	})
	if err == nil {
		t.Fatal("Do() expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("attempts = %d, want 3", calls)
	}
	if KindOf(err) != KindTransient {
		t.Errorf("KindOf = %q, want transient", KindOf(err))
	}
}

func TestDoStopsOnNonRetryableKinds(t *testing.T) {
	for _, kind := range []Kind{KindAuth, KindValidation, KindNotConnected, KindCredentialExpired} {
		calls := 0
		_, err := fastPolicy().Do(context.Background(), func(ctx context.Context) (string, error) {
			calls++
			return "", NewError(kind, "vk", "no retry")
		})
		if err == nil {
			t.Fatalf("kind %s: expected error", kind)
		}
		if calls != 1 {
			t.Errorf("kind %s: attempts = %d, want 1", kind, calls)
		}
	}
}

func TestDoHonorsRateLimitDelay(t *testing.T) {
	calls := 0
	start := time.Now()
	wait := 20 * time.Millisecond

	_, err := fastPolicy().Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", &Error{Kind: KindRateLimited, Platform: "instagram", RetryAfter: wait}
		}
		return "ext-3", nil
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if elapsed := time.Since(start); elapsed < wait {
		t.Errorf("resumed after %v, want at least %v", elapsed, wait)
	}
}

func TestDoGivesUpWhenBudgetSpent(t *testing.T) {
	policy := fastPolicy()
	policy.Budget = 5 * time.Millisecond

	calls := 0
	_, err := policy.Do(context.Background(), func(ctx context.Context) (string, error) {
		calls++
		return "", &Error{Kind: KindRateLimited, Platform: "tiktok", RetryAfter: time.Hour}
	})
	if err == nil {
		t.Fatal("Do() expected error once the budget cannot cover the wait")
	}
	if calls != 1 {
		t.Errorf("attempts = %d, want 1", calls)
	}
}

func TestDoStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := fastPolicy().Do(ctx, func(ctx context.Context) (string, error) {
		calls++
		cancel()
		return "", NewError(KindTransient, "youtube", "interrupted")
	})
	if err == nil {
		t.Fatal("Do() expected error after cancellation")
	}
	if calls != 1 {
		t.Errorf("attempts = %d, want 1", calls)
	}
}
