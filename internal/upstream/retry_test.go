package upstream

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestIsRetryableStatus(t *testing.T) {
	for _, code := range []int{429, 502, 503, 504} {
		if !isRetryableStatus(code) {
			t.Errorf("expected %d to be retryable", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404, 500} {
		if isRetryableStatus(code) {
			t.Errorf("expected %d to NOT be retryable", code)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	base := 100 * time.Millisecond
	maxDelay := 10 * time.Second

	for i := 0; i < 100; i++ {
		if d := backoffDelay(0, base, maxDelay); d < 0 || d >= base {
			t.Fatalf("attempt 0: delay %v out of range [0, %v)", d, base)
		}
		if d := backoffDelay(5, base, maxDelay); d < 0 || d >= 3200*time.Millisecond {
			t.Fatalf("attempt 5: delay %v out of range [0, 3200ms)", d)
		}
		if d := backoffDelay(80, base, maxDelay); d < 0 || d >= maxDelay {
			t.Fatalf("attempt 80: delay %v out of range [0, %v)", d, maxDelay)
		}
	}

	if d := backoffDelay(0, 0, maxDelay); d != 0 {
		t.Fatalf("zero base: expected 0, got %v", d)
	}
}

func TestSleepWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	if err := sleepWithContext(ctx, 10*time.Second); err == nil {
		t.Fatal("expected context cancelled error")
	}
	if time.Since(start) > time.Second {
		t.Fatal("sleep should have returned immediately")
	}

	if err := sleepWithContext(context.Background(), 5*time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRetryAfterDuration(t *testing.T) {
	h := http.Header{}
	if d := retryAfterDuration(h); d != 0 {
		t.Fatalf("absent header: got %v", d)
	}

	h.Set("Retry-After", "3")
	if d := retryAfterDuration(h); d != 3*time.Second {
		t.Fatalf("seconds: got %v, want 3s", d)
	}

	h.Set("Retry-After", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
	if d := retryAfterDuration(h); d <= 0 || d > time.Hour {
		t.Fatalf("http date: got %v", d)
	}

	h.Set("Retry-After", "soon")
	if d := retryAfterDuration(h); d != 0 {
		t.Fatalf("garbage: got %v", d)
	}
}
