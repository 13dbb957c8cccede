package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRateLimiterAdapts(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(100)

	rl.Observe(false)
	if got := rl.GetCurrentRate(); got != 90 {
		t.Fatalf("rate after failure = %v, want 90", got)
	}
	rl.Observe(true)
	if got := rl.GetCurrentRate(); got != 92 {
		t.Fatalf("rate after success = %v, want 92", got)
	}
	for i := 0; i < 20; i++ {
		rl.Observe(true)
	}
	if got := rl.GetCurrentRate(); got != 100 {
		t.Fatalf("rate exceeded ceiling: %v", got)
	}
	for i := 0; i < 50; i++ {
		rl.Observe(false)
	}
	if got := rl.GetCurrentRate(); got != MinRate {
		t.Fatalf("rate below floor: %v", got)
	}

	st := rl.Stats()
	if st.Successes != 21 || st.Failures != 51 || st.Ceiling != 100 {
		t.Fatalf("Stats() = %+v", st)
	}
}

func TestRateLimiterWaitHonoursContext(t *testing.T) {
	t.Parallel()
	rl := NewRateLimiter(1)
	ctx := context.Background()

	// The burst of one is available immediately.
	if err := rl.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := rl.Wait(ctx); err == nil {
		t.Fatal("expected Wait to fail before the next token")
	}
}

func TestIsRetryableUnwraps(t *testing.T) {
	t.Parallel()
	tests := []struct {
		err  error
		want bool
	}{
		{ErrQueueFull, true},
		{errors.Join(errors.New("ctx"), ErrQueueFull), true},
		{ErrWorkerShutdown, false},
		{errors.New("plain"), false},
		{nil, false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
