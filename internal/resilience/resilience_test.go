package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastBackoff(attempts int) Backoff {
	return Backoff{Attempts: attempts, Initial: time.Millisecond, Max: 2 * time.Millisecond}
}

func TestRetry_SucceedsAfterTransient(t *testing.T) {
	calls := 0
	v, err := Retry(context.Background(), fastBackoff(3), func(_ context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", Transient(errors.New("503"), 503)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", v, calls)
	}
}

func TestRetry_StopsOnPermanent(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastBackoff(5), func(_ context.Context) (int, error) {
		calls++
		return 0, errors.New("bad request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	calls := 0
	retries := 0
	b := fastBackoff(4)
	b.OnRetry = func(int, error) { retries++ }
	_, err := Retry(context.Background(), b, func(_ context.Context) (int, error) {
		calls++
		return 0, Transient(errors.New("again"), 429)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 4 || retries != 3 {
		t.Errorf("calls=%d retries=%d", calls, retries)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := Retry(ctx, Backoff{Attempts: 5, Initial: time.Hour, Max: time.Hour}, func(_ context.Context) (int, error) {
		calls++
		cancel()
		return 0, Transient(errors.New("x"), 500)
	})
	if err == nil || calls != 1 {
		t.Errorf("err=%v calls=%d", err, calls)
	}
}

func TestBackoff_DelayCapped(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: 300 * time.Millisecond, Multiplier: 2}
	if d := b.Delay(0); d != 100*time.Millisecond {
		t.Errorf("attempt 0: %v", d)
	}
	if d := b.Delay(5); d != 300*time.Millisecond {
		t.Errorf("attempt 5: %v", d)
	}
}

func TestBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Minute)
	b.now = func() time.Time { return now }

	fail := func(_ context.Context) (int, error) { return 0, errors.New("down") }
	for range 2 {
		_, _ = Call(context.Background(), b, fail)
	}
	if b.State() != Open {
		t.Fatalf("expected open, got %s", b.State())
	}

	_, err := Call(context.Background(), b, func(_ context.Context) (int, error) {
		t.Error("must not be called while open")
		return 0, nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}

	now = now.Add(2 * time.Minute)
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}
	v, err := Call(context.Background(), b, func(_ context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("probe failed: %v", err)
	}
	if b.State() != Closed || b.Failures() != 0 {
		t.Errorf("expected closed and reset, got %s/%d", b.State(), b.Failures())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Second)
	b.now = func() time.Time { return now }

	b.Record(errors.New("x"))
	now = now.Add(2 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe rejected: %v", err)
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe should be rejected, got %v", err)
	}
	b.Record(errors.New("still down"))
	if b.State() != Open {
		t.Errorf("expected open, got %s", b.State())
	}
}

func TestGuard_OneBreakerOutcomePerCall(t *testing.T) {
	g := NewGuard("test", 3, 1, 2, 60)
	g.Backoff.Max = 2 * time.Millisecond

	calls := 0
	_, err := Do(context.Background(), g, func(_ context.Context) (int, error) {
		calls++
		return 0, Transient(errors.New("flaky"), 503)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
	if g.Breaker.Failures() != 1 {
		t.Errorf("expected 1 breaker failure, got %d", g.Breaker.Failures())
	}
	if !g.Healthy() {
		t.Error("guard should still be healthy below threshold")
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", Transient(errors.New("x"), 500), true},
		{"reset", errors.New("read: connection reset by peer"), true},
		{"overloaded", errors.New("529 Overloaded"), true},
		{"cancelled", context.Canceled, false},
		{"breaker", ErrCircuitOpen, false},
		{"permanent", errors.New("invalid api key"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}

	if !IsTransientStatus(429) || IsTransientStatus(400) {
		t.Error("unexpected status classification")
	}
}
