package reconnect

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFixedDelay(t *testing.T) {
	p := FixedDelay{D: 5 * time.Second}
	for attempt := 1; attempt <= 5; attempt++ {
		if d := p.Delay(attempt); d != 5*time.Second {
			t.Errorf("attempt %d: expected 5s, got %s", attempt, d)
		}
	}
}

func TestExponentialGrowth(t *testing.T) {
	p := NewExponential(time.Second, time.Minute, 2)

	if d := p.Delay(1); d != time.Second {
		t.Errorf("attempt 1: expected 1s, got %s", d)
	}
	if d := p.Delay(2); d != 2*time.Second {
		t.Errorf("attempt 2: expected 2s, got %s", d)
	}
	if d := p.Delay(3); d != 4*time.Second {
		t.Errorf("attempt 3: expected 4s, got %s", d)
	}
	// Bounded by max.
	if d := p.Delay(30); d != time.Minute {
		t.Errorf("attempt 30: expected clamp to 1m, got %s", d)
	}
	// Out-of-range attempts are treated as the first.
	if d := p.Delay(0); d != time.Second {
		t.Errorf("attempt 0: expected 1s, got %s", d)
	}
}

func TestExponentialBadFactor(t *testing.T) {
	p := NewExponential(time.Second, time.Minute, 0.5)
	if d := p.Delay(2); d != 2*time.Second {
		t.Errorf("expected fallback factor 2, got %s", d)
	}
}

func TestControllerCheck(t *testing.T) {
	c := NewController(FixedDelay{D: time.Second}, 3)

	// A budget of 3 permits reconnect attempts 1 through 3.
	for attempt := 1; attempt <= 3; attempt++ {
		if err := c.Check(attempt); err != nil {
			t.Errorf("attempt %d: unexpected error %v", attempt, err)
		}
	}
	err := c.Check(4)
	if err == nil {
		t.Fatal("expected error beyond attempt limit")
	}
	if !errors.Is(err, ErrMaxReconnectsExceeded) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestControllerUnlimited(t *testing.T) {
	c := NewController(FixedDelay{D: time.Second}, 0)
	for _, attempt := range []int{1, 100, 1000000} {
		if err := c.Check(attempt); err != nil {
			t.Errorf("attempt %d: unexpected error %v", attempt, err)
		}
	}
}

func TestControllerWait(t *testing.T) {
	c := NewController(FixedDelay{D: 10 * time.Millisecond}, 0)
	start := time.Now()
	if err := c.Wait(context.Background(), 1); err != nil {
		t.Fatalf("wait failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Errorf("wait returned too early: %s", elapsed)
	}
}

func TestControllerWaitCancelled(t *testing.T) {
	c := NewController(FixedDelay{D: time.Hour}, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Wait(ctx, 1) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("wait did not honor cancellation")
	}
}
