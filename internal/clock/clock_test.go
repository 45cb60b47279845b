package clock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestManualSleepAdvances(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)

	for i := 0; i < 1000; i++ {
		if err := c.Sleep(context.Background(), time.Millisecond); err != nil {
			t.Fatalf("Sleep() failed: %v", err)
		}
	}

	if got := c.Since(start); got != time.Second {
		t.Errorf("Since() = %v, want 1s", got)
	}
}

func TestManualSleepHonorsCancellation(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManual(start)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := c.Sleep(ctx, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Sleep() error = %v, want context.Canceled", err)
	}
	if !c.Now().Equal(start) {
		t.Error("clock advanced after cancellation")
	}
}

func TestRealSleepReturnsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := Real{}.Sleep(ctx, time.Minute)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Sleep() error = %v, want DeadlineExceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Sleep() ignored context deadline")
	}
}
