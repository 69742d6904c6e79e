package connection

import (
	"testing"
	"time"

	"bookchat/internal/config"
)

func TestBackoffDelay_ExponentialUpToCap(t *testing.T) {
	cfg := &config.ReconnectConfig{
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		MaxAttempts: 5,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := BackoffDelay(cfg, tt.attempt); got != tt.want {
			t.Errorf("BackoffDelay(attempt=%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffDelay_Monotonic(t *testing.T) {
	cfg := &config.ReconnectConfig{
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    10 * time.Second,
		MaxAttempts: 5,
	}

	prev := time.Duration(0)
	for attempt := 0; attempt < 12; attempt++ {
		delay := BackoffDelay(cfg, attempt)
		if delay < prev {
			t.Fatalf("delay decreased at attempt %d: %v < %v", attempt, delay, prev)
		}
		if delay > cfg.MaxDelay {
			t.Fatalf("delay exceeded cap at attempt %d: %v", attempt, delay)
		}
		prev = delay
	}
}
