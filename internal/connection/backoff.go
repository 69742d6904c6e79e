package connection

import (
	"time"

	"bookchat/internal/config"
)

// BackoffDelay returns the wait before reconnect attempt number attempt
// (zero-based): min(base * 2^attempt, max). Consecutive delays are
// non-decreasing up to the cap.
func BackoffDelay(cfg *config.ReconnectConfig, attempt int) time.Duration {
	delay := cfg.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= cfg.MaxDelay {
			return cfg.MaxDelay
		}
	}
	if delay > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return delay
}
