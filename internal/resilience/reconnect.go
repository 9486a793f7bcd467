package resilience

import (
	"context"
	"fmt"
	"time"
)

// ReconnectConfig holds configuration for reconnection logic
type ReconnectConfig struct {
	MaxAttempts int           // Maximum number of attempts; 0 retries until ctx is done
	Backoff     time.Duration // Backoff duration between attempts
	Multiplier  float64       // Backoff multiplier; 1 keeps the backoff fixed
	MaxBackoff  time.Duration // Maximum backoff duration

	// OnFailure is called after each failed attempt with the wait before the next one
	OnFailure func(attempt int, err error, wait time.Duration)
}

// FixedReconnectConfig retries forever with a constant backoff
func FixedReconnectConfig(backoff time.Duration) *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 0,
		Backoff:     backoff,
		Multiplier:  1,
		MaxBackoff:  backoff,
	}
}

// ReconnectFunc is a function that attempts to reconnect
type ReconnectFunc func(ctx context.Context) error

// Reconnect calls fn until it succeeds, the attempt budget runs out, or ctx is done.
// It returns the number of attempts made.
func Reconnect(ctx context.Context, fn ReconnectFunc, config *ReconnectConfig) (int, error) {
	if config == nil {
		config = FixedReconnectConfig(5 * time.Second)
	}

	backoff := config.Backoff
	for attempt := 1; config.MaxAttempts == 0 || attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		err := fn(ctx)
		if err == nil {
			return attempt, nil
		}

		if config.MaxAttempts != 0 && attempt == config.MaxAttempts {
			return attempt, fmt.Errorf("failed to reconnect after %d attempts: %w", attempt, err)
		}

		if config.OnFailure != nil {
			config.OnFailure(attempt, err, backoff)
		}
		if !Wait(ctx, backoff) {
			return attempt, ctx.Err()
		}

		if config.Multiplier > 1 {
			backoff = time.Duration(float64(backoff) * config.Multiplier)
			if config.MaxBackoff > 0 && backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	return config.MaxAttempts, fmt.Errorf("failed to reconnect after %d attempts", config.MaxAttempts)
}
