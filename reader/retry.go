package reader

import (
	"context"
	"errors"
	"time"

	"fuelflow/config"
)

// withRetry runs fn until it succeeds, the attempts run out or ctx ends.
// ErrDeviceNotFound is final and returned at once.
func withRetry(ctx context.Context, cfg config.RetryConfig, fn func(context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := cfg.BaseDelay
	mult := time.Duration(cfg.BackoffMultiplier)
	if mult < 1 {
		mult = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if errors.Is(err, ErrDeviceNotFound) || ctx.Err() != nil || attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= mult
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return err
}
