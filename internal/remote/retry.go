package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryConfig configures the retry behavior for endpoint calls.
type RetryConfig struct {
	MaxRetries     int           // Maximum number of attempts (default: 5)
	InitialBackoff time.Duration // Initial backoff duration (default: 500ms)
	MaxBackoff     time.Duration // Maximum backoff duration (default: 30s)
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}
}

// Retry runs fn until it succeeds, returns a non-transient error, or
// MaxRetries attempts have failed. The wait between attempts starts at
// InitialBackoff and doubles up to MaxBackoff. op names the call in logs.
func Retry(ctx context.Context, cfg RetryConfig, op string, fn func() error) error {
	if cfg.MaxRetries == 0 {
		cfg = DefaultRetryConfig()
	}

	backoff := cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}

		lastErr = err

		if attempt == cfg.MaxRetries {
			break
		}

		log.Debug().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Int("max_attempts", cfg.MaxRetries).
			Dur("retry_in", backoff).
			Msg("endpoint call failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		// Exponential backoff with cap
		backoff *= 2
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}

	return fmt.Errorf("%s after %d attempts: %w", op, cfg.MaxRetries, lastErr)
}
