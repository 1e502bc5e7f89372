package opensky

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RetryConfig configures retry behavior with exponential backoff.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (default: 3)
	MaxRetries int

	// InitialDelay is the initial backoff delay (default: 1 second)
	InitialDelay time.Duration

	// MaxDelay is the maximum backoff delay (default: 60 seconds)
	MaxDelay time.Duration

	// Multiplier is the backoff multiplier (default: 2.0 for exponential)
	Multiplier float64

	// RespectRetryAfter uses the server's retry hint when present (default: true)
	RespectRetryAfter bool

	// OnRetry, if set, is called before each wait with the attempt number
	// that failed, its error and the delay about to be slept.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns sensible defaults for retry behavior.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		MaxDelay:          60 * time.Second,
		Multiplier:        2.0,
		RespectRetryAfter: true,
	}
}

// Retry executes fn with exponential backoff and returns its result.
// Rate limit errors use the server's Retry-After hint as the next delay when
// RespectRetryAfter is set, still capped at MaxDelay. StatusErrors for 4xx responses other than 429 are
// not retried.
//
// Example usage:
//
//	headers, err := Retry(ctx, DefaultRetryConfig(), func(ctx context.Context) (RateLimitHeaders, error) {
//	    return client.Credits(ctx, token)
//	})
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		result = res
		lastErr = err

		if !retryable(err) {
			return result, err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := backoff(cfg, attempt)
		if rle, ok := IsRateLimitError(err); ok && cfg.RespectRetryAfter && rle.RetryAfter > 0 {
			delay = rle.RetryAfter
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err, delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, fmt.Errorf("retry cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	return result, fmt.Errorf("max retries (%d) exceeded: %w", cfg.MaxRetries, lastErr)
}

// backoff returns min(InitialDelay * Multiplier^attempt, MaxDelay).
func backoff(cfg RetryConfig, attempt int) time.Duration {
	delay := time.Duration(float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt)))
	if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return delay
}

func retryable(err error) bool {
	if se, ok := err.(*StatusError); ok {
		return se.StatusCode >= 500
	}
	return true
}
