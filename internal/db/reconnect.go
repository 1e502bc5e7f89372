package db

import (
	"context"
	"log/slog"
	"time"

	"github.com/unklstewy/flightscope/pkg/config"
)

// ConnectWithRetry attempts to connect with exponential backoff.
// This provides resilience against a database that starts after the server.
//
// Parameters:
//   - maxRetries: Maximum number of connection attempts (0 = until ctx is done)
//   - initialDelay: Initial wait time between attempts (doubles, capped at 60s)
//
// Returns: Connected database, or the last error once attempts are exhausted
// or ctx is done
func ConnectWithRetry(ctx context.Context, cfg config.DatabaseConfig, maxRetries int, initialDelay time.Duration, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	delay := initialDelay
	attempt := 0

	for {
		attempt++

		db, err := Connect(ctx, cfg)
		if err == nil {
			if attempt > 1 {
				logger.Info("Database connected", "attempt", attempt)
			}
			return db, nil
		}

		if maxRetries > 0 && attempt >= maxRetries {
			logger.Error("Failed to connect to database", "attempts", attempt, "err", err)
			return nil, err
		}

		logger.Warn("Database connection failed", "attempt", attempt, "retry_in", delay, "err", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > 60*time.Second {
			delay = 60 * time.Second
		}
	}
}

// HealthCheck reports whether the database answers a trivial query.
func HealthCheck(ctx context.Context, db *DB) bool {
	if db == nil {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return false
	}
	return result == 1
}
