package store

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	retryInitialInterval = 50 * time.Millisecond
	retryMaxAttempts     = 3
)

// isConflict reports SQLITE_BUSY and "database is locked" errors, which are
// transient under concurrent writers.
func isConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// withRetry runs op, retrying with exponential backoff while it fails with a
// SQLite conflict. Other errors are returned immediately.
func withRetry(ctx context.Context, name string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retryInitialInterval

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		err := op()
		if err == nil {
			return nil
		}
		if !isConflict(err) {
			return backoff.Permanent(err)
		}
		slog.Debug("SQLite busy, retrying", "op", name, "attempt", attempt, "error", err)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, retryMaxAttempts-1), ctx))
}
