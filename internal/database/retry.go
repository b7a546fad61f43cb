package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"waconsole/internal/constants"
	"waconsole/internal/retry"
)

// retryableDBOperation retries transient sqlite failures such as a locked database.
func retryableDBOperation(ctx context.Context, operation func() error, operationName string) error {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond / 10,
		MaxDelay:     time.Duration(constants.DefaultRetryBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
		Jitter:       true,
	})

	err := backoff.RetryWithPredicate(ctx, operation, isRetryableDBError)
	if err == nil {
		return nil
	}
	if !isRetryableDBError(err) {
		return fmt.Errorf("%s failed (non-retryable): %w", operationName, err)
	}
	return fmt.Errorf("%s failed after %d attempts: %w", operationName, constants.DefaultDatabaseRetryAttempts, err)
}

func isRetryableDBError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "disk I/O error")
}
