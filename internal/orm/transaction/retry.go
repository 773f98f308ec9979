package transaction

import (
	"context"
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultMaxRetries is the default number of attempts for retryable failures
	DefaultMaxRetries = 3
	// DefaultBaseBackoff is the default base backoff duration
	DefaultBaseBackoff = 100 * time.Millisecond
)

// RetryConfig configures retry behavior for units of work
type RetryConfig struct {
	MaxRetries  int
	BaseBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:  DefaultMaxRetries,
		BaseBackoff: DefaultBaseBackoff,
	}
}

// Retry runs fn until it succeeds, fails with a non retryable error, or the
// attempts are exhausted. Backoff doubles after every attempt.
func Retry(ctx context.Context, config *RetryConfig, fn func(ctx context.Context) error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	attempts := config.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("unit of work cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryableError(err) {
			return err
		}
		lastErr = err

		if attempt == attempts-1 {
			break
		}
		backoff := config.BaseBackoff * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return fmt.Errorf("unit of work cancelled during retry: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return fmt.Errorf("%w: failed after %d attempts: %v", ErrDeadlock, attempts, lastErr)
}

// isDeadlockError detects deadlock error codes and messages of the supported databases
func isDeadlockError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())

	// PostgreSQL 40P01, MySQL 1213
	if strings.Contains(errStr, "40p01") || strings.Contains(errStr, "error 1213") {
		return true
	}

	for _, msg := range []string{
		"deadlock detected",
		"deadlock found",
		"lock wait timeout exceeded",
		"database is locked",
	} {
		if strings.Contains(errStr, msg) {
			return true
		}
	}
	return false
}

// isSerializationError checks for serialization failures
func isSerializationError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "40001") || strings.Contains(errStr, "could not serialize access")
}

// IsRetryableError checks if an error is retryable (deadlock or serialization failure)
func IsRetryableError(err error) bool {
	return isDeadlockError(err) || isSerializationError(err)
}
