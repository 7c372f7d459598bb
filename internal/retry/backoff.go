package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/guardedit/internal/logging"
)

// RetryConfig configures retry behavior with exponential backoff
type RetryConfig struct {
	MaxRetries int           // Maximum number of retry attempts (default: 3)
	BaseDelay  time.Duration // Base delay between retries (default: 1s)
	MaxDelay   time.Duration // Maximum delay between retries (default: 30s)
	Multiplier float64       // Exponential backoff multiplier (default: 2.0)
	Jitter     bool          // Add +/-10% random jitter
	LogRetries bool          // Whether to log retry attempts

	// ShouldRetry decides whether a failed attempt is worth repeating.
	// nil retries every error.
	ShouldRetry func(error) bool
}

// RetryResult contains information about the retry operation
type RetryResult struct {
	Attempts      int
	TotalDuration time.Duration
	LastError     error
	Success       bool
	RetryReasons  []string
}

// DefaultRetryConfig returns a retry configuration with sensible defaults
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 3,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
		LogRetries: true,
	}
}

// LLMRetryConfig returns a retry configuration for model calls.
// Only transient failures are retried; a bad request will not get better.
func LLMRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:  3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    60 * time.Second,
		Multiplier:  2.5,
		Jitter:      true,
		LogRetries:  true,
		ShouldRetry: IsRetryableError,
	}
}

// RetryWithBackoff executes an operation with exponential backoff retry logic
func RetryWithBackoff(ctx context.Context, config RetryConfig, operation func() error, logger *logging.RunLogger) RetryResult {
	_, result := Do(ctx, config, logger, func(context.Context) (struct{}, error) {
		return struct{}{}, operation()
	})
	return result
}

// Do runs operation until it succeeds, the retry budget is spent, the error is
// not retryable, or ctx is done. The value of the last attempt is returned.
func Do[T any](ctx context.Context, config RetryConfig, logger *logging.RunLogger, operation func(context.Context) (T, error)) (T, RetryResult) {
	startTime := time.Now()
	result := RetryResult{RetryReasons: make([]string, 0)}

	var value T
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		if ctx.Err() != nil {
			result.LastError = ctx.Err()
			break
		}

		v, err := operation(ctx)
		if err == nil {
			result.Success = true
			result.LastError = nil
			result.TotalDuration = time.Since(startTime)
			if attempt > 0 && config.LogRetries {
				logger.Log("Operation succeeded after %d retries (total duration: %v)", attempt, result.TotalDuration)
			}
			return v, result
		}
		value = v

		result.LastError = err
		result.RetryReasons = append(result.RetryReasons, err.Error())

		if config.ShouldRetry != nil && !config.ShouldRetry(err) {
			if config.LogRetries {
				logger.Log("Operation failed with non-retryable error: %v", err)
			}
			break
		}

		if attempt >= config.MaxRetries {
			if config.LogRetries {
				logger.Log("Operation failed after %d attempts: %v", result.Attempts, err)
			}
			break
		}

		delay := calculateDelay(config, attempt)
		if config.LogRetries {
			logger.Log("Operation failed (attempt %d/%d): %v", attempt+1, config.MaxRetries+1, err)
			log.Warn().Err(err).
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Msg("Retrying after transient failure")
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(startTime)
			return value, result
		case <-timer.C:
		}
	}

	result.TotalDuration = time.Since(startTime)
	return value, result
}

// calculateDelay calculates the delay for the next retry attempt using exponential backoff
func calculateDelay(config RetryConfig, attempt int) time.Duration {
	delay := float64(config.BaseDelay) * math.Pow(config.Multiplier, float64(attempt))

	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}

	if config.Jitter {
		jitterRange := delay * 0.1
		delay += (rand.Float64() - 0.5) * 2 * jitterRange
		if delay < 0 {
			delay = float64(config.BaseDelay)
		}
	}

	return time.Duration(delay)
}

// retryableErrors are substrings of transient transport and provider failures
var retryableErrors = []string{
	"connection refused",
	"connection reset",
	"connection timeout",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests",
	"rate limit",
	"429",
	"502",
	"503",
	"504",
	"no such host",
	"network unreachable",
	"broken pipe",
	"overloaded",
}

// IsRetryableError determines if an error is retryable.
// Cancellation by the caller is never retryable; a per-attempt deadline is.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, retryable := range retryableErrors {
		if strings.Contains(errStr, retryable) {
			return true
		}
	}
	return false
}
