// Package ai provides common types and utilities for the text and speech
// providers used to voice the synthetic caller.
package ai

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// Common error types used across AI providers
var (
	// ErrRecoverable indicates a temporary failure that may succeed if retried.
	// Examples: network timeout, rate limiting, temporary service unavailability.
	ErrRecoverable = errors.New("recoverable AI provider error")

	// ErrFatal indicates a permanent failure that will not succeed if retried.
	// Examples: invalid API key, unsupported voice, malformed request.
	ErrFatal = errors.New("fatal AI provider error")
)

// RetryConfig configures retry behavior for recoverable errors
type RetryConfig struct {
	MaxRetries    int           // Maximum number of retry attempts
	InitialDelay  time.Duration // Initial delay before first retry
	MaxDelay      time.Duration // Maximum delay between retries
	BackoffFactor float64       // Exponential backoff multiplier
	JitterPercent float32       // Random jitter percentage (0.0-1.0)
}

// DefaultRetryConfig retries once. A live call cannot wait long for a reply.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    1,
	InitialDelay:  200 * time.Millisecond,
	MaxDelay:      time.Second,
	BackoffFactor: 2.0,
	JitterPercent: 0.1,
}

// IsRecoverable checks if an error is recoverable and should be retried
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrRecoverable)
}

// IsFatal checks if an error is fatal and should not be retried
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// RetryableError wraps an underlying error with retry classification
type RetryableError struct {
	Underlying error
	Retryable  bool
	Message    string
}

func (e *RetryableError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Underlying.Error()
	}
	return e.Underlying.Error()
}

// Is matches ErrRecoverable or ErrFatal according to the classification.
func (e *RetryableError) Is(target error) bool {
	if e.Retryable {
		return target == ErrRecoverable
	}
	return target == ErrFatal
}

func (e *RetryableError) Unwrap() error {
	return e.Underlying
}

// NewRecoverableError creates a recoverable error with context
func NewRecoverableError(underlying error, message string) error {
	return &RetryableError{
		Underlying: underlying,
		Retryable:  true,
		Message:    message,
	}
}

// NewFatalError creates a fatal error with context
func NewFatalError(underlying error, message string) error {
	return &RetryableError{
		Underlying: underlying,
		Retryable:  false,
		Message:    message,
	}
}

// Retry runs fn until it succeeds, returns a non-recoverable error, or the
// retry budget in cfg is spent.
func Retry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	delay := cfg.InitialDelay
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(ctx); err == nil || !IsRecoverable(err) || attempt >= cfg.MaxRetries {
			return err
		}

		wait := delay
		if cfg.JitterPercent > 0 {
			jitter := float64(wait) * float64(cfg.JitterPercent)
			wait += time.Duration((rand.Float64()*2 - 1) * jitter)
		}

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}

		delay = time.Duration(float64(delay) * cfg.BackoffFactor)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
}
