package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/mowtools/emsync/internal/logger"
)

// RetryConfig defines retry behavior
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

// DefaultRetryConfig returns sensible defaults
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// RetryResult contains the outcome of a retry operation
type RetryResult struct {
	Attempts      int
	LastError     error
	Success       bool
	TotalDuration time.Duration
}

// Retry executes a function with exponential backoff up to MaxAttempts
func Retry(ctx context.Context, config *RetryConfig, fn RetryableFunc) (*RetryResult, error) {
	if config == nil {
		config = DefaultRetryConfig()
	}

	log := logger.New("resilience")
	startTime := time.Now()
	result := &RetryResult{}

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx)
		if err == nil {
			result.Success = true
			result.TotalDuration = time.Since(startTime)
			if attempt > 1 {
				log.Info("operation succeeded after retry",
					logger.Int("attempt", attempt),
					logger.Duration("duration", result.TotalDuration))
			}
			return result, nil
		}
		result.LastError = err

		if attempt >= config.MaxAttempts {
			result.TotalDuration = time.Since(startTime)
			return result, err
		}

		delay := calculateDelay(attempt, config)
		log.Debug("retrying operation",
			logger.Int("attempt", attempt),
			logger.Duration("next_delay", delay),
			logger.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			result.TotalDuration = time.Since(startTime)
			return result, ctx.Err()
		}
	}

	result.TotalDuration = time.Since(startTime)
	return result, result.LastError
}

// Forever retries fn with a fixed delay until it succeeds or ctx is cancelled.
// Attempt counts and last errors are logged so an operator can see a stuck
// resource; cancellation is the only cap.
func Forever(ctx context.Context, name string, delay time.Duration, fn RetryableFunc) error {
	log := logger.New("resilience").WithFields(logger.String("operation", name))
	startTime := time.Now()

	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				log.Info("operation succeeded after retry",
					logger.Int("attempt", attempt),
					logger.Duration("elapsed", time.Since(startTime)))
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		log.Warn("operation failed, backing off",
			logger.Int("attempt", attempt),
			logger.Duration("delay", delay),
			logger.Duration("elapsed", time.Since(startTime)),
			logger.Error(err))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func calculateDelay(attempt int, config *RetryConfig) time.Duration {
	delay := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attempt-1))
	if delay > float64(config.MaxDelay) {
		delay = float64(config.MaxDelay)
	}
	if config.Jitter {
		delay += rand.Float64() * 0.3 * delay
	}
	return time.Duration(delay)
}
