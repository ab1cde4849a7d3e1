package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/chat2bench/chat2bench/internal/observability"
)

// Policy bounds how an operation is retried. Multiplier scales the
// exponential bound and defaults to one second.
type Policy struct {
	MaxAttempts int
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	Multiplier  time.Duration
	IsRetryable func(error) bool
}

// Backoff returns the delay before the attempt following failed attempt n
// (1-based). random must return a value in [0, 1).
func (p Policy) Backoff(n int, random float64) time.Duration {
	if n < 1 {
		n = 1
	}
	multiplier := p.Multiplier
	if multiplier <= 0 {
		multiplier = time.Second
	}
	upper := float64(multiplier) * math.Pow(2, float64(n-1))
	if upper > float64(p.BackoffMax) {
		upper = float64(p.BackoffMax)
	}
	if upper < float64(p.BackoffMin) {
		upper = float64(p.BackoffMin)
	}
	lower := float64(p.BackoffMin)
	return time.Duration(lower + random*(upper-lower))
}

type ExhaustedError struct {
	Name     string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Name, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func IsExhausted(err error) bool {
	var exhausted *ExhaustedError
	return errors.As(err, &exhausted)
}

// Runner carries the side effects of retrying so tests can replace them.
type Runner struct {
	Logger  *slog.Logger
	Sleep   func(ctx context.Context, d time.Duration) error
	Float64 func() float64
}

func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{Logger: logger}
}

// Do runs op until it succeeds, fails with a non-retryable error, or has
// failed policy.MaxAttempts times. Exhaustion is reported as *ExhaustedError.
func Do[T any](ctx context.Context, r *Runner, name string, policy Policy, op func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if r == nil {
		r = &Runner{}
	}
	logger := r.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	random := r.Float64
	if random == nil {
		random = rand.Float64
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		value, err := op(ctx)
		if err == nil {
			return value, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}
		lastErr = err
		if policy.IsRetryable != nil && !policy.IsRetryable(err) {
			return zero, err
		}
		if attempt == maxAttempts {
			break
		}

		delay := policy.Backoff(attempt, random())
		observability.IncrementRetry(name)
		logger.InfoContext(ctx, "retrying operation",
			slog.String("operation", name),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, &ExhaustedError{Name: name, Attempts: maxAttempts, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
