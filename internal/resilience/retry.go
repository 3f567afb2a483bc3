package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	apperrors "github.com/GriffinCanCode/hearing-assist/internal/errors"
)

// RetryAfterKey is the AppError metadata key holding a server-requested delay,
// formatted as a time.Duration string.
const RetryAfterKey = "retry_after"

// Retry configuration constants
const (
	DefaultMaxRetries   = 3
	DefaultBaseDelay    = 500 * time.Millisecond
	DefaultMaxDelay     = 10 * time.Second
	DefaultJitterFactor = 0.2

	// Translation: rate limits are common, back off further
	TranslationMaxRetries = 5
	TranslationBaseDelay  = time.Second
	TranslationMaxDelay   = 30 * time.Second

	// Device start: a route change can leave the device briefly busy
	HardwareMaxRetries = 2
	HardwareBaseDelay  = 100 * time.Millisecond
	HardwareMaxDelay   = time.Second
)

// RetryConfig holds retry settings.
type RetryConfig struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
	IsRetryable  func(error) bool
}

// TranslationRetry returns settings for remote translation calls.
func TranslationRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:   TranslationMaxRetries,
		BaseDelay:    TranslationBaseDelay,
		MaxDelay:     TranslationMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  IsRetryableError,
	}
}

// HardwareRetry returns settings for starting the audio device. Only coded
// application errors are retried; a driver error without a code is permanent.
func HardwareRetry() RetryConfig {
	return RetryConfig{
		MaxRetries:   HardwareMaxRetries,
		BaseDelay:    HardwareBaseDelay,
		MaxDelay:     HardwareMaxDelay,
		JitterFactor: DefaultJitterFactor,
		IsRetryable:  apperrors.IsRetryable,
	}
}

// IsRetryableError classifies an error for remote calls: application errors by
// code, gRPC errors by status, network timeouts as transient. Cancellation is final.
func IsRetryableError(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrOpen):
		return false
	}
	if _, ok := apperrors.As(err); ok {
		return apperrors.IsRetryable(err)
	}
	if s, ok := status.FromError(err); ok && s.Code() != codes.Unknown {
		return retryableStatus(s.Code())
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return true
}

func retryableStatus(c codes.Code) bool {
	switch c {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	default:
		return false
	}
}

// RetryAfter extracts a server-requested delay from err.
func RetryAfter(err error) (time.Duration, bool) {
	ae, ok := apperrors.As(err)
	if !ok {
		return 0, false
	}
	v, ok := ae.Metadata[RetryAfterKey]
	if !ok {
		return 0, false
	}
	d, perr := time.ParseDuration(v)
	if perr != nil || d < 0 {
		return 0, false
	}
	return d, true
}

// Retry runs fn until it succeeds, returns a non-retryable error, or MaxRetries
// retries are spent. The last error is returned unchanged.
func Retry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn()
		if err == nil {
			return nil
		}
		delay, ok := nextDelay(cfg, attempt, err)
		if !ok {
			return err
		}
		slog.Debug("retrying", "attempt", attempt+1, "max", cfg.MaxRetries, "delay", delay, "error", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// NextDelay reports how long to wait before retrying after attempt (zero-based)
// failed with err, and whether cfg allows another try. Callers that must not block,
// like the control loop, use it to schedule their own attempts.
func NextDelay(cfg RetryConfig, attempt int, err error) (time.Duration, bool) {
	return nextDelay(cfg.withDefaults(), attempt, err)
}

func nextDelay(cfg RetryConfig, attempt int, err error) (time.Duration, bool) {
	if err == nil || attempt >= cfg.MaxRetries || !cfg.IsRetryable(err) {
		return 0, false
	}
	return cfg.delay(attempt, err), true
}

// delay is exponential backoff with symmetric jitter, capped at MaxDelay.
// A Retry-After hint replaces the computed value but is still capped.
func (c RetryConfig) delay(attempt int, err error) time.Duration {
	if d, ok := RetryAfter(err); ok {
		return min(d, c.MaxDelay)
	}
	d := c.BaseDelay << min(attempt, 16)
	if d <= 0 || d > c.MaxDelay {
		d = c.MaxDelay
	}
	spread := float64(d) * c.JitterFactor
	return time.Duration(float64(d) + spread*(rand.Float64()-0.5))
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.JitterFactor < 0 {
		c.JitterFactor = 0
	}
	if c.IsRetryable == nil {
		c.IsRetryable = IsRetryableError
	}
	return c
}
