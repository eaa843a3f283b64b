// Package retry describes how operations against the anchor backend and the
// event channel are repeated after a failure. A Policy is plain data so it
// can be configured, logged and tested on its own; Do applies it.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap/zapcore"
)

// ErrExhausted is returned by Do when a capped policy runs out of attempts.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy is a fixed-interval retry schedule with optional jitter and an
// optional cap on attempts.
type Policy struct {
	// Interval is the delay between two attempts.
	Interval time.Duration
	// MaxAttempts caps the number of attempts. Zero retries forever.
	MaxAttempts int
	// Jitter spreads each delay uniformly over Interval*(1±Jitter).
	Jitter float64
}

// Default is a one second delay with no cap.
func Default() Policy {
	return Policy{Interval: time.Second}
}

// Validate rejects a non-positive interval, negative attempts and jitter
// outside [0, 1).
func (p Policy) Validate() error {
	if p.Interval <= 0 {
		return fmt.Errorf("retry interval must be positive, got %v", p.Interval)
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must not be negative, got %d", p.MaxAttempts)
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1), got %v", p.Jitter)
	}
	return nil
}

// Exhausted reports whether attempts made so far use up the policy.
func (p Policy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

// Delay returns the wait before the next attempt.
func (p Policy) Delay() time.Duration {
	if p.Jitter == 0 {
		return p.Interval
	}
	spread := (rand.Float64()*2 - 1) * p.Jitter
	return time.Duration(float64(p.Interval) * (1 + spread))
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (p Policy) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddDuration("interval", p.Interval)
	encoder.AddInt("max attempts", p.MaxAttempts)
	encoder.AddFloat64("jitter", p.Jitter)
	return nil
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. Do returns it unwrapped.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Do calls fn until it succeeds, returns a Permanent error, the policy is
// exhausted or ctx is done. onRetry, when set, is told about every failed
// attempt that will be retried.
func Do(
	ctx context.Context,
	clock clockwork.Clock,
	p Policy,
	fn func(ctx context.Context) error,
	onRetry func(attempt int, err error),
) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if p.Exhausted(attempt) {
			return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempt, err)
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		select {
		case <-clock.After(p.Delay()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
