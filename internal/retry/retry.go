// Package retry runs an operation under a bounded exponential backoff policy.
package retry

import (
	"context"
	"errors"
	"time"
)

// Policy describes how many times to try and how long to wait in between.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultPolicy is three attempts, doubling from two seconds, capped at thirty.
var DefaultPolicy = Policy{
	MaxAttempts:  3,
	InitialDelay: 2 * time.Second,
	Multiplier:   2,
	MaxDelay:     30 * time.Second,
}

// Delay returns the wait before retry number n (n=0 is the first retry).
func (p Policy) Delay(n int) time.Duration {
	d := float64(p.InitialDelay)
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 0; i < n; i++ {
		d *= mult
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Hinter is implemented by errors that carry a server-suggested retry delay.
type Hinter interface {
	RetryAfter() time.Duration
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the production Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ExhaustedError wraps the last error once every attempt has been used.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return "retries exhausted: " + e.Err.Error()
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsExhausted reports whether err came from running out of attempts.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

// Do calls fn until it succeeds, returns an error retryable rejects, or the
// policy runs out of attempts. A Hinter error can lengthen the wait but never
// beyond MaxDelay. The returned int is the number of attempts made.
func Do(ctx context.Context, p Policy, retryable func(error) bool, sleep Sleeper, fn func(ctx context.Context) error) (int, error) {
	if sleep == nil {
		sleep = SleepContext
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil {
			return i + 1, nil
		}
		if !retryable(err) {
			return i + 1, err
		}
		if i == attempts-1 {
			break
		}

		wait := p.Delay(i)
		var h Hinter
		if errors.As(err, &h) && h.RetryAfter() > wait {
			wait = h.RetryAfter()
			if p.MaxDelay > 0 && wait > p.MaxDelay {
				wait = p.MaxDelay
			}
		}
		if serr := sleep(ctx, wait); serr != nil {
			return i + 1, serr
		}
	}
	return attempts, &ExhaustedError{Attempts: attempts, Err: err}
}
