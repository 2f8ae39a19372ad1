// Package retry wraps a single provider call with classification-aware
// exponential backoff and an optional hard timeout over the whole attempt
// sequence.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"syscall"
	"time"
)

// ErrTotalTimeout is returned when the total-timeout elapses, even if
// attempts remain.
var ErrTotalTimeout = errors.New("retry: total timeout exceeded")

// ErrExhausted wraps the last error once every attempt has been consumed.
var ErrExhausted = errors.New("retry: attempts exhausted")

// Policy tunes the backoff schedule for one provider.
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
	JitterCap    time.Duration
	TotalTimeout time.Duration
}

// Observer is invoked before every retry wait with the error that caused
// it, the 1-based attempt number that failed, and the computed delay. It is
// a logging side effect, never a control-flow branch.
type Observer func(err error, attempt int, delay time.Duration)

// classified is implemented by errors that know whether a retry can help.
// Provider adapters normalize their upstream failures into this shape.
type classified interface {
	Retryable() bool
}

// Retryable reports whether an error is worth retrying. Errors carrying
// their own classification win; otherwise network-level failures
// (timeouts, refused or reset connections, truncated reads) are retryable
// and everything else is terminal.
func Retryable(err error) bool {
	var c classified
	if errors.As(err, &c) {
		return c.Retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return false
}

// Delay returns the backoff before the attempt following failed attempt n
// (0-based): min(base * multiplier^n, max), plus a uniform random addition
// up to JitterCap when jitter is enabled.
func (p Policy) Delay(n int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 2
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(mult, float64(n)))
	if d < 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	if p.Jitter && p.JitterCap > 0 {
		d += time.Duration(rand.Int63n(int64(p.JitterCap)))
	}
	return d
}

// Do executes fn under the policy. Non-retryable errors are returned
// immediately without consuming further attempts. Once attempts are
// exhausted the last error is returned wrapped in ErrExhausted. When the
// total-timeout elapses Do returns an error wrapping ErrTotalTimeout.
func Do(ctx context.Context, p Policy, fn func(context.Context) error, obs Observer) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	// The policy deadline is tracked separately from the context so a
	// parent deadline expiring first is reported as the caller's error,
	// not as ErrTotalTimeout.
	var deadline time.Time
	if p.TotalTimeout > 0 {
		deadline = time.Now().Add(p.TotalTimeout)
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	timedOut := func() bool {
		return !deadline.IsZero() && !time.Now().Before(deadline)
	}

	var err error
	for n := 0; n < attempts; n++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if timedOut() {
			return fmt.Errorf("%w (last error: %v)", ErrTotalTimeout, err)
		}
		if !Retryable(err) {
			return err
		}
		if n == attempts-1 {
			break
		}

		delay := p.Delay(n)
		if obs != nil {
			obs(err, n+1, delay)
		}

		select {
		case <-ctx.Done():
			if timedOut() {
				return fmt.Errorf("%w (last error: %v)", ErrTotalTimeout, err)
			}
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, attempts, err)
}
