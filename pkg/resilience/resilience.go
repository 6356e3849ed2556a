// Package resilience provides the fault-tolerance primitives of the extraction
// engine: bounded retries with backoff and panic isolation for plugin calls.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds how often and how fast an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of calls, including the first one.
	MaxAttempts int

	// InitialInterval is the first wait between attempts. Zero retries immediately.
	InitialInterval time.Duration

	// MaxInterval caps the exponential growth of the wait.
	MaxInterval time.Duration

	// OnRetry is called before every retry with the attempt that just failed.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultPolicy returns three attempts with a short exponential backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var b backoff.BackOff
	if p.InitialInterval <= 0 {
		b = &backoff.ZeroBackOff{}
	} else {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = p.InitialInterval
		if p.MaxInterval > 0 {
			eb.MaxInterval = p.MaxInterval
		}
		eb.MaxElapsedTime = 0
		eb.Reset()
		b = eb
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Retry calls op until it succeeds, the attempts are exhausted, the error is
// permanent or ctx is done. Every error class is retried alike, and the error
// of the last attempt is returned together with the number of attempts made.
func Retry[T any](ctx context.Context, p Policy, op func(attempt int) (T, error)) (T, int, error) {
	attempt := 0
	operation := func() (T, error) {
		attempt++
		v, err := op(attempt)
		if err != nil {
			var perm *permanentError
			if errors.As(err, &perm) {
				return v, backoff.Permanent(perm.err)
			}
		}
		return v, err
	}

	notify := func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(attempt, err, wait)
		}
	}

	v, err := backoff.RetryNotifyWithData(operation, p.backOff(ctx), notify)
	return v, attempt, err
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so Retry gives up immediately. Retry returns err itself.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm)
}

// Guard runs plugin code and turns panics into errors, so one misbehaving
// parser cannot take the whole dispatcher down.
type Guard struct {
	calls  int64
	failed int64
	panics int64

	// OnPanic is called with the recovered value.
	OnPanic func(name string, recovered interface{})
}

// NewGuard creates an empty guard.
func NewGuard() *Guard {
	return &Guard{}
}

// Do calls fn and recovers from any panic it raises.
func (g *Guard) Do(name string, fn func() error) (err error) {
	atomic.AddInt64(&g.calls, 1)

	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&g.panics, 1)
			atomic.AddInt64(&g.failed, 1)
			if g.OnPanic != nil {
				g.OnPanic(name, r)
			}
			err = fmt.Errorf("%s: panic recovered: %v", name, r)
		}
	}()

	if err = fn(); err != nil {
		atomic.AddInt64(&g.failed, 1)
	}
	return err
}

// Stats returns call statistics.
func (g *Guard) Stats() GuardStats {
	return GuardStats{
		Calls:  atomic.LoadInt64(&g.calls),
		Failed: atomic.LoadInt64(&g.failed),
		Panics: atomic.LoadInt64(&g.panics),
	}
}

// GuardStats contains guarded call statistics.
type GuardStats struct {
	Calls  int64
	Failed int64
	Panics int64
}
