// Package retry runs operations with a bounded number of re-attempts.
package retry

import (
	"context"
	"time"
)

// Options controls a retry loop.
type Options struct {
	MaxRetries  int
	BaseWait    time.Duration
	MaxWait     time.Duration
	Multiplier  float64
	ShouldRetry func(error) bool
	OnRetry     func(attempt int, err error, wait time.Duration)
}

// Option configures Options.
type Option func(*Options)

// WithMaxRetries sets how many times the operation is re-attempted after the
// first failure.
func WithMaxRetries(n int) Option {
	return func(o *Options) {
		o.MaxRetries = n
	}
}

// WithBaseWait sets the delay before the first retry.
func WithBaseWait(d time.Duration) Option {
	return func(o *Options) {
		o.BaseWait = d
	}
}

// WithMaxWait caps the delay between attempts.
func WithMaxWait(d time.Duration) Option {
	return func(o *Options) {
		o.MaxWait = d
	}
}

// WithMultiplier grows the delay geometrically. A multiplier of 1 keeps the
// delay fixed, which is the default.
func WithMultiplier(m float64) Option {
	return func(o *Options) {
		o.Multiplier = m
	}
}

// WithShouldRetry replaces IsTransient as the retry predicate.
func WithShouldRetry(fn func(error) bool) Option {
	return func(o *Options) {
		o.ShouldRetry = fn
	}
}

// WithOnRetry registers a callback invoked before each retry wait.
func WithOnRetry(fn func(attempt int, err error, wait time.Duration)) Option {
	return func(o *Options) {
		o.OnRetry = fn
	}
}

// Do calls fn until it succeeds, returns an error the predicate rejects, the
// retry budget is spent or ctx is done. The last error from fn is returned.
func Do(ctx context.Context, fn func() error, opts ...Option) error {
	o := Options{Multiplier: 1, ShouldRetry: IsTransient}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Multiplier < 1 {
		o.Multiplier = 1
	}

	wait := o.BaseWait
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if attempt >= o.MaxRetries || !o.ShouldRetry(err) {
			return err
		}
		if o.OnRetry != nil {
			o.OnRetry(attempt+1, err, wait)
		}
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return err
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return err
		}
		wait = time.Duration(float64(wait) * o.Multiplier)
		if o.MaxWait > 0 && wait > o.MaxWait {
			wait = o.MaxWait
		}
	}
}
