package retry

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strings"
)

// Classified is implemented by errors that know whether a retry could help.
type Classified interface {
	error
	Transient() bool
}

var transientFragments = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"timed out",
	"temporary failure",
	"rate limit",
	"too many requests",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
}

// IsTransient reports whether err is worth retrying. Errors that implement
// Classified decide for themselves. Cancellation is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var classified Classified
	if errors.As(err, &classified) {
		return classified.Transient()
	}
	return looksTransient(err)
}

func looksTransient(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		return looksTransient(urlErr.Err)
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range transientFragments {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

type classifiedError struct {
	err       error
	transient bool
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }
func (e *classifiedError) Transient() bool { return e.transient }

// Transient marks err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, transient: true}
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{err: err, transient: false}
}
