package retry

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil", err: nil, expected: false},
		{name: "plain error", err: errors.New("boom"), expected: false},
		{name: "marked transient", err: Transient(errors.New("boom")), expected: true},
		{name: "marked permanent", err: Permanent(errors.New("rate limit")), expected: false},
		{name: "wrapped transient", err: fmt.Errorf("call: %w", Transient(errors.New("x"))), expected: true},
		{name: "deadline", err: context.DeadlineExceeded, expected: true},
		{name: "canceled", err: context.Canceled, expected: false},
		{name: "rate limit message", err: errors.New("429 Rate Limit reached"), expected: true},
		{name: "url error", err: &url.Error{Op: "Get", URL: "http://x", Err: errors.New("connection refused")}, expected: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsTransient(tt.err))
		})
	}
}

func TestDoRetriesUntilBudgetSpent(t *testing.T) {
	count := 0
	err := Do(context.Background(), func() error {
		count++
		return Transient(errors.New("test error"))
	}, WithMaxRetries(3), WithBaseWait(time.Millisecond))
	require.Error(t, err)
	assert.Equal(t, "test error", err.Error())
	assert.Equal(t, 4, count)
}

func TestDoStopsOnSuccess(t *testing.T) {
	count := 0
	err := Do(context.Background(), func() error {
		count++
		if count < 2 {
			return Transient(errors.New("flaky"))
		}
		return nil
	}, WithMaxRetries(5))
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestDoDoesNotRetryPermanent(t *testing.T) {
	count := 0
	err := Do(context.Background(), func() error {
		count++
		return Permanent(errors.New("bad input"))
	}, WithMaxRetries(5))
	require.Error(t, err)
	assert.Equal(t, 1, count)
}

func TestDoReportsRetries(t *testing.T) {
	var attempts []int
	var waits []time.Duration
	_ = Do(context.Background(), func() error {
		return Transient(errors.New("x"))
	},
		WithMaxRetries(3),
		WithBaseWait(time.Millisecond),
		WithMultiplier(2),
		WithMaxWait(3*time.Millisecond),
		WithOnRetry(func(attempt int, err error, wait time.Duration) {
			attempts = append(attempts, attempt)
			waits = append(waits, wait)
		}),
	)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, waits)
}

func TestDoHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	start := time.Now()
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	err := Do(ctx, func() error {
		count++
		return Transient(errors.New("x"))
	}, WithMaxRetries(10), WithBaseWait(time.Hour))
	require.Error(t, err)
	assert.Equal(t, 1, count)
	assert.Less(t, time.Since(start), time.Minute)
}
