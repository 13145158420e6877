package core

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
)

// RetryOptions is the retry policy of a step. Only the final outcome of a step is recorded, failed
// attempts before it are not.
type RetryOptions struct {
	// MaxAttempts includes the first attempt. Values below 2 disable retries.
	MaxAttempts int

	FirstRetryInterval time.Duration

	// MaxRetryInterval caps the delay between two attempts. Zero is no cap.
	MaxRetryInterval time.Duration

	// BackoffCoefficient multiplies the delay after every attempt. Values below 1 keep it constant.
	BackoffCoefficient float64
}

var DefaultRetryOptions = RetryOptions{
	MaxAttempts:        3,
	FirstRetryInterval: 100 * time.Millisecond,
	MaxRetryInterval:   5 * time.Second,
	BackoffCoefficient: 2,
}

// NoRetries runs a step exactly once and records whatever it returns.
var NoRetries = RetryOptions{
	MaxAttempts: 1,
}

// Retries is the number of attempts after the first one.
func (ro RetryOptions) Retries() uint64 {
	if ro.MaxAttempts < 2 {
		return 0
	}

	return uint64(ro.MaxAttempts - 1)
}

// BackOff returns the delays between attempts, measured on clk. It stops after Retries delays.
func (ro RetryOptions) BackOff(clk clock.Clock) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     ro.FirstRetryInterval,
		RandomizationFactor: 0,
		Multiplier:          math.Max(ro.BackoffCoefficient, 1),
		MaxInterval:         ro.MaxRetryInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               clk,
	}

	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Duration(math.MaxInt64)
	}

	b.Reset()

	return backoff.WithMaxRetries(b, ro.Retries())
}
