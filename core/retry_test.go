package core

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"
)

func delays(b backoff.BackOff) []time.Duration {
	var r []time.Duration
	for {
		d := b.NextBackOff()
		if d == backoff.Stop {
			return r
		}

		r = append(r, d)
	}
}

func Test_RetryOptions_BackOff(t *testing.T) {
	ro := RetryOptions{
		MaxAttempts:        5,
		FirstRetryInterval: 100 * time.Millisecond,
		MaxRetryInterval:   300 * time.Millisecond,
		BackoffCoefficient: 2,
	}

	require.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}, delays(ro.BackOff(clock.NewMock())))
}

func Test_RetryOptions_ConstantWithoutCoefficient(t *testing.T) {
	ro := RetryOptions{MaxAttempts: 3, FirstRetryInterval: time.Second}

	require.Equal(t, []time.Duration{time.Second, time.Second}, delays(ro.BackOff(clock.NewMock())))
}

func Test_RetryOptions_Retries(t *testing.T) {
	require.Equal(t, uint64(0), NoRetries.Retries())
	require.Equal(t, uint64(0), RetryOptions{}.Retries())
	require.Equal(t, uint64(2), DefaultRetryOptions.Retries())

	require.Empty(t, delays(NoRetries.BackOff(clock.NewMock())))
}
