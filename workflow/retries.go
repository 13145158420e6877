package workflow

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-durable/durable/backend/metrics"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/internal/metrickeys"
	"github.com/go-durable/durable/internal/workflowerrors"
	"github.com/go-durable/durable/internal/workflowstate"
	"github.com/go-durable/durable/log"
)

type RetryOptions = core.RetryOptions

var (
	DefaultRetryOptions = core.DefaultRetryOptions
	NoRetries           = core.NoRetries
)

// clockTimer lets backoff wait on the configured clock
type clockTimer struct {
	clock clock.Clock
	timer *clock.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer != nil {
		t.timer.Stop()
	}

	t.timer = t.clock.Timer(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}

// withRetries calls fn until it succeeds, returns a permanent error, or runs out of attempts. fn
// receives the attempt number starting at 1.
func withRetries(ctx context.Context, s *workflowstate.WorkflowState, name string, ro RetryOptions, fn func(attempt int) error) error {
	b := backoff.WithContext(ro.BackOff(s.Clock), ctx)

	attempt := 0
	return backoff.RetryNotifyWithTimer(func() error {
		attempt++

		err := fn(attempt)
		if err != nil && !workflowerrors.CanRetry(err) {
			return backoff.Permanent(err)
		}

		return err
	}, b, func(err error, next time.Duration) {
		s.Logger.Warn("Step failed, retrying",
			log.StepNameKey, name,
			log.AttemptKey, attempt,
			log.DurationKey, next.Milliseconds(),
			"error", err,
		)

		s.Backend.Metrics().Counter(metrickeys.StepRetried, metrics.Tags{metrickeys.StepName: name}, 1)
	}, &clockTimer{clock: s.Clock})
}
