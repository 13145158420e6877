package workflow

import (
	"time"

	"github.com/go-durable/durable/internal/tracing"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Now returns the current time. The time is recorded, a replayed workflow sees the same value.
func Now(ctx Context) (time.Time, error) {
	s, leave, err := enter(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer leave()

	n := s.NextStep()

	r, err := lookup(ctx, s, n, stepNow)
	if err != nil {
		return time.Time{}, err
	}

	if r == nil {
		rec := newRecord(s, n, stepNow)
		if rec.Output, err = s.Converter.To(rec.ExecutedAt.UnixMilli()); err != nil {
			return time.Time{}, errors.Wrap(err, "encoding time")
		}

		if r, err = record(ctx, s, rec); err != nil {
			return time.Time{}, err
		}
	}

	ms, err := outcome[int64](s, r)
	if err != nil {
		return time.Time{}, err
	}

	return time.UnixMilli(ms), nil
}

// Sleep pauses the workflow for d. The wake-up time is recorded, a workflow recovered after a crash
// only sleeps for what is left.
func Sleep(ctx Context, d time.Duration) error {
	s, leave, err := enter(ctx)
	if err != nil {
		return err
	}
	defer leave()

	_, span := s.Tracer.Start(ctx, "Sleep", trace.WithAttributes(
		attribute.String(tracing.WorkflowInstanceID, s.Instance().ID),
		attribute.String(tracing.StepKind, "sleep"),
	))
	defer span.End()

	until, err := deadline(ctx, s, stepSleep, d)
	if err != nil {
		return tracing.RecordError(span, err)
	}

	for s.Clock.Now().Before(until) {
		t := s.Clock.Timer(until.Sub(s.Clock.Now()))

		select {
		case <-ctx.Done():
			t.Stop()
			return tracing.RecordError(span, abort(s, ctx.Err()))
		case <-t.C:
		}
	}

	return nil
}
