package workflow

import (
	"time"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/metrics"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/internal/metrickeys"
	"github.com/go-durable/durable/internal/tracing"
	"github.com/go-durable/durable/internal/workflowstate"
	"github.com/go-durable/durable/log"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SetEvent publishes value under key for this workflow instance. Setting a key again replaces the
// previous value.
func SetEvent(ctx Context, key string, value any) error {
	s, leave, err := enter(ctx)
	if err != nil {
		return err
	}
	defer leave()

	n := s.NextStep()

	_, span := s.Tracer.Start(ctx, "SetEvent", trace.WithAttributes(
		attribute.String(tracing.WorkflowInstanceID, s.Instance().ID),
		attribute.Int(tracing.StepNumber, n),
		attribute.String(tracing.StepKind, "set_event"),
		attribute.String(tracing.EventKey, key),
	))
	defer span.End()

	r, err := lookup(ctx, s, n, stepSetEvent)
	if err != nil {
		return tracing.RecordError(span, err)
	}

	if r != nil {
		_, err := outcome[any](s, r)
		return tracing.RecordError(span, err)
	}

	p, err := s.Converter.To(value)
	if err != nil {
		return tracing.RecordError(span, errors.Wrap(err, "encoding event value"))
	}

	event := &core.Event{
		WorkflowID: s.Instance().ID,
		Key:        key,
		Value:      p,
	}

	if err := s.Backend.SetEvent(ctx, event, newRecord(s, n, stepSetEvent)); err != nil {
		if errors.Is(err, backend.ErrStepAlreadyRecorded) {
			return nil
		}

		return tracing.RecordError(span, abort(s, errors.Wrap(err, "setting event")))
	}

	s.Logger.Debug("Set event", log.EventKeyKey, key)

	return nil
}

// GetEvent reads the event key of workflow instance workflowID. If the event has not been set, it
// waits up to timeout for it. On timeout it returns false and no error.
func GetEvent[T any](ctx Context, workflowID, key string, timeout time.Duration) (T, bool, error) {
	var zero T

	s, leave, err := enter(ctx)
	if err != nil {
		return zero, false, err
	}
	defer leave()

	_, span := s.Tracer.Start(ctx, "GetEvent", trace.WithAttributes(
		attribute.String(tracing.WorkflowInstanceID, s.Instance().ID),
		attribute.String(tracing.StepKind, "get_event"),
		attribute.String(tracing.EventKey, key),
	))
	defer span.End()

	until, err := deadline(ctx, s, stepGetEventDeadline, timeout)
	if err != nil {
		return zero, false, tracing.RecordError(span, err)
	}

	n := s.NextStep()
	span.SetAttributes(attribute.Int(tracing.StepNumber, n))

	r, err := lookup(ctx, s, n, stepGetEvent)
	if err != nil {
		return zero, false, tracing.RecordError(span, err)
	}

	if r == nil {
		if r, err = awaitEvent(ctx, s, n, workflowID, key, until); err != nil {
			return zero, false, tracing.RecordError(span, err)
		}
	}

	if len(r.Output) == 0 && r.Error == nil {
		return zero, false, nil
	}

	v, err := outcome[T](s, r)
	return v, err == nil, tracing.RecordError(span, err)
}

func awaitEvent(ctx Context, s *workflowstate.WorkflowState, n int, workflowID, key string, until time.Time) (*core.StepRecord, error) {
	for {
		wake, unsubscribe := s.Backend.Subscribe(backend.EventKey(workflowID, key))

		event, err := s.Backend.GetEvent(ctx, workflowID, key)
		if err != nil {
			unsubscribe()
			return nil, abort(s, errors.Wrap(err, "reading event"))
		}

		rec := newRecord(s, n, stepGetEvent)

		if event != nil {
			unsubscribe()

			rec.Output = event.Value
			return record(ctx, s, rec)
		}

		if !s.Clock.Now().Before(until) {
			unsubscribe()

			s.Backend.Metrics().Counter(metrickeys.WaitTimedOut, metrics.Tags{metrickeys.StepKind: "get_event"}, 1)
			s.Logger.Debug("Waiting for event timed out", log.EventKeyKey, key, log.DeadlineKey, until)

			return record(ctx, s, rec)
		}

		err = wait(ctx, s, wake, until)
		unsubscribe()

		if err != nil {
			return nil, abort(s, err)
		}
	}
}
