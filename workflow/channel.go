package workflow

import (
	"time"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/metrics"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/internal/metrickeys"
	"github.com/go-durable/durable/internal/tracing"
	"github.com/go-durable/durable/internal/workflowerrors"
	"github.com/go-durable/durable/internal/workflowstate"
	"github.com/go-durable/durable/log"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Send delivers message to the workflow instance destinationID on topic. The send is recorded as a
// step, a replayed workflow does not send again. Sending to an unknown instance fails the step.
func Send(ctx Context, destinationID, topic string, message any) error {
	s, leave, err := enter(ctx)
	if err != nil {
		return err
	}
	defer leave()

	n := s.NextStep()

	_, span := s.Tracer.Start(ctx, "Send", trace.WithAttributes(
		attribute.String(tracing.WorkflowInstanceID, s.Instance().ID),
		attribute.Int(tracing.StepNumber, n),
		attribute.String(tracing.StepKind, "send"),
		attribute.String(tracing.MessageTopic, topic),
	))
	defer span.End()

	r, err := lookup(ctx, s, n, stepSend)
	if err != nil {
		return tracing.RecordError(span, err)
	}

	if r == nil {
		p, err := s.Converter.To(message)
		if err != nil {
			return tracing.RecordError(span, errors.Wrap(err, "encoding message"))
		}

		rec := newRecord(s, n, stepSend)
		msg := &core.Message{
			DestinationID: destinationID,
			Topic:         topic,
			Payload:       p,
			CreatedAt:     s.Clock.Now(),
		}

		switch err := s.Backend.Send(ctx, msg, rec); {
		case err == nil:
			r = rec

			s.Backend.Metrics().Counter(metrickeys.MessageSent, metrics.Tags{}, 1)
			s.Logger.Debug("Sent message", log.DestinationIDKey, destinationID, log.TopicKey, topic)

		case errors.Is(err, backend.ErrInstanceNotFound):
			rec.Error = workflowerrors.FromError(workflowerrors.NewPermanentError(
				errors.Wrapf(err, "sending to %s", destinationID)))

			if r, err = record(ctx, s, rec); err != nil {
				return tracing.RecordError(span, err)
			}

		case errors.Is(err, backend.ErrStepAlreadyRecorded):
			if r, err = existing(ctx, s, n); err != nil {
				return tracing.RecordError(span, err)
			}

		default:
			return tracing.RecordError(span, abort(s, errors.Wrap(err, "sending message")))
		}
	}

	_, err = outcome[any](s, r)
	return tracing.RecordError(span, err)
}

// Recv consumes the oldest message sent to this workflow instance on topic. If there is none, Recv
// waits up to timeout for one to arrive. On timeout it returns false and no error.
//
// Both the deadline and the received message are recorded, a replayed Recv returns the same message
// or times out again without waiting.
func Recv[T any](ctx Context, topic string, timeout time.Duration) (T, bool, error) {
	var zero T

	s, leave, err := enter(ctx)
	if err != nil {
		return zero, false, err
	}
	defer leave()

	_, span := s.Tracer.Start(ctx, "Recv", trace.WithAttributes(
		attribute.String(tracing.WorkflowInstanceID, s.Instance().ID),
		attribute.String(tracing.StepKind, "recv"),
		attribute.String(tracing.MessageTopic, topic),
	))
	defer span.End()

	until, err := deadline(ctx, s, stepRecvDeadline, timeout)
	if err != nil {
		return zero, false, tracing.RecordError(span, err)
	}

	n := s.NextStep()
	span.SetAttributes(attribute.Int(tracing.StepNumber, n))

	r, err := lookup(ctx, s, n, stepRecv)
	if err != nil {
		return zero, false, tracing.RecordError(span, err)
	}

	if r == nil {
		r, err = receive(ctx, s, n, topic, until)
		if err != nil {
			return zero, false, tracing.RecordError(span, err)
		}
	}

	if len(r.Output) == 0 && r.Error == nil {
		return zero, false, nil
	}

	v, err := outcome[T](s, r)
	return v, err == nil, tracing.RecordError(span, err)
}

func receive(ctx Context, s *workflowstate.WorkflowState, n int, topic string, until time.Time) (*core.StepRecord, error) {
	id := s.Instance().ID

	for {
		wake, unsubscribe := s.Backend.Subscribe(backend.MessageKey(id, topic))

		r, err := s.Backend.Recv(ctx, id, topic, newRecord(s, n, stepRecv))
		if err != nil {
			unsubscribe()

			if errors.Is(err, backend.ErrStepAlreadyRecorded) {
				return existing(ctx, s, n)
			}

			return nil, abort(s, errors.Wrap(err, "receiving message"))
		}

		if r != nil {
			unsubscribe()

			s.Backend.Metrics().Counter(metrickeys.MessageReceived, metrics.Tags{}, 1)
			s.Logger.Debug("Received message", log.TopicKey, topic, log.StepNumberKey, n)

			return r, nil
		}

		if !s.Clock.Now().Before(until) {
			unsubscribe()

			s.Backend.Metrics().Counter(metrickeys.WaitTimedOut, metrics.Tags{metrickeys.StepKind: "recv"}, 1)
			s.Logger.Debug("Receive timed out", log.TopicKey, topic, log.DeadlineKey, until)

			return record(ctx, s, newRecord(s, n, stepRecv))
		}

		err = wait(ctx, s, wake, until)
		unsubscribe()

		if err != nil {
			return nil, abort(s, err)
		}
	}
}
