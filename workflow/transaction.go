package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/metrics"
	"github.com/go-durable/durable/backend/payload"
	"github.com/go-durable/durable/internal/metrickeys"
	im "github.com/go-durable/durable/internal/metrics"
	"github.com/go-durable/durable/internal/tracing"
	"github.com/go-durable/durable/internal/workflowstate"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ExecuteTransaction runs tx in a database transaction of the backend's database. The writes of tx
// and the step record commit together. An error returned by tx rolls back its writes and is recorded
// without retrying.
//
// tx must have the signature func(context.Context, *sql.Tx, args...) (T, error) or
// func(context.Context, *sql.Tx, args...) error.
func ExecuteTransaction[T any](ctx Context, options StepOptions, tx Step, args ...any) (T, error) {
	var zero T

	s, leave, err := enter(ctx)
	if err != nil {
		return zero, err
	}
	defer leave()

	name, _ := resolveStep(s, options, tx)

	if !s.Backend.FeatureSupported(backend.FeatureTransactions) {
		return zero, backend.ErrNotSupported{Message: "transactions"}
	}

	fnV, in, err := prepare[T](tx, 2, args)
	if err != nil {
		return zero, errors.Wrapf(err, "transaction %s", name)
	}

	n := s.NextStep()

	spanCtx, span := s.Tracer.Start(ctx, fmt.Sprintf("ExecuteTransaction: %s", name), trace.WithAttributes(
		attribute.String(tracing.WorkflowInstanceID, s.Instance().ID),
		attribute.Int(tracing.StepNumber, n),
		attribute.String(tracing.StepName, name),
		attribute.String(tracing.StepKind, "transaction"),
	))
	defer span.End()

	r, err := lookup(ctx, s, n, name)
	if err != nil {
		return zero, tracing.RecordError(span, err)
	}

	if r != nil {
		span.SetAttributes(attribute.Bool(tracing.StepReplayed, true))
		v, err := outcome[T](s, r)
		return v, tracing.RecordError(span, err)
	}

	tags := metrics.Tags{metrickeys.StepName: name, metrickeys.StepKind: "transaction"}
	timer := im.StartTimer(s.Backend.Metrics(), s.Clock, metrickeys.StepDuration, tags)

	stepCtx := workflowstate.NewContext(workflowstate.WithStepInfo(spanCtx, workflowstate.StepInfo{
		WorkflowID: s.Instance().ID,
		StepNumber: n,
		StepName:   name,
		Attempt:    1,
	}), s)

	r, err = s.Backend.RunTransactionStep(ctx, newRecord(s, n, name), func(_ context.Context, sqlTx *sql.Tx) (payload.Payload, error) {
		result, err := call(stepCtx, fnV, in, reflect.ValueOf(sqlTx))
		if err != nil || result == nil {
			return nil, err
		}

		return s.Converter.To(result)
	})

	timer.Stop(err)

	if err != nil {
		if errors.Is(err, backend.ErrStepAlreadyRecorded) {
			r, err = existing(ctx, s, n)
		}

		if err != nil {
			return zero, tracing.RecordError(span, abort(s, err))
		}
	}

	s.Backend.Metrics().Counter(metrickeys.StepExecuted, tags, 1)

	v, err := outcome[T](s, r)
	return v, tracing.RecordError(span, err)
}
