package workflow

import (
	"context"
	"fmt"
	"reflect"

	"github.com/go-durable/durable/backend/metrics"
	"github.com/go-durable/durable/backend/payload"
	"github.com/go-durable/durable/internal/args"
	"github.com/go-durable/durable/internal/fn"
	"github.com/go-durable/durable/internal/metrickeys"
	im "github.com/go-durable/durable/internal/metrics"
	"github.com/go-durable/durable/internal/tracing"
	"github.com/go-durable/durable/internal/workflowerrors"
	"github.com/go-durable/durable/internal/workflowstate"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type StepOptions struct {
	// Name overrides the name recorded for the step. Defaults to the registered or function name.
	Name string

	// RetryOptions overrides the retry policy of the step. Defaults to the registered policy or
	// DefaultRetryOptions.
	RetryOptions *RetryOptions
}

var DefaultStepOptions = StepOptions{}

// ExecuteStep runs step once per workflow instance. If the step has been recorded before, its stored
// result or error is returned without calling it. Otherwise the step is called, retried on
// retryable errors, and its outcome recorded.
func ExecuteStep[T any](ctx Context, options StepOptions, step Step, args ...any) (T, error) {
	var zero T

	s, leave, err := enter(ctx)
	if err != nil {
		return zero, err
	}
	defer leave()

	name, ro := resolveStep(s, options, step)

	fnV, in, err := prepare[T](step, 1, args)
	if err != nil {
		return zero, errors.Wrapf(err, "step %s", name)
	}

	n := s.NextStep()

	spanCtx, span := s.Tracer.Start(ctx, fmt.Sprintf("ExecuteStep: %s", name), trace.WithAttributes(
		attribute.String(tracing.WorkflowInstanceID, s.Instance().ID),
		attribute.Int(tracing.StepNumber, n),
		attribute.String(tracing.StepName, name),
		attribute.String(tracing.StepKind, "step"),
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

	tags := metrics.Tags{metrickeys.StepName: name, metrickeys.StepKind: "step"}
	timer := im.StartTimer(s.Backend.Metrics(), s.Clock, metrickeys.StepDuration, tags)

	var result any
	stepErr := withRetries(ctx, s, name, ro, func(attempt int) error {
		stepCtx := workflowstate.NewContext(workflowstate.WithStepInfo(spanCtx, workflowstate.StepInfo{
			WorkflowID: s.Instance().ID,
			StepNumber: n,
			StepName:   name,
			Attempt:    attempt,
		}), s)

		var err error
		result, err = call(stepCtx, fnV, in)
		return err
	})

	timer.Stop(stepErr)

	if ctx.Err() != nil {
		// Shutting down or lease lost, leave the step for the next execution
		return zero, abort(s, ctx.Err())
	}

	s.Backend.Metrics().Counter(metrickeys.StepExecuted, tags, 1)

	rec := newRecord(s, n, name)
	if stepErr != nil {
		rec.Error = workflowerrors.FromError(stepErr)
	} else if result != nil {
		var p payload.Payload
		if p, err = s.Converter.To(result); err != nil {
			rec.Error = workflowerrors.FromError(workflowerrors.NewPermanentError(errors.Wrap(err, "encoding step result")))
		} else {
			rec.Output = p
		}
	}

	if r, err = record(ctx, s, rec); err != nil {
		return zero, tracing.RecordError(span, err)
	}

	v, err := outcome[T](s, r)
	return v, tracing.RecordError(span, err)
}

func resolveStep(s *workflowstate.WorkflowState, options StepOptions, step Step) (string, RetryOptions) {
	name := options.Name
	ro := DefaultRetryOptions

	if reg := s.Registry.GetStepByFunc(step); reg != nil {
		if name == "" {
			name = reg.Name
		}

		if reg.RetryOptions != nil {
			ro = *reg.RetryOptions
		}
	}

	if name == "" {
		name = fn.Name(step)
	}

	if options.RetryOptions != nil {
		ro = *options.RetryOptions
	}

	return name, ro
}

// prepare validates step against the expected result type and arguments. Transactions pass a
// leading of 2 and must declare a context and a *sql.Tx.
func prepare[T any](step Step, leading int, stepArgs []any) (reflect.Value, []reflect.Value, error) {
	fnV := reflect.ValueOf(step)
	if fnV.Kind() != reflect.Func {
		return fnV, nil, errors.New("not a function")
	}

	fnT := fnV.Type()
	if err := args.ReturnsError("step", fnT); err != nil {
		return fnV, nil, err
	}

	if err := args.ReturnTypeMatch[T](step); err != nil {
		return fnV, nil, err
	}

	if err := args.ParamsMatch(step, stepArgs...); err != nil {
		return fnV, nil, err
	}

	skip := args.Leading(fnT)
	if leading > 1 && skip != leading {
		return fnV, nil, errors.New("transaction must accept a context and a *sql.Tx as first parameters")
	}

	in := make([]reflect.Value, 0, len(stepArgs))
	for i, arg := range stepArgs {
		if arg == nil {
			in = append(in, reflect.Zero(fnT.In(i+skip)))
		} else {
			in = append(in, reflect.ValueOf(arg))
		}
	}

	return fnV, in, nil
}

// call invokes the step function, passing ctx (and leading) when the function declares them. Panics
// are turned into permanent errors.
func call(ctx context.Context, fnV reflect.Value, in []reflect.Value, leading ...reflect.Value) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = workflowerrors.NewPermanentError(workflowerrors.NewPanicError(fmt.Sprintf("step panicked: %v", r)))
		}
	}()

	full := in
	if args.Leading(fnV.Type()) > 0 {
		full = append(append([]reflect.Value{reflect.ValueOf(ctx)}, leading...), in...)
	}

	out := fnV.Call(full)

	if errV := out[len(out)-1]; !errV.IsNil() {
		return nil, errV.Interface().(error)
	}

	if len(out) == 2 {
		return out[0].Interface(), nil
	}

	return nil, nil
}
