package executor

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/metrics"
	"github.com/go-durable/durable/backend/payload"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/internal/args"
	"github.com/go-durable/durable/internal/metrickeys"
	"github.com/go-durable/durable/internal/tracing"
	"github.com/go-durable/durable/internal/workflowerrors"
	"github.com/go-durable/durable/internal/workflowstate"
	"github.com/go-durable/durable/log"
	"github.com/go-durable/durable/registry"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Result is the outcome of one execution of a workflow instance.
type Result struct {
	Status core.WorkflowStatus
	Output payload.Payload
	Error  *workflowerrors.Error

	// Aborted is set if the execution stopped for reasons outside of the workflow. The instance must
	// then be left for recovery.
	Aborted error
}

type Executor struct {
	backend  backend.Backend
	registry *registry.Registry
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewExecutor(b backend.Backend, r *registry.Registry) *Executor {
	return &Executor{
		backend:  b,
		registry: r,
		logger:   b.Logger(),
		tracer:   b.Tracer(),
	}
}

// Execute runs the workflow function of instance from the start. Steps recorded by earlier executions
// are replayed from the ledger.
func (e *Executor) Execute(ctx context.Context, instance *core.WorkflowInstance) *Result {
	logger := e.logger.With(
		log.InstanceIDKey, instance.ID,
		log.WorkflowNameKey, instance.Name,
		log.AttemptsKey, instance.Attempts,
	)

	wf, err := e.registry.GetWorkflow(instance.Name)
	if err != nil {
		return &Result{Aborted: err}
	}

	ctx, span := e.tracer.Start(ctx, fmt.Sprintf("Workflow: %s", instance.Name), trace.WithAttributes(
		attribute.String(tracing.WorkflowInstanceID, instance.ID),
		attribute.String(tracing.WorkflowName, instance.Name),
		attribute.Int(tracing.WorkflowAttempt, instance.Attempts),
	))
	defer span.End()

	tags := metrics.Tags{metrickeys.WorkflowName: instance.Name}
	e.backend.Metrics().Counter(metrickeys.WorkflowInstanceStarted, tags, 1)
	logger.Debug("Executing workflow")

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s := workflowstate.NewWorkflowState(instance, e.backend, e.registry)
	s.OnAbort(cancel)
	wfCtx := workflowstate.NewContext(ctx, s)

	result := e.run(wfCtx, s, wf, instance)

	if result.Aborted != nil {
		logger.Warn("Workflow execution aborted", "error", result.Aborted, log.StepNumberKey, s.Steps())
		tracing.RecordError(span, result.Aborted)
		return result
	}

	if result.Error != nil {
		tracing.RecordError(span, result.Error)
	}

	e.backend.Metrics().Counter(metrickeys.WorkflowInstanceFinished, metrics.Tags{
		metrickeys.WorkflowName: instance.Name,
		metrickeys.Status:       string(result.Status),
	}, 1)
	logger.Debug("Workflow finished", log.StatusKey, result.Status, log.StepNumberKey, s.Steps())

	return result
}

func (e *Executor) run(ctx *workflowstate.Context, s *workflowstate.WorkflowState, wf *registry.Workflow, instance *core.WorkflowInstance) *Result {
	fnV := reflect.ValueOf(wf.Fn)

	in, err := args.InputsToArgs(e.backend.Converter(), fnV, instance.Inputs)
	if err != nil {
		return failed(errors.Wrap(err, "decoding workflow inputs"))
	}

	output, werr := call(ctx, fnV, in)

	if abortErr := s.AbortErr(); abortErr != nil {
		return &Result{Aborted: abortErr}
	}

	if werr != nil && ctx.Err() != nil {
		return &Result{Aborted: ctx.Err()}
	}

	if werr != nil {
		return failed(werr)
	}

	var p payload.Payload
	if output != nil {
		if p, err = e.backend.Converter().To(output); err != nil {
			return failed(errors.Wrap(err, "encoding workflow result"))
		}
	}

	return &Result{
		Status: core.WorkflowStatusSuccess,
		Output: p,
	}
}

func failed(err error) *Result {
	return &Result{
		Status: core.WorkflowStatusError,
		Error:  workflowerrors.FromError(err),
	}
}

func call(ctx *workflowstate.Context, fnV reflect.Value, in []reflect.Value) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = workflowerrors.NewPanicError(fmt.Sprintf("workflow panicked: %v", r))
		}
	}()

	out := fnV.Call(append([]reflect.Value{reflect.ValueOf(ctx)}, in...))

	if errV := out[len(out)-1]; !errV.IsNil() {
		return nil, errV.Interface().(error)
	}

	if len(out) == 2 {
		return out[0].Interface(), nil
	}

	return nil, nil
}
