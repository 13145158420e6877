package worker

import (
	"context"
	"fmt"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/client"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/internal/executor"
	"github.com/go-durable/durable/internal/recovery"
	internal "github.com/go-durable/durable/internal/worker"
	"github.com/go-durable/durable/registry"
	"github.com/go-durable/durable/scheduler"
	"github.com/go-durable/durable/workflow"
	"github.com/google/uuid"
)

// ErrMaxRecoveryAttemptsExceeded is the error an instance fails with after it was recovered too often.
var ErrMaxRecoveryAttemptsExceeded = recovery.ErrMaxRecoveryAttemptsExceeded

type Worker struct {
	backend backend.Backend

	registry *registry.Registry

	client *client.Client

	workflowWorker *internal.Worker[core.WorkflowInstance, executor.Result]

	scheduler *scheduler.Scheduler

	executorID string
}

// New creates a worker that executes workflow instances stored in the given backend.
func New(b backend.Backend, options *Options) *Worker {
	if options == nil {
		options = &DefaultOptions
	}

	opts := *options
	if opts.ExecutorID == "" {
		opts.ExecutorID = uuid.NewString()
	}

	if opts.Pollers <= 0 {
		opts.Pollers = DefaultOptions.Pollers
	}

	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultOptions.HeartbeatInterval
	}

	if opts.LeaseTimeout <= 0 {
		opts.LeaseTimeout = DefaultOptions.LeaseTimeout
	}

	if opts.RecoveryInterval <= 0 {
		opts.RecoveryInterval = DefaultOptions.RecoveryInterval
	}

	reg := registry.New()
	c := client.New(b)

	return &Worker{
		backend:  b,
		registry: reg,
		client:   c,
		workflowWorker: internal.NewWorkflowWorker(b, reg, internal.WorkflowWorkerOptions{
			WorkerOptions: internal.WorkerOptions{
				Pollers:           opts.Pollers,
				MaxParallelTasks:  opts.MaxParallelWorkflows,
				HeartbeatInterval: opts.HeartbeatInterval,
				PollingInterval:   opts.RecoveryInterval,
			},
			ExecutorID:   opts.ExecutorID,
			LeaseTimeout: opts.LeaseTimeout,
		}),
		scheduler:  scheduler.New(c, b.Logger(), b.Metrics(), b.Clock()),
		executorID: opts.ExecutorID,
	}
}

// Start starts the worker.
//
// Pending instances and instances abandoned by crashed workers are recovered right away. To stop the
// worker, cancel the context passed to Start. Running instances are then aborted and left for
// recovery. To wait for them to stop, call `WaitForCompletion`.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.workflowWorker.Start(ctx); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	if err := w.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	return nil
}

// WaitForCompletion waits for all active workflow executions to stop.
func (w *Worker) WaitForCompletion() error {
	w.scheduler.Stop()

	if err := w.workflowWorker.WaitForCompletion(); err != nil {
		return fmt.Errorf("waiting for worker completion: %w", err)
	}

	return nil
}

// RegisterWorkflow registers a workflow with the worker's registry.
func (w *Worker) RegisterWorkflow(wf workflow.Workflow, opts ...registry.RegisterOption) error {
	return w.registry.RegisterWorkflow(wf, opts...)
}

// RegisterStep registers a step or transaction. Registration is optional, it names the step and sets
// its default retry policy.
func (w *Worker) RegisterStep(s workflow.Step, opts ...registry.RegisterOption) error {
	return w.registry.RegisterStep(s, opts...)
}

// RegisterScheduledWorkflow registers wf and starts it on the given cron schedule. wf must accept the
// scheduled time as its only argument after the context. Every scheduled time is started once, even
// with multiple workers sharing the backend.
func (w *Worker) RegisterScheduledWorkflow(wf workflow.Workflow, schedule string, opts ...registry.RegisterOption) error {
	if err := w.registry.RegisterWorkflow(wf, opts...); err != nil {
		return err
	}

	return w.scheduler.Add(registry.WorkflowName(wf, opts...), schedule, wf)
}

func (w *Worker) Client() *client.Client {
	return w.client
}

func (w *Worker) ExecutorID() string {
	return w.executorID
}

// StartWorkflow creates a workflow instance and returns without waiting for it. If an instance with
// the requested id exists, it is returned and no second execution starts.
func (w *Worker) StartWorkflow(ctx context.Context, options client.WorkflowInstanceOptions, wf workflow.Workflow, args ...any) (*workflow.Instance, error) {
	return w.client.CreateWorkflowInstance(ctx, options, wf, args...)
}

// Invoke starts wf and returns a handle to wait for its result of type T.
func Invoke[T any](ctx context.Context, w *Worker, options client.WorkflowInstanceOptions, wf workflow.Workflow, args ...any) (*client.Handle[T], error) {
	instance, err := w.StartWorkflow(ctx, options, wf, args...)
	if err != nil {
		return nil, err
	}

	return client.NewHandle[T](w.client, instance.ID), nil
}
