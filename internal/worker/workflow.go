package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/metrics"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/internal/executor"
	"github.com/go-durable/durable/internal/metrickeys"
	"github.com/go-durable/durable/internal/recovery"
	"github.com/go-durable/durable/log"
	"github.com/go-durable/durable/registry"
)

type WorkflowWorkerOptions struct {
	WorkerOptions

	ExecutorID string

	LeaseTimeout time.Duration
}

// NewWorkflowWorker returns a worker that claims PENDING and abandoned workflow instances and
// executes them.
func NewWorkflowWorker(b backend.Backend, r *registry.Registry, options WorkflowWorkerOptions) *Worker[core.WorkflowInstance, executor.Result] {
	ww := newWorkflowWorker(b, r, options)

	options.WorkerOptions.WakeKey = backend.PendingInstancesKey

	return NewWorker[core.WorkflowInstance, executor.Result](b, ww, &options.WorkerOptions)
}

func newWorkflowWorker(b backend.Backend, r *registry.Registry, options WorkflowWorkerOptions) *WorkflowWorker {
	return &WorkflowWorker{
		backend:    b,
		executorID: options.ExecutorID,
		executor:   executor.NewExecutor(b, r),
		coordinator: recovery.NewCoordinator(b, r, recovery.Options{
			ExecutorID:   options.ExecutorID,
			LeaseTimeout: options.LeaseTimeout,
		}),
		logger:  b.Logger(),
		running: make(map[string]struct{}),
	}
}

type WorkflowWorker struct {
	backend     backend.Backend
	executorID  string
	executor    *executor.Executor
	coordinator *recovery.Coordinator
	logger      *slog.Logger

	mu      sync.Mutex
	running map[string]struct{}
}

var _ TaskWorker[core.WorkflowInstance, executor.Result] = (*WorkflowWorker)(nil)

func (ww *WorkflowWorker) Get(ctx context.Context) (*core.WorkflowInstance, error) {
	instance, err := ww.coordinator.Next(ctx, ww.isRunning)
	if err != nil || instance == nil {
		return nil, err
	}

	ww.mu.Lock()
	ww.running[instance.ID] = struct{}{}
	n := len(ww.running)
	ww.mu.Unlock()

	ww.backend.Metrics().Gauge(metrickeys.WorkflowsRunning, metrics.Tags{}, int64(n))

	return instance, nil
}

func (ww *WorkflowWorker) isRunning(instanceID string) bool {
	ww.mu.Lock()
	defer ww.mu.Unlock()

	_, ok := ww.running[instanceID]
	return ok
}

func (ww *WorkflowWorker) done(instanceID string) {
	ww.mu.Lock()
	delete(ww.running, instanceID)
	n := len(ww.running)
	ww.mu.Unlock()

	ww.backend.Metrics().Gauge(metrickeys.WorkflowsRunning, metrics.Tags{}, int64(n))
}

func (ww *WorkflowWorker) Extend(ctx context.Context, instance *core.WorkflowInstance) error {
	err := ww.backend.HeartbeatWorkflowInstance(ctx, instance.ID, ww.executorID)
	if errors.Is(err, backend.ErrLeaseLost) {
		ww.backend.Metrics().Counter(metrickeys.WorkflowLeaseLost, metrics.Tags{metrickeys.WorkflowName: instance.Name}, 1)
	}

	return err
}

func (ww *WorkflowWorker) Execute(ctx context.Context, instance *core.WorkflowInstance) (*executor.Result, error) {
	return ww.executor.Execute(ctx, instance), nil
}

func (ww *WorkflowWorker) Complete(ctx context.Context, result *executor.Result, instance *core.WorkflowInstance) error {
	defer ww.done(instance.ID)

	if result.Aborted != nil {
		// Instance stays RUNNING, recovery picks it up once the lease expires
		return nil
	}

	err := ww.backend.CompleteWorkflowInstance(ctx, instance.ID, ww.executorID, result.Status, result.Output, result.Error)
	if err != nil {
		if errors.Is(err, backend.ErrLeaseLost) {
			ww.logger.Warn("Lost lease before completing workflow instance",
				log.InstanceIDKey, instance.ID,
				log.ExecutorIDKey, ww.executorID,
			)

			return nil
		}

		return err
	}

	return nil
}
