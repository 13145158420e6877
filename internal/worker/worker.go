package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-durable/durable/backend"
)

// TaskWorker claims, runs, and completes one kind of task.
type TaskWorker[Task, Result any] interface {
	// Get claims the next task or returns nil if there is none
	Get(context.Context) (*Task, error)

	// Extend renews the claim on a running task
	Extend(context.Context, *Task) error

	Execute(context.Context, *Task) (*Result, error)

	Complete(context.Context, *Result, *Task) error
}

type WorkerOptions struct {
	Pollers int

	// MaxParallelTasks limits the tasks running at once, 0 is no limit
	MaxParallelTasks int

	HeartbeatInterval time.Duration

	PollingInterval time.Duration

	// WakeKey is the notification key that makes pollers look for new tasks right away
	WakeKey string
}

// pollTimeout bounds a single Get call
const pollTimeout = 30 * time.Second

// Worker runs pollers claiming tasks from a TaskWorker. Every claimed task runs in its own goroutine
// while a heartbeat keeps its claim alive.
type Worker[Task, TaskResult any] struct {
	options *WorkerOptions

	tw TaskWorker[Task, TaskResult]
	b  backend.Backend

	slots *taskSlots

	logger *slog.Logger
	clock  clock.Clock

	pollers sync.WaitGroup
	tasks   sync.WaitGroup

	stopOnce sync.Once
}

func NewWorker[Task, TaskResult any](
	b backend.Backend, tw TaskWorker[Task, TaskResult], options *WorkerOptions,
) *Worker[Task, TaskResult] {
	if options.Pollers <= 0 {
		options.Pollers = 1
	}

	return &Worker[Task, TaskResult]{
		options: options,
		tw:      tw,
		b:       b,
		slots:   newTaskSlots(options.MaxParallelTasks),
		logger:  b.Logger(),
		clock:   b.Clock(),
	}
}

// Start starts the pollers. Cancelling ctx stops polling and cancels running tasks.
func (w *Worker[Task, TaskResult]) Start(ctx context.Context) error {
	w.pollers.Add(w.options.Pollers)

	for i := 0; i < w.options.Pollers; i++ {
		go w.poll(ctx)
	}

	return nil
}

// WaitForCompletion waits for the pollers to stop and running tasks to return. Call it after
// cancelling the context passed to Start.
func (w *Worker[Task, TaskResult]) WaitForCompletion() error {
	w.stopOnce.Do(func() {
		w.pollers.Wait()
		w.tasks.Wait()
	})

	return nil
}

func (w *Worker[Task, TaskResult]) poll(ctx context.Context) {
	defer w.pollers.Done()

	var wake <-chan struct{}
	if w.options.WakeKey != "" {
		ch, unsubscribe := w.b.Subscribe(w.options.WakeKey)
		defer unsubscribe()

		wake = ch
	}

	ticker := w.clock.Ticker(w.options.PollingInterval)
	defer ticker.Stop()

	for {
		if err := w.slots.reserve(ctx); err != nil {
			return
		}

		task, err := w.claim(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "error polling task", "error", err)
		}

		if task != nil {
			w.tasks.Add(1)
			go w.run(ctx, task)

			// More work might be waiting
			continue
		}

		w.slots.release()

		select {
		case <-ticker.C:
		case <-wake:
		case <-ctx.Done():
			return
		}
	}
}

func (w *Worker[Task, TaskResult]) claim(ctx context.Context) (*Task, error) {
	ctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()

	task, err := w.tw.Get(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return nil, nil
	}

	return task, err
}

func (w *Worker[Task, TaskResult]) run(ctx context.Context, t *Task) {
	defer w.tasks.Done()
	defer w.slots.release()

	if err := w.handle(ctx, t); err != nil {
		w.logger.ErrorContext(ctx, "error handling task", "error", err)
	}
}

func (w *Worker[Task, TaskResult]) handle(ctx context.Context, t *Task) error {
	taskCtx, cancelTask := context.WithCancel(ctx)
	defer cancelTask()

	if w.options.HeartbeatInterval > 0 {
		heartbeatCtx, stopHeartbeat := context.WithCancel(taskCtx)
		defer stopHeartbeat()

		go w.heartbeat(heartbeatCtx, t, cancelTask)
	}

	result, err := w.tw.Execute(taskCtx, t)
	if err != nil {
		return fmt.Errorf("executing task: %w", err)
	}

	// Completing must not fail because the worker is shutting down
	return w.tw.Complete(context.WithoutCancel(ctx), result, t)
}

// heartbeat extends the claim on t until ctx is done. If the claim has been lost, the task is
// cancelled, another worker may already own it. Other errors are retried on the next tick.
func (w *Worker[Task, TaskResult]) heartbeat(ctx context.Context, t *Task, cancelTask context.CancelFunc) {
	ticker := w.clock.Ticker(w.options.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if err := w.tw.Extend(ctx, t); err != nil {
				if ctx.Err() != nil {
					return
				}

				if errors.Is(err, backend.ErrLeaseLost) {
					w.logger.WarnContext(ctx, "lost claim on task", "error", err)
					cancelTask()
					return
				}

				w.logger.ErrorContext(ctx, "could not heartbeat task", "error", err)
			}
		}
	}
}
