package recovery

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/metrics"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/internal/metrickeys"
	"github.com/go-durable/durable/internal/workflowerrors"
	"github.com/go-durable/durable/log"
	"github.com/go-durable/durable/registry"
)

var ErrMaxRecoveryAttemptsExceeded = errors.New("workflow instance exceeded the maximum number of recovery attempts")

type Options struct {
	ExecutorID string

	// LeaseTimeout is how long a RUNNING instance can go without heartbeat before it is considered
	// abandoned by its executor.
	LeaseTimeout time.Duration

	// BatchSize limits the number of candidates looked at per scan
	BatchSize int
}

// Coordinator finds workflow instances that need an executor and claims them: instances nobody has
// started yet and RUNNING instances whose executor stopped heartbeating.
type Coordinator struct {
	backend  backend.Backend
	registry *registry.Registry
	options  Options
	logger   *slog.Logger
	clock    clock.Clock
}

func NewCoordinator(b backend.Backend, r *registry.Registry, options Options) *Coordinator {
	if options.BatchSize <= 0 {
		options.BatchSize = 100
	}

	return &Coordinator{
		backend:  b,
		registry: r,
		options:  options,
		logger:   b.Logger(),
		clock:    b.Clock(),
	}
}

// Next claims the next instance to execute, or returns nil if there is none. Instances for which
// skip returns true are not considered.
func (c *Coordinator) Next(ctx context.Context, skip func(instanceID string) bool) (*core.WorkflowInstance, error) {
	candidates, err := c.Candidates(ctx)
	if err != nil {
		return nil, err
	}

	staleBefore := c.clock.Now().Add(-c.options.LeaseTimeout)

	for _, candidate := range candidates {
		if skip != nil && skip(candidate.ID) {
			continue
		}

		wf, err := c.registry.GetWorkflow(candidate.Name)
		if err != nil {
			// Left for an executor that knows the workflow
			continue
		}

		instance, err := c.backend.ClaimWorkflowInstance(ctx, candidate.ID, c.options.ExecutorID, staleBefore)
		if err != nil {
			return nil, err
		}

		if instance == nil {
			continue
		}

		logger := c.logger.With(
			log.InstanceIDKey, instance.ID,
			log.WorkflowNameKey, instance.Name,
			log.AttemptsKey, instance.Attempts,
			log.ExecutorIDKey, c.options.ExecutorID,
		)

		if candidate.Status == core.WorkflowStatusRunning {
			logger.Info("Recovering workflow instance", "previous_executor", candidate.ExecutorID)
			c.backend.Metrics().Counter(metrickeys.WorkflowInstanceRecovered, metrics.Tags{metrickeys.WorkflowName: instance.Name}, 1)
		}

		if instance.Attempts > wf.MaxRecoveryAttempts+1 {
			if err := c.abandon(ctx, instance); err != nil {
				return nil, err
			}

			logger.Error("Workflow instance exceeded recovery attempts, marking as failed")
			continue
		}

		return instance, nil
	}

	return nil, nil
}

// Candidates returns PENDING instances and RUNNING instances whose lease has expired, oldest first.
// Only instances of registered workflows are considered.
func (c *Coordinator) Candidates(ctx context.Context) ([]*core.WorkflowInstance, error) {
	names := c.registry.GetWorkflowNames()
	if len(names) == 0 {
		return nil, nil
	}

	pending, err := c.backend.ListWorkflowInstances(ctx, backend.ListOptions{
		Statuses:    []core.WorkflowStatus{core.WorkflowStatusPending},
		Names:       names,
		OldestFirst: true,
		Limit:       c.options.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	stale, err := c.backend.ListWorkflowInstances(ctx, backend.ListOptions{
		Statuses:      []core.WorkflowStatus{core.WorkflowStatusRunning},
		Names:         names,
		UpdatedBefore: c.clock.Now().Add(-c.options.LeaseTimeout),
		OldestFirst:   true,
		Limit:         c.options.BatchSize,
	})
	if err != nil {
		return nil, err
	}

	return append(pending, stale...), nil
}

func (c *Coordinator) abandon(ctx context.Context, instance *core.WorkflowInstance) error {
	err := c.backend.CompleteWorkflowInstance(
		ctx,
		instance.ID,
		c.options.ExecutorID,
		core.WorkflowStatusError,
		nil,
		workflowerrors.FromError(workflowerrors.NewPermanentError(ErrMaxRecoveryAttemptsExceeded)),
	)
	if err != nil && !errors.Is(err, backend.ErrLeaseLost) {
		return err
	}

	c.backend.Metrics().Counter(metrickeys.WorkflowInstanceAbandoned, metrics.Tags{metrickeys.WorkflowName: instance.Name}, 1)

	return nil
}
