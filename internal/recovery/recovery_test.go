package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/sqlite"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/registry"
	"github.com/stretchr/testify/require"
)

func cleanup(ctx context.Context) error {
	return nil
}

func newCoordinator(t *testing.T, opts ...registry.RegisterOption) (*Coordinator, backend.Backend, *clock.Mock) {
	c := clock.NewMock()
	c.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	b := sqlite.NewInMemoryBackend(sqlite.WithBackendOptions(backend.WithClock(c)))
	t.Cleanup(func() { b.Close() })

	r := registry.New()
	require.NoError(t, r.RegisterWorkflow(func(ctx context.Context) error { return cleanup(ctx) },
		append([]registry.RegisterOption{registry.WithName("cleanup")}, opts...)...))

	return NewCoordinator(b, r, Options{
		ExecutorID:   "executor-1",
		LeaseTimeout: 30 * time.Second,
	}), b, c
}

func create(t *testing.T, b backend.Backend, id, name string) {
	require.NoError(t, b.CreateWorkflowInstance(context.Background(), core.NewWorkflowInstance(id, name, nil)))
}

func Test_Coordinator_ClaimsPending(t *testing.T) {
	ctx := context.Background()
	co, b, _ := newCoordinator(t)

	create(t, b, "wf-1", "cleanup")

	instance, err := co.Next(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, instance)
	require.Equal(t, "wf-1", instance.ID)
	require.Equal(t, core.WorkflowStatusRunning, instance.Status)
	require.Equal(t, "executor-1", instance.ExecutorID)
	require.Equal(t, 1, instance.Attempts)

	instance, err = co.Next(ctx, nil)
	require.NoError(t, err)
	require.Nil(t, instance)
}

func Test_Coordinator_SkipsUnregisteredAndSkipped(t *testing.T) {
	ctx := context.Background()
	co, b, _ := newCoordinator(t)

	create(t, b, "wf-1", "unknown")
	create(t, b, "wf-2", "cleanup")

	instance, err := co.Next(ctx, func(id string) bool { return id == "wf-2" })
	require.NoError(t, err)
	require.Nil(t, instance)

	stored, err := b.GetWorkflowInstance(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, core.WorkflowStatusPending, stored.Status)
}

func Test_Coordinator_RecoversStaleInstances(t *testing.T) {
	ctx := context.Background()
	co, b, c := newCoordinator(t)

	create(t, b, "wf-1", "cleanup")

	claimed, err := b.ClaimWorkflowInstance(ctx, "wf-1", "crashed", time.Time{})
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Lease has not expired yet
	c.Add(10 * time.Second)
	instance, err := co.Next(ctx, nil)
	require.NoError(t, err)
	require.Nil(t, instance)

	candidates, err := co.Candidates(ctx)
	require.NoError(t, err)
	require.Empty(t, candidates)

	c.Add(30 * time.Second)

	instance, err = co.Next(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, instance)
	require.Equal(t, "executor-1", instance.ExecutorID)
	require.Equal(t, 2, instance.Attempts)
}

func Test_Coordinator_HeartbeatKeepsInstance(t *testing.T) {
	ctx := context.Background()
	co, b, c := newCoordinator(t)

	create(t, b, "wf-1", "cleanup")

	_, err := b.ClaimWorkflowInstance(ctx, "wf-1", "other", time.Time{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		c.Add(20 * time.Second)
		require.NoError(t, b.HeartbeatWorkflowInstance(ctx, "wf-1", "other"))

		instance, err := co.Next(ctx, nil)
		require.NoError(t, err)
		require.Nil(t, instance)
	}
}

func Test_Coordinator_GivesUpAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	co, b, c := newCoordinator(t, registry.WithMaxRecoveryAttempts(1))

	create(t, b, "wf-1", "cleanup")

	_, err := b.ClaimWorkflowInstance(ctx, "wf-1", "crashed", time.Time{})
	require.NoError(t, err)

	// First recovery
	c.Add(time.Minute)
	instance, err := co.Next(ctx, nil)
	require.NoError(t, err)
	require.NotNil(t, instance)
	require.Equal(t, 2, instance.Attempts)

	// Second recovery exceeds the limit
	c.Add(time.Minute)
	instance, err = co.Next(ctx, nil)
	require.NoError(t, err)
	require.Nil(t, instance)

	stored, err := b.GetWorkflowInstance(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, core.WorkflowStatusError, stored.Status)
	require.NotNil(t, stored.Error)
	require.Equal(t, ErrMaxRecoveryAttemptsExceeded.Error(), stored.Error.Message)
	require.True(t, stored.Error.Permanent)
}

func Test_Coordinator_ClaimsOldestFirst(t *testing.T) {
	ctx := context.Background()
	_, b, c := newCoordinator(t)

	r := registry.New()
	require.NoError(t, r.RegisterWorkflow(cleanup, registry.WithName("cleanup")))
	co := NewCoordinator(b, r, Options{
		ExecutorID:   "executor-1",
		LeaseTimeout: 30 * time.Second,
		BatchSize:    2,
	})

	// Instances nobody here can run do not take up the batch
	create(t, b, "report-1", "report")
	c.Add(time.Second)
	create(t, b, "report-2", "report")
	c.Add(time.Second)

	for _, id := range []string{"wf-1", "wf-2", "wf-3", "wf-4", "wf-5"} {
		create(t, b, id, "cleanup")
		c.Add(time.Second)
	}

	for _, id := range []string{"wf-1", "wf-2", "wf-3", "wf-4", "wf-5"} {
		instance, err := co.Next(ctx, nil)
		require.NoError(t, err)
		require.NotNil(t, instance)
		require.Equal(t, id, instance.ID)
	}

	instance, err := co.Next(ctx, nil)
	require.NoError(t, err)
	require.Nil(t, instance)
}
