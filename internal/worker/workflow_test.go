package worker

import (
	"context"
	"testing"
	"time"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/payload"
	"github.com/go-durable/durable/backend/sqlite"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/internal/executor"
	"github.com/go-durable/durable/registry"
	"github.com/go-durable/durable/workflow"
	"github.com/stretchr/testify/require"
)

func greet(ctx workflow.Context, name string) (string, error) {
	return "hello " + name, nil
}

func newTestWorkflowWorker(t *testing.T, b backend.Backend, executorID string) *WorkflowWorker {
	r := registry.New()
	require.NoError(t, r.RegisterWorkflow(greet, registry.WithName("greet")))

	return newWorkflowWorker(b, r, WorkflowWorkerOptions{
		ExecutorID:   executorID,
		LeaseTimeout: time.Minute,
	})
}

func Test_WorkflowWorker_ClaimsExecutesCompletes(t *testing.T) {
	ctx := context.Background()

	b := sqlite.NewInMemoryBackend()
	defer b.Close()

	ww := newTestWorkflowWorker(t, b, "executor-1")

	input, err := b.Converter().To("durable")
	require.NoError(t, err)
	require.NoError(t, b.CreateWorkflowInstance(ctx, core.NewWorkflowInstance("wf-1", "greet", []payload.Payload{input})))

	instance, err := ww.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, instance)
	require.Equal(t, "wf-1", instance.ID)
	require.True(t, ww.isRunning("wf-1"))

	// Running instances are not handed out twice
	again, err := ww.Get(ctx)
	require.NoError(t, err)
	require.Nil(t, again)

	require.NoError(t, ww.Extend(ctx, instance))

	result, err := ww.Execute(ctx, instance)
	require.NoError(t, err)
	require.Nil(t, result.Aborted)
	require.Equal(t, core.WorkflowStatusSuccess, result.Status)

	require.NoError(t, ww.Complete(ctx, result, instance))
	require.False(t, ww.isRunning("wf-1"))

	stored, err := b.GetWorkflowInstance(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, core.WorkflowStatusSuccess, stored.Status)

	var output string
	require.NoError(t, b.Converter().From(stored.Output, &output))
	require.Equal(t, "hello durable", output)
}

func Test_WorkflowWorker_AbortedExecutionStaysRunning(t *testing.T) {
	ctx := context.Background()

	b := sqlite.NewInMemoryBackend()
	defer b.Close()

	ww := newTestWorkflowWorker(t, b, "executor-1")

	require.NoError(t, b.CreateWorkflowInstance(ctx, core.NewWorkflowInstance("wf-1", "greet", nil)))

	instance, err := ww.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, instance)

	result, err := ww.Execute(ctx, &core.WorkflowInstance{ID: "wf-1", Name: "unknown"})
	require.NoError(t, err)
	require.Error(t, result.Aborted)

	require.NoError(t, ww.Complete(ctx, result, instance))

	stored, err := b.GetWorkflowInstance(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, core.WorkflowStatusRunning, stored.Status)
	require.Equal(t, "executor-1", stored.ExecutorID)
}

func Test_WorkflowWorker_LostLease(t *testing.T) {
	ctx := context.Background()

	b := sqlite.NewInMemoryBackend()
	defer b.Close()

	ww := newTestWorkflowWorker(t, b, "executor-1")

	require.NoError(t, b.CreateWorkflowInstance(ctx, core.NewWorkflowInstance("wf-1", "greet", nil)))

	instance, err := ww.Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, instance)

	// Another executor takes over
	claimed, err := b.ClaimWorkflowInstance(ctx, "wf-1", "executor-2", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, claimed)

	require.ErrorIs(t, ww.Extend(ctx, instance), backend.ErrLeaseLost)

	// Completion by the previous owner is dropped
	require.NoError(t, ww.Complete(ctx, &executor.Result{Status: core.WorkflowStatusSuccess}, instance))

	stored, err := b.GetWorkflowInstance(ctx, "wf-1")
	require.NoError(t, err)
	require.Equal(t, core.WorkflowStatusRunning, stored.Status)
	require.Equal(t, "executor-2", stored.ExecutorID)
}
