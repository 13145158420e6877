package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/payload"
	"github.com/go-durable/durable/backend/sqlite"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/internal/workflowerrors"
	"github.com/go-durable/durable/registry"
	"github.com/go-durable/durable/workflow"
	"github.com/stretchr/testify/require"
)

func newExecutor(t *testing.T, workflows map[string]any) (*Executor, backend.Backend) {
	b := sqlite.NewInMemoryBackend()
	t.Cleanup(func() { b.Close() })

	r := registry.New()
	for name, wf := range workflows {
		require.NoError(t, r.RegisterWorkflow(wf, registry.WithName(name)))
	}

	return NewExecutor(b, r), b
}

func instance(t *testing.T, b backend.Backend, name string, args ...any) *core.WorkflowInstance {
	inputs := make([]payload.Payload, 0, len(args))
	for _, arg := range args {
		p, err := b.Converter().To(arg)
		require.NoError(t, err)
		inputs = append(inputs, p)
	}

	i := core.NewWorkflowInstance("wf-1", name, inputs)
	require.NoError(t, b.CreateWorkflowInstance(context.Background(), i))

	return i
}

func Test_Executor_Success(t *testing.T) {
	e, b := newExecutor(t, map[string]any{
		"double": func(ctx workflow.Context, n int) (int, error) {
			return n * 2, nil
		},
	})

	result := e.Execute(context.Background(), instance(t, b, "double", 21))
	require.NoError(t, result.Aborted)
	require.Equal(t, core.WorkflowStatusSuccess, result.Status)
	require.Equal(t, payload.Payload(`42`), result.Output)
	require.Nil(t, result.Error)
}

func Test_Executor_NoResult(t *testing.T) {
	e, b := newExecutor(t, map[string]any{
		"noop": func(ctx workflow.Context) error {
			return nil
		},
	})

	result := e.Execute(context.Background(), instance(t, b, "noop"))
	require.Equal(t, core.WorkflowStatusSuccess, result.Status)
	require.Nil(t, result.Output)
}

func Test_Executor_Error(t *testing.T) {
	e, b := newExecutor(t, map[string]any{
		"fail": func(ctx workflow.Context) (int, error) {
			return 0, errors.New("out of stock")
		},
	})

	result := e.Execute(context.Background(), instance(t, b, "fail"))
	require.NoError(t, result.Aborted)
	require.Equal(t, core.WorkflowStatusError, result.Status)
	require.Equal(t, "out of stock", result.Error.Message)
}

func Test_Executor_Panic(t *testing.T) {
	e, b := newExecutor(t, map[string]any{
		"panic": func(ctx workflow.Context) error {
			panic("nil pointer")
		},
	})

	result := e.Execute(context.Background(), instance(t, b, "panic"))
	require.Equal(t, core.WorkflowStatusError, result.Status)

	var perr *workflowerrors.PanicError
	require.ErrorAs(t, workflowerrors.ToError(result.Error), &perr)
	require.Contains(t, perr.Error(), "nil pointer")
}

func Test_Executor_InvalidInputs(t *testing.T) {
	e, b := newExecutor(t, map[string]any{
		"double": func(ctx workflow.Context, n int) (int, error) {
			return n * 2, nil
		},
	})

	result := e.Execute(context.Background(), instance(t, b, "double", "twenty-one"))
	require.NoError(t, result.Aborted)
	require.Equal(t, core.WorkflowStatusError, result.Status)
}

func Test_Executor_UnregisteredWorkflowAborts(t *testing.T) {
	e, b := newExecutor(t, nil)

	result := e.Execute(context.Background(), instance(t, b, "unknown"))
	require.Error(t, result.Aborted)
}

func Test_Executor_CanceledExecutionAborts(t *testing.T) {
	e, b := newExecutor(t, map[string]any{
		"sleep": func(ctx workflow.Context) error {
			return workflow.Sleep(ctx, time.Hour)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := e.Execute(ctx, instance(t, b, "sleep"))
	require.ErrorIs(t, result.Aborted, context.Canceled)
}

func Test_Executor_ReplaysSteps(t *testing.T) {
	calls := 0
	e, b := newExecutor(t, map[string]any{
		"steps": func(ctx workflow.Context) (int, error) {
			return workflow.ExecuteStep[int](ctx, workflow.DefaultStepOptions, func(context.Context) (int, error) {
				calls++
				return calls, nil
			})
		},
	})

	i := instance(t, b, "steps")

	first := e.Execute(context.Background(), i)
	second := e.Execute(context.Background(), i)

	require.Equal(t, core.WorkflowStatusSuccess, second.Status)
	require.Equal(t, first.Output, second.Output)
	require.Equal(t, 1, calls)
}
