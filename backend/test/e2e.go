package test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/client"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/registry"
	"github.com/go-durable/durable/worker"
	"github.com/go-durable/durable/workflow"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var e2eWorkerOptions = worker.Options{
	Pollers:           2,
	HeartbeatInterval: 50 * time.Millisecond,
	LeaseTimeout:      500 * time.Millisecond,
	RecoveryInterval:  50 * time.Millisecond,
}

var fastRetries = workflow.RetryOptions{
	MaxAttempts:        3,
	FirstRetryInterval: time.Millisecond,
	MaxRetryInterval:   10 * time.Millisecond,
	BackoffCoefficient: 2,
}

// EndToEndBackendTest runs workflows against the backend through a worker.
func EndToEndBackendTest(t *testing.T, setup func() backend.Backend, teardown func(b backend.Backend)) {
	tests := []struct {
		name string
		f    func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker)
	}{
		{
			name: "SimpleWorkflow",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				wf := func(ctx workflow.Context, msg string) (string, error) {
					return msg + " world", nil
				}
				register(t, ctx, w, []any{wf})

				output, err := runWorkflowWithResult[string](t, ctx, c, wf, "hello")

				require.NoError(t, err)
				require.Equal(t, "hello world", output)
			},
		},
		{
			name: "WorkflowError",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				wf := func(ctx workflow.Context) (int, error) {
					return 0, errors.New("insufficient inventory")
				}
				register(t, ctx, w, []any{wf})

				output, err := runWorkflowWithResult[int](t, ctx, c, wf)

				require.Zero(t, output)
				require.EqualError(t, err, "insufficient inventory")

				var werr *workflow.Error
				require.ErrorAs(t, err, &werr)
			},
		},
		{
			name: "WorkflowPanic",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				wf := func(ctx workflow.Context) error {
					panic("boom")
				}
				register(t, ctx, w, []any{wf})

				_, err := runWorkflowWithResult[any](t, ctx, c, wf)

				var perr *workflow.PanicError
				require.ErrorAs(t, err, &perr)
				require.Contains(t, err.Error(), "boom")
			},
		},
		{
			name: "WorkflowArgumentMismatch",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				wf := func(ctx workflow.Context, p1 int) (int, error) {
					return 42, nil
				}
				require.NoError(t, w.RegisterWorkflow(wf, registry.WithName("arg-mismatch")))
				register(t, ctx, w, nil)

				output, err := runWorkflowWithResult[int](t, ctx, c, "arg-mismatch", "not a number")
				require.Error(t, err)
				require.Zero(t, output)
			},
		},
		{
			name: "UnregisteredWorkflowStaysPending",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				register(t, ctx, w, nil)

				instance, err := c.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{}, "unknown")
				require.NoError(t, err)

				time.Sleep(200 * time.Millisecond)

				instance, err = c.GetWorkflowInstance(ctx, instance.ID)
				require.NoError(t, err)
				require.Equal(t, core.WorkflowStatusPending, instance.Status)
			},
		},
		{
			name: "Steps_ExecuteInOrder",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				add := func(ctx context.Context, a, b int) (int, error) {
					return a + b, nil
				}
				wf := func(ctx workflow.Context) (int, error) {
					r1, err := workflow.ExecuteStep[int](ctx, workflow.DefaultStepOptions, add, 1, 2)
					if err != nil {
						return 0, err
					}

					return workflow.ExecuteStep[int](ctx, workflow.DefaultStepOptions, add, r1, 3)
				}
				register(t, ctx, w, []any{wf})

				instance := runWorkflow(t, ctx, c, wf)
				output, err := client.GetWorkflowResult[int](ctx, c, instance.ID, 10*time.Second)
				require.NoError(t, err)
				require.Equal(t, 6, output)

				steps, err := c.GetSteps(ctx, instance.ID)
				require.NoError(t, err)
				require.Len(t, steps, 2)
				require.Equal(t, 0, steps[0].StepNumber)
				require.Equal(t, 1, steps[1].StepNumber)
			},
		},
		{
			name: "Steps_RetryTransientErrors",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				var calls int32
				flaky := func(ctx context.Context) (string, error) {
					if atomic.AddInt32(&calls, 1) < 3 {
						return "", errors.New("connection reset")
					}

					return "ok", nil
				}
				wf := func(ctx workflow.Context) (string, error) {
					return workflow.ExecuteStep[string](ctx, workflow.StepOptions{RetryOptions: &fastRetries}, flaky)
				}
				register(t, ctx, w, []any{wf})

				output, err := runWorkflowWithResult[string](t, ctx, c, wf)
				require.NoError(t, err)
				require.Equal(t, "ok", output)
				require.Equal(t, int32(3), atomic.LoadInt32(&calls))
			},
		},
		{
			name: "Steps_PermanentErrorIsNotRetried",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				var calls int32
				validate := func(ctx context.Context) error {
					atomic.AddInt32(&calls, 1)
					return workflow.NewPermanentError(errors.New("invalid address"))
				}
				wf := func(ctx workflow.Context) error {
					_, err := workflow.ExecuteStep[any](ctx, workflow.StepOptions{RetryOptions: &fastRetries}, validate)
					return err
				}
				register(t, ctx, w, []any{wf})

				_, err := runWorkflowWithResult[any](t, ctx, c, wf)
				require.ErrorContains(t, err, "invalid address")
				require.Equal(t, int32(1), atomic.LoadInt32(&calls))
			},
		},
		{
			name: "Steps_ErrorIsRecordedAfterRetries",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				var calls int32
				down := func(ctx context.Context) error {
					atomic.AddInt32(&calls, 1)
					return errors.New("service unavailable")
				}
				wf := func(ctx workflow.Context) (string, error) {
					if _, err := workflow.ExecuteStep[any](ctx, workflow.StepOptions{RetryOptions: &fastRetries}, down); err != nil {
						return "compensated", nil
					}

					return "charged", nil
				}
				register(t, ctx, w, []any{wf})

				instance := runWorkflow(t, ctx, c, wf)
				output, err := client.GetWorkflowResult[string](ctx, c, instance.ID, 10*time.Second)
				require.NoError(t, err)
				require.Equal(t, "compensated", output)
				require.Equal(t, int32(3), atomic.LoadInt32(&calls))

				steps, err := c.GetSteps(ctx, instance.ID)
				require.NoError(t, err)
				require.Len(t, steps, 1)
				require.NotNil(t, steps[0].Error)
				require.Equal(t, "service unavailable", steps[0].Error.Message)
			},
		},
		{
			name: "Steps_PanicFailsStep",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				var calls int32
				s := func(ctx context.Context) error {
					atomic.AddInt32(&calls, 1)
					panic("nil map")
				}
				wf := func(ctx workflow.Context) error {
					_, err := workflow.ExecuteStep[any](ctx, workflow.StepOptions{RetryOptions: &fastRetries}, s)
					return err
				}
				register(t, ctx, w, []any{wf})

				_, err := runWorkflowWithResult[any](t, ctx, c, wf)

				var perr *workflow.PanicError
				require.ErrorAs(t, err, &perr)
				require.Equal(t, int32(1), atomic.LoadInt32(&calls))
			},
		},
		{
			name: "Steps_StepInfo",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				s := func(ctx context.Context) (string, error) {
					info, ok := workflow.StepInfoFromContext(ctx)
					if !ok {
						return "", errors.New("no step info")
					}

					return fmt.Sprintf("%s/%d", info.WorkflowID, info.StepNumber), nil
				}
				wf := func(ctx workflow.Context) (string, error) {
					if _, err := workflow.Now(ctx); err != nil {
						return "", err
					}

					return workflow.ExecuteStep[string](ctx, workflow.DefaultStepOptions, s)
				}
				register(t, ctx, w, []any{wf})

				instance := runWorkflow(t, ctx, c, wf)
				output, err := client.GetWorkflowResult[string](ctx, c, instance.ID, 10*time.Second)
				require.NoError(t, err)
				require.Equal(t, instance.ID+"/1", output)
			},
		},
		{
			name: "Steps_NestedDurableOperationFails",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				wf := func(ctx workflow.Context) error {
					_, err := workflow.ExecuteStep[any](ctx, workflow.StepOptions{RetryOptions: &workflow.NoRetries}, func(context.Context) error {
						return workflow.SetEvent(ctx, "k", "v")
					})
					return err
				}
				register(t, ctx, w, []any{wf})

				_, err := runWorkflowWithResult[any](t, ctx, c, wf)
				require.ErrorContains(t, err, workflow.ErrNestedStep.Error())
			},
		},
		{
			name: "StartWorkflow_SameIDRunsOnce",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				var runs int32
				wf := func(ctx workflow.Context, orderID string) (string, error) {
					atomic.AddInt32(&runs, 1)
					return orderID, nil
				}
				register(t, ctx, w, []any{wf})

				id := uuid.NewString()

				var wg sync.WaitGroup
				handles := make([]*client.Handle[string], 5)
				for i := range handles {
					wg.Add(1)
					go func(i int) {
						defer wg.Done()

						h, err := worker.Invoke[string](ctx, w, client.WorkflowInstanceOptions{InstanceID: id}, wf, "order-1")
						require.NoError(t, err)
						handles[i] = h
					}(i)
				}
				wg.Wait()

				for _, h := range handles {
					output, err := h.GetResult(ctx)
					require.NoError(t, err)
					require.Equal(t, "order-1", output)
				}

				// Starting a finished instance again does not run it again
				h, err := worker.Invoke[string](ctx, w, client.WorkflowInstanceOptions{InstanceID: id}, wf, "order-1")
				require.NoError(t, err)

				status, err := h.GetStatus(ctx)
				require.NoError(t, err)
				require.Equal(t, core.WorkflowStatusSuccess, status)
				require.Equal(t, int32(1), atomic.LoadInt32(&runs))
			},
		},
		{
			name: "SendRecv_FIFO",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				wf := func(ctx workflow.Context) ([]string, error) {
					var received []string
					for i := 0; i < 3; i++ {
						m, ok, err := workflow.Recv[string](ctx, "orders", 10*time.Second)
						if err != nil {
							return nil, err
						}

						if !ok {
							return nil, errors.New("timed out")
						}

						received = append(received, m)
					}

					return received, nil
				}
				register(t, ctx, w, []any{wf})

				instance := runWorkflow(t, ctx, c, wf)

				for _, m := range []string{"m1", "m2", "m3"} {
					require.NoError(t, c.Send(ctx, instance.ID, "orders", m))
				}

				output, err := client.GetWorkflowResult[[]string](ctx, c, instance.ID, 10*time.Second)
				require.NoError(t, err)
				require.Equal(t, []string{"m1", "m2", "m3"}, output)
			},
		},
		{
			name: "Recv_Timeout",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				wf := func(ctx workflow.Context) (bool, error) {
					_, ok, err := workflow.Recv[string](ctx, "payment", 200*time.Millisecond)
					return ok, err
				}
				register(t, ctx, w, []any{wf})

				start := time.Now()
				instance := runWorkflow(t, ctx, c, wf)

				ok, err := client.GetWorkflowResult[bool](ctx, c, instance.ID, 10*time.Second)
				require.NoError(t, err)
				require.False(t, ok)
				require.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)

				steps, err := c.GetSteps(ctx, instance.ID)
				require.NoError(t, err)
				require.Len(t, steps, 2)
				require.Nil(t, steps[1].Output)
				require.Nil(t, steps[1].Error)
			},
		},
		{
			name: "Send_BetweenWorkflows",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				receiver := func(ctx workflow.Context) (int, error) {
					v, _, err := workflow.Recv[int](ctx, "n", 10*time.Second)
					return v, err
				}
				sender := func(ctx workflow.Context, dest string) error {
					return workflow.Send(ctx, dest, "n", 42)
				}
				register(t, ctx, w, []any{receiver, sender})

				r := runWorkflow(t, ctx, c, receiver)
				s := runWorkflow(t, ctx, c, sender, r.ID)

				_, err := client.GetWorkflowResult[any](ctx, c, s.ID, 10*time.Second)
				require.NoError(t, err)

				output, err := client.GetWorkflowResult[int](ctx, c, r.ID, 10*time.Second)
				require.NoError(t, err)
				require.Equal(t, 42, output)
			},
		},
		{
			name: "Send_UnknownDestination",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				wf := func(ctx workflow.Context) error {
					return workflow.Send(ctx, "does-not-exist", "n", 1)
				}
				register(t, ctx, w, []any{wf})

				_, err := runWorkflowWithResult[any](t, ctx, c, wf)
				require.ErrorContains(t, err, backend.ErrInstanceNotFound.Error())

				err = c.Send(ctx, "does-not-exist", "n", 1)
				require.ErrorIs(t, err, backend.ErrInstanceNotFound)
			},
		},
		{
			name: "Events_GetFromClient",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				wf := func(ctx workflow.Context) error {
					if err := workflow.SetEvent(ctx, "payment_url", "https://pay/1"); err != nil {
						return err
					}

					_, _, err := workflow.Recv[string](ctx, "done", 10*time.Second)
					return err
				}
				register(t, ctx, w, []any{wf})

				instance := runWorkflow(t, ctx, c, wf)

				url, ok, err := client.GetEvent[string](ctx, c, instance.ID, "payment_url", 10*time.Second)
				require.NoError(t, err)
				require.True(t, ok)
				require.Equal(t, "https://pay/1", url)

				_, ok, err = client.GetEvent[string](ctx, c, instance.ID, "missing", 50*time.Millisecond)
				require.NoError(t, err)
				require.False(t, ok)

				require.NoError(t, c.Send(ctx, instance.ID, "done", "x"))

				_, err = client.GetWorkflowResult[any](ctx, c, instance.ID, 10*time.Second)
				require.NoError(t, err)
			},
		},
		{
			name: "Events_GetFromWorkflow",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				producer := func(ctx workflow.Context) error {
					return workflow.SetEvent(ctx, "status", "ready")
				}
				consumer := func(ctx workflow.Context, producerID string) (string, error) {
					v, ok, err := workflow.GetEvent[string](ctx, producerID, "status", 10*time.Second)
					if err != nil {
						return "", err
					}

					if !ok {
						return "timeout", nil
					}

					return v, nil
				}
				register(t, ctx, w, []any{producer, consumer})

				producerID := uuid.NewString()
				consumerInstance := runWorkflow(t, ctx, c, consumer, producerID)

				_, err := c.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{InstanceID: producerID}, producer)
				require.NoError(t, err)

				output, err := client.GetWorkflowResult[string](ctx, c, consumerInstance.ID, 10*time.Second)
				require.NoError(t, err)
				require.Equal(t, "ready", output)
			},
		},
		{
			name: "Sleep",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				wf := func(ctx workflow.Context) error {
					return workflow.Sleep(ctx, 100*time.Millisecond)
				}
				register(t, ctx, w, []any{wf})

				start := time.Now()
				_, err := runWorkflowWithResult[any](t, ctx, c, wf)
				require.NoError(t, err)
				require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
			},
		},
		{
			name: "Recovery_ResumesAtFirstUnrecordedStep",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				var reserved, charged int32
				reserve := func(ctx context.Context) (string, error) {
					atomic.AddInt32(&reserved, 1)
					return "reservation", nil
				}
				charge := func(ctx context.Context, reservation string) (string, error) {
					atomic.AddInt32(&charged, 1)
					return "charged " + reservation, nil
				}
				wf := func(ctx workflow.Context) (string, error) {
					r, err := workflow.ExecuteStep[string](ctx, workflow.DefaultStepOptions, reserve)
					if err != nil {
						return "", err
					}

					return workflow.ExecuteStep[string](ctx, workflow.DefaultStepOptions, charge, r)
				}
				require.NoError(t, w.RegisterWorkflow(wf))

				// Simulate an executor that recorded the first step and crashed
				instance, err := c.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{}, wf)
				require.NoError(t, err)

				claimed, err := b.ClaimWorkflowInstance(ctx, instance.ID, "crashed", time.Time{})
				require.NoError(t, err)
				require.NotNil(t, claimed)

				require.NoError(t, b.RecordStepResult(ctx, &core.StepRecord{
					WorkflowID: instance.ID,
					StepNumber: 0,
					StepName:   "reserve",
					Output:     []byte(`"reservation"`),
				}))

				require.NoError(t, w.Start(ctx))

				output, err := client.GetWorkflowResult[string](ctx, c, instance.ID, 10*time.Second)
				require.NoError(t, err)
				require.Equal(t, "charged reservation", output)
				require.Equal(t, int32(0), atomic.LoadInt32(&reserved))
				require.Equal(t, int32(1), atomic.LoadInt32(&charged))

				instance, err = c.GetWorkflowInstance(ctx, instance.ID)
				require.NoError(t, err)
				require.Equal(t, 2, instance.Attempts)
				require.Equal(t, w.ExecutorID(), instance.ExecutorID)
			},
		},
		{
			name: "Recovery_GivesUpAfterMaxAttempts",
			f: func(t *testing.T, ctx context.Context, b backend.Backend, c *client.Client, w *worker.Worker) {
				wf := func(ctx workflow.Context) error {
					return nil
				}
				require.NoError(t, w.RegisterWorkflow(wf, registry.WithMaxRecoveryAttempts(0)))

				instance, err := c.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{}, wf)
				require.NoError(t, err)

				claimed, err := b.ClaimWorkflowInstance(ctx, instance.ID, "crashed", time.Time{})
				require.NoError(t, err)
				require.NotNil(t, claimed)

				require.NoError(t, w.Start(ctx))

				_, err = client.GetWorkflowResult[any](ctx, c, instance.ID, 10*time.Second)
				require.ErrorContains(t, err, worker.ErrMaxRecoveryAttemptsExceeded.Error())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := setup()
			ctx := context.Background()
			ctx, cancel := context.WithCancel(ctx)

			c := client.New(b)
			options := e2eWorkerOptions
			w := worker.New(b, &options)

			tt.f(t, ctx, b, c, w)

			cancel()
			if err := w.WaitForCompletion(); err != nil {
				fmt.Println("Worker did not stop in time")
				t.FailNow()
			}

			if teardown != nil {
				teardown(b)
			}
		})
	}
}

func register(t *testing.T, ctx context.Context, w *worker.Worker, workflows []any) {
	for _, wf := range workflows {
		require.NoError(t, w.RegisterWorkflow(wf))
	}

	err := w.Start(ctx)
	require.NoError(t, err)
}

func runWorkflow(t *testing.T, ctx context.Context, c *client.Client, wf any, inputs ...any) *workflow.Instance {
	instance, err := c.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{
		InstanceID: uuid.NewString(),
	}, wf, inputs...)
	require.NoError(t, err)

	return instance
}

func runWorkflowWithResult[T any](t *testing.T, ctx context.Context, c *client.Client, wf any, inputs ...any) (T, error) {
	instance := runWorkflow(t, ctx, c, wf, inputs...)
	return client.GetWorkflowResult[T](ctx, c, instance.ID, time.Second*10)
}
