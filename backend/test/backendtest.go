package test

import (
	"context"
	"testing"
	"time"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/payload"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/internal/workflowerrors"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// BackendTest runs the store level tests every backend has to pass.
func BackendTest(t *testing.T, setup func() backend.Backend, teardown func(b backend.Backend)) {
	tests := []struct {
		name string
		f    func(t *testing.T, ctx context.Context, b backend.Backend)
	}{
		{
			name: "CreateWorkflowInstance_DoesNotError",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				err := b.CreateWorkflowInstance(ctx, newInstance())
				require.NoError(t, err)
			},
		},
		{
			name: "CreateWorkflowInstance_SameInstanceIDErrors",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := newInstance()

				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi))

				err := b.CreateWorkflowInstance(ctx, wfi)
				require.ErrorIs(t, err, backend.ErrInstanceAlreadyExists)
			},
		},
		{
			name: "GetWorkflowInstance_ReturnsInstance",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := newInstance([]byte(`"hello"`), []byte(`42`))
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi))

				instance, err := b.GetWorkflowInstance(ctx, wfi.ID)
				require.NoError(t, err)
				require.Equal(t, wfi.ID, instance.ID)
				require.Equal(t, wfi.Name, instance.Name)
				require.Equal(t, core.WorkflowStatusPending, instance.Status)
				require.Equal(t, wfi.Inputs, instance.Inputs)
				require.Zero(t, instance.Attempts)
				require.False(t, instance.CreatedAt.IsZero())
			},
		},
		{
			name: "GetWorkflowInstance_NotFound",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				_, err := b.GetWorkflowInstance(ctx, uuid.NewString())
				require.ErrorIs(t, err, backend.ErrInstanceNotFound)
			},
		},
		{
			name: "ListWorkflowInstances_FiltersByStatusAndName",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				name := uuid.NewString()

				pending := core.NewWorkflowInstance(uuid.NewString(), name, nil)
				running := core.NewWorkflowInstance(uuid.NewString(), name, nil)
				require.NoError(t, b.CreateWorkflowInstance(ctx, pending))
				require.NoError(t, b.CreateWorkflowInstance(ctx, running))
				require.NoError(t, b.CreateWorkflowInstance(ctx, newInstance()))

				claimed, err := b.ClaimWorkflowInstance(ctx, running.ID, "executor", time.Time{})
				require.NoError(t, err)
				require.NotNil(t, claimed)

				instances, err := b.ListWorkflowInstances(ctx, backend.ListOptions{Name: name})
				require.NoError(t, err)
				require.Len(t, instances, 2)

				instances, err = b.ListWorkflowInstances(ctx, backend.ListOptions{
					Name:     name,
					Statuses: []core.WorkflowStatus{core.WorkflowStatusRunning},
				})
				require.NoError(t, err)
				require.Len(t, instances, 1)
				require.Equal(t, running.ID, instances[0].ID)
			},
		},
		{
			name: "ListWorkflowInstances_OldestFirstByNames",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				name, other := uuid.NewString(), uuid.NewString()

				var ids []string
				for i := 0; i < 3; i++ {
					wfi := core.NewWorkflowInstance(uuid.NewString(), name, nil)
					require.NoError(t, b.CreateWorkflowInstance(ctx, wfi))
					require.NoError(t, b.CreateWorkflowInstance(ctx, core.NewWorkflowInstance(uuid.NewString(), other, nil)))
					ids = append(ids, wfi.ID)

					// Distinct creation times
					time.Sleep(2 * time.Millisecond)
				}

				instances, err := b.ListWorkflowInstances(ctx, backend.ListOptions{
					Names:       []string{name},
					OldestFirst: true,
					Limit:       2,
				})
				require.NoError(t, err)
				require.Len(t, instances, 2)
				require.Equal(t, ids[0], instances[0].ID)
				require.Equal(t, ids[1], instances[1].ID)

				instances, err = b.ListWorkflowInstances(ctx, backend.ListOptions{Names: []string{name, other}})
				require.NoError(t, err)
				require.Len(t, instances, 6)
			},
		},
		{
			name: "ClaimWorkflowInstance_ClaimsPendingOnce",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := newInstance()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi))

				instance, err := b.ClaimWorkflowInstance(ctx, wfi.ID, "a", time.Time{})
				require.NoError(t, err)
				require.NotNil(t, instance)
				require.Equal(t, core.WorkflowStatusRunning, instance.Status)
				require.Equal(t, "a", instance.ExecutorID)
				require.Equal(t, 1, instance.Attempts)

				instance, err = b.ClaimWorkflowInstance(ctx, wfi.ID, "b", time.Time{})
				require.NoError(t, err)
				require.Nil(t, instance)
			},
		},
		{
			name: "ClaimWorkflowInstance_ReclaimsStaleInstance",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := newInstance()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi))

				_, err := b.ClaimWorkflowInstance(ctx, wfi.ID, "a", time.Time{})
				require.NoError(t, err)

				// Not stale yet
				instance, err := b.ClaimWorkflowInstance(ctx, wfi.ID, "b", time.Now().Add(-time.Hour))
				require.NoError(t, err)
				require.Nil(t, instance)

				instance, err = b.ClaimWorkflowInstance(ctx, wfi.ID, "b", time.Now().Add(time.Second))
				require.NoError(t, err)
				require.NotNil(t, instance)
				require.Equal(t, "b", instance.ExecutorID)
				require.Equal(t, 2, instance.Attempts)

				// The previous executor lost its lease
				err = b.HeartbeatWorkflowInstance(ctx, wfi.ID, "a")
				require.ErrorIs(t, err, backend.ErrLeaseLost)

				require.NoError(t, b.HeartbeatWorkflowInstance(ctx, wfi.ID, "b"))
			},
		},
		{
			name: "CompleteWorkflowInstance_StoresResult",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := newInstance()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi))

				_, err := b.ClaimWorkflowInstance(ctx, wfi.ID, "a", time.Time{})
				require.NoError(t, err)

				require.NoError(t, b.CompleteWorkflowInstance(ctx, wfi.ID, "a", core.WorkflowStatusSuccess, []byte(`"done"`), nil))

				instance, err := b.GetWorkflowInstance(ctx, wfi.ID)
				require.NoError(t, err)
				require.Equal(t, core.WorkflowStatusSuccess, instance.Status)
				require.Equal(t, payload.Payload(`"done"`), instance.Output)
				require.Nil(t, instance.Error)

				// Terminal states are final
				err = b.CompleteWorkflowInstance(ctx, wfi.ID, "a", core.WorkflowStatusError, nil, nil)
				require.ErrorIs(t, err, backend.ErrLeaseLost)
			},
		},
		{
			name: "CompleteWorkflowInstance_StoresError",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := newInstance()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi))

				_, err := b.ClaimWorkflowInstance(ctx, wfi.ID, "a", time.Time{})
				require.NoError(t, err)

				werr := workflowerrors.FromError(errors.New("out of stock"))
				require.NoError(t, b.CompleteWorkflowInstance(ctx, wfi.ID, "a", core.WorkflowStatusError, nil, werr))

				instance, err := b.GetWorkflowInstance(ctx, wfi.ID)
				require.NoError(t, err)
				require.Equal(t, core.WorkflowStatusError, instance.Status)
				require.NotNil(t, instance.Error)
				require.Equal(t, "out of stock", instance.Error.Message)
			},
		},
		{
			name: "CompleteWorkflowInstance_RequiresLease",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := newInstance()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi))

				// Not claimed
				err := b.CompleteWorkflowInstance(ctx, wfi.ID, "a", core.WorkflowStatusSuccess, nil, nil)
				require.ErrorIs(t, err, backend.ErrLeaseLost)

				_, err = b.ClaimWorkflowInstance(ctx, wfi.ID, "a", time.Time{})
				require.NoError(t, err)

				err = b.CompleteWorkflowInstance(ctx, wfi.ID, "b", core.WorkflowStatusSuccess, nil, nil)
				require.ErrorIs(t, err, backend.ErrLeaseLost)
			},
		},
		{
			name: "RecordStepResult_WritesOnce",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := newInstance()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi))

				r, err := b.GetStepResult(ctx, wfi.ID, 0)
				require.NoError(t, err)
				require.Nil(t, r)

				require.NoError(t, b.RecordStepResult(ctx, &core.StepRecord{
					WorkflowID: wfi.ID,
					StepNumber: 0,
					StepName:   "reserve",
					Output:     []byte(`1`),
				}))

				err = b.RecordStepResult(ctx, &core.StepRecord{
					WorkflowID: wfi.ID,
					StepNumber: 0,
					StepName:   "reserve",
					Output:     []byte(`2`),
				})
				require.ErrorIs(t, err, backend.ErrStepAlreadyRecorded)

				r, err = b.GetStepResult(ctx, wfi.ID, 0)
				require.NoError(t, err)
				require.Equal(t, "reserve", r.StepName)
				require.Equal(t, payload.Payload(`1`), r.Output)
				require.Nil(t, r.Error)
			},
		},
		{
			name: "RecordStepResult_StoresErrorAndNilOutput",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := newInstance()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi))

				require.NoError(t, b.RecordStepResult(ctx, &core.StepRecord{
					WorkflowID: wfi.ID,
					StepNumber: 0,
					StepName:   "charge",
					Error:      workflowerrors.FromError(workflowerrors.NewPermanentError(errors.New("card declined"))),
				}))
				require.NoError(t, b.RecordStepResult(ctx, &core.StepRecord{
					WorkflowID: wfi.ID,
					StepNumber: 1,
					StepName:   "durable.recv",
				}))

				steps, err := b.GetStepResults(ctx, wfi.ID)
				require.NoError(t, err)
				require.Len(t, steps, 2)

				require.Equal(t, 0, steps[0].StepNumber)
				require.Nil(t, steps[0].Output)
				require.Equal(t, "card declined", steps[0].Error.Message)
				require.True(t, steps[0].Error.Permanent)

				require.Equal(t, 1, steps[1].StepNumber)
				require.Nil(t, steps[1].Output)
				require.Nil(t, steps[1].Error)
			},
		},
		{
			name: "SetEvent_Upserts",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := newInstance()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi))

				event, err := b.GetEvent(ctx, wfi.ID, "payment_url")
				require.NoError(t, err)
				require.Nil(t, event)

				require.NoError(t, b.SetEvent(ctx, &core.Event{WorkflowID: wfi.ID, Key: "payment_url", Value: []byte(`"a"`)}, &core.StepRecord{
					WorkflowID: wfi.ID, StepNumber: 0, StepName: "durable.set_event",
				}))
				require.NoError(t, b.SetEvent(ctx, &core.Event{WorkflowID: wfi.ID, Key: "payment_url", Value: []byte(`"b"`)}, &core.StepRecord{
					WorkflowID: wfi.ID, StepNumber: 1, StepName: "durable.set_event",
				}))

				event, err = b.GetEvent(ctx, wfi.ID, "payment_url")
				require.NoError(t, err)
				require.Equal(t, payload.Payload(`"b"`), event.Value)

				events, err := b.ListEvents(ctx, wfi.ID)
				require.NoError(t, err)
				require.Len(t, events, 1)

				steps, err := b.GetStepResults(ctx, wfi.ID)
				require.NoError(t, err)
				require.Len(t, steps, 2)
			},
		},
		{
			name: "SetEvent_RecordedStepIsNotAppliedTwice",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := newInstance()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi))

				record := func() *core.StepRecord {
					return &core.StepRecord{WorkflowID: wfi.ID, StepNumber: 0, StepName: "durable.set_event"}
				}

				require.NoError(t, b.SetEvent(ctx, &core.Event{WorkflowID: wfi.ID, Key: "k", Value: []byte(`1`)}, record()))

				err := b.SetEvent(ctx, &core.Event{WorkflowID: wfi.ID, Key: "k", Value: []byte(`2`)}, record())
				require.ErrorIs(t, err, backend.ErrStepAlreadyRecorded)

				event, err := b.GetEvent(ctx, wfi.ID, "k")
				require.NoError(t, err)
				require.Equal(t, payload.Payload(`1`), event.Value)
			},
		},
		{
			name: "Send_UnknownDestination",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				err := b.Send(ctx, &core.Message{DestinationID: uuid.NewString(), Topic: "t", Payload: []byte(`1`)}, nil)
				require.ErrorIs(t, err, backend.ErrInstanceNotFound)
			},
		},
		{
			name: "Recv_ReturnsNilWithoutMessage",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := newInstance()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi))

				r, err := b.Recv(ctx, wfi.ID, "t", &core.StepRecord{WorkflowID: wfi.ID, StepNumber: 0, StepName: "durable.recv"})
				require.NoError(t, err)
				require.Nil(t, r)

				// Nothing was recorded
				r, err = b.GetStepResult(ctx, wfi.ID, 0)
				require.NoError(t, err)
				require.Nil(t, r)
			},
		},
		{
			name: "Recv_DeliversInSendOrder",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := newInstance()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi))

				for _, m := range []string{`"m1"`, `"m2"`, `"m3"`} {
					require.NoError(t, b.Send(ctx, &core.Message{DestinationID: wfi.ID, Topic: "t", Payload: []byte(m)}, nil))
				}

				// Other topics are independent
				require.NoError(t, b.Send(ctx, &core.Message{DestinationID: wfi.ID, Topic: "other", Payload: []byte(`"x"`)}, nil))

				for i, m := range []string{`"m1"`, `"m2"`, `"m3"`} {
					r, err := b.Recv(ctx, wfi.ID, "t", &core.StepRecord{WorkflowID: wfi.ID, StepNumber: i, StepName: "durable.recv"})
					require.NoError(t, err)
					require.NotNil(t, r)
					require.Equal(t, payload.Payload(m), r.Output)
				}

				r, err := b.Recv(ctx, wfi.ID, "t", &core.StepRecord{WorkflowID: wfi.ID, StepNumber: 3, StepName: "durable.recv"})
				require.NoError(t, err)
				require.Nil(t, r)

				messages, err := b.ListMessages(ctx, wfi.ID)
				require.NoError(t, err)
				require.Len(t, messages, 4)

				consumed := 0
				for _, m := range messages {
					if m.ConsumedAt != nil {
						consumed++
					}
				}
				require.Equal(t, 3, consumed)
			},
		},
		{
			name: "Recv_RecordedStepDoesNotConsume",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := newInstance()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi))

				require.NoError(t, b.RecordStepResult(ctx, &core.StepRecord{WorkflowID: wfi.ID, StepNumber: 0, StepName: "durable.recv"}))
				require.NoError(t, b.Send(ctx, &core.Message{DestinationID: wfi.ID, Topic: "t", Payload: []byte(`1`)}, nil))

				_, err := b.Recv(ctx, wfi.ID, "t", &core.StepRecord{WorkflowID: wfi.ID, StepNumber: 0, StepName: "durable.recv"})
				require.ErrorIs(t, err, backend.ErrStepAlreadyRecorded)

				// Still available for the next step
				r, err := b.Recv(ctx, wfi.ID, "t", &core.StepRecord{WorkflowID: wfi.ID, StepNumber: 1, StepName: "durable.recv"})
				require.NoError(t, err)
				require.NotNil(t, r)
			},
		},
		{
			name: "Subscribe_NotifiedOnSend",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				wfi := newInstance()
				require.NoError(t, b.CreateWorkflowInstance(ctx, wfi))

				ch, unsubscribe := b.Subscribe(backend.MessageKey(wfi.ID, "t"))
				defer unsubscribe()

				require.NoError(t, b.Send(ctx, &core.Message{DestinationID: wfi.ID, Topic: "t", Payload: []byte(`1`)}, nil))

				select {
				case <-ch:
				case <-time.After(5 * time.Second):
					require.FailNow(t, "no notification received")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := setup()
			ctx := context.Background()

			tt.f(t, ctx, b)

			if teardown != nil {
				teardown(b)
			}
		})
	}
}

func newInstance(inputs ...payload.Payload) *core.WorkflowInstance {
	return core.NewWorkflowInstance(uuid.NewString(), "wf-"+uuid.NewString(), inputs)
}
