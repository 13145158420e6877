package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testTask struct {
	ID string
}

type testResult struct {
	Value int
}

type mockTaskWorker struct {
	mock.Mock
}

var _ TaskWorker[testTask, testResult] = (*mockTaskWorker)(nil)

func (m *mockTaskWorker) Get(ctx context.Context) (*testTask, error) {
	args := m.Called(ctx)
	t, _ := args.Get(0).(*testTask)
	return t, args.Error(1)
}

func (m *mockTaskWorker) Extend(ctx context.Context, t *testTask) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *mockTaskWorker) Execute(ctx context.Context, t *testTask) (*testResult, error) {
	args := m.Called(ctx, t)
	r, _ := args.Get(0).(*testResult)
	return r, args.Error(1)
}

func (m *mockTaskWorker) Complete(ctx context.Context, r *testResult, t *testTask) error {
	args := m.Called(ctx, r, t)
	return args.Error(0)
}

func waitFor(t *testing.T, ch <-chan struct{}) {
	t.Helper()

	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out")
	}
}

func Test_Worker_ExecutesAndCompletesTask(t *testing.T) {
	b := sqlite.NewInMemoryBackend()
	defer b.Close()

	task := &testTask{ID: "t1"}
	result := &testResult{Value: 42}
	done := make(chan struct{})

	tw := &mockTaskWorker{}
	tw.On("Get", mock.Anything).Return(task, nil).Once()
	tw.On("Get", mock.Anything).Return(nil, nil)
	tw.On("Execute", mock.Anything, task).Return(result, nil).Once()
	tw.On("Complete", mock.Anything, result, task).Run(func(mock.Arguments) {
		close(done)
	}).Return(nil).Once()

	w := NewWorker[testTask, testResult](b, tw, &WorkerOptions{
		Pollers:         1,
		PollingInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	waitFor(t, done)

	cancel()
	require.NoError(t, w.WaitForCompletion())

	tw.AssertExpectations(t)
}

func Test_Worker_LostLeaseCancelsTask(t *testing.T) {
	b := sqlite.NewInMemoryBackend()
	defer b.Close()

	task := &testTask{ID: "t1"}
	result := &testResult{}
	done := make(chan struct{})

	tw := &mockTaskWorker{}
	tw.On("Get", mock.Anything).Return(task, nil).Once()
	tw.On("Get", mock.Anything).Return(nil, nil)
	tw.On("Extend", mock.Anything, task).Return(fmt.Errorf("heartbeat: %w", backend.ErrLeaseLost))
	tw.On("Execute", mock.Anything, task).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(result, nil).Once()
	tw.On("Complete", mock.Anything, result, task).Run(func(args mock.Arguments) {
		// Completion must not inherit the cancellation of the task
		assert.NoError(t, args.Get(0).(context.Context).Err())
		close(done)
	}).Return(nil).Once()

	w := NewWorker[testTask, testResult](b, tw, &WorkerOptions{
		Pollers:           1,
		PollingInterval:   10 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	waitFor(t, done)

	cancel()
	require.NoError(t, w.WaitForCompletion())

	tw.AssertExpectations(t)
}

func Test_Worker_TransientHeartbeatErrorKeepsTask(t *testing.T) {
	b := sqlite.NewInMemoryBackend()
	defer b.Close()

	task := &testTask{ID: "t1"}
	result := &testResult{Value: 1}
	extended := make(chan struct{})
	done := make(chan struct{})

	tw := &mockTaskWorker{}
	tw.On("Get", mock.Anything).Return(task, nil).Once()
	tw.On("Get", mock.Anything).Return(nil, nil)
	tw.On("Extend", mock.Anything, task).Return(errors.New("connection reset")).Twice()
	tw.On("Extend", mock.Anything, task).Run(func(mock.Arguments) {
		select {
		case <-extended:
		default:
			close(extended)
		}
	}).Return(nil)
	tw.On("Execute", mock.Anything, task).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)

		select {
		case <-extended:
		case <-ctx.Done():
		}

		// Still running after the failed heartbeats
		assert.NoError(t, ctx.Err())
	}).Return(result, nil).Once()
	tw.On("Complete", mock.Anything, result, task).Run(func(mock.Arguments) {
		close(done)
	}).Return(nil).Once()

	w := NewWorker[testTask, testResult](b, tw, &WorkerOptions{
		Pollers:           1,
		PollingInterval:   10 * time.Millisecond,
		HeartbeatInterval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	waitFor(t, done)

	cancel()
	require.NoError(t, w.WaitForCompletion())

	tw.AssertExpectations(t)
}

func Test_Worker_ExecuteErrorSkipsCompletion(t *testing.T) {
	b := sqlite.NewInMemoryBackend()
	defer b.Close()

	task := &testTask{ID: "t1"}
	executed := make(chan struct{})

	tw := &mockTaskWorker{}
	tw.On("Get", mock.Anything).Return(task, nil).Once()
	tw.On("Get", mock.Anything).Return(nil, nil)
	tw.On("Execute", mock.Anything, task).Run(func(mock.Arguments) {
		close(executed)
	}).Return(nil, errors.New("executor failed")).Once()

	w := NewWorker[testTask, testResult](b, tw, &WorkerOptions{
		Pollers:         1,
		PollingInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	waitFor(t, executed)

	cancel()
	require.NoError(t, w.WaitForCompletion())

	tw.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
}

func Test_Worker_PollErrorKeepsPolling(t *testing.T) {
	b := sqlite.NewInMemoryBackend()
	defer b.Close()

	task := &testTask{ID: "t1"}
	done := make(chan struct{})

	tw := &mockTaskWorker{}
	tw.On("Get", mock.Anything).Return(nil, errors.New("store unavailable")).Once()
	tw.On("Get", mock.Anything).Return(task, nil).Once()
	tw.On("Get", mock.Anything).Return(nil, nil)
	tw.On("Execute", mock.Anything, task).Return(&testResult{}, nil).Once()
	tw.On("Complete", mock.Anything, mock.Anything, task).Run(func(mock.Arguments) {
		close(done)
	}).Return(nil).Once()

	w := NewWorker[testTask, testResult](b, tw, &WorkerOptions{
		Pollers:         1,
		PollingInterval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	waitFor(t, done)

	cancel()
	require.NoError(t, w.WaitForCompletion())
}
