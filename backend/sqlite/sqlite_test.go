package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/payload"
	"github.com/go-durable/durable/backend/test"
	"github.com/go-durable/durable/client"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/worker"
	"github.com/go-durable/durable/workflow"
	"github.com/stretchr/testify/require"
)

func Test_SqliteBackend(t *testing.T) {
	test.BackendTest(t, func() backend.Backend {
		return NewInMemoryBackend()
	}, func(b backend.Backend) {
		b.Close()
	})
}

func Test_EndToEndSqliteBackend(t *testing.T) {
	test.EndToEndBackendTest(t, func() backend.Backend {
		return NewInMemoryBackend()
	}, func(b backend.Backend) {
		b.Close()
	})
}

func Test_SqliteBackend_SupportsTransactions(t *testing.T) {
	b := NewInMemoryBackend()
	defer b.Close()

	require.True(t, b.FeatureSupported(backend.FeatureTransactions))
}

func insertOrder(ctx context.Context, tx *sql.Tx, id string, amount int) (int, error) {
	if _, err := tx.ExecContext(ctx, "INSERT INTO orders (id, amount) VALUES (?, ?)", id, amount); err != nil {
		return 0, err
	}

	if amount > 100 {
		return 0, errors.New("amount exceeds limit")
	}

	return amount, nil
}

func Test_SqliteBackend_TransactionStep(t *testing.T) {
	tests := []struct {
		name       string
		amount     int
		wantErr    string
		wantOrders int
	}{
		{name: "Commits", amount: 42, wantOrders: 1},
		{name: "RollsBackOnError", amount: 500, wantErr: "amount exceeds limit", wantOrders: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			b := NewInMemoryBackend()
			defer b.Close()

			_, err := b.DB().Exec("CREATE TABLE orders (id TEXT PRIMARY KEY, amount INTEGER NOT NULL)")
			require.NoError(t, err)

			wf := func(ctx workflow.Context, amount int) (int, error) {
				return workflow.ExecuteTransaction[int](ctx, workflow.DefaultStepOptions, insertOrder, "o-1", amount)
			}

			w := worker.New(b, &worker.Options{
				HeartbeatInterval: 50 * time.Millisecond,
				RecoveryInterval:  50 * time.Millisecond,
			})
			require.NoError(t, w.RegisterWorkflow(wf))
			require.NoError(t, w.Start(ctx))

			c := w.Client()
			instance, err := c.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{}, wf, tt.amount)
			require.NoError(t, err)

			output, err := client.GetWorkflowResult[int](ctx, c, instance.ID, 10*time.Second)
			if tt.wantErr != "" {
				require.EqualError(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				require.Equal(t, tt.amount, output)
			}

			var count int
			require.NoError(t, b.DB().QueryRow("SELECT COUNT(*) FROM orders").Scan(&count))
			require.Equal(t, tt.wantOrders, count)

			steps, err := c.GetSteps(ctx, instance.ID)
			require.NoError(t, err)
			require.Len(t, steps, 1)
			require.Equal(t, tt.wantErr != "", steps[0].Error != nil)

			cancel()
			require.NoError(t, w.WaitForCompletion())
		})
	}
}

func Test_SqliteBackend_TransactionStepNotRepeated(t *testing.T) {
	ctx := context.Background()

	b := NewInMemoryBackend()
	defer b.Close()

	instance := core.NewWorkflowInstance("wf-1", "wf", nil)
	require.NoError(t, b.CreateWorkflowInstance(ctx, instance))

	record := &core.StepRecord{WorkflowID: "wf-1", StepNumber: 0, StepName: "tx", Output: []byte(`1`), ExecutedAt: time.Now()}
	_, err := b.RunTransactionStep(ctx, record, func(ctx context.Context, tx *sql.Tx) (payload.Payload, error) {
		return []byte(`1`), nil
	})
	require.NoError(t, err)

	_, err = b.RunTransactionStep(ctx, &core.StepRecord{WorkflowID: "wf-1", StepNumber: 0, StepName: "tx", ExecutedAt: time.Now()},
		func(ctx context.Context, tx *sql.Tx) (payload.Payload, error) {
			return []byte(`2`), nil
		})
	require.ErrorIs(t, err, backend.ErrStepAlreadyRecorded)

	r, err := b.GetStepResult(ctx, "wf-1", 0)
	require.NoError(t, err)
	require.Equal(t, []byte(`1`), []byte(r.Output))
}
