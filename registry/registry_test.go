package registry

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-durable/durable/core"
	"github.com/stretchr/testify/require"
)

func reg_workflow1(ctx context.Context) error {
	return nil
}

func TestRegistry_RegisterWorkflow(t *testing.T) {
	type args struct {
		name     string
		workflow any
	}
	tests := []struct {
		name     string
		args     args
		wantName string
		wantErr  bool
	}{
		{
			name: "valid workflow",
			args: args{
				workflow: reg_workflow1,
			},
			wantName: "reg_workflow1",
		},
		{
			name: "valid workflow by name",
			args: args{
				name:     "CustomName",
				workflow: reg_workflow1,
			},
			wantName: "CustomName",
		},
		{
			name: "valid workflow with results",
			args: args{
				workflow: func(ctx context.Context) (int, error) { return 42, nil },
			},
		},
		{
			name: "valid workflow with multiple parameters",
			args: args{
				workflow: func(ctx context.Context, a, b int) (int, error) { return 42, nil },
			},
		},
		{
			name: "not a function",
			args: args{
				workflow: "checkout",
			},
			wantErr: true,
		},
		{
			name: "missing context",
			args: args{
				workflow: func(a int) error { return nil },
			},
			wantErr: true,
		},
		{
			name: "transaction parameter",
			args: args{
				workflow: func(ctx context.Context, tx *sql.Tx) error { return nil },
			},
			wantErr: true,
		},
		{
			name: "missing error result",
			args: args{
				workflow: func(ctx context.Context) {},
			},
			wantErr: true,
		},
		{
			name: "missing error with results",
			args: args{
				workflow: func(ctx context.Context) int { return 42 },
			},
			wantErr: true,
		},
		{
			name: "too many results",
			args: args{
				workflow: func(ctx context.Context) (int, int, error) { return 1, 2, nil },
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := New()

			err := r.RegisterWorkflow(tt.args.workflow, WithName(tt.args.name))
			if tt.wantErr {
				var invalid *ErrInvalidWorkflow
				require.ErrorAs(t, err, &invalid)
				return
			}

			require.NoError(t, err)

			if tt.wantName != "" {
				x, err := r.GetWorkflow(tt.wantName)
				require.NoError(t, err)
				require.Equal(t, tt.wantName, x.Name)
				require.Equal(t, DefaultMaxRecoveryAttempts, x.MaxRecoveryAttempts)
			}
		})
	}
}

func Test_RegisterWorkflow_Conflict(t *testing.T) {
	r := New()
	require.NotNil(t, r)

	var wantErr *ErrWorkflowAlreadyRegistered

	err := r.RegisterWorkflow(reg_workflow1)
	require.NoError(t, err)

	err = r.RegisterWorkflow(reg_workflow1)
	require.ErrorAs(t, err, &wantErr)

	err = r.RegisterWorkflow(reg_workflow1, WithName("CustomName"))
	require.NoError(t, err)

	err = r.RegisterWorkflow(reg_workflow1, WithName("CustomName"))
	require.ErrorAs(t, err, &wantErr)
}

func Test_RegisterWorkflow_MaxRecoveryAttempts(t *testing.T) {
	r := New()

	require.NoError(t, r.RegisterWorkflow(reg_workflow1, WithMaxRecoveryAttempts(3)))

	wf, err := r.GetWorkflow("reg_workflow1")
	require.NoError(t, err)
	require.Equal(t, 3, wf.MaxRecoveryAttempts)

	var invalid *ErrInvalidWorkflow
	require.ErrorAs(t, r.RegisterWorkflow(reg_workflow1, WithName("other"), WithMaxRecoveryAttempts(-1)), &invalid)
}

func Test_GetWorkflow_NotFound(t *testing.T) {
	r := New()

	_, err := r.GetWorkflow("missing")

	var notFound *ErrWorkflowNotFound
	require.ErrorAs(t, err, &notFound)
	require.EqualError(t, err, "workflow missing not found")
}

func reg_step(ctx context.Context, amount int) (string, error) {
	return "", nil
}

func reg_tx_step(ctx context.Context, tx *sql.Tx, sku string) error {
	return nil
}

func Test_StepRegistration(t *testing.T) {
	r := New()

	retries := core.RetryOptions{MaxAttempts: 5, FirstRetryInterval: time.Second}
	require.NoError(t, r.RegisterStep(reg_step, WithRetryOptions(retries)))
	require.NoError(t, r.RegisterStep(reg_tx_step))

	s := r.GetStep("reg_step")
	require.NotNil(t, s)
	require.Equal(t, &retries, s.RetryOptions)

	s = r.GetStep("reg_tx_step")
	require.NotNil(t, s)
	require.Nil(t, s.RetryOptions)

	require.Nil(t, r.GetStep("missing"))
	require.Same(t, r.GetStep("reg_step"), r.GetStepByFunc(reg_step))
	require.Nil(t, r.GetStepByFunc(reg_workflow1))

	var conflict *ErrStepAlreadyRegistered
	require.ErrorAs(t, r.RegisterStep(reg_step), &conflict)
	require.NoError(t, r.RegisterStep(reg_step, WithName("charge")))
}

func Test_StepRegistration_Invalid(t *testing.T) {
	r := New()

	var invalid *ErrInvalidStep
	require.ErrorAs(t, r.RegisterStep(func(ctx context.Context) {}), &invalid)
	require.ErrorAs(t, r.RegisterStep(42), &invalid)
}
