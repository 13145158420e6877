package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to WorkflowStatus
		want     bool
	}{
		{WorkflowStatusPending, WorkflowStatusRunning, true},
		{WorkflowStatusPending, WorkflowStatusError, true},
		{WorkflowStatusPending, WorkflowStatusSuccess, false},
		{WorkflowStatusRunning, WorkflowStatusRunning, true},
		{WorkflowStatusRunning, WorkflowStatusSuccess, true},
		{WorkflowStatusRunning, WorkflowStatusError, true},
		{WorkflowStatusRunning, WorkflowStatusPending, false},
		{WorkflowStatusSuccess, WorkflowStatusRunning, false},
		{WorkflowStatusSuccess, WorkflowStatusError, false},
		{WorkflowStatusError, WorkflowStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			require.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestWorkflowStatus_IsTerminal(t *testing.T) {
	require.False(t, WorkflowStatusPending.IsTerminal())
	require.False(t, WorkflowStatusRunning.IsTerminal())
	require.True(t, WorkflowStatusSuccess.IsTerminal())
	require.True(t, WorkflowStatusError.IsTerminal())

	require.True(t, WorkflowStatusError.Valid())
	require.False(t, WorkflowStatus("CANCELED").Valid())
}
