package workflow

import (
	"context"
	"log/slog"

	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/internal/workflowstate"
)

// Context is passed as the first argument to workflow functions. Every durable operation takes it.
type Context interface {
	context.Context

	WorkflowID() string

	WorkflowName() string
}

type (
	Workflow = any
	Step     = any
	Instance = core.WorkflowInstance
	StepInfo = workflowstate.StepInfo
)

// StepInfoFromContext returns the workflow id and step number a step function is running for. Steps
// calling external services can use them as an idempotency key.
func StepInfoFromContext(ctx context.Context) (StepInfo, bool) {
	return workflowstate.StepInfoFromContext(ctx)
}

// Logger returns the logger of the running workflow instance
func Logger(ctx Context) *slog.Logger {
	return state(ctx).Logger
}

func state(ctx Context) *workflowstate.WorkflowState {
	s := workflowstate.FromContext(ctx)
	if s == nil {
		panic("durable operation called outside of a workflow")
	}

	return s
}
