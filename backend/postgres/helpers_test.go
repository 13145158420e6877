package postgres

import (
	"github.com/go-durable/durable/core"
	"github.com/google/uuid"
)

func newTestInstance() *core.WorkflowInstance {
	return core.NewWorkflowInstance(uuid.NewString(), "wf", nil)
}
