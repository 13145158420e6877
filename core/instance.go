package core

import (
	"time"

	"github.com/go-durable/durable/backend/payload"
	"github.com/go-durable/durable/internal/workflowerrors"
)

type WorkflowInstance struct {
	// ID is the workflow id, the idempotency key for the whole invocation.
	ID string `json:"id"`

	// Name of the registered workflow function.
	Name string `json:"name"`

	Status WorkflowStatus `json:"status"`

	// Inputs are captured at creation time and never change afterwards.
	Inputs []payload.Payload `json:"inputs,omitempty"`

	Output payload.Payload       `json:"output,omitempty"`
	Error  *workflowerrors.Error `json:"error,omitempty"`

	// ExecutorID identifies the executor currently holding the lease on a RUNNING instance.
	ExecutorID string `json:"executor_id,omitempty"`

	// Attempts counts how often the instance has been claimed for execution.
	Attempts int `json:"attempts"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewWorkflowInstance(id, name string, inputs []payload.Payload) *WorkflowInstance {
	return &WorkflowInstance{
		ID:     id,
		Name:   name,
		Status: WorkflowStatusPending,
		Inputs: inputs,
	}
}
