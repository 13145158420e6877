package core

import (
	"time"

	"github.com/go-durable/durable/backend/payload"
	"github.com/go-durable/durable/internal/workflowerrors"
)

// StepRecord is the recorded outcome of one step of a workflow instance. A record is written at most
// once per (WorkflowID, StepNumber).
type StepRecord struct {
	WorkflowID string `json:"workflow_id"`
	StepNumber int    `json:"step_number"`
	StepName   string `json:"step_name"`

	// Output is nil if the step failed or if a wait step timed out.
	Output payload.Payload        `json:"output,omitempty"`
	Error  *workflowerrors.Error `json:"error,omitempty"`

	ExecutedAt time.Time `json:"executed_at"`
}
