package diag

import (
	"encoding/json"
	"time"

	"github.com/go-durable/durable/backend/payload"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/internal/workflowerrors"
)

// Payloads produced by the default converter are JSON and are embedded as is, anything else is
// returned base64 encoded.
func rawPayload(p payload.Payload) json.RawMessage {
	if len(p) == 0 {
		return nil
	}

	if json.Valid(p) {
		return json.RawMessage(p)
	}

	b, _ := json.Marshal([]byte(p))
	return b
}

type WorkflowInstanceRef struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Status     core.WorkflowStatus `json:"status"`
	ExecutorID string              `json:"executor_id,omitempty"`
	Attempts   int                 `json:"attempts"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

func newWorkflowInstanceRef(instance *core.WorkflowInstance) *WorkflowInstanceRef {
	return &WorkflowInstanceRef{
		ID:         instance.ID,
		Name:       instance.Name,
		Status:     instance.Status,
		ExecutorID: instance.ExecutorID,
		Attempts:   instance.Attempts,
		CreatedAt:  instance.CreatedAt,
		UpdatedAt:  instance.UpdatedAt,
	}
}

type Step struct {
	Number     int                   `json:"number"`
	Name       string                `json:"name"`
	Output     json.RawMessage       `json:"output,omitempty"`
	Error      *workflowerrors.Error `json:"error,omitempty"`
	ExecutedAt time.Time             `json:"executed_at"`
}

type Event struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Message struct {
	ID         int64           `json:"id"`
	Topic      string          `json:"topic"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	ConsumedAt *time.Time      `json:"consumed_at,omitempty"`
}

type WorkflowInstanceInfo struct {
	*WorkflowInstanceRef

	Inputs []json.RawMessage      `json:"inputs,omitempty"`
	Output json.RawMessage        `json:"output,omitempty"`
	Error  *workflowerrors.Error `json:"error,omitempty"`

	Steps    []*Step    `json:"steps"`
	Events   []*Event   `json:"events"`
	Messages []*Message `json:"messages"`
}
