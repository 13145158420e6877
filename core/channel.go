package core

import (
	"time"

	"github.com/go-durable/durable/backend/payload"
)

// Event is a durable key/value pair set by a workflow. The latest value wins.
type Event struct {
	WorkflowID string          `json:"workflow_id"`
	Key        string          `json:"key"`
	Value      payload.Payload `json:"value"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Message is addressed to a workflow instance on a topic. Messages for the same destination and topic
// are delivered in the order they were sent.
type Message struct {
	ID            int64           `json:"id"`
	DestinationID string          `json:"destination_id"`
	Topic         string          `json:"topic"`
	Payload       payload.Payload `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
	ConsumedAt    *time.Time      `json:"consumed_at,omitempty"`
}
