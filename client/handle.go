package client

import (
	"context"

	"github.com/go-durable/durable/core"
)

// Handle refers to a started workflow instance with result type T.
type Handle[T any] struct {
	client     *Client
	instanceID string
}

func NewHandle[T any](c *Client, instanceID string) *Handle[T] {
	return &Handle[T]{
		client:     c,
		instanceID: instanceID,
	}
}

func (h *Handle[T]) WorkflowID() string {
	return h.instanceID
}

// GetResult waits until the workflow instance finished and returns its result or error.
func (h *Handle[T]) GetResult(ctx context.Context) (T, error) {
	return GetWorkflowResult[T](ctx, h.client, h.instanceID, 0)
}

func (h *Handle[T]) GetStatus(ctx context.Context) (core.WorkflowStatus, error) {
	instance, err := h.client.GetWorkflowInstance(ctx, h.instanceID)
	if err != nil {
		return "", err
	}

	return instance.Status, nil
}
