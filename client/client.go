package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/converter"
	"github.com/go-durable/durable/backend/metrics"
	"github.com/go-durable/durable/core"
	a "github.com/go-durable/durable/internal/args"
	"github.com/go-durable/durable/internal/fn"
	"github.com/go-durable/durable/internal/metrickeys"
	"github.com/go-durable/durable/internal/tracing"
	"github.com/go-durable/durable/internal/workflowerrors"
	"github.com/go-durable/durable/log"
	"github.com/go-durable/durable/workflow"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrTimeout = errors.New("workflow did not finish in specified timeout")

type WorkflowInstanceOptions struct {
	// InstanceID is the workflow id. Starting a workflow with the id of an existing instance returns
	// that instance. A random id is used if empty.
	InstanceID string
}

type Client struct {
	backend backend.Backend
	clock   clock.Clock

	// finished caches instances in a terminal state, they never change again
	finished *ttlcache.Cache[string, *core.WorkflowInstance]
}

func New(b backend.Backend) *Client {
	return &Client{
		backend: b,
		clock:   b.Clock(),
		finished: ttlcache.New[string, *core.WorkflowInstance](
			ttlcache.WithTTL[string, *core.WorkflowInstance](5*time.Minute),
			ttlcache.WithCapacity[string, *core.WorkflowInstance](1024),
		),
	}
}

// CreateWorkflowInstance creates a new PENDING instance of the given workflow. If an instance with the
// requested id exists already, it is returned instead and no new instance is created.
func (c *Client) CreateWorkflowInstance(ctx context.Context, options WorkflowInstanceOptions, wf workflow.Workflow, args ...any) (*workflow.Instance, error) {
	var workflowName string

	if name, ok := wf.(string); ok {
		workflowName = name
	} else {
		workflowName = fn.Name(wf)

		// Check arguments if actual workflow function given here
		if err := a.ParamsMatch(wf, args...); err != nil {
			return nil, err
		}
	}

	inputs, err := a.ArgsToInputs(c.backend.Converter(), args...)
	if err != nil {
		return nil, fmt.Errorf("converting arguments: %w", err)
	}

	instanceID := options.InstanceID
	if instanceID == "" {
		instanceID = uuid.NewString()
	}

	wfi := core.NewWorkflowInstance(instanceID, workflowName, inputs)

	ctx, span := c.backend.Tracer().Start(ctx, fmt.Sprintf("CreateWorkflowInstance: %s", workflowName), trace.WithAttributes(
		attribute.String(tracing.WorkflowInstanceID, instanceID),
		attribute.String(tracing.WorkflowName, workflowName),
	))
	defer span.End()

	if err := c.backend.CreateWorkflowInstance(ctx, wfi); err != nil {
		if !errors.Is(err, backend.ErrInstanceAlreadyExists) {
			return nil, tracing.RecordError(span, fmt.Errorf("creating workflow instance: %w", err))
		}

		existing, err := c.backend.GetWorkflowInstance(ctx, instanceID)
		if err != nil {
			return nil, tracing.RecordError(span, fmt.Errorf("getting existing workflow instance: %w", err))
		}

		if existing.Name != workflowName {
			return nil, tracing.RecordError(span, fmt.Errorf(
				"workflow instance %s exists for workflow %s: %w", instanceID, existing.Name, backend.ErrInstanceAlreadyExists))
		}

		c.backend.Logger().Debug("Workflow instance exists already", log.InstanceIDKey, instanceID, log.StatusKey, existing.Status)

		return existing, nil
	}

	c.backend.Logger().Debug(
		"Created workflow instance",
		log.InstanceIDKey, wfi.ID,
		log.WorkflowNameKey, workflowName,
	)

	c.backend.Metrics().Counter(metrickeys.WorkflowInstanceCreated, metrics.Tags{metrickeys.WorkflowName: workflowName}, 1)

	return wfi, nil
}

// GetWorkflowInstance returns the current state of the instance.
func (c *Client) GetWorkflowInstance(ctx context.Context, instanceID string) (*workflow.Instance, error) {
	if item := c.finished.Get(instanceID); item != nil {
		return item.Value(), nil
	}

	instance, err := c.backend.GetWorkflowInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	if instance.Status.IsTerminal() {
		c.finished.Set(instanceID, instance, ttlcache.DefaultTTL)
	}

	return instance, nil
}

func (c *Client) ListWorkflowInstances(ctx context.Context, options backend.ListOptions) ([]*workflow.Instance, error) {
	return c.backend.ListWorkflowInstances(ctx, options)
}

// GetSteps returns the recorded steps of the instance in step order.
func (c *Client) GetSteps(ctx context.Context, instanceID string) ([]*core.StepRecord, error) {
	return c.backend.GetStepResults(ctx, instanceID)
}

func (c *Client) ListEvents(ctx context.Context, instanceID string) ([]*core.Event, error) {
	return c.backend.ListEvents(ctx, instanceID)
}

func (c *Client) ListMessages(ctx context.Context, instanceID string) ([]*core.Message, error) {
	return c.backend.ListMessages(ctx, instanceID)
}

// Send delivers message to the workflow instance destinationID on topic. Returns
// backend.ErrInstanceNotFound if the instance does not exist.
func (c *Client) Send(ctx context.Context, destinationID, topic string, message any) error {
	ctx, span := c.backend.Tracer().Start(ctx, "Send", trace.WithAttributes(
		attribute.String(tracing.WorkflowInstanceID, destinationID),
		attribute.String(tracing.MessageTopic, topic),
	))
	defer span.End()

	p, err := c.backend.Converter().To(message)
	if err != nil {
		return fmt.Errorf("converting message: %w", err)
	}

	msg := &core.Message{
		DestinationID: destinationID,
		Topic:         topic,
		Payload:       p,
		CreatedAt:     c.clock.Now(),
	}

	if err := c.backend.Send(ctx, msg, nil); err != nil {
		return tracing.RecordError(span, err)
	}

	c.backend.Logger().Debug("Sent message", log.DestinationIDKey, destinationID, log.TopicKey, topic)
	c.backend.Metrics().Counter(metrickeys.MessageSent, metrics.Tags{}, 1)

	return nil
}

// WaitForWorkflowInstance waits for the instance to reach a terminal state. A timeout of 0 waits
// until ctx is done.
func (c *Client) WaitForWorkflowInstance(ctx context.Context, instanceID string, timeout time.Duration) (*workflow.Instance, error) {
	ctx, span := c.backend.Tracer().Start(ctx, "WaitForWorkflowInstance", trace.WithAttributes(
		attribute.String(tracing.WorkflowInstanceID, instanceID),
	))
	defer span.End()

	wake, unsubscribe := c.backend.Subscribe(backend.InstanceKey(instanceID))
	defer unsubscribe()

	b := backoff.ExponentialBackOff{
		InitialInterval:     time.Millisecond * 1,
		MaxInterval:         time.Second * 1,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		MaxElapsedTime:      timeout,
		Stop:                backoff.Stop,
		Clock:               c.clock,
	}
	b.Reset()

	ticker := backoff.NewTicker(&b)
	defer ticker.Stop()

	for {
		instance, err := c.GetWorkflowInstance(ctx, instanceID)
		if err != nil {
			return nil, fmt.Errorf("getting workflow instance: %w", err)
		}

		if instance.Status.IsTerminal() {
			return instance, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wake:
		case _, ok := <-ticker.C:
			if !ok {
				return nil, ErrTimeout
			}
		}
	}
}

// GetWorkflowResult waits for the instance to finish and returns its result or the error it failed
// with.
func GetWorkflowResult[T any](ctx context.Context, c *Client, instanceID string, timeout time.Duration) (T, error) {
	var r T

	instance, err := c.WaitForWorkflowInstance(ctx, instanceID, timeout)
	if err != nil {
		return r, fmt.Errorf("workflow did not finish in time: %w", err)
	}

	if instance.Status == core.WorkflowStatusError {
		if instance.Error == nil {
			return r, errors.New("workflow failed without error")
		}

		return r, workflowerrors.ToError(instance.Error)
	}

	r, err = converter.Decode[T](c.backend.Converter(), instance.Output)
	if err != nil {
		return r, fmt.Errorf("converting result: %w", err)
	}

	return r, nil
}

// GetEvent returns the value of the event key of the workflow instance workflowID. If the event has
// not been set, it waits up to timeout for it. Returns false if the event was not set in time.
func GetEvent[T any](ctx context.Context, c *Client, workflowID, key string, timeout time.Duration) (T, bool, error) {
	var v T

	ctx, span := c.backend.Tracer().Start(ctx, "GetEvent", trace.WithAttributes(
		attribute.String(tracing.WorkflowInstanceID, workflowID),
		attribute.String(tracing.EventKey, key),
	))
	defer span.End()

	wake, unsubscribe := c.backend.Subscribe(backend.EventKey(workflowID, key))
	defer unsubscribe()

	deadline := c.clock.Now().Add(timeout)
	poll := c.backend.Options().PollingInterval

	for {
		event, err := c.backend.GetEvent(ctx, workflowID, key)
		if err != nil {
			return v, false, tracing.RecordError(span, err)
		}

		if event != nil {
			v, err := converter.Decode[T](c.backend.Converter(), event.Value)
			if err != nil {
				return v, false, fmt.Errorf("converting event value: %w", err)
			}

			return v, true, nil
		}

		remaining := deadline.Sub(c.clock.Now())
		if remaining <= 0 {
			return v, false, nil
		}

		if poll > 0 && poll < remaining {
			remaining = poll
		}

		t := c.clock.Timer(remaining)

		select {
		case <-ctx.Done():
			t.Stop()
			return v, false, ctx.Err()
		case <-wake:
		case <-t.C:
		}

		t.Stop()
	}
}
