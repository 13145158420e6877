package backend

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-durable/durable/backend/converter"
	"github.com/go-durable/durable/backend/metrics"
	"github.com/go-durable/durable/backend/payload"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/internal/workflowerrors"
)

var (
	ErrInstanceNotFound      = errors.New("workflow instance not found")
	ErrInstanceAlreadyExists = errors.New("workflow instance already exists")
	ErrStepAlreadyRecorded   = errors.New("step already recorded")
	ErrLeaseLost             = errors.New("workflow instance lease lost")
)

type ErrNotSupported struct {
	Message string
}

func (e ErrNotSupported) Error() string {
	return fmt.Sprintf("not supported: %s", e.Message)
}

const TracerName = "go-durable"

// TxFunc is the body of a transactional step. Its writes and the step record commit together.
type TxFunc func(ctx context.Context, tx *sql.Tx) (payload.Payload, error)

type ListOptions struct {
	// Statuses restricts the result to instances in one of the given states. Empty means all.
	Statuses []core.WorkflowStatus

	// Name restricts the result to instances of the given workflow.
	Name string

	// Names restricts the result to instances of one of the given workflows. Empty means all.
	Names []string

	// UpdatedBefore restricts the result to instances not touched since the given time.
	UpdatedBefore time.Time

	// OldestFirst orders by creation time ascending. By default the newest instances come first.
	OldestFirst bool

	Offset int
	Limit  int
}

type Backend interface {
	// CreateWorkflowInstance creates a new PENDING workflow instance. Returns ErrInstanceAlreadyExists if
	// an instance with the same id exists.
	CreateWorkflowInstance(ctx context.Context, instance *core.WorkflowInstance) error

	// GetWorkflowInstance returns the instance or ErrInstanceNotFound
	GetWorkflowInstance(ctx context.Context, instanceID string) (*core.WorkflowInstance, error)

	ListWorkflowInstances(ctx context.Context, options ListOptions) ([]*core.WorkflowInstance, error)

	// ClaimWorkflowInstance moves a PENDING instance, or a RUNNING instance last updated before staleBefore,
	// to RUNNING owned by executorID. Returns nil if the instance could not be claimed.
	ClaimWorkflowInstance(ctx context.Context, instanceID, executorID string, staleBefore time.Time) (*core.WorkflowInstance, error)

	// HeartbeatWorkflowInstance extends the lease of executorID on the instance. Returns ErrLeaseLost if
	// the executor does not hold the lease anymore.
	HeartbeatWorkflowInstance(ctx context.Context, instanceID, executorID string) error

	// CompleteWorkflowInstance moves a RUNNING instance owned by executorID into a terminal state.
	CompleteWorkflowInstance(
		ctx context.Context, instanceID, executorID string, status core.WorkflowStatus, output payload.Payload, err *workflowerrors.Error) error

	// GetStepResult returns the recorded step or nil if the step has not been recorded yet
	GetStepResult(ctx context.Context, instanceID string, stepNumber int) (*core.StepRecord, error)

	GetStepResults(ctx context.Context, instanceID string) ([]*core.StepRecord, error)

	// RecordStepResult persists a step outcome. Returns ErrStepAlreadyRecorded if a record exists.
	RecordStepResult(ctx context.Context, record *core.StepRecord) error

	// RunTransactionStep runs fn in a database transaction and records its result in the same
	// transaction. If fn fails, its writes are rolled back and the error is recorded instead.
	RunTransactionStep(ctx context.Context, record *core.StepRecord, fn TxFunc) (*core.StepRecord, error)

	// SetEvent upserts the event and records the step in one atomic operation
	SetEvent(ctx context.Context, event *core.Event, record *core.StepRecord) error

	// GetEvent returns the current value of the event or nil if it has not been set
	GetEvent(ctx context.Context, instanceID, key string) (*core.Event, error)

	ListEvents(ctx context.Context, instanceID string) ([]*core.Event, error)

	// Send appends a message to the destination's mailbox. When record is given, the step is recorded
	// atomically with the message. Returns ErrInstanceNotFound for an unknown destination.
	Send(ctx context.Context, message *core.Message, record *core.StepRecord) error

	// Recv consumes the oldest unconsumed message for the instance and topic and records it as the
	// output of the given step. Returns nil if there is no message.
	Recv(ctx context.Context, instanceID, topic string, record *core.StepRecord) (*core.StepRecord, error)

	// ListMessages returns all messages addressed to the instance, consumed or not
	ListMessages(ctx context.Context, instanceID string) ([]*core.Message, error)

	// Subscribe returns a channel that receives a value whenever something is published for key. Call
	// the returned function to unsubscribe.
	Subscribe(key string) (<-chan struct{}, func())

	Logger() *slog.Logger

	// Tracer returns the configured trace provider for the backend
	Tracer() trace.Tracer

	// Metrics returns the configured metrics client for the backend
	Metrics() metrics.Client

	Converter() converter.Converter

	Clock() clock.Clock

	// Options returns the configured options for the backend
	Options() *Options

	// Close closes any underlying resources
	Close() error

	// FeatureSupported returns true if the given feature is supported by the backend
	FeatureSupported(feature Feature) bool
}
