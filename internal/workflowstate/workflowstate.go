package workflowstate

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/converter"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/log"
	"github.com/go-durable/durable/registry"
	"go.opentelemetry.io/otel/trace"
)

// WorkflowState is the per-execution state of a running workflow instance. Every durable operation
// takes its step number from here.
type WorkflowState struct {
	instance *core.WorkflowInstance

	Backend   backend.Backend
	Registry  *registry.Registry
	Converter converter.Converter
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Clock     clock.Clock

	mu       sync.Mutex
	step     int
	abortErr error
	cancel   context.CancelCauseFunc

	inStep atomic.Bool
}

func NewWorkflowState(instance *core.WorkflowInstance, b backend.Backend, r *registry.Registry) *WorkflowState {
	return &WorkflowState{
		instance:  instance,
		Backend:   b,
		Registry:  r,
		Converter: b.Converter(),
		Logger: b.Logger().With(
			log.InstanceIDKey, instance.ID,
			log.WorkflowNameKey, instance.Name,
		),
		Tracer: b.Tracer(),
		Clock:  b.Clock(),
	}
}

func (s *WorkflowState) Instance() *core.WorkflowInstance {
	return s.instance
}

// NextStep reserves the next step number.
func (s *WorkflowState) NextStep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.step
	s.step++

	return n
}

// Steps returns the number of step numbers handed out so far
func (s *WorkflowState) Steps() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.step
}

// OnAbort registers the cancel func of the workflow context. Abort cancels it with the abort error.
func (s *WorkflowState) OnAbort(cancel context.CancelCauseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancel = cancel
}

// Abort marks the execution as failed for reasons outside of the workflow, e.g. the store being
// unavailable. The instance is then left for recovery instead of being completed, and no further
// durable operation may take a step number.
func (s *WorkflowState) Abort(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.abortErr != nil {
		return
	}

	s.abortErr = err
	if s.cancel != nil {
		s.cancel(err)
	}
}

func (s *WorkflowState) AbortErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.abortErr
}

// EnterStep marks the start of step code. It returns false if a step is already executing, i.e. a
// step tries to run durable operations itself.
func (s *WorkflowState) EnterStep() bool {
	return s.inStep.CompareAndSwap(false, true)
}

func (s *WorkflowState) LeaveStep() {
	s.inStep.Store(false)
}

type stateKeyType int

const stateKey stateKeyType = iota

// Context is handed to workflow functions.
type Context struct {
	context.Context

	state *WorkflowState
}

func NewContext(ctx context.Context, state *WorkflowState) *Context {
	return &Context{
		Context: ctx,
		state:   state,
	}
}

func (c *Context) WorkflowID() string {
	return c.state.instance.ID
}

func (c *Context) WorkflowName() string {
	return c.state.instance.Name
}

func (c *Context) Value(key any) any {
	if key == stateKey {
		return c.state
	}

	return c.Context.Value(key)
}

// FromContext returns the state of the workflow execution ctx belongs to, or nil.
func FromContext(ctx context.Context) *WorkflowState {
	if s, ok := ctx.Value(stateKey).(*WorkflowState); ok {
		return s
	}

	return nil
}

type stepInfoKeyType int

const stepInfoKey stepInfoKeyType = iota

// StepInfo describes the step a step function is executing for.
type StepInfo struct {
	WorkflowID string
	StepNumber int
	StepName   string
	Attempt    int
}

func WithStepInfo(ctx context.Context, info StepInfo) context.Context {
	return context.WithValue(ctx, stepInfoKey, info)
}

func StepInfoFromContext(ctx context.Context) (StepInfo, bool) {
	info, ok := ctx.Value(stepInfoKey).(StepInfo)
	return info, ok
}
