package registry

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/internal/args"
	"github.com/go-durable/durable/internal/fn"
)

const DefaultMaxRecoveryAttempts = 100

type Workflow struct {
	Name string
	Fn   any

	MaxRecoveryAttempts int
}

type Step struct {
	Name string
	Fn   any

	// RetryOptions is nil if the step uses the defaults of the call site
	RetryOptions *core.RetryOptions
}

type Registry struct {
	sync.Mutex

	workflowMap map[string]*Workflow
	stepMap     map[string]*Step
	stepFns     map[uintptr]*Step
}

// New creates a new registry instance.
func New() *Registry {
	return &Registry{
		workflowMap: make(map[string]*Workflow),
		stepMap:     make(map[string]*Step),
		stepFns:     make(map[uintptr]*Step),
	}
}

// WorkflowName returns the name a workflow is registered under with the given options.
func WorkflowName(workflow any, opts ...RegisterOption) string {
	cfg := newRegisterConfig(registerConfig{}, opts)
	if cfg.Name != "" {
		return cfg.Name
	}

	return fn.Name(workflow)
}

func (r *Registry) RegisterWorkflow(workflow any, opts ...RegisterOption) error {
	cfg := newRegisterConfig(registerConfig{MaxRecoveryAttempts: DefaultMaxRecoveryAttempts}, opts)

	wfType := reflect.TypeOf(workflow)
	if wfType == nil || wfType.Kind() != reflect.Func {
		return &ErrInvalidWorkflow{"workflow is not a function"}
	}

	name := WorkflowName(workflow, opts...)

	if wfType.NumIn() == 0 {
		return &ErrInvalidWorkflow{"workflow does not accept context parameter"}
	}

	if !args.IsContext(wfType.In(0)) {
		return &ErrInvalidWorkflow{"workflow does not accept context as first parameter"}
	}

	if args.Leading(wfType) > 1 {
		return &ErrInvalidWorkflow{"workflow cannot accept a transaction"}
	}

	if err := args.ReturnsError("workflow", wfType); err != nil {
		return &ErrInvalidWorkflow{err.Error()}
	}

	if cfg.MaxRecoveryAttempts < 0 {
		return &ErrInvalidWorkflow{"max recovery attempts must not be negative"}
	}

	r.Lock()
	defer r.Unlock()

	if _, ok := r.workflowMap[name]; ok {
		return &ErrWorkflowAlreadyRegistered{fmt.Sprintf("workflow with name %q already registered", name)}
	}

	r.workflowMap[name] = &Workflow{
		Name:                name,
		Fn:                  workflow,
		MaxRecoveryAttempts: cfg.MaxRecoveryAttempts,
	}

	return nil
}

// RegisterStep registers a step or transaction function. Registration is optional; it attaches a
// name and a default retry policy to the function.
func (r *Registry) RegisterStep(step any, opts ...RegisterOption) error {
	cfg := newRegisterConfig(registerConfig{}, opts)

	stepType := reflect.TypeOf(step)
	if stepType == nil || stepType.Kind() != reflect.Func {
		return &ErrInvalidStep{"step is not a function"}
	}

	if err := args.ReturnsError("step", stepType); err != nil {
		return &ErrInvalidStep{err.Error()}
	}

	name := cfg.Name
	if name == "" {
		name = fn.Name(step)
	}

	r.Lock()
	defer r.Unlock()

	if _, ok := r.stepMap[name]; ok {
		return &ErrStepAlreadyRegistered{fmt.Sprintf("step with name %q already registered", name)}
	}

	s := &Step{
		Name:         name,
		Fn:           step,
		RetryOptions: cfg.RetryOptions,
	}
	r.stepMap[name] = s
	r.stepFns[reflect.ValueOf(step).Pointer()] = s

	return nil
}

func (r *Registry) GetWorkflow(name string) (*Workflow, error) {
	r.Lock()
	defer r.Unlock()

	if workflow, ok := r.workflowMap[name]; ok {
		return workflow, nil
	}

	return nil, &ErrWorkflowNotFound{Name: name}
}

// GetStep returns the registration of the step with the given name, or nil
func (r *Registry) GetStep(name string) *Step {
	r.Lock()
	defer r.Unlock()

	return r.stepMap[name]
}

// GetStepByFunc returns the registration of the given step function, or nil
func (r *Registry) GetStepByFunc(step any) *Step {
	v := reflect.ValueOf(step)
	if v.Kind() != reflect.Func {
		return nil
	}

	r.Lock()
	defer r.Unlock()

	return r.stepFns[v.Pointer()]
}

// GetWorkflowNames returns the names of all registered workflows
func (r *Registry) GetWorkflowNames() []string {
	r.Lock()
	defer r.Unlock()

	names := make([]string, 0, len(r.workflowMap))
	for name := range r.workflowMap {
		names = append(names, name)
	}

	return names
}
