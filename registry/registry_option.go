package registry

import "github.com/go-durable/durable/core"

// RegisterOption configures the registration of a workflow or step.
type RegisterOption func(*registerConfig)

type registerConfig struct {
	Name string

	MaxRecoveryAttempts int
	RetryOptions        *core.RetryOptions
}

func newRegisterConfig(defaults registerConfig, opts []RegisterOption) registerConfig {
	cfg := defaults
	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

// WithName registers under name instead of the function name. Instances store the name, so renaming
// a function without it strands its pending instances.
func WithName(name string) RegisterOption {
	return func(cfg *registerConfig) {
		cfg.Name = name
	}
}

// WithMaxRecoveryAttempts bounds how often an abandoned instance of the workflow is recovered before
// it is marked as failed. With zero, an abandoned instance fails right away.
func WithMaxRecoveryAttempts(n int) RegisterOption {
	return func(cfg *registerConfig) {
		cfg.MaxRecoveryAttempts = n
	}
}

// WithRetryOptions sets the default retry policy of a step.
func WithRetryOptions(options core.RetryOptions) RegisterOption {
	return func(cfg *registerConfig) {
		cfg.RetryOptions = &options
	}
}
