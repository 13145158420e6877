package sqlite

import (
	"time"

	"github.com/go-durable/durable/backend"
)

type options struct {
	*backend.Options

	// ApplyMigrations creates or upgrades the schema when the backend is opened. Defaults to true.
	ApplyMigrations bool

	// BusyTimeout is how long a connection waits for the write lock of a file database held by
	// another connection. Defaults to 10 seconds.
	BusyTimeout time.Duration
}

type option func(*options)

func defaultOptions(opts ...option) *options {
	o := &options{
		Options:         backend.ApplyOptions(),
		ApplyMigrations: true,
		BusyTimeout:     10 * time.Second,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

func WithApplyMigrations(applyMigrations bool) option {
	return func(o *options) {
		o.ApplyMigrations = applyMigrations
	}
}

// WithBusyTimeout sets how long writers wait for each other. Only file databases share the lock.
func WithBusyTimeout(d time.Duration) option {
	return func(o *options) {
		o.BusyTimeout = d
	}
}

// WithBackendOptions passes logger, clock, converter and the other engine wide options.
func WithBackendOptions(opts ...backend.BackendOption) option {
	return func(o *options) {
		for _, opt := range opts {
			opt(o.Options)
		}
	}
}
