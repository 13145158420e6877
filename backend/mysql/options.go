package mysql

import (
	"time"

	"github.com/go-durable/durable/backend"
)

type options struct {
	*backend.Options

	// ApplyMigrations creates or upgrades the schema when the backend is opened. Defaults to true.
	ApplyMigrations bool

	// MaxOpenConns limits the connections of the pool. Every running workflow holds one while it
	// records a step or heartbeats. 0 is unlimited.
	MaxOpenConns int

	// ConnMaxLifetime closes pooled connections after the given duration. Defaults to 3 minutes, below
	// the idle timeout of most MySQL proxies.
	ConnMaxLifetime time.Duration
}

type option func(*options)

func WithApplyMigrations(applyMigrations bool) option {
	return func(o *options) {
		o.ApplyMigrations = applyMigrations
	}
}

// WithConnectionPool sizes the connection pool.
func WithConnectionPool(maxOpenConns int, connMaxLifetime time.Duration) option {
	return func(o *options) {
		o.MaxOpenConns = maxOpenConns
		o.ConnMaxLifetime = connMaxLifetime
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
