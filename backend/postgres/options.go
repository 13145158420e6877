package postgres

import (
	"github.com/go-durable/durable/backend"
)

type options struct {
	*backend.Options

	// ApplyMigrations creates or upgrades the schema when the backend is opened. Defaults to true for
	// backends opening their own connection.
	ApplyMigrations bool

	// SSLMode is the sslmode of the connection string. Defaults to "disable".
	SSLMode string

	// MaxOpenConns limits the connection pool. 0 is unlimited.
	MaxOpenConns int

	// ListenForNotifications subscribes to notifications sent by other processes sharing the database,
	// so waiting workflows and clients wake up right away. Defaults to true.
	ListenForNotifications bool
}

type option func(*options)

func WithApplyMigrations(applyMigrations bool) option {
	return func(o *options) {
		o.ApplyMigrations = applyMigrations
	}
}

// WithSSLMode sets the sslmode, for example "require" or "verify-full".
func WithSSLMode(sslmode string) option {
	return func(o *options) {
		o.SSLMode = sslmode
	}
}

func WithMaxOpenConns(n int) option {
	return func(o *options) {
		o.MaxOpenConns = n
	}
}

// WithNotifications enables or disables listening for notifications of other processes. Without
// them, waits across processes rely on polling.
func WithNotifications(listen bool) option {
	return func(o *options) {
		o.ListenForNotifications = listen
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
