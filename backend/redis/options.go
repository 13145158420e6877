package redis

import (
	"time"

	"github.com/go-durable/durable/backend"
)

type RedisOptions struct {
	*backend.Options

	// AutoExpiration is the duration after which finished instances, with their steps, events and
	// messages, expire from the data store. If set to 0 (default), instances never expire.
	AutoExpiration time.Duration

	KeyPrefix string
}

type RedisBackendOption func(*RedisOptions)

func WithBackendOptions(opts ...backend.BackendOption) RedisBackendOption {
	return func(o *RedisOptions) {
		for _, opt := range opts {
			opt(o.Options)
		}
	}
}

// WithAutoExpiration sets the duration after which finished instances will expire from the data store.
// If set to 0 (default), instances will never expire and need to be manually removed.
func WithAutoExpiration(expireFinishedAfter time.Duration) RedisBackendOption {
	return func(o *RedisOptions) {
		o.AutoExpiration = expireFinishedAfter
	}
}

// WithKeyPrefix prefixes all keys, allowing multiple backends to share a database.
func WithKeyPrefix(keyPrefix string) RedisBackendOption {
	return func(o *RedisOptions) {
		o.KeyPrefix = keyPrefix
	}
}
