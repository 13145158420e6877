package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/converter"
	"github.com/go-durable/durable/backend/metrics"
	"github.com/go-durable/durable/internal/notify"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

var _ backend.Backend = (*redisBackend)(nil)

func NewRedisBackend(client redis.UniversalClient, opts ...RedisBackendOption) (*redisBackend, error) {
	// Default options
	options := &RedisOptions{
		Options: backend.ApplyOptions(),
	}

	for _, opt := range opts {
		opt(options)
	}

	rb := &redisBackend{
		rdb:     client,
		options: options,
		keys:    keys{prefix: options.KeyPrefix},
		hub:     notify.NewHub(),
	}

	// Preload scripts here. Usually redis-go attempts to execute them first, and if redis doesn't know
	// them, loads them. This doesn't work when using (transactional) pipelines, so eagerly load them on startup.
	ctx := context.Background()
	cmds := map[string]*redis.StringCmd{
		"createInstanceCmd":    createInstanceCmd.Load(ctx, rb.rdb),
		"claimInstanceCmd":     claimInstanceCmd.Load(ctx, rb.rdb),
		"heartbeatInstanceCmd": heartbeatInstanceCmd.Load(ctx, rb.rdb),
		"completeInstanceCmd":  completeInstanceCmd.Load(ctx, rb.rdb),
		"expireCmd":            expireCmd.Load(ctx, rb.rdb),
	}
	for name, cmd := range cmds {
		if cmd.Err() != nil {
			return nil, fmt.Errorf("loading redis script: %v %w", name, cmd.Err())
		}
	}

	if err := rb.subscribe(); err != nil {
		return nil, err
	}

	return rb, nil
}

type redisBackend struct {
	rdb     redis.UniversalClient
	options *RedisOptions
	keys    keys

	hub    *notify.Hub
	pubsub *redis.PubSub
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// subscribe forwards notifications published by any process sharing the database to the local hub
func (rb *redisBackend) subscribe() error {
	ctx := context.Background()

	rb.pubsub = rb.rdb.Subscribe(ctx, rb.keys.notifyChannel())

	// Wait for the subscription to be active, otherwise notifications sent right after creating the
	// backend might be missed.
	if _, err := rb.pubsub.Receive(ctx); err != nil {
		rb.pubsub.Close()
		return fmt.Errorf("subscribing to notifications: %w", err)
	}

	ch := rb.pubsub.Channel()

	rb.wg.Add(1)
	go func() {
		defer rb.wg.Done()

		for msg := range ch {
			rb.hub.Publish(msg.Payload)
		}
	}()

	return nil
}

// publish notifies local subscribers right away and other processes through the notification channel
func (rb *redisBackend) publish(ctx context.Context, keys ...string) {
	for _, key := range keys {
		rb.hub.Publish(key)

		if err := rb.rdb.Publish(ctx, rb.keys.notifyChannel(), key).Err(); err != nil {
			rb.options.Logger.Warn("publishing notification", slog.String("key", key), slog.Any("error", err))
		}
	}
}

func (rb *redisBackend) now() time.Time {
	// Redis stores millisecond timestamps
	return time.UnixMilli(rb.options.Clock.Now().UnixMilli())
}

func (rb *redisBackend) Subscribe(key string) (<-chan struct{}, func()) {
	return rb.hub.Subscribe(key)
}

func (rb *redisBackend) Logger() *slog.Logger {
	return rb.options.Logger
}

func (rb *redisBackend) Metrics() metrics.Client {
	return rb.options.Metrics.WithTags(metrics.Tags{"backend": "redis"})
}

func (rb *redisBackend) Tracer() trace.Tracer {
	return rb.options.TracerProvider.Tracer(backend.TracerName)
}

func (rb *redisBackend) Converter() converter.Converter {
	return rb.options.Converter
}

func (rb *redisBackend) Clock() clock.Clock {
	return rb.options.Clock
}

func (rb *redisBackend) Options() *backend.Options {
	return rb.options.Options
}

func (rb *redisBackend) FeatureSupported(feature backend.Feature) bool {
	switch feature {
	case backend.FeatureDistributedNotify:
		return true
	}

	return false
}

func (rb *redisBackend) Close() error {
	var err error
	rb.closeOnce.Do(func() {
		if perr := rb.pubsub.Close(); perr != nil {
			err = fmt.Errorf("closing notification subscription: %w", perr)
		}

		rb.wg.Wait()

		if cerr := rb.rdb.Close(); cerr != nil && err == nil {
			err = cerr
		}
	})

	return err
}
