package backend

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-durable/durable/backend/converter"
	"github.com/go-durable/durable/backend/metrics"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

type Options struct {
	Logger *slog.Logger

	Metrics metrics.Client

	TracerProvider trace.TracerProvider

	// Converter is the converter to use for serializing and deserializing inputs, step results and
	// messages. If not explicitly set converter.DefaultConverter is used.
	Converter converter.Converter

	Clock clock.Clock

	// PollingInterval bounds how long a waiting workflow or client sleeps before checking the store
	// again when no notification arrived.
	PollingInterval time.Duration
}

var DefaultOptions Options = Options{
	Logger:          slog.Default(),
	Metrics:         metrics.NewNoopClient(),
	TracerProvider:  noop.NewTracerProvider(),
	Converter:       converter.DefaultConverter,
	Clock:           clock.New(),
	PollingInterval: time.Second,
}

type BackendOption func(*Options)

func WithLogger(logger *slog.Logger) BackendOption {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithMetrics(client metrics.Client) BackendOption {
	return func(o *Options) {
		o.Metrics = client
	}
}

func WithTracerProvider(tp trace.TracerProvider) BackendOption {
	return func(o *Options) {
		o.TracerProvider = tp
	}
}

func WithConverter(converter converter.Converter) BackendOption {
	return func(o *Options) {
		o.Converter = converter
	}
}

func WithClock(c clock.Clock) BackendOption {
	return func(o *Options) {
		o.Clock = c
	}
}

func WithPollingInterval(interval time.Duration) BackendOption {
	return func(o *Options) {
		o.PollingInterval = interval
	}
}

func ApplyOptions(opts ...BackendOption) *Options {
	options := DefaultOptions

	for _, opt := range opts {
		opt(&options)
	}

	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	if options.Metrics == nil {
		options.Metrics = metrics.NewNoopClient()
	}

	if options.Clock == nil {
		options.Clock = clock.New()
	}

	if options.PollingInterval <= 0 {
		options.PollingInterval = DefaultOptions.PollingInterval
	}

	return &options
}
