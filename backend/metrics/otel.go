package metrics

import (
	"context"
	"maps"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/go-durable/durable"

type otelClient struct {
	meter metric.Meter
	tags  Tags

	// instruments are shared between clients derived with WithTags
	instruments *sync.Map
}

// NewOTelClient reports metrics as OpenTelemetry instruments created on mp. Timings are recorded in
// milliseconds.
func NewOTelClient(mp metric.MeterProvider) Client {
	return &otelClient{
		meter:       mp.Meter(instrumentationName),
		instruments: &sync.Map{},
	}
}

func (c *otelClient) Counter(name string, tags Tags, value int64) {
	counter, err := instrument(c, "counter:"+name, func() (metric.Int64Counter, error) {
		return c.meter.Int64Counter(name)
	})
	if err == nil {
		counter.Add(context.Background(), value, c.attributes(tags))
	}
}

func (c *otelClient) Distribution(name string, tags Tags, value float64) {
	histogram, err := instrument(c, "distribution:"+name, func() (metric.Float64Histogram, error) {
		return c.meter.Float64Histogram(name)
	})
	if err == nil {
		histogram.Record(context.Background(), value, c.attributes(tags))
	}
}

func (c *otelClient) Gauge(name string, tags Tags, value int64) {
	gauge, err := instrument(c, "gauge:"+name, func() (metric.Int64Gauge, error) {
		return c.meter.Int64Gauge(name)
	})
	if err == nil {
		gauge.Record(context.Background(), value, c.attributes(tags))
	}
}

func (c *otelClient) Timing(name string, tags Tags, duration time.Duration) {
	histogram, err := instrument(c, "timing:"+name, func() (metric.Float64Histogram, error) {
		return c.meter.Float64Histogram(name, metric.WithUnit("ms"))
	})
	if err == nil {
		histogram.Record(context.Background(), float64(duration)/float64(time.Millisecond), c.attributes(tags))
	}
}

func (c *otelClient) WithTags(tags Tags) Client {
	merged := make(Tags, len(c.tags)+len(tags))
	maps.Copy(merged, c.tags)
	maps.Copy(merged, tags)

	return &otelClient{
		meter:       c.meter,
		tags:        merged,
		instruments: c.instruments,
	}
}

func (c *otelClient) attributes(tags Tags) metric.MeasurementOption {
	kvs := make([]attribute.KeyValue, 0, len(c.tags)+len(tags))
	for k, v := range c.tags {
		if _, ok := tags[k]; !ok {
			kvs = append(kvs, attribute.String(k, v))
		}
	}

	for k, v := range tags {
		kvs = append(kvs, attribute.String(k, v))
	}

	return metric.WithAttributes(kvs...)
}

func instrument[I any](c *otelClient, key string, create func() (I, error)) (I, error) {
	if i, ok := c.instruments.Load(key); ok {
		return i.(I), nil
	}

	i, err := create()
	if err != nil {
		return i, err
	}

	actual, _ := c.instruments.LoadOrStore(key, i)
	return actual.(I), nil
}
