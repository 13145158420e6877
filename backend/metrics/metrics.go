package metrics

import "time"

type Tags map[string]string

// Client is implemented by metrics sinks. The engine reports through the client configured on the
// backend, NewOTelClient adapts an OpenTelemetry meter provider.
type Client interface {
	Counter(name string, tags Tags, value int64)

	Distribution(name string, tags Tags, value float64)

	Gauge(name string, tags Tags, value int64)

	Timing(name string, tags Tags, duration time.Duration)

	// WithTags returns a client adding tags to everything it reports
	WithTags(tags Tags) Client
}

// NewNoopClient returns a client discarding all metrics.
func NewNoopClient() Client {
	return noopClient{}
}

type noopClient struct{}

func (noopClient) Counter(string, Tags, int64)        {}
func (noopClient) Distribution(string, Tags, float64) {}
func (noopClient) Gauge(string, Tags, int64)          {}
func (noopClient) Timing(string, Tags, time.Duration) {}
func (nc noopClient) WithTags(Tags) Client            { return nc }
