package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	r := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			r[m.Name] = m.Data
		}
	}

	return r
}

func Test_OTelClient(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	c := NewOTelClient(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	backendClient := c.WithTags(Tags{"backend": "sqlite"})
	backendClient.Counter("durable.step.executed", Tags{"step": "charge"}, 1)
	backendClient.Counter("durable.step.executed", Tags{"step": "charge"}, 2)
	backendClient.Gauge("durable.workflow.running", nil, 3)
	backendClient.Timing("durable.step.duration", Tags{"step": "charge"}, 250*time.Millisecond)
	c.Distribution("durable.batch", nil, 1.5)

	data := collect(t, reader)

	sum, ok := data["durable.step.executed"].(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1)
	require.Equal(t, int64(3), sum.DataPoints[0].Value)

	backend, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("backend"))
	require.Equal(t, "sqlite", backend.AsString())
	step, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("step"))
	require.Equal(t, "charge", step.AsString())

	gauge, ok := data["durable.workflow.running"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Equal(t, int64(3), gauge.DataPoints[0].Value)

	timing, ok := data["durable.step.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Equal(t, uint64(1), timing.DataPoints[0].Count)
	require.InDelta(t, 250.0, timing.DataPoints[0].Sum, 0.001)

	_, ok = data["durable.batch"].(metricdata.Histogram[float64])
	require.True(t, ok)
}

func Test_WithTags_Overrides(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	c := NewOTelClient(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))).
		WithTags(Tags{"kind": "step"}).
		WithTags(Tags{"kind": "transaction"})

	c.Counter("durable.step.executed", Tags{"kind": "recv"}, 1)

	sum := collect(t, reader)["durable.step.executed"].(metricdata.Sum[int64])
	require.Len(t, sum.DataPoints, 1)
	require.Equal(t, 1, sum.DataPoints[0].Attributes.Len())

	kind, _ := sum.DataPoints[0].Attributes.Value(attribute.Key("kind"))
	require.Equal(t, "recv", kind.AsString())
}
