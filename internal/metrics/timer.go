package metrics

import (
	"maps"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-durable/durable/backend/metrics"
	"github.com/go-durable/durable/internal/metrickeys"
)

// Timer measures a step execution on the workflow's clock.
type Timer struct {
	client metrics.Client
	clock  clock.Clock
	name   string
	tags   metrics.Tags
	start  time.Time
}

func StartTimer(client metrics.Client, clk clock.Clock, name string, tags metrics.Tags) *Timer {
	return &Timer{
		client: client,
		clock:  clk,
		name:   name,
		tags:   tags,
		start:  clk.Now(),
	}
}

// Stop reports the elapsed time with a status tag of "error" or "success" and returns it.
func (t *Timer) Stop(err error) time.Duration {
	elapsed := t.clock.Since(t.start)

	tags := make(metrics.Tags, len(t.tags)+1)
	maps.Copy(tags, t.tags)

	tags[metrickeys.Status] = "success"
	if err != nil {
		tags[metrickeys.Status] = "error"
	}

	t.client.Timing(t.name, tags, elapsed)

	return elapsed
}
