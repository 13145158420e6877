package scheduler

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/metrics"
	"github.com/go-durable/durable/backend/sqlite"
	"github.com/go-durable/durable/client"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/workflow"
	"github.com/stretchr/testify/require"
)

func nightlyReport(ctx workflow.Context, scheduled time.Time) error {
	return nil
}

func newScheduler(t *testing.T) (*Scheduler, backend.Backend) {
	s, b, _ := newMockScheduler(t)
	return s, b
}

func newMockScheduler(t *testing.T) (*Scheduler, backend.Backend, *clock.Mock) {
	c := clock.NewMock()

	b := sqlite.NewInMemoryBackend(sqlite.WithBackendOptions(backend.WithClock(c)))
	t.Cleanup(func() { b.Close() })

	return New(client.New(b), slog.Default(), metrics.NewNoopClient(), c), b, c
}

func Test_InstanceID(t *testing.T) {
	scheduled := time.Date(2024, 5, 1, 2, 0, 0, 0, time.FixedZone("CEST", 2*60*60))

	require.Equal(t, "sched-report-2024-05-01T00:00:00Z", InstanceID("report", scheduled))
}

func Test_Add(t *testing.T) {
	s, _ := newScheduler(t)

	require.NoError(t, s.Add("report", "0 2 * * *", nightlyReport))
	require.NoError(t, s.Add("report", "*/10 * * * * *", nightlyReport))
	require.NoError(t, s.Add("report", "@every 1h", nightlyReport))

	require.Error(t, s.Add("report", "not a schedule", nightlyReport))

	require.Error(t, s.Add("report", "@every 1h", func(ctx workflow.Context, n int) error {
		return nil
	}))
}

func Test_Trigger_StartsOnePerScheduledTime(t *testing.T) {
	s, b := newScheduler(t)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	scheduled := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	s.trigger("report", scheduled)
	s.trigger("report", scheduled)
	s.trigger("report", scheduled.Add(time.Minute))

	instances, err := b.ListWorkflowInstances(context.Background(), backend.ListOptions{Name: "report"})
	require.NoError(t, err)
	require.Len(t, instances, 2)

	instance, err := b.GetWorkflowInstance(context.Background(), InstanceID("report", scheduled))
	require.NoError(t, err)
	require.Equal(t, core.WorkflowStatusPending, instance.Status)
	require.Len(t, instance.Inputs, 1)

	var input time.Time
	require.NoError(t, b.Converter().From(instance.Inputs[0], &input))
	require.True(t, scheduled.Equal(input))
}

func Test_Trigger_StoppedScheduler(t *testing.T) {
	s, b := newScheduler(t)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))
	cancel()
	s.Stop()

	s.trigger("report", time.Now())

	instances, err := b.ListWorkflowInstances(context.Background(), backend.ListOptions{})
	require.NoError(t, err)
	require.Empty(t, instances)
}

func Test_Tick(t *testing.T) {
	at := func(h, m, sec, nsec int) time.Time {
		return time.Date(2024, 5, 1, h, m, sec, nsec, time.UTC)
	}

	tests := []struct {
		schedule string
		now      time.Time
		want     time.Time
	}{
		{"0 2 * * *", at(2, 0, 0, 0), at(2, 0, 0, 0)},
		{"0 2 * * *", at(2, 0, 1, 300), at(2, 0, 0, 0)},
		{"0 2 * * *", at(14, 30, 0, 0), at(2, 0, 0, 0)},
		{"*/10 * * * * *", at(0, 0, 12, 500), at(0, 0, 10, 0)},
		{"@every 1h", at(10, 45, 3, 0), at(10, 0, 0, 0)},
		{"@yearly", at(10, 0, 0, 0), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			schedule, err := parser.Parse(tt.schedule)
			require.NoError(t, err)

			require.Equal(t, tt.want, Tick(schedule, tt.now).UTC())
		})
	}
}

func Test_Job_LateRunsStartSameInstance(t *testing.T) {
	s, b, c := newMockScheduler(t)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	schedule, err := parser.Parse("0 2 * * *")
	require.NoError(t, err)

	j := &job{s: s, name: "report", schedule: schedule}

	c.Set(time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC))
	j.Run()

	// Another process fires a little later, across a second boundary
	c.Add(1500 * time.Millisecond)
	j.Run()

	instances, err := b.ListWorkflowInstances(context.Background(), backend.ListOptions{Name: "report"})
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Equal(t, InstanceID("report", time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)), instances[0].ID)
}
