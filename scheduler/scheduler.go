package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-durable/durable/backend/metrics"
	"github.com/go-durable/durable/client"
	"github.com/go-durable/durable/internal/args"
	"github.com/go-durable/durable/internal/metrickeys"
	"github.com/go-durable/durable/log"
	"github.com/go-durable/durable/workflow"
	"github.com/robfig/cron/v3"
)

// Accepts standard 5 field expressions, an optional leading seconds field, and descriptors like
// "@every 1h".
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// InstanceID returns the id of the instance started for the given workflow and scheduled time. All
// schedulers sharing a backend derive the same id, so each scheduled time starts a single instance.
func InstanceID(workflowName string, scheduled time.Time) string {
	return fmt.Sprintf("sched-%s-%s", workflowName, scheduled.UTC().Format(time.RFC3339))
}

// Scheduler starts workflows on cron schedules.
type Scheduler struct {
	client  *client.Client
	logger  *slog.Logger
	metrics metrics.Client
	clock   clock.Clock

	cron *cron.Cron

	mu  sync.Mutex
	ctx context.Context
}

func New(c *client.Client, logger *slog.Logger, m metrics.Client, clk clock.Clock) *Scheduler {
	return &Scheduler{
		client:  c,
		logger:  logger,
		metrics: m,
		clock:   clk,
		cron:    cron.New(cron.WithParser(parser)),
		ctx:     context.Background(),
	}
}

// Add schedules wf, registered under name. wf has to accept the scheduled time as its only argument.
func (s *Scheduler) Add(name, schedule string, wf workflow.Workflow) error {
	if err := args.ParamsMatch(wf, time.Time{}); err != nil {
		return fmt.Errorf("scheduled workflow must accept the scheduled time: %w", err)
	}

	sched, err := parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("parsing schedule %q: %w", schedule, err)
	}

	s.cron.Schedule(sched, &job{s: s, name: name, schedule: sched})

	s.logger.Info("Scheduled workflow", log.WorkflowNameKey, name, log.ScheduleKey, schedule)

	return nil
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.cron.Start()

	return nil
}

// Stop stops triggering workflows and waits for running triggers to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) trigger(name string, scheduled time.Time) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if ctx.Err() != nil {
		return
	}

	id := InstanceID(name, scheduled)

	if _, err := s.client.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{InstanceID: id}, name, scheduled); err != nil {
		s.logger.Error("Could not start scheduled workflow", log.WorkflowNameKey, name, log.InstanceIDKey, id, "error", err)
		return
	}

	s.metrics.Counter(metrickeys.SchedulerTriggered, metrics.Tags{metrickeys.WorkflowName: name}, 1)
	s.logger.Debug("Started scheduled workflow", log.WorkflowNameKey, name, log.InstanceIDKey, id)
}

type job struct {
	s        *Scheduler
	name     string
	schedule cron.Schedule
}

// Run is called by cron around the scheduled time. The instance is started for the latest tick of
// the schedule at or before now, so a late run or a skewed clock still maps to the same tick.
func (j *job) Run() {
	j.s.trigger(j.name, Tick(j.schedule, j.s.clock.Now()))
}

// maxLookback bounds the search for the previous tick, enough for yearly schedules.
const maxLookback = 5 * 366 * 24 * time.Hour

// Tick returns the latest time at or before now that schedule fires at. Fixed interval schedules
// ("@every") are aligned to multiples of the interval since the Unix epoch.
func Tick(schedule cron.Schedule, now time.Time) time.Time {
	now = now.Truncate(time.Second)

	if every, ok := schedule.(cron.ConstantDelaySchedule); ok {
		return now.Truncate(every.Delay)
	}

	for lookback := time.Second; lookback <= maxLookback; lookback *= 2 {
		t := schedule.Next(now.Add(-lookback))
		if t.IsZero() || t.After(now) {
			continue
		}

		for n := schedule.Next(t); !n.IsZero() && !n.After(now); n = schedule.Next(n) {
			t = n
		}

		return t
	}

	return now
}
