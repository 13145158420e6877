package workflow

import (
	"context"
	"time"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/backend/converter"
	"github.com/go-durable/durable/backend/metrics"
	"github.com/go-durable/durable/core"
	"github.com/go-durable/durable/internal/metrickeys"
	"github.com/go-durable/durable/internal/workflowerrors"
	"github.com/go-durable/durable/internal/workflowstate"
	"github.com/go-durable/durable/log"
	"github.com/pkg/errors"
)

// Names of the steps recorded by built-in operations
const (
	stepSend             = "durable.send"
	stepRecv             = "durable.recv"
	stepRecvDeadline     = "durable.recv.deadline"
	stepSetEvent         = "durable.set_event"
	stepGetEvent         = "durable.get_event"
	stepGetEventDeadline = "durable.get_event.deadline"
	stepNow              = "durable.now"
	stepSleep            = "durable.sleep"
)

// enter guards a durable operation. Operations run one at a time and never from inside a step. Once
// the execution is aborted, every later operation fails with the abort error.
func enter(ctx Context) (*workflowstate.WorkflowState, func(), error) {
	s := state(ctx)
	if err := s.AbortErr(); err != nil {
		return nil, nil, err
	}

	if !s.EnterStep() {
		return nil, nil, ErrNestedStep
	}

	return s, s.LeaveStep, nil
}

// abort marks the execution as failed for reasons outside of the workflow and returns err.
func abort(s *workflowstate.WorkflowState, err error) error {
	s.Abort(err)
	return err
}

func newRecord(s *workflowstate.WorkflowState, stepNumber int, name string) *core.StepRecord {
	return &core.StepRecord{
		WorkflowID: s.Instance().ID,
		StepNumber: stepNumber,
		StepName:   name,
		ExecutedAt: s.Clock.Now(),
	}
}

// lookup returns the recorded outcome of the given step or nil if it has not run yet.
func lookup(ctx context.Context, s *workflowstate.WorkflowState, stepNumber int, name string) (*core.StepRecord, error) {
	r, err := s.Backend.GetStepResult(ctx, s.Instance().ID, stepNumber)
	if err != nil {
		return nil, abort(s, errors.Wrapf(err, "looking up step %d", stepNumber))
	}

	if r == nil {
		return nil, nil
	}

	if r.StepName != name {
		s.Logger.Warn("Recorded step does not match workflow code",
			log.StepNumberKey, stepNumber,
			log.StepNameKey, name,
			"recorded", r.StepName,
		)
	}

	s.Logger.Debug("Replaying step", log.StepNumberKey, stepNumber, log.StepNameKey, name)
	s.Backend.Metrics().Counter(metrickeys.StepReplayed, metrics.Tags{metrickeys.StepName: name}, 1)

	return r, nil
}

// record persists a step outcome. If the step was recorded concurrently, the existing record wins.
func record(ctx context.Context, s *workflowstate.WorkflowState, r *core.StepRecord) (*core.StepRecord, error) {
	err := s.Backend.RecordStepResult(ctx, r)
	if err == nil {
		return r, nil
	}

	if errors.Is(err, backend.ErrStepAlreadyRecorded) {
		return existing(ctx, s, r.StepNumber)
	}

	return nil, abort(s, errors.Wrapf(err, "recording step %d", r.StepNumber))
}

func existing(ctx context.Context, s *workflowstate.WorkflowState, stepNumber int) (*core.StepRecord, error) {
	r, err := s.Backend.GetStepResult(ctx, s.Instance().ID, stepNumber)
	if err != nil {
		return nil, abort(s, errors.Wrapf(err, "looking up step %d", stepNumber))
	}

	if r == nil {
		return nil, abort(s, errors.Errorf("step %d reported as recorded but not found", stepNumber))
	}

	return r, nil
}

// outcome returns what a recorded step produced: its stored error or its decoded output.
func outcome[T any](s *workflowstate.WorkflowState, r *core.StepRecord) (T, error) {
	if r.Error != nil {
		var zero T
		return zero, workflowerrors.ToError(r.Error)
	}

	v, err := converter.Decode[T](s.Converter, r.Output)
	if err != nil {
		return v, errors.Wrapf(err, "decoding output of step %d", r.StepNumber)
	}

	return v, nil
}

// deadline returns when a wait gives up. The deadline is recorded as its own step the first time the
// wait is reached, so a replayed wait keeps the original one.
func deadline(ctx context.Context, s *workflowstate.WorkflowState, name string, timeout time.Duration) (time.Time, error) {
	n := s.NextStep()

	r, err := lookup(ctx, s, n, name)
	if err != nil {
		return time.Time{}, err
	}

	if r == nil {
		rec := newRecord(s, n, name)
		rec.Output, err = s.Converter.To(s.Clock.Now().Add(timeout).UnixMilli())
		if err != nil {
			return time.Time{}, abort(s, err)
		}

		if r, err = record(ctx, s, rec); err != nil {
			return time.Time{}, err
		}
	}

	ms, err := outcome[int64](s, r)
	if err != nil {
		return time.Time{}, abort(s, err)
	}

	return time.UnixMilli(ms), nil
}

// wait blocks until wake fires, the polling interval elapses, or until is reached.
func wait(ctx context.Context, s *workflowstate.WorkflowState, wake <-chan struct{}, until time.Time) error {
	d := until.Sub(s.Clock.Now())
	if poll := s.Backend.Options().PollingInterval; poll > 0 && poll < d {
		d = poll
	}

	t := s.Clock.Timer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-wake:
	case <-t.C:
	}

	return nil
}
