package worker

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// taskSlots bounds the number of tasks a worker runs at once. A poller reserves a slot before
// claiming, so a worker at its limit leaves pending instances to other workers.
type taskSlots struct {
	// sem is nil without a limit
	sem *semaphore.Weighted
}

func newTaskSlots(maxParallelTasks int) *taskSlots {
	s := &taskSlots{}
	if maxParallelTasks > 0 {
		s.sem = semaphore.NewWeighted(int64(maxParallelTasks))
	}

	return s
}

func (s *taskSlots) reserve(ctx context.Context) error {
	if s.sem == nil {
		return ctx.Err()
	}

	return s.sem.Acquire(ctx, 1)
}

func (s *taskSlots) release() {
	if s.sem != nil {
		s.sem.Release(1)
	}
}
