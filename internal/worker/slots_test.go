package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func Test_TaskSlots_ReserveBlocksWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTaskSlots(1)

	require.NoError(t, s.reserve(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, s.reserve(ctx), context.DeadlineExceeded)

	s.release()
	require.NoError(t, s.reserve(context.Background()))
}

func Test_TaskSlots_Unlimited(t *testing.T) {
	s := newTaskSlots(0)

	for i := 0; i < 100; i++ {
		require.NoError(t, s.reserve(context.Background()))
	}

	s.release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.reserve(ctx), context.Canceled)
}

func Test_TaskSlots_ReleaseUnblocks(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTaskSlots(2)
	require.NoError(t, s.reserve(context.Background()))
	require.NoError(t, s.reserve(context.Background()))

	reserved := make(chan error, 1)
	go func() {
		reserved <- s.reserve(context.Background())
	}()

	select {
	case <-reserved:
		t.Fatal("reserved a slot while all were taken")
	case <-time.After(20 * time.Millisecond):
	}

	s.release()

	select {
	case err := <-reserved:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("slot not released")
	}
}
