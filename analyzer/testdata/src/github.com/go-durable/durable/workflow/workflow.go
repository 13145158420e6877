package workflow

import "time"

type Context interface {
	Done() <-chan struct{}
}

func Now(ctx Context) (time.Time, error) {
	return time.Time{}, nil
}

func ExecuteStep[T any](ctx Context, fn func(ctx Context) (T, error)) (T, error) {
	return fn(ctx)
}
