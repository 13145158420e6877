package workflowerrors

import goerrors "github.com/go-errors/errors"

// PanicError is returned when a workflow or step panicked. It is never retried, replaying the step
// would panic again.
type PanicError struct {
	message    string
	stacktrace string
}

func (pe *PanicError) Error() string {
	return pe.message
}

func (pe *PanicError) Stack() string {
	return pe.stacktrace
}

// NewPanicError captures the stack of the panicking goroutine. Call it from the deferred function
// that recovered the panic.
func NewPanicError(msg string) *PanicError {
	// Start below NewPanicError, the deferred function and runtime.gopanic
	frames := goerrors.Wrap(msg, 3)

	return &PanicError{
		message:    msg,
		stacktrace: string(frames.Stack()),
	}
}
