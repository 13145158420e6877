package workflow

import (
	"errors"

	"github.com/go-durable/durable/internal/workflowerrors"
)

type Error = workflowerrors.Error

type PanicError = workflowerrors.PanicError

// ErrNestedStep is returned when durable operations are called while a step is executing.
var ErrNestedStep = errors.New("durable operations cannot be called from within a step")

// NewPermanentError wraps err so that a step returning it is not retried.
func NewPermanentError(err error) error {
	return workflowerrors.NewPermanentError(err)
}

// CanRetry returns true if the given error is retryable
func CanRetry(err error) bool {
	return workflowerrors.CanRetry(err)
}
