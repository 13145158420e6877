package tracing

import (
	"github.com/go-durable/durable/internal/workflowerrors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RecordError marks span as failed and returns err unchanged. A nil err leaves the span untouched.
func RecordError(span trace.Span, err error) error {
	if err == nil {
		return nil
	}

	span.RecordError(err, trace.WithAttributes(attribute.Bool(ErrorRetryable, workflowerrors.CanRetry(err))))
	span.SetStatus(codes.Error, err.Error())

	return err
}
