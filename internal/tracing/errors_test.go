package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/go-durable/durable/internal/workflowerrors"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func recordSpan(t *testing.T, err error) (tracetest.SpanStub, error) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	_, span := tp.Tracer("test").Start(context.Background(), "step")
	returned := RecordError(span, err)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	return spans[0], returned
}

func Test_RecordError(t *testing.T) {
	span, err := recordSpan(t, workflowerrors.NewPermanentError(errors.New("card declined")))

	require.EqualError(t, err, "card declined")
	require.Equal(t, codes.Error, span.Status.Code)
	require.Equal(t, "card declined", span.Status.Description)

	require.Len(t, span.Events, 1)
	require.Contains(t, span.Events[0].Attributes, attribute.Bool(ErrorRetryable, false))
}

func Test_RecordError_Nil(t *testing.T) {
	span, err := recordSpan(t, nil)

	require.NoError(t, err)
	require.Equal(t, codes.Unset, span.Status.Code)
	require.Empty(t, span.Events)
}
