package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitTrace_Stdout(t *testing.T) {
	shutdown, err := InitTrace("deposit-service-test", ExporterStdout, "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().HasTraceID())
	span.End()
}

func TestInitTrace_UnknownExporter(t *testing.T) {
	_, err := InitTrace("svc", "zipkin", "")
	assert.Error(t, err)
}
