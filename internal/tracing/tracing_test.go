package tracing_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/avstrong/bnb/internal/tracing"
)

func TestSetupExportsSpans(t *testing.T) {
	var buf bytes.Buffer

	shutdown, err := tracing.Setup(tracing.Config{ServiceName: "bnb-test", Stdout: true, W: &buf})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "op")
	assert.True(t, span.SpanContext().IsValid())
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name": "op"`)
}
