package otelsetup

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestSetupAndShutdown(t *testing.T) {
	var buf bytes.Buffer

	shutdown, err := Setup(context.Background(), WithWriter(&buf), WithServiceName("window-drain-test"))
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	_, span := otel.Tracer("test").Start(context.Background(), "setup-check")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	require.Contains(t, buf.String(), "setup-check")
	require.Contains(t, buf.String(), "window-drain-test")

	// a second shutdown has nothing left to stop
	require.NoError(t, shutdown(context.Background()))
}
