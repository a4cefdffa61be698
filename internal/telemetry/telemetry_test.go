package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitTracingDisabled(t *testing.T) {
	tracer, shutdown, err := InitTracing(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, tracer)

	_, span := tracer.Start(context.Background(), "noop")
	span.End()
	assert.NoError(t, shutdown(context.Background()))
}

func TestInitTracingWritesSpans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces.log")

	tracer, shutdown, err := InitTracing(context.Background(), path)
	require.NoError(t, err)

	_, span := tracer.Start(context.Background(), "billing.check_credits")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "billing.check_credits")
}

func TestTracerFallsBackToNoop(t *testing.T) {
	assert.NotNil(t, Tracer(nil))
}
