package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/resource"
)

func TestInitDisabledInstallsNoop(t *testing.T) {
	t.Setenv("HIRNI_OTEL_ENABLED", "")
	require.NoError(t, Init(context.Background(), "hirni", "test"))
	assert.False(t, Enabled())

	_, span := Tracer("").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	// Counting against the noop provider must not panic.
	Results.Record(context.Background(), "spec2bids", "ok")
	Results.RecordRun(context.Background(), "hirni-dicom-converter", 12)
	Shutdown(context.Background())
}

func TestTraceProviderWritesSpans(t *testing.T) {
	var buf bytes.Buffer
	tp, err := buildTraceProvider(resource.Empty(), &buf)
	require.NoError(t, err)

	_, span := tp.Tracer("test").Start(context.Background(), "spec2bids.file")
	span.End()
	require.NoError(t, tp.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "spec2bids.file")
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}
