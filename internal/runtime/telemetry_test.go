package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupTelemetryDisabled(t *testing.T) {
	tel, tracer, err := SetupTelemetry(context.Background(), TelemetryOptions{})
	require.NoError(t, err)
	require.NotNil(t, tracer)
	assert.Nil(t, tel.tp)
	assert.NoError(t, tel.Shutdown(context.Background()))

	var nilTel *Telemetry
	assert.NoError(t, nilTel.Shutdown(context.Background()))
}

func TestSetupTelemetryEnabled(t *testing.T) {
	tel, tracer, err := SetupTelemetry(context.Background(), TelemetryOptions{
		Enabled:      true,
		OTLPEndpoint: "127.0.0.1:4317",
		SampleRatio:  0.5,
	})
	require.NoError(t, err)
	require.NotNil(t, tel.tp)
	_, span := tracer.Start(context.Background(), "telemetry-check")
	span.End()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = tel.Shutdown(ctx)
}
