package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/mediaflow/config"
)

// restoreGlobals snapshots the global providers and restores them on cleanup.
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp := otel.GetTracerProvider()
	mp := otel.GetMeterProvider()
	prop := otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(prop)
	})
}

func TestInit_Disabled(t *testing.T) {
	restoreGlobals(t)

	p, err := Init(context.Background(), config.TelemetryConfig{}, "v1", zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.NoError(t, p.Shutdown(context.Background()))

	// 即使禁用，传播器也要安装
	assert.Contains(t, otel.GetTextMapPropagator().Fields(), "traceparent")
}

func TestInit_Enabled(t *testing.T) {
	restoreGlobals(t)

	p, err := Init(context.Background(), config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		ServiceName:  "mediaflow-test",
		SampleRate:   0.5,
	}, "", zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = p.Shutdown(ctx)
	})

	_, isSDKTracer := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, isSDKMeter := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, isSDKTracer)
	assert.True(t, isSDKMeter)
}

func TestProviders_ShutdownNil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}
