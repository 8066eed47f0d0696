package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func TestNewMetricsCreatesEveryInstrumentWithoutError(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	defer mp.Shutdown(context.Background())

	m, err := NewMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.FramesCaptured.Add(ctx, 10)
	m.FramesOverwritten.Add(ctx, 1)
	m.SegmentsEmitted.Add(ctx, 1)
	m.RejectedShort.Add(ctx, 1)
	m.RejectedHallucination.Add(ctx, 1)
	m.ModelErrors.Add(ctx, 1)
	m.TranslationFailures.Add(ctx, 1)
	m.SubscribersConnected.Add(ctx, 1)
	m.SlowClientDrops.Add(ctx, 1)
	m.PersistenceErrors.Add(ctx, 1)
}

func TestInitProviderReturnsWorkingShutdown(t *testing.T) {
	shutdown, err := InitProvider(context.Background(), ProviderConfig{ServiceName: "test"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
