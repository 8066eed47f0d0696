// Package telemetry wraps the session-summary statistics spec.md §7
// requires (captured frames, overwritten frames, emitted segments,
// rejected-short, rejected-hallucination, model-errors,
// translation-failures, subscribers-connected, slow-client-drops,
// persistence-errors) as OpenTelemetry metric instruments, exported via a
// Prometheus bridge. Grounded on MrWong99-glyphoxa's
// internal/observe/{metrics,provider}.go.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const meterName = "github.com/lokutor-ai/lokutor-scribe"

// Metrics holds one instrument per shutdown session-summary statistic. The
// summary itself is built from each stage's own counters, not from these.
// All fields are safe for concurrent use; the underlying OTel instruments
// handle their own synchronization.
type Metrics struct {
	FramesCaptured        metric.Int64Counter
	FramesOverwritten     metric.Int64Counter
	SegmentsEmitted       metric.Int64Counter
	RejectedShort         metric.Int64Counter
	RejectedHallucination metric.Int64Counter
	ModelErrors           metric.Int64Counter
	TranslationFailures   metric.Int64Counter
	SubscribersConnected  metric.Int64UpDownCounter
	SlowClientDrops       metric.Int64Counter
	PersistenceErrors     metric.Int64Counter
}

// NewMetrics creates every instrument using the given MeterProvider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	met := &Metrics{}
	var err error

	if met.FramesCaptured, err = m.Int64Counter("scribe.frames.captured",
		metric.WithDescription("Total audio frames accepted by the ring buffer.")); err != nil {
		return nil, err
	}
	if met.FramesOverwritten, err = m.Int64Counter("scribe.frames.overwritten",
		metric.WithDescription("Total ring buffer frames overwritten before being read.")); err != nil {
		return nil, err
	}
	if met.SegmentsEmitted, err = m.Int64Counter("scribe.segments.emitted",
		metric.WithDescription("Total utterance segments emitted by the segmenter.")); err != nil {
		return nil, err
	}
	if met.RejectedShort, err = m.Int64Counter("scribe.segments.rejected_short",
		metric.WithDescription("Total segments discarded for being shorter than min_speech_duration_sec.")); err != nil {
		return nil, err
	}
	if met.RejectedHallucination, err = m.Int64Counter("scribe.transcripts.rejected_hallucination",
		metric.WithDescription("Total transcriptions rejected by the hallucination filter.")); err != nil {
		return nil, err
	}
	if met.ModelErrors, err = m.Int64Counter("scribe.transcripts.model_errors",
		metric.WithDescription("Total segments skipped after a second consecutive model failure.")); err != nil {
		return nil, err
	}
	if met.TranslationFailures, err = m.Int64Counter("scribe.translations.failed",
		metric.WithDescription("Total events forwarded without a translation after every backend failed.")); err != nil {
		return nil, err
	}
	if met.SubscribersConnected, err = m.Int64UpDownCounter("scribe.hub.subscribers_connected",
		metric.WithDescription("Number of currently connected broadcast hub subscribers.")); err != nil {
		return nil, err
	}
	if met.SlowClientDrops, err = m.Int64Counter("scribe.hub.slow_client_drops",
		metric.WithDescription("Total events dropped for subscribers whose outbound queue was full.")); err != nil {
		return nil, err
	}
	if met.PersistenceErrors, err = m.Int64Counter("scribe.persistence.errors",
		metric.WithDescription("Total disk errors encountered while writing session artifacts.")); err != nil {
		return nil, err
	}

	return met, nil
}

// ProviderConfig configures the OpenTelemetry SDK meter provider.
type ProviderConfig struct {
	ServiceName string // not read by InitProvider
}

// InitProvider sets up a MeterProvider backed by a Prometheus exporter
// bridge and registers it as the global OTel meter provider. No HTTP
// endpoint for scraping is served here. Returns a shutdown function to call from
// the Supervisor's shutdown path.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	promExp, err := promexporter.New()
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(promExp))
	otel.SetMeterProvider(mp)

	return mp.Shutdown, nil
}
