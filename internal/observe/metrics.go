// Package observe provides application-wide observability primitives for
// Resona: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [SetupTelemetry] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Resona metrics.
const meterName = "github.com/evalab/resona"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per analysis stage ---

	// TranscribeDuration tracks speech-to-text transcription latency.
	TranscribeDuration metric.Float64Histogram

	// EmotionDuration tracks emotion estimation latency.
	EmotionDuration metric.Float64Histogram

	// SemanticDuration tracks semantic analysis latency.
	SemanticDuration metric.Float64Histogram

	// AnalyzeDuration tracks end-to-end shard analysis latency, from audio
	// validation through the final store write.
	AnalyzeDuration metric.Float64Histogram

	// --- Counters ---

	// AnalyzeRequests counts shard analysis requests. Use with attribute:
	//   attribute.String("status", ...)
	AnalyzeRequests metric.Int64Counter

	// StageFallbacks counts pipeline stages that failed and fell back to a
	// neutral result. Use with attribute:
	//   attribute.String("stage", ...)
	StageFallbacks metric.Int64Counter

	// ShardPublishes counts shards published to the feed.
	ShardPublishes metric.Int64Counter

	// ShardDeletes counts shard soft-deletions. Use with attribute:
	//   attribute.String("reason", ...)
	ShardDeletes metric.Int64Counter

	// WriteConflicts counts shard updates that lost the writer race and were
	// retried or rejected.
	WriteConflicts metric.Int64Counter

	// --- Gauges ---

	// ActiveAnalyses tracks the number of shard analyses currently in flight.
	ActiveAnalyses metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for audio-analysis latencies, where a transcription pass over a long shard
// can run for tens of seconds.
var latencyBuckets = []float64{
	0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscribeDuration, err = m.Float64Histogram("resona.transcribe.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.EmotionDuration, err = m.Float64Histogram("resona.emotion.duration",
		metric.WithDescription("Latency of emotion estimation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SemanticDuration, err = m.Float64Histogram("resona.semantic.duration",
		metric.WithDescription("Latency of semantic analysis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AnalyzeDuration, err = m.Float64Histogram("resona.analyze.duration",
		metric.WithDescription("End-to-end shard analysis latency."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.AnalyzeRequests, err = m.Int64Counter("resona.analyze.requests",
		metric.WithDescription("Total shard analysis requests by status."),
	); err != nil {
		return nil, err
	}
	if met.StageFallbacks, err = m.Int64Counter("resona.stage.fallbacks",
		metric.WithDescription("Total pipeline stages that fell back to a neutral result."),
	); err != nil {
		return nil, err
	}
	if met.ShardPublishes, err = m.Int64Counter("resona.shard.publishes",
		metric.WithDescription("Total shards published to the feed."),
	); err != nil {
		return nil, err
	}
	if met.ShardDeletes, err = m.Int64Counter("resona.shard.deletes",
		metric.WithDescription("Total shard soft-deletions by reason."),
	); err != nil {
		return nil, err
	}
	if met.WriteConflicts, err = m.Int64Counter("resona.shard.write_conflicts",
		metric.WithDescription("Total shard updates that lost the writer race."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveAnalyses, err = m.Int64UpDownCounter("resona.active_analyses",
		metric.WithDescription("Number of shard analyses currently in flight."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("resona.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// stageHistogram maps a pipeline stage name to its latency histogram.
// Returns nil for unknown stages.
func (m *Metrics) stageHistogram(stage string) metric.Float64Histogram {
	switch stage {
	case "transcribe":
		return m.TranscribeDuration
	case "emotion":
		return m.EmotionDuration
	case "semantic":
		return m.SemanticDuration
	}
	return nil
}

// RecordStage records one pipeline stage outcome: latency into the stage
// histogram and, when the stage fell back, an increment of the fallback
// counter. Unknown stage names are ignored.
//
// The signature matches the orchestrator's stage observer, so a Metrics
// method value can be installed directly as the observer callback.
func (m *Metrics) RecordStage(ctx context.Context, stage string, elapsed time.Duration, fellBack bool) {
	h := m.stageHistogram(stage)
	if h == nil {
		return
	}
	h.Record(ctx, elapsed.Seconds())
	if fellBack {
		m.StageFallbacks.Add(ctx, 1,
			metric.WithAttributes(attribute.String("stage", stage)),
		)
	}
}

// RecordAnalyze records one completed shard analysis request with its
// end-to-end latency.
func (m *Metrics) RecordAnalyze(ctx context.Context, elapsed time.Duration, status string) {
	m.AnalyzeDuration.Record(ctx, elapsed.Seconds())
	m.AnalyzeRequests.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordPublish records a successful shard publish.
func (m *Metrics) RecordPublish(ctx context.Context) {
	m.ShardPublishes.Add(ctx, 1)
}

// RecordDelete records a shard soft-deletion with its reason.
func (m *Metrics) RecordDelete(ctx context.Context, reason string) {
	m.ShardDeletes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}

// RecordWriteConflict records a shard update that lost the writer race.
func (m *Metrics) RecordWriteConflict(ctx context.Context) {
	m.WriteConflicts.Add(ctx, 1)
}
