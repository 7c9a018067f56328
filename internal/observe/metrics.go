// Package observe provides application-wide observability primitives for
// hushgate: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all hushgate metrics.
const meterName = "github.com/MrWong99/hushgate"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TranscriptionDuration tracks speech-to-text provider latency.
	TranscriptionDuration metric.Float64Histogram

	// ModerationDuration tracks moderation provider latency.
	ModerationDuration metric.Float64Histogram

	// NormalizeDuration tracks audio decoding and resampling latency.
	NormalizeDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Verdicts counts moderation decisions. Use with attributes:
	//   attribute.String("method", ...), attribute.Bool("flagged", ...)
	Verdicts metric.Int64Counter

	// PatternHits counts local rule hits per category. Use with attribute:
	//   attribute.String("category", ...)
	PatternHits metric.Int64Counter

	// CacheLookups counts result cache lookups. Use with attribute:
	//   attribute.String("result", "hit"|"miss"|"shared")
	CacheLookups metric.Int64Counter

	// CacheEvictions counts removed cache entries. Use with attribute:
	//   attribute.String("reason", "expired"|"capacity")
	CacheEvictions metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// CacheEntries tracks the number of live result cache entries.
	CacheEntries metric.Int64UpDownCounter

	// InFlight tracks requests currently inside the gateway.
	InFlight metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...),
	//   attribute.String("status_class", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// provider round trips, which range from tens of milliseconds for text
// moderation to many seconds for long recordings.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.TranscriptionDuration, err = m.Float64Histogram("hushgate.transcription.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ModerationDuration, err = m.Float64Histogram("hushgate.moderation.duration",
		metric.WithDescription("Latency of moderation provider classification."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.NormalizeDuration, err = m.Float64Histogram("hushgate.audio.normalize.duration",
		metric.WithDescription("Latency of audio decoding to canonical PCM."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("hushgate.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Verdicts, err = m.Int64Counter("hushgate.verdicts",
		metric.WithDescription("Total moderation verdicts by decision method and outcome."),
	); err != nil {
		return nil, err
	}
	if met.PatternHits, err = m.Int64Counter("hushgate.pattern.hits",
		metric.WithDescription("Total local pattern hits by category."),
	); err != nil {
		return nil, err
	}
	if met.CacheLookups, err = m.Int64Counter("hushgate.cache.lookups",
		metric.WithDescription("Total result cache lookups by result."),
	); err != nil {
		return nil, err
	}
	if met.CacheEvictions, err = m.Int64Counter("hushgate.cache.evictions",
		metric.WithDescription("Total result cache evictions by reason."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("hushgate.breaker.transitions",
		metric.WithDescription("Total circuit breaker state transitions."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("hushgate.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.CacheEntries, err = m.Int64UpDownCounter("hushgate.cache.entries",
		metric.WithDescription("Number of live result cache entries."),
	); err != nil {
		return nil, err
	}
	if met.InFlight, err = m.Int64UpDownCounter("hushgate.requests.in_flight",
		metric.WithDescription("Number of moderation requests currently being processed."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("hushgate.http.request.duration",
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordVerdict records one moderation decision.
func (m *Metrics) RecordVerdict(ctx context.Context, method string, flagged bool) {
	m.Verdicts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("flagged", strconv.FormatBool(flagged)),
		),
	)
}

// RecordPatternHit records a local rule hit for category.
func (m *Metrics) RecordPatternHit(ctx context.Context, category string) {
	m.PatternHits.Add(ctx, 1, metric.WithAttributes(attribute.String("category", category)))
}

// RecordCacheLookup records a lookup outcome on the named cache.
func (m *Metrics) RecordCacheLookup(ctx context.Context, cache, result string) {
	m.CacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache", cache),
		attribute.String("result", result),
	))
}

// RecordCacheEntries adjusts the live entry gauge of the named cache.
func (m *Metrics) RecordCacheEntries(ctx context.Context, cache string, delta int) {
	if delta == 0 {
		return
	}
	m.CacheEntries.Add(ctx, int64(delta), metric.WithAttributes(attribute.String("cache", cache)))
}

// RecordCacheEviction records n entries removed from the named cache for
// reason.
func (m *Metrics) RecordCacheEviction(ctx context.Context, cache, reason string, n int) {
	if n <= 0 {
		return
	}
	m.CacheEvictions.Add(ctx, int64(n), metric.WithAttributes(
		attribute.String("cache", cache),
		attribute.String("reason", reason),
	))
	m.RecordCacheEntries(ctx, cache, -n)
}

// RecordBreakerTransition records a circuit breaker changing state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}
