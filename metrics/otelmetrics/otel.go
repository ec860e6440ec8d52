// Package otelmetrics exports cache.Metrics through an OpenTelemetry meter.
package otelmetrics

import (
	"context"
	"fmt"
	"time"

	"github.com/IvanBrykalov/loadcache/cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultInstrumentationName = "github.com/IvanBrykalov/loadcache"

	metricRequests  = "cache.requests"
	metricEvictions = "cache.evictions"
	metricLoads     = "cache.loads"
	metricLoadTime  = "cache.load.duration"
	metricListener  = "cache.listener.failures"
	metricEntries   = "cache.entries"
	metricWeight    = "cache.weight"
)

type config struct {
	instrumentationName string
	meterProvider       metric.MeterProvider
	attrs               []attribute.KeyValue
}

// Option configures New.
type Option func(*config)

// WithInstrumentationName sets the meter name.
func WithInstrumentationName(name string) Option {
	return func(cfg *config) {
		if name != "" {
			cfg.instrumentationName = name
		}
	}
}

// WithMeterProvider overrides otel.GetMeterProvider().
func WithMeterProvider(provider metric.MeterProvider) Option {
	return func(cfg *config) {
		if provider != nil {
			cfg.meterProvider = provider
		}
	}
}

// WithAttributes adds static attributes to every measurement, e.g. the cache name.
func WithAttributes(attrs ...attribute.KeyValue) Option {
	return func(cfg *config) {
		cfg.attrs = append(cfg.attrs, attrs...)
	}
}

// Adapter implements cache.Metrics on top of OTel instruments.
type Adapter struct {
	requests  metric.Int64Counter
	evictions metric.Int64Counter
	loads     metric.Int64Counter
	loadTime  metric.Float64Histogram
	listeners metric.Int64Counter
	entries   metric.Int64Gauge
	weight    metric.Int64Gauge

	hit, miss     metric.MeasurementOption
	success, fail metric.MeasurementOption
	base          metric.MeasurementOption
	causes        [cache.CauseWeight + 1]metric.MeasurementOption
}

// New creates the instruments on the configured meter.
func New(opts ...Option) (*Adapter, error) {
	cfg := &config{
		instrumentationName: defaultInstrumentationName,
		meterProvider:       otel.GetMeterProvider(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	meter := cfg.meterProvider.Meter(cfg.instrumentationName)

	a := &Adapter{}
	var err error
	if a.requests, err = meter.Int64Counter(metricRequests,
		metric.WithDescription("cache lookups by result"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("otelmetrics: create counter failed: %w", err)
	}
	if a.evictions, err = meter.Int64Counter(metricEvictions,
		metric.WithDescription("evictions by removal cause"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("otelmetrics: create counter failed: %w", err)
	}
	if a.loads, err = meter.Int64Counter(metricLoads,
		metric.WithDescription("loader invocations by result"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("otelmetrics: create counter failed: %w", err)
	}
	if a.loadTime, err = meter.Float64Histogram(metricLoadTime,
		metric.WithDescription("loader latency"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("otelmetrics: create histogram failed: %w", err)
	}
	if a.listeners, err = meter.Int64Counter(metricListener,
		metric.WithDescription("listener panics"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("otelmetrics: create counter failed: %w", err)
	}
	if a.entries, err = meter.Int64Gauge(metricEntries,
		metric.WithDescription("resident entries"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("otelmetrics: create gauge failed: %w", err)
	}
	if a.weight, err = meter.Int64Gauge(metricWeight,
		metric.WithDescription("total resident weight"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, fmt.Errorf("otelmetrics: create gauge failed: %w", err)
	}

	// Attribute sets are fixed; build them once.
	with := func(extra ...attribute.KeyValue) metric.MeasurementOption {
		kv := make([]attribute.KeyValue, 0, len(cfg.attrs)+len(extra))
		kv = append(kv, cfg.attrs...)
		kv = append(kv, extra...)
		return metric.WithAttributes(kv...)
	}
	a.base = with()
	a.hit = with(attribute.String("result", "hit"))
	a.miss = with(attribute.String("result", "miss"))
	a.success = with(attribute.String("result", "success"))
	a.fail = with(attribute.String("result", "failure"))
	for i := range a.causes {
		a.causes[i] = with(attribute.String("cause", cache.RemovalCause(i).String()))
	}
	return a, nil
}

func (a *Adapter) Hit()  { a.requests.Add(context.Background(), 1, a.hit) }
func (a *Adapter) Miss() { a.requests.Add(context.Background(), 1, a.miss) }

func (a *Adapter) Evict(cause cache.RemovalCause) {
	opt := a.base
	if int(cause) >= 0 && int(cause) < len(a.causes) {
		opt = a.causes[cause]
	}
	a.evictions.Add(context.Background(), 1, opt)
}

func (a *Adapter) Size(entries int, weight int64) {
	ctx := context.Background()
	a.entries.Record(ctx, int64(entries), a.base)
	a.weight.Record(ctx, weight, a.base)
}

func (a *Adapter) LoadSuccess(d time.Duration) { a.load(d, a.success) }
func (a *Adapter) LoadFailure(d time.Duration) { a.load(d, a.fail) }

func (a *Adapter) ListenerFailure() { a.listeners.Add(context.Background(), 1, a.base) }

func (a *Adapter) load(d time.Duration, opt metric.MeasurementOption) {
	ctx := context.Background()
	a.loads.Add(ctx, 1, opt)
	a.loadTime.Record(ctx, d.Seconds(), opt)
}

var _ cache.Metrics = (*Adapter)(nil)
