package prom

import (
	"time"

	"github.com/IvanBrykalov/loadcache/cache"
	"github.com/prometheus/client_golang/prometheus"
)

// Adapter implements cache.Metrics and exports Prometheus counters, gauges
// and a load latency histogram.
// Safe for concurrent use; all Prometheus metric types are goroutine-safe.
type Adapter struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evicts    *prometheus.CounterVec
	loads     *prometheus.CounterVec
	loadTime  *prometheus.HistogramVec
	listeners prometheus.Counter
	sizeEnt   prometheus.Gauge
	sizeWt    prometheus.Gauge
}

// New constructs a Prometheus metrics adapter.
//   - reg:          registry to register metrics with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:      Prometheus namespace and subsystem
//   - constLabels:  static labels applied to all metrics (may be nil)
func New(reg prometheus.Registerer, ns, sub string, constLabels prometheus.Labels) *Adapter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a := &Adapter{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "hits_total",
			Help:        "Cache hits",
			ConstLabels: constLabels,
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "misses_total",
			Help:        "Cache misses",
			ConstLabels: constLabels,
		}),
		evicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "evictions_total",
				Help:        "Cache evictions by removal cause",
				ConstLabels: constLabels,
			},
			[]string{"cause"},
		),
		loads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "loads_total",
				Help:        "Loader invocations by result",
				ConstLabels: constLabels,
			},
			[]string{"result"},
		),
		loadTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   ns,
				Subsystem:   sub,
				Name:        "load_duration_seconds",
				Help:        "Loader latency by result",
				Buckets:     prometheus.ExponentialBuckets(0.0005, 4, 10),
				ConstLabels: constLabels,
			},
			[]string{"result"},
		),
		listeners: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "listener_failures_total",
			Help:        "Removal listener panics",
			ConstLabels: constLabels,
		}),
		sizeEnt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_entries",
			Help:        "Number of resident entries",
			ConstLabels: constLabels,
		}),
		sizeWt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   ns,
			Subsystem:   sub,
			Name:        "size_weight",
			Help:        "Total resident weight",
			ConstLabels: constLabels,
		}),
	}
	reg.MustRegister(a.hits, a.misses, a.evicts, a.loads, a.loadTime, a.listeners, a.sizeEnt, a.sizeWt)
	return a
}

// Hit increments the hit counter.
func (a *Adapter) Hit() { a.hits.Inc() }

// Miss increments the miss counter.
func (a *Adapter) Miss() { a.misses.Inc() }

// Evict increments the eviction counter with a cause label.
func (a *Adapter) Evict(cause cache.RemovalCause) {
	a.evicts.WithLabelValues(cause.String()).Inc()
}

// Size updates gauges for the number of entries and total weight.
func (a *Adapter) Size(entries int, weight int64) {
	a.sizeEnt.Set(float64(entries))
	a.sizeWt.Set(float64(weight))
}

func (a *Adapter) LoadSuccess(d time.Duration) { a.load("success", d) }

func (a *Adapter) LoadFailure(d time.Duration) { a.load("failure", d) }

// ListenerFailure counts a listener that panicked.
func (a *Adapter) ListenerFailure() { a.listeners.Inc() }

func (a *Adapter) load(result string, d time.Duration) {
	a.loads.WithLabelValues(result).Inc()
	a.loadTime.WithLabelValues(result).Observe(d.Seconds())
}

// Compile-time check: ensure Adapter implements cache.Metrics.
var _ cache.Metrics = (*Adapter)(nil)
