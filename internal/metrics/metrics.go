// Package metrics exposes media cache, load throttle and network transition
// metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ricardo-duarte-av/andromuks-sub007/internal/mediacache"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/netmon"
	"github.com/ricardo-duarte-av/andromuks-sub007/internal/throttle"
)

const namespace = "andromuks_media"

// NewRegistry returns a registry with the Go and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics in reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// cacheMetrics is the Prometheus implementation of mediacache.Metrics.
type cacheMetrics struct {
	lookups       *prometheus.CounterVec
	evictions     *prometheus.CounterVec
	evictedBytes  prometheus.Counter
	entries       prometheus.Gauge
	sizeBytes     prometheus.Gauge
	storeDuration prometheus.Histogram
	storeBytes    prometheus.Histogram
}

// NewCacheMetrics returns nil when reg is nil, which disables reporting.
func NewCacheMetrics(reg prometheus.Registerer) mediacache.Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &cacheMetrics{
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lookups_total",
			Help:      "Cache lookups by result",
		}, []string{"result"}), // "hit", "miss"
		evictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Evicted entries by visibility at eviction time",
		}, []string{"visible"}),
		evictedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evicted_bytes_total",
			Help:      "Bytes freed by eviction",
		}),
		entries: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "entries",
			Help:      "Number of cached media files",
		}),
		sizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "size_bytes",
			Help:      "Total size of cached media",
		}),
		storeDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_duration_seconds",
			Help:      "Time from download start to the file being indexed",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		storeBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "store_bytes",
			Help:      "Distribution of stored media sizes",
			Buckets: []float64{
				16384,     // 16KB thumbnails
				131072,    // 128KB
				1048576,   // 1MB
				4194304,   // 4MB
				16777216,  // 16MB
				67108864,  // 64MB
				268435456, // 256MB videos
			},
		}),
	}
}

func (m *cacheMetrics) RecordHit() {
	m.lookups.WithLabelValues("hit").Inc()
}

func (m *cacheMetrics) RecordMiss() {
	m.lookups.WithLabelValues("miss").Inc()
}

func (m *cacheMetrics) RecordEviction(visible bool, bytes int64) {
	label := "false"
	if visible {
		label = "true"
	}
	m.evictions.WithLabelValues(label).Inc()
	m.evictedBytes.Add(float64(bytes))
}

func (m *cacheMetrics) RecordSize(entries int, bytes int64) {
	m.entries.Set(float64(entries))
	m.sizeBytes.Set(float64(bytes))
}

func (m *cacheMetrics) ObserveStore(bytes int64, duration time.Duration) {
	m.storeDuration.Observe(duration.Seconds())
	if bytes > 0 {
		m.storeBytes.Observe(float64(bytes))
	}
}

// throttleMetrics is the Prometheus implementation of throttle.Metrics.
type throttleMetrics struct {
	wait   prometheus.Histogram
	active prometheus.Gauge
}

// NewThrottleMetrics returns nil when reg is nil.
func NewThrottleMetrics(reg prometheus.Registerer) throttle.Metrics {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &throttleMetrics{
		wait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_wait_seconds",
			Help:      "Time spent waiting for a load slot",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loads_active",
			Help:      "Loads currently holding a slot",
		}),
	}
}

func (m *throttleMetrics) ObserveWait(d time.Duration) {
	m.wait.Observe(d.Seconds())
}

func (m *throttleMetrics) RecordActive(n int) {
	m.active.Set(float64(n))
}

// networkMetrics counts transitions reported by netmon.Monitor.
type networkMetrics struct {
	transitions *prometheus.CounterVec
	online      *prometheus.GaugeVec
}

// NewNetworkListener returns a listener that records transitions, or nil
// when reg is nil.
func NewNetworkListener(reg prometheus.Registerer) netmon.Listener {
	if reg == nil {
		return nil
	}
	f := promauto.With(reg)
	return &networkMetrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_transitions_total",
			Help:      "Network transitions by kind",
		}, []string{"kind", "to"}),
		online: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "network_active",
			Help:      "1 for the active transport",
		}, []string{"type"}),
	}
}

func (m *networkMetrics) OnNetworkAvailable(t netmon.Type) {
	m.transitions.WithLabelValues("available", t.String()).Inc()
	m.setActive(t)
}

func (m *networkMetrics) OnNetworkLost() {
	m.transitions.WithLabelValues("lost", netmon.TypeNone.String()).Inc()
	m.setActive(netmon.TypeNone)
}

func (m *networkMetrics) OnNetworkTypeChanged(_, to netmon.Type) {
	m.transitions.WithLabelValues("type_changed", to.String()).Inc()
	m.setActive(to)
}

func (m *networkMetrics) setActive(t netmon.Type) {
	m.online.Reset()
	if t != netmon.TypeNone {
		m.online.WithLabelValues(t.String()).Set(1)
	}
}
