package logstore

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the Prometheus collectors backing the global aggregates —
// counts by source bucket, latency histograms (upstream/total/
// proxyOverhead), payload histograms (request/response) — exposed
// read-only at /metrics alongside the JSON dashboard snapshot.
type promMetrics struct {
	entriesBySource  *prometheus.CounterVec
	latencyUpstream  prometheus.Histogram
	latencyTotal     prometheus.Histogram
	latencyOverhead  prometheus.Histogram
	payloadRequest   prometheus.Histogram
	payloadResponse  prometheus.Histogram
}

var latencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
var payloadBuckets = prometheus.ExponentialBuckets(256, 4, 10) // 256B .. ~64MB

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	m := &promMetrics{
		entriesBySource: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relayforge",
			Subsystem: "logstore",
			Name:      "entries_total",
			Help:      "Committed log entries by source bucket.",
		}, []string{"source"}),
		latencyUpstream: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relayforge", Subsystem: "logstore", Name: "upstream_duration_ms",
			Help: "Upstream round-trip latency in milliseconds.", Buckets: latencyBuckets,
		}),
		latencyTotal: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relayforge", Subsystem: "logstore", Name: "total_duration_ms",
			Help: "Total flow latency in milliseconds.", Buckets: latencyBuckets,
		}),
		latencyOverhead: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relayforge", Subsystem: "logstore", Name: "proxy_overhead_ms",
			Help: "Proxy-added overhead in milliseconds.", Buckets: latencyBuckets,
		}),
		payloadRequest: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relayforge", Subsystem: "logstore", Name: "request_bytes",
			Help: "Request body size in bytes.", Buckets: payloadBuckets,
		}),
		payloadResponse: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relayforge", Subsystem: "logstore", Name: "response_bytes",
			Help: "Response body size in bytes.", Buckets: payloadBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.entriesBySource, m.latencyUpstream, m.latencyTotal, m.latencyOverhead, m.payloadRequest, m.payloadResponse)
	}
	return m
}

// observe records one committed entry's contribution. Eviction does not
// un-observe a Prometheus histogram/counter (they are monotonic
// lifetime totals by design); the in-memory aggregates in aggregates.go
// are the ones that round-trip on eviction.
func (m *promMetrics) observe(e *Entry) {
	m.entriesBySource.WithLabelValues(string(e.Source)).Inc()
	if e.Metrics.UpstreamDurationMs > 0 {
		m.latencyUpstream.Observe(float64(e.Metrics.UpstreamDurationMs))
	}
	m.latencyTotal.Observe(float64(e.Metrics.TotalDurationMs))
	m.latencyOverhead.Observe(float64(e.Metrics.ProxyOverheadMs))
	if e.Metrics.RequestBytes > 0 {
		m.payloadRequest.Observe(float64(e.Metrics.RequestBytes))
	}
	if e.Metrics.ResponseBytes > 0 {
		m.payloadResponse.Observe(float64(e.Metrics.ResponseBytes))
	}
}
