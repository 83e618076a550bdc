// (C) 2025 GoodData Corporation

// Package metrics registers the ambient Prometheus instrumentation for the
// connection server: active request gauge, total request time histogram,
// archive hit/miss counters and a certs-minted counter. A private registry
// is used so embedding applications choose whether and where to expose it;
// this package never starts its own HTTP listener.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the collectors the connection server and fetchers update.
type Metrics struct {
	Registry *prometheus.Registry

	ActiveRequests   prometheus.Gauge
	TotalRequestTime prometheus.Histogram
	ArchiveHits      prometheus.Counter
	ArchiveMisses    prometheus.Counter
	CertsMinted      prometheus.Counter
}

// New registers all collectors on a fresh private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wpr",
			Name:      "active_request_count",
			Help:      "Number of requests currently being handled.",
		}),
		TotalRequestTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wpr",
			Name:      "request_duration_seconds",
			Help:      "Time spent in the request handler, from the start of handling until the handler returns.",
			Buckets:   prometheus.DefBuckets,
		}),
		ArchiveHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wpr",
			Name:      "archive_hits_total",
			Help:      "Requests served from the archive.",
		}),
		ArchiveMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wpr",
			Name:      "archive_misses_total",
			Help:      "Requests not found in the archive.",
		}),
		CertsMinted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wpr",
			Name:      "certs_minted_total",
			Help:      "Leaf TLS certificates minted for MITM hostnames.",
		}),
	}
	reg.MustRegister(m.ActiveRequests, m.TotalRequestTime, m.ArchiveHits, m.ArchiveMisses, m.CertsMinted)
	return m
}
