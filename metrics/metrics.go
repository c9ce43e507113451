// Package metrics exposes the proxy's Prometheus counters/histograms
// and a live requests-per-second gauge, grounded on the donor's
// metrics/request_info.go and server/middleware/registry.go wiring.
package metrics

import (
	"time"

	"github.com/paulbellamy/ratecounter"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "proxy",
		Name:      "connections_total",
		Help:      "Total number of accepted client connections.",
	})

	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proxy",
		Name:      "requests_total",
		Help:      "Total number of handled requests, by outcome.",
	}, []string{"outcome"})

	CacheLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "proxy",
		Name:      "cache_lookups_total",
		Help:      "Total number of cache lookups, by result.",
	}, []string{"result"})

	CacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "proxy",
		Name:      "cache_evictions_total",
		Help:      "Total number of LRU evictions from the object cache.",
	})

	BytesForwardedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "proxy",
		Name:      "bytes_forwarded_total",
		Help:      "Total response bytes forwarded to clients.",
	})

	UpstreamDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "proxy",
		Name:      "upstream_duration_seconds",
		Help:      "Latency of upstream fetches on a cache miss.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		RequestsTotal,
		CacheLookupsTotal,
		CacheEvictionsTotal,
		BytesForwardedTotal,
		UpstreamDuration,
	)
}

// rps drives the proxy_requests_per_second gauge. The donor imports
// ratecounter but never wires it to anything concrete; this is its
// home: a sliding one-second window over handled requests of any outcome.
var rps = ratecounter.NewRateCounter(1 * time.Second)

var requestsPerSecond = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
	Namespace: "proxy",
	Name:      "requests_per_second",
	Help:      "Requests handled in the trailing one-second window.",
}, func() float64 {
	return float64(rps.Rate())
})

func init() {
	prometheus.MustRegister(requestsPerSecond)
}

// RecordRequest marks one handled request, whatever its outcome,
// against the rolling RPS window and the requests_total counter.
func RecordRequest(outcome string) {
	RequestsTotal.WithLabelValues(outcome).Inc()
	rps.Incr(1)
}
