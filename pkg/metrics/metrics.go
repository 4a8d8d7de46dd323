package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "predictgate",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests handled by predictgate",
		},
		[]string{"route", "method", "code"},
	)

	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "predictgate",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests handled by predictgate",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "predictgate",
			Name:      "cache_lookups_total",
			Help:      "Prediction cache lookups by result (hit, miss, error)",
		},
		[]string{"result"},
	)

	inferenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "predictgate",
			Name:      "inference_duration_seconds",
			Help:      "Duration of calls to the inference service, including retries",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	dedupedRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "predictgate",
			Name:      "inference_deduplicated_total",
			Help:      "Cache misses that shared an in-flight inference call",
		},
	)

	rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "predictgate",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter",
		},
	)

	initOnce sync.Once
)

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(requestTotal, requestDuration, cacheLookups, inferenceDuration, dedupedRequests, rateLimited)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func ObserveRequest(route, method, code string, d time.Duration) {
	requestTotal.WithLabelValues(route, method, code).Inc()
	requestDuration.WithLabelValues(route, method).Observe(d.Seconds())
}

func IncCacheHit() {
	cacheLookups.WithLabelValues("hit").Inc()
}

func IncCacheMiss() {
	cacheLookups.WithLabelValues("miss").Inc()
}

func IncCacheError() {
	cacheLookups.WithLabelValues("error").Inc()
}

// ObserveInference records one inference call; outcome is "ok" or "error".
func ObserveInference(outcome string, d time.Duration) {
	inferenceDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func IncDeduped() {
	dedupedRequests.Inc()
}

func IncRateLimited() {
	rateLimited.Inc()
}
