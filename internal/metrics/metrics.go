// Package metrics provides Prometheus metrics describing devbar activity.
//
// Every request that passes through the devbar middleware is observed once,
// after the handler returns:
//
//	metrics.ObserveRequest(summary)
//	metrics.RecordInjection(metrics.InjectionInjected)
//
// All metrics are registered with the default Prometheus registry and are
// exposed wherever the application mounts promhttp.Handler.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	domainmetrics "github.com/fllarpy/devbar/domain/metrics"
)

// Injection outcomes used as the "result" label of InjectionsTotal.
const (
	InjectionInjected   = "injected"
	InjectionIneligible = "ineligible"
	InjectionNoBodyTag  = "no_body_tag"
	InjectionFailed     = "failed"
)

var (
	// RequestsTotal counts requests observed by the devbar middleware.
	// Labels: status (2xx, 4xx, 5xx)
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devbar_requests_total",
			Help: "Total number of requests observed by devbar",
		},
		[]string{"status"},
	)

	// QueriesPerRequest tracks how many statements a request executed.
	QueriesPerRequest = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "devbar_request_queries",
			Help:    "Database statements executed per request",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100, 250},
		},
	)

	// DBDuration tracks database time per request.
	DBDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "devbar_request_db_seconds",
			Help:    "Accumulated database time per request in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// AppDuration tracks total handling time per request.
	AppDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "devbar_request_app_seconds",
			Help:    "Total request handling time in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// DuplicateQueriesTotal counts repeated identical statements.
	DuplicateQueriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devbar_duplicate_queries_total",
			Help: "Total number of duplicate statement executions",
		},
	)

	// NPlusOneTotal counts N+1 findings.
	NPlusOneTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "devbar_n_plus_one_total",
			Help: "Total number of N+1 query patterns detected",
		},
	)

	// InjectionsTotal counts overlay injection attempts by outcome.
	// Labels: result (injected, ineligible, no_body_tag, failed)
	InjectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devbar_overlay_injections_total",
			Help: "Overlay injection attempts by outcome",
		},
		[]string{"result"},
	)
)

// ObserveRequest records one finished request.
func ObserveRequest(s domainmetrics.RequestSummary) {
	RequestsTotal.WithLabelValues(statusClass(s.StatusCode)).Inc()
	QueriesPerRequest.Observe(float64(s.Queries))
	DBDuration.Observe(s.DBTime.Seconds())
	AppDuration.Observe(s.AppTime.Seconds())
	if s.Duplicates > 0 {
		DuplicateQueriesTotal.Add(float64(s.Duplicates))
	}
}

// RecordNPlusOne records one N+1 finding.
func RecordNPlusOne() {
	NPlusOneTotal.Inc()
}

// RecordInjection records an overlay injection outcome.
func RecordInjection(result string) {
	InjectionsTotal.WithLabelValues(result).Inc()
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
