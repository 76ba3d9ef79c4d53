package domain

import (
	"net/http"

	"github.com/fllarpy/devbar/domain/metrics"
)

// Summary is a point-in-time, read-only copy of the aggregated devbar
// figures kept for the lifetime of the process.
type Summary struct {
	ServerEndpoints map[string]metrics.EndpointMetricsSnapshot `json:"server_endpoints"`
	Runtime         metrics.RuntimeMetrics                     `json:"runtime_metrics"`
	DuplicateEvents []metrics.DuplicateEvent                   `json:"duplicate_events"`
	NPlusOneEvents  []metrics.NPlusOneEvent                    `json:"n_plus_one_events"`
}

// StoreReader defines the contract for reading metrics from a store.
type StoreReader interface {
	GetSummary() *Summary
	UpdateRuntime()
}

// StoreWriter defines the contract for writing metrics to a store.
type StoreWriter interface {
	AddRequest(summary metrics.RequestSummary)
	AddDuplicate(event metrics.DuplicateEvent)
	RecordNPlusOne(path, query string, count int)
}

// Store is the combined interface for a metric store.
type Store interface {
	StoreReader
	StoreWriter
}

// Reporter defines a component that can report metrics, e.g., via an HTTP handler.
type Reporter interface {
	Handler() http.Handler
}
