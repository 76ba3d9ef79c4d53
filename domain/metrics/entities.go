package metrics

import (
	"time"
)

// --- Data Structures for Metrics ---

// RequestSummary is what the devbar middleware learned about one request.
type RequestSummary struct {
	Method        string
	Path          string
	StatusCode    int
	Queries       int
	DBTime        time.Duration
	AppTime       time.Duration
	HasDuplicates bool
	Duplicates    int
}

// EndpointMetrics holds aggregated metrics for a specific server endpoint.
type EndpointMetrics struct {
	TotalRequests          uint64
	TotalRequestTime       uint64 // Stored in nanoseconds
	TotalDBTime            uint64 // Stored in nanoseconds
	TotalQueries           uint64
	RequestsWithDuplicates uint64
	Status2xx              uint64
	Status4xx              uint64
	Status5xx              uint64
}

// RuntimeMetrics holds metrics about the Go runtime.
type RuntimeMetrics struct {
	NumGoroutine          int    `json:"num_goroutine"`
	MemoryAllocBytes      uint64 `json:"memory_alloc_bytes"`
	MemoryTotalAllocBytes uint64 `json:"memory_total_alloc_bytes"`
	MemoryHeapAllocBytes  uint64 `json:"memory_heap_alloc_bytes"`
	MemoryHeapSysBytes    uint64 `json:"memory_heap_sys_bytes"`
}

// DuplicateEvent records a request that executed an identical statement with
// identical arguments more than once.
type DuplicateEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Method      string    `json:"method"`
	Path        string    `json:"path"`
	Query       string    `json:"query"`
	Occurrences int       `json:"occurrences"`
}

// NPlusOneEvent represents a detected N+1 query problem.
type NPlusOneEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	Path        string    `json:"path"`
	Query       string    `json:"query"`
	Count       int       `json:"count"`
	Description string    `json:"description"`
}

// --- Snapshot Structures (for reporting) ---

// EndpointMetricsSnapshot is a read-only copy of an endpoint's metrics.
type EndpointMetricsSnapshot struct {
	TotalRequests          uint64  `json:"total_requests"`
	AvgRequestTimeNs       uint64  `json:"avg_request_time_ns"`
	AvgRequestTime         string  `json:"avg_request_time"`
	AvgDBTimeNs            uint64  `json:"avg_db_time_ns"`
	AvgQueries             float64 `json:"avg_queries"`
	RequestsWithDuplicates uint64  `json:"requests_with_duplicates"`
	Status2xx              uint64  `json:"status_2xx"`
	Status4xx              uint64  `json:"status_4xx"`
	Status5xx              uint64  `json:"status_5xx"`
}
