package inmemory

import (
	"runtime"
	"sync"
	"time"

	"github.com/fllarpy/devbar/domain"
	"github.com/fllarpy/devbar/domain/metrics"
)

const (
	// Default buffer size for duplicate and N+1 events.
	defaultEventBufferSize = 100
)

// --- Store Implementation ---

// Store is a thread-safe in-memory data store for collecting and serving metrics.
// It implements the domain.Store interface.
var _ domain.Store = (*Store)(nil)

type Store struct {
	mu              sync.RWMutex
	serverEndpoints map[string]*metrics.EndpointMetrics
	runtime         metrics.RuntimeMetrics
	duplicates      *ringBuffer[metrics.DuplicateEvent]
	nPlusOneEvents  *ringBuffer[metrics.NPlusOneEvent]
}

// NewStore creates and initializes a new Store.
func NewStore() *Store {
	return NewStoreWithSize(defaultEventBufferSize)
}

// NewStoreWithSize creates a Store keeping at most size events of each kind.
func NewStoreWithSize(size int) *Store {
	if size <= 0 {
		size = defaultEventBufferSize
	}
	return &Store{
		serverEndpoints: make(map[string]*metrics.EndpointMetrics),
		duplicates:      newRingBuffer[metrics.DuplicateEvent](size),
		nPlusOneEvents:  newRingBuffer[metrics.NPlusOneEvent](size),
	}
}

// AddRequest folds one request summary into its endpoint's aggregates.
func (s *Store) AddRequest(summary metrics.RequestSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()

	endpoint, ok := s.serverEndpoints[summary.Path]
	if !ok {
		endpoint = &metrics.EndpointMetrics{}
		s.serverEndpoints[summary.Path] = endpoint
	}

	endpoint.TotalRequests++
	endpoint.TotalRequestTime += uint64(summary.AppTime.Nanoseconds())
	endpoint.TotalDBTime += uint64(summary.DBTime.Nanoseconds())
	endpoint.TotalQueries += uint64(summary.Queries)
	if summary.HasDuplicates {
		endpoint.RequestsWithDuplicates++
	}

	switch {
	case summary.StatusCode >= 500:
		endpoint.Status5xx++
	case summary.StatusCode >= 400:
		endpoint.Status4xx++
	default:
		endpoint.Status2xx++
	}
}

// AddDuplicate adds a new duplicate-query event to the ring buffer.
func (s *Store) AddDuplicate(event metrics.DuplicateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	s.duplicates.add(event)
}

// RecordNPlusOne adds a new N+1 event to the ring buffer.
func (s *Store) RecordNPlusOne(path, query string, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event := metrics.NPlusOneEvent{
		Timestamp:   time.Now(),
		Path:        path,
		Query:       query,
		Count:       count,
		Description: "N+1 query detected",
	}
	s.nPlusOneEvents.add(event)
}

// NPlusOneLen returns how many N+1 events are currently buffered.
func (s *Store) NPlusOneLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nPlusOneEvents.count
}

// UpdateRuntime captures current runtime metrics.
func (s *Store) UpdateRuntime() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runtime.NumGoroutine = runtime.NumGoroutine()
	s.runtime.MemoryAllocBytes = memStats.Alloc
	s.runtime.MemoryTotalAllocBytes = memStats.TotalAlloc
	s.runtime.MemoryHeapAllocBytes = memStats.HeapAlloc
	s.runtime.MemoryHeapSysBytes = memStats.HeapSys
}

// GetSummary returns a read-only copy of the current metrics.
func (s *Store) GetSummary() *domain.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &domain.Summary{
		ServerEndpoints: make(map[string]metrics.EndpointMetricsSnapshot, len(s.serverEndpoints)),
		Runtime:         s.runtime,
		DuplicateEvents: s.duplicates.getAll(),
		NPlusOneEvents:  s.nPlusOneEvents.getAll(),
	}

	for path, m := range s.serverEndpoints {
		var avgTimeNs, avgDBNs uint64
		var avgQueries float64
		if m.TotalRequests > 0 {
			avgTimeNs = m.TotalRequestTime / m.TotalRequests
			avgDBNs = m.TotalDBTime / m.TotalRequests
			avgQueries = float64(m.TotalQueries) / float64(m.TotalRequests)
		}
		summary.ServerEndpoints[path] = metrics.EndpointMetricsSnapshot{
			TotalRequests:          m.TotalRequests,
			AvgRequestTimeNs:       avgTimeNs,
			AvgRequestTime:         time.Duration(avgTimeNs).String(),
			AvgDBTimeNs:            avgDBNs,
			AvgQueries:             avgQueries,
			RequestsWithDuplicates: m.RequestsWithDuplicates,
			Status2xx:              m.Status2xx,
			Status4xx:              m.Status4xx,
			Status5xx:              m.Status5xx,
		}
	}

	return summary
}

// --- Ring Buffer for Events ---

// ringBuffer is a generic, thread-unsafe circular buffer.
// The locking must be handled by the parent (Store).
type ringBuffer[T any] struct {
	buffer []T
	size   int
	start  int
	count  int
}

// newRingBuffer creates a new ring buffer of a given size.
func newRingBuffer[T any](size int) *ringBuffer[T] {
	return &ringBuffer[T]{
		buffer: make([]T, size),
		size:   size,
	}
}

// add inserts an element into the buffer, overwriting the oldest if full.
func (rb *ringBuffer[T]) add(item T) {
	index := (rb.start + rb.count) % rb.size
	rb.buffer[index] = item
	if rb.count < rb.size {
		rb.count++
	} else {
		rb.start = (rb.start + 1) % rb.size
	}
}

// getAll returns all elements in the buffer in order.
func (rb *ringBuffer[T]) getAll() []T {
	if rb.count == 0 {
		return nil
	}
	items := make([]T, rb.count)
	for i := 0; i < rb.count; i++ {
		items[i] = rb.buffer[(rb.start+i)%rb.size]
	}
	return items
}
