package http_reporter

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fllarpy/devbar/domain"
	"github.com/fllarpy/devbar/domain/metrics"
	"github.com/fllarpy/devbar/infrastructure/storage/inmemory"
)

func TestSummaryHandler(t *testing.T) {
	store := inmemory.NewStore()
	path1 := "/api/v1/users"
	path2 := "/api/v2/posts"

	store.AddRequest(metrics.RequestSummary{Path: path1, StatusCode: http.StatusOK, AppTime: 100 * time.Millisecond, DBTime: 10 * time.Millisecond, Queries: 2})
	store.AddRequest(metrics.RequestSummary{Path: path1, StatusCode: http.StatusCreated, AppTime: 150 * time.Millisecond, DBTime: 20 * time.Millisecond, Queries: 4, HasDuplicates: true, Duplicates: 1})
	store.AddRequest(metrics.RequestSummary{Path: path2, StatusCode: http.StatusNotFound, AppTime: 200 * time.Millisecond})
	store.AddRequest(metrics.RequestSummary{Path: path2, StatusCode: http.StatusInternalServerError, AppTime: 300 * time.Millisecond})
	store.AddDuplicate(metrics.DuplicateEvent{Method: "GET", Path: path1, Query: "SELECT 1", Occurrences: 1})
	store.RecordNPlusOne(path1, "SELECT * FROM users WHERE id = ?", 6)

	handler := NewHandler(store)

	req := httptest.NewRequest("GET", "/debug/devbar", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, "handler should return status OK")
	assert.Equal(t, "application/json; charset=utf-8", rr.Header().Get("Content-Type"))

	var summary domain.Summary
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &summary), "Failed to unmarshal response body")

	require.Len(t, summary.ServerEndpoints, 2, "Should be metrics for two endpoints")

	snap1 := summary.ServerEndpoints[path1]
	assert.Equal(t, uint64(2), snap1.TotalRequests)
	assert.Equal(t, uint64(2), snap1.Status2xx)
	assert.Equal(t, uint64((100*time.Millisecond+150*time.Millisecond)/2), snap1.AvgRequestTimeNs)
	assert.Equal(t, uint64(15*time.Millisecond), snap1.AvgDBTimeNs)
	assert.InDelta(t, 3.0, snap1.AvgQueries, 1e-9)
	assert.Equal(t, uint64(1), snap1.RequestsWithDuplicates)

	snap2 := summary.ServerEndpoints[path2]
	assert.Equal(t, uint64(1), snap2.Status4xx)
	assert.Equal(t, uint64(1), snap2.Status5xx)

	require.Len(t, summary.DuplicateEvents, 1)
	assert.Equal(t, "SELECT 1", summary.DuplicateEvents[0].Query)
	require.Len(t, summary.NPlusOneEvents, 1)
	assert.Equal(t, 6, summary.NPlusOneEvents[0].Count)

	assert.Greater(t, summary.Runtime.NumGoroutine, 0)
	assert.Greater(t, summary.Runtime.MemoryAllocBytes, uint64(0))
}

func TestSummaryHandler_MethodNotAllowed(t *testing.T) {
	rr := httptest.NewRecorder()
	NewHandler(inmemory.NewStore()).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/debug/devbar", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "GET, HEAD", rr.Header().Get("Allow"))
}
