// Package tracker accumulates database activity for a single HTTP request.
//
// A Tracker is bound to the request's context.Context by Reset and is only
// reachable through that context, so concurrently handled requests never
// share accounting state. The interceptor in the database layer calls Record
// once per executed statement; the reporter reads the totals with Snapshot
// after the handler returns.
package tracker

import (
	"context"
	"strings"
	"sync"
	"time"
)

// DuplicateQuery is one repeated execution of an identical statement with
// identical arguments.
type DuplicateQuery struct {
	SQL      string
	Params   any
	Duration time.Duration
}

// OperationStats aggregates every execution of one operation key.
type OperationStats struct {
	SQL      string
	Count    int
	Duration time.Duration
}

// Snapshot is a point-in-time, read-only copy of a Tracker.
type Snapshot struct {
	Count         int
	Duration      time.Duration
	HasDuplicates bool
	Duplicates    []DuplicateQuery
	Operations    []OperationStats
}

// DurationMs returns the accumulated database time in milliseconds.
func (s Snapshot) DurationMs() float64 {
	return float64(s.Duration) / float64(time.Millisecond)
}

// Tracker holds the accounting state of one request.
//
// The mutex is only contended when a handler fans queries out to goroutines
// that share the request context.
type Tracker struct {
	mu            sync.Mutex
	count         int
	duration      time.Duration
	seen          map[string]map[uint64]struct{}
	hasDuplicates bool
	duplicates    []DuplicateQuery
	operations    map[string]int
	order         []OperationStats
}

// New returns a zeroed Tracker.
func New() *Tracker {
	t := &Tracker{}
	t.Reset()
	return t
}

// Reset zeroes the tracker so it can be reused for another request.
func (t *Tracker) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.count = 0
	t.duration = 0
	t.seen = make(map[string]map[uint64]struct{})
	t.hasDuplicates = false
	t.duplicates = nil
	t.operations = make(map[string]int)
	t.order = nil
}

// Record accounts for one executed statement. It never fails: parameters
// that cannot be hashed structurally fall back to a weaker fingerprint.
func (t *Tracker) Record(query string, params any, d time.Duration) {
	if t == nil {
		return
	}
	key := NormalizeKey(query)
	fp := Fingerprint(params)

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.seen == nil {
		t.seen = make(map[string]map[uint64]struct{})
		t.operations = make(map[string]int)
	}

	t.count++
	t.duration += d

	idx, ok := t.operations[key]
	if !ok {
		idx = len(t.order)
		t.operations[key] = idx
		t.order = append(t.order, OperationStats{SQL: key})
	}
	t.order[idx].Count++
	t.order[idx].Duration += d

	fingerprints, ok := t.seen[key]
	switch {
	case !ok:
		t.seen[key] = map[uint64]struct{}{fp: {}}
	default:
		if _, dup := fingerprints[fp]; dup {
			t.hasDuplicates = true
			t.duplicates = append(t.duplicates, DuplicateQuery{SQL: key, Params: params, Duration: d})
			return
		}
		fingerprints[fp] = struct{}{}
	}
}

// Snapshot returns a consistent copy of the current totals.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{Duplicates: []DuplicateQuery{}, Operations: []OperationStats{}}
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		Count:         t.count,
		Duration:      t.duration,
		HasDuplicates: t.hasDuplicates,
		Duplicates:    make([]DuplicateQuery, len(t.duplicates)),
		Operations:    make([]OperationStats, len(t.order)),
	}
	copy(snap.Duplicates, t.duplicates)
	copy(snap.Operations, t.order)
	return snap
}

// NormalizeKey collapses whitespace so that the same statement formatted
// differently groups under one operation key.
func NormalizeKey(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

// --- Context binding ---

// contextKey is an unexported type for keys defined in this package.
type contextKey struct{}

var trackerKey = contextKey{}

// Reset binds a fresh Tracker to a context derived from parent. Database
// calls made with the returned context are accounted to that Tracker only.
func Reset(parent context.Context) (context.Context, *Tracker) {
	t := New()
	return NewContext(parent, t), t
}

// NewContext returns a copy of parent carrying t.
func NewContext(parent context.Context, t *Tracker) context.Context {
	return context.WithValue(parent, trackerKey, t)
}

// FromContext returns the Tracker bound to ctx, or nil.
func FromContext(ctx context.Context) *Tracker {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(trackerKey).(*Tracker)
	return t
}

// SnapshotFrom reads the Tracker bound to ctx. A context without a tracker
// yields an empty snapshot.
func SnapshotFrom(ctx context.Context) Snapshot {
	return FromContext(ctx).Snapshot()
}
