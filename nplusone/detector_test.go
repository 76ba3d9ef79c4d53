package nplusone

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fllarpy/devbar/infrastructure/storage/inmemory"
	"github.com/fllarpy/devbar/tracker"
)

// We reuse the real in-memory store for testing purposes.

func snapshotOf(queries ...string) tracker.Snapshot {
	tr := tracker.New()
	for _, q := range queries {
		tr.Record(q, nil, time.Millisecond)
	}
	return tr.Snapshot()
}

func userLookups(n int) []string {
	qs := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		qs = append(qs, fmt.Sprintf("SELECT * FROM users WHERE id = %d", i))
	}
	return qs
}

func TestNewDetector(t *testing.T) {
	assert.Nil(t, NewDetector(Config{Enabled: false, Threshold: 3}, nil))
	assert.Nil(t, NewDetector(Config{Enabled: true, Threshold: 0}, nil))
	assert.NotNil(t, NewDetector(Config{Enabled: true, Threshold: 3}, nil))

	var d *Detector
	assert.Empty(t, d.Inspect(context.Background(), "/", snapshotOf(userLookups(10)...)), "nil detector finds nothing")
}

func TestDetector_Inspect(t *testing.T) {
	cfg := Config{Enabled: true, Threshold: 3}

	t.Run("should not detect with queries below threshold", func(t *testing.T) {
		store := inmemory.NewStore()
		detector := NewDetector(cfg, store)
		require.NotNil(t, detector)

		findings := detector.Inspect(context.Background(), "/users", snapshotOf(userLookups(2)...))

		assert.Empty(t, findings)
		assert.Equal(t, 0, store.NPlusOneLen(), "RecordNPlusOne should not be called")
	})

	t.Run("should detect when literals differ", func(t *testing.T) {
		store := inmemory.NewStore()
		detector := NewDetector(cfg, store)

		findings := detector.Inspect(context.Background(), "/users", snapshotOf(userLookups(4)...))

		require.Len(t, findings, 1)
		assert.Equal(t, "SELECT * FROM users WHERE id = ?", findings[0].Query)
		assert.Equal(t, 4, findings[0].Count)

		summary := store.GetSummary()
		require.Len(t, summary.NPlusOneEvents, 1)
		assert.Equal(t, "/users", summary.NPlusOneEvents[0].Path)
		assert.Equal(t, 4, summary.NPlusOneEvents[0].Count)
	})

	t.Run("should detect parameterised repeats", func(t *testing.T) {
		detector := NewDetector(cfg, nil)
		q := "SELECT name FROM users WHERE id = ?"

		findings := detector.Inspect(context.Background(), "/users", snapshotOf(q, q, q, "SELECT 1"))

		require.Len(t, findings, 1)
		assert.Equal(t, q, findings[0].Query)
		assert.Equal(t, 3, findings[0].Count)
	})

	t.Run("should report each shape once ordered by count", func(t *testing.T) {
		store := inmemory.NewStore()
		detector := NewDetector(cfg, store)

		queries := userLookups(3)
		for i := 1; i <= 5; i++ {
			queries = append(queries, fmt.Sprintf("SELECT * FROM orders WHERE user_id = %d", i))
		}

		findings := detector.Inspect(context.Background(), "/orders", snapshotOf(queries...))

		require.Len(t, findings, 2)
		assert.Equal(t, "SELECT * FROM orders WHERE user_id = ?", findings[0].Query)
		assert.Equal(t, 5, findings[0].Count)
		assert.Equal(t, 3, findings[1].Count)
		assert.Equal(t, 2, store.NPlusOneLen())
	})
}

func TestNormalizeQuery(t *testing.T) {
	assert.Equal(t, "SELECT * FROM t WHERE id = ? LIMIT ?", normalizeQuery("SELECT * FROM t WHERE id = 42 LIMIT 10"))
	assert.Equal(t, "SELECT * FROM t2", normalizeQuery("SELECT * FROM t2"), "digits inside identifiers are kept")
}
