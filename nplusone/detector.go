// Package nplusone finds N+1 query patterns in the statements of a single
// request: the same statement shape executed again and again with only a
// literal changing.
package nplusone

import (
	"context"
	"regexp"
	"sort"

	"go.uber.org/zap"

	"github.com/fllarpy/devbar/domain"
	"github.com/fllarpy/devbar/internal/logging"
	"github.com/fllarpy/devbar/internal/metrics"
	"github.com/fllarpy/devbar/tracker"
)

type Config struct {
	Enabled   bool
	Threshold int
}

// Finding is one statement shape that reached the threshold.
type Finding struct {
	Query string
	Count int
}

// Detector inspects request snapshots. It keeps no state between requests.
type Detector struct {
	config Config
	store  domain.StoreWriter
}

// NewDetector returns nil when detection is disabled or the threshold is not
// positive. A nil *Detector finds nothing.
func NewDetector(config Config, store domain.StoreWriter) *Detector {
	if !config.Enabled || config.Threshold <= 0 {
		return nil
	}
	return &Detector{config: config, store: store}
}

// A simple approach that might not cover all SQL dialects perfectly.
var sqlNumberRegex = regexp.MustCompile(`\b\d+\b`)

// normalizeQuery replaces numeric literals with a placeholder so that
// "WHERE id = 1" and "WHERE id = 2" share a shape.
func normalizeQuery(query string) string {
	return sqlNumberRegex.ReplaceAllString(query, "?")
}

// Inspect groups the operations of snap by shape and reports every shape
// executed at least Threshold times. Findings are logged, counted and, when
// a store is configured, recorded against path.
func (d *Detector) Inspect(ctx context.Context, path string, snap tracker.Snapshot) []Finding {
	if d == nil || snap.Count < d.config.Threshold {
		return nil
	}

	counts := make(map[string]int)
	var order []string
	for _, op := range snap.Operations {
		shape := normalizeQuery(op.SQL)
		if _, ok := counts[shape]; !ok {
			order = append(order, shape)
		}
		counts[shape] += op.Count
	}

	var findings []Finding
	for _, shape := range order {
		if counts[shape] >= d.config.Threshold {
			findings = append(findings, Finding{Query: shape, Count: counts[shape]})
		}
	}
	sort.SliceStable(findings, func(i, j int) bool { return findings[i].Count > findings[j].Count })

	for _, f := range findings {
		logging.WithContext(ctx).Warn("N+1 query detected",
			zap.String("path", path),
			zap.String("query", f.Query),
			zap.Int("count", f.Count),
		)
		metrics.RecordNPlusOne()
		if d.store != nil {
			d.store.RecordNPlusOne(path, f.Query, f.Count)
		}
	}
	return findings
}
