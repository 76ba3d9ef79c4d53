package http_middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fllarpy/devbar/domain"
	"github.com/fllarpy/devbar/domain/metrics"
	"github.com/fllarpy/devbar/internal/adapters/apmhttp"
	"github.com/fllarpy/devbar/internal/logging"
	prommetrics "github.com/fllarpy/devbar/internal/metrics"
	"github.com/fllarpy/devbar/nplusone"
	"github.com/fllarpy/devbar/pkg/config"
)

// DevBarMiddleware creates the devbar middleware. It returns a function that
// takes an http.Handler and returns an http.Handler, suitable for use with
// frameworks like chi. store may be nil, in which case nothing is aggregated.
func DevBarMiddleware(cfg *config.Config, store domain.StoreWriter) func(http.Handler) http.Handler {
	if cfg == nil {
		cfg = config.Default()
	}
	detector := nplusone.NewDetector(nplusone.Config{
		Enabled:   cfg.DevBar.NPlusOneThreshold > 0,
		Threshold: cfg.DevBar.NPlusOneThreshold,
	}, store)
	observe := newObserver(store, detector)

	return func(next http.Handler) http.Handler {
		return apmhttp.Middleware(cfg, observe, next)
	}
}

func newObserver(store domain.StoreWriter, detector *nplusone.Detector) apmhttp.Observer {
	return func(r *http.Request, res apmhttp.Result) {
		summary := metrics.RequestSummary{
			Method:        r.Method,
			Path:          r.URL.Path,
			StatusCode:    res.Status,
			Queries:       res.Snapshot.Count,
			DBTime:        res.Snapshot.Duration,
			AppTime:       res.AppTime,
			HasDuplicates: res.Snapshot.HasDuplicates,
			Duplicates:    len(res.Snapshot.Duplicates),
		}
		prommetrics.ObserveRequest(summary)

		if store != nil {
			store.AddRequest(summary)
		}
		if res.Snapshot.HasDuplicates {
			recordDuplicates(r, res, store)
		}
		detector.Inspect(r.Context(), r.URL.Path, res.Snapshot)
	}
}

// recordDuplicates emits one event per repeated statement.
func recordDuplicates(r *http.Request, res apmhttp.Result, store domain.StoreWriter) {
	now := time.Now()
	occurrences := make(map[string]int)
	var order []string
	for _, d := range res.Snapshot.Duplicates {
		if _, ok := occurrences[d.SQL]; !ok {
			order = append(order, d.SQL)
		}
		occurrences[d.SQL]++
	}

	log := logging.WithContext(r.Context())
	for _, query := range order {
		log.Warn("duplicate query detected",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", query),
			zap.Int("occurrences", occurrences[query]),
		)
		if store != nil {
			store.AddDuplicate(metrics.DuplicateEvent{
				Timestamp:   now,
				Method:      r.Method,
				Path:        r.URL.Path,
				Query:       query,
				Occurrences: occurrences[query],
			})
		}
	}
}
