package apmhttp

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fllarpy/devbar/internal/adapters/apmsql"
	"github.com/fllarpy/devbar/internal/logging"
	"github.com/fllarpy/devbar/internal/metrics"
	"github.com/fllarpy/devbar/internal/render"
	"github.com/fllarpy/devbar/pkg/config"
	"github.com/fllarpy/devbar/tracker"
)

// Result is what the middleware learned about one request.
type Result struct {
	Snapshot tracker.Snapshot
	AppTime  time.Duration
	Status   int
	// Streaming is set when the handler flushed or hijacked the response.
	// Such responses carry the headers as of the first flush and never the
	// overlay.
	Streaming bool
	// Injection is the overlay outcome, one of the metrics.Injection*
	// values, or empty when the bar is off or the response was streamed.
	Injection string
}

// Observer receives the Result of every request that completed without
// panicking.
type Observer func(r *http.Request, res Result)

// Middleware tracks the database activity of each request served by next
// and decorates the response according to cfg. A nil cfg means
// config.Default(). observe may be nil.
func Middleware(cfg *config.Config, observe Observer, next http.Handler) http.Handler {
	if cfg == nil {
		cfg = config.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ctx, tr := tracker.Reset(r.Context())
		ctx, release := apmsql.InstallHook(ctx, trackingHook(tr))
		defer release()
		r = r.WithContext(ctx)

		log := logging.WithContext(ctx)

		bw := newBufferedWriter(w)
		bw.onStream = func(h http.Header) {
			if cfg.Enabled() {
				setHeaders(cfg, h, tracker.SnapshotFrom(ctx), time.Since(start), log)
			}
		}
		next.ServeHTTP(bw, r)

		res := Result{
			Snapshot:  tracker.SnapshotFrom(ctx),
			AppTime:   time.Since(start),
			Status:    bw.statusCode(),
			Streaming: bw.streaming,
		}

		if !bw.streaming {
			res.Injection = decorate(cfg, bw, res, log)
			if err := bw.commit(); err != nil {
				log.Debug("devbar: writing response failed", zap.Error(err))
			}
		}

		if logging.Enabled(zapcore.DebugLevel) {
			log.Debug("devbar: request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", res.Status),
				zap.Int("queries", res.Snapshot.Count),
				zap.Float64("db_ms", res.Snapshot.DurationMs()),
				zap.Duration("app_time", res.AppTime),
				zap.Bool("duplicates", res.Snapshot.HasDuplicates),
			)
		}

		if observe != nil {
			observe(r, res)
		}
	})
}

// trackingHook forwards every executed statement, failed ones included, to tr.
func trackingHook(tr *tracker.Tracker) apmsql.Hook {
	return apmsql.HookFunc(func(_ context.Context, stmt apmsql.Statement) {
		tr.Record(stmt.Query, stmt.Values(), stmt.Duration)
	})
}

// decorate applies headers, the overlay and the data header to a buffered
// response and returns the injection outcome.
func decorate(cfg *config.Config, bw *bufferedWriter, res Result, log *zap.Logger) string {
	if !cfg.Enabled() {
		return ""
	}
	setHeaders(cfg, bw.Header(), res.Snapshot, res.AppTime, log)

	var injection string
	if cfg.DevBar.ShowBar {
		injection = injectOverlay(cfg, bw, res, log)
		metrics.RecordInjection(injection)
	}
	return injection
}

// setHeaders adds the DevBar-* headers and the data header enabled by cfg.
func setHeaders(cfg *config.Config, h http.Header, snap tracker.Snapshot, appTime time.Duration, log *zap.Logger) {
	if cfg.DevBar.ShowHeaders {
		render.SetHeaders(h, snap, appTime)
	}
	if cfg.ExtensionEnabled() {
		if err := render.SetDataHeader(h, snap, appTime); err != nil {
			log.Debug("devbar: data header skipped", zap.Error(err))
		}
	}
}

func injectOverlay(cfg *config.Config, bw *bufferedWriter, res Result, log *zap.Logger) string {
	bw.sniffContentType()
	h := bw.Header()

	reason := render.CanInject(render.Response{
		Header:    h,
		Status:    res.Status,
		Streaming: bw.streaming,
		Buffered:  true,
	})
	if reason != render.Eligible {
		log.Debug("devbar: overlay skipped", zap.String("reason", string(reason)))
		return metrics.InjectionIneligible
	}

	markup, err := render.Overlay(cfg.DevBar, res.Snapshot, res.AppTime)
	if err != nil {
		log.Debug("devbar: overlay skipped", zap.Error(err))
		return metrics.InjectionFailed
	}

	body, ok := render.Inject(bw.body.Bytes(), markup)
	if !ok {
		log.Debug("devbar: overlay skipped", zap.String("reason", "no closing body tag"))
		return metrics.InjectionNoBodyTag
	}
	bw.setBody(body)
	if h.Get("Content-Length") != "" {
		h.Set("Content-Length", strconv.Itoa(len(body)))
	}
	return metrics.InjectionInjected
}
