// Package devbar adds per-request database and response-time introspection
// to net/http services during development.
//
// Register the wrapped database driver, build a Probe and wrap the
// application handler:
//
//	devbar.Register("sqlite3-devbar", &sqlite3.SQLiteDriver{})
//	db, _ := sql.Open("sqlite3-devbar", "app.db")
//
//	cfg, _ := config.Load(".")
//	probe, _ := devbar.NewProbe(cfg)
//	defer probe.Shutdown(context.Background())
//
//	mux := http.NewServeMux()
//	probe.Mount(mux)
//	http.ListenAndServe(":8080", probe.Middleware()(mux))
//
// Queries must be issued with the request context (QueryContext,
// ExecContext, ...) to be counted.
package devbar

import (
	"context"
	"database/sql/driver"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/fllarpy/devbar/domain"
	"github.com/fllarpy/devbar/infrastructure/storage/inmemory"
	"github.com/fllarpy/devbar/internal/adapters/apmsql"
	"github.com/fllarpy/devbar/internal/application/collector"
	"github.com/fllarpy/devbar/internal/logging"
	"github.com/fllarpy/devbar/internal/ports/http_middleware"
	"github.com/fllarpy/devbar/internal/ports/http_reporter"
	"github.com/fllarpy/devbar/pkg/config"
)

// Probe wires the devbar middleware to its aggregate store and debug
// endpoint.
type Probe struct {
	cfg   *config.Config
	store *inmemory.Store

	stopCollector func()
	shutdownOnce  sync.Once
}

var _ domain.Reporter = (*Probe)(nil)

// NewProbe builds a Probe from cfg. A nil cfg means config.Default().
func NewProbe(cfg *config.Config) (*Probe, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if cfg.LogLevel != "" {
		if err := logging.SetLevel(cfg.LogLevel); err != nil {
			return nil, fmt.Errorf("devbar: %w", err)
		}
	}

	store := inmemory.NewStore()
	p := &Probe{
		cfg:           cfg,
		store:         store,
		stopCollector: collector.Start(store, cfg.DevBar.RuntimeInterval),
	}

	logging.GetLogger().Info("devbar probe initialized",
		zap.String("service", cfg.ServiceName),
		zap.Bool("show_bar", cfg.DevBar.ShowBar),
		zap.Bool("show_headers", cfg.DevBar.ShowHeaders),
		zap.Bool("extension", cfg.ExtensionEnabled()),
	)
	return p, nil
}

// Config returns the configuration the probe was built with.
func (p *Probe) Config() *config.Config { return p.cfg }

// Middleware returns the devbar middleware.
func (p *Probe) Middleware() func(http.Handler) http.Handler {
	return http_middleware.DevBarMiddleware(p.cfg, p.store)
}

// Handler serves the aggregated figures as JSON.
func (p *Probe) Handler() http.Handler {
	return http_reporter.NewHandler(p.store)
}

// Summary returns a copy of the aggregated figures.
func (p *Probe) Summary() *domain.Summary {
	return p.store.GetSummary()
}

// Mount registers Handler on mux at the configured debug endpoint. An empty
// endpoint mounts nothing.
func (p *Probe) Mount(mux *http.ServeMux) {
	if p.cfg.DevBar.DebugEndpoint == "" {
		return
	}
	mux.Handle(p.cfg.DevBar.DebugEndpoint, p.Handler())
}

// Shutdown stops background work and flushes the logger. It is safe to call
// more than once.
func (p *Probe) Shutdown(ctx context.Context) error {
	p.shutdownOnce.Do(func() {
		p.stopCollector()
		logging.WithContext(ctx).Info("devbar probe stopped")
		// Syncing a terminal stderr fails on some platforms.
		_ = logging.Sync()
	})
	return nil
}

// Register wraps d and registers it with database/sql under name. It panics
// if name is already registered or d is nil.
func Register(name string, d driver.Driver) {
	apmsql.Register(name, d)
}

// Wrap returns d instrumented for devbar, for use with sql.OpenDB.
func Wrap(d driver.Driver) driver.Driver {
	return apmsql.Wrap(d)
}
