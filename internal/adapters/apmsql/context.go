package apmsql

import (
	"context"
	"database/sql/driver"
	"sync/atomic"
	"time"

	"github.com/fllarpy/devbar/internal/logging"
	"go.uber.org/zap"
)

// contextKey is an unexported type for keys defined in this package.
type contextKey struct{}

var hooksKey = contextKey{}

// hookScope is one installed hook. Scopes form a stack through parent so that
// nested installs compose; released scopes stay linked but stop observing.
type hookScope struct {
	hook   Hook
	active atomic.Bool
	parent *hookScope
}

// InstallHook returns a context on which every statement executed through a
// wrapped driver is reported to h, in addition to hooks already installed on
// parent. The release function deactivates h; it is idempotent and must be
// called when the request finishes, typically with defer. After release, h
// is no longer called even for goroutines still holding the context.
func InstallHook(parent context.Context, h Hook) (context.Context, func()) {
	scope := &hookScope{hook: h, parent: scopeFromContext(parent)}
	scope.active.Store(true)
	return context.WithValue(parent, hooksKey, scope), func() { scope.active.Store(false) }
}

// HasHooks reports whether any active hook is installed on ctx.
func HasHooks(ctx context.Context) bool {
	for s := scopeFromContext(ctx); s != nil; s = s.parent {
		if s.active.Load() {
			return true
		}
	}
	return false
}

func scopeFromContext(ctx context.Context) *hookScope {
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(hooksKey).(*hookScope)
	return s
}

// recordQuery delivers an executed statement to every active hook on ctx,
// innermost first. A panicking hook is contained so that accounting problems
// never break the database call being observed.
func recordQuery(ctx context.Context, query string, args []driver.NamedValue, dur time.Duration, err error) {
	scope := scopeFromContext(ctx)
	if scope == nil {
		return
	}
	stmt := Statement{Query: query, Args: args, Duration: dur, Err: err}
	for s := scope; s != nil; s = s.parent {
		if s.active.Load() {
			observe(ctx, s.hook, stmt)
		}
	}
}

func observe(ctx context.Context, h Hook, stmt Statement) {
	defer func() {
		if r := recover(); r != nil {
			logging.WithContext(ctx).Debug("apmsql: hook panicked", zap.Any("panic", r), zap.String("query", stmt.Query))
		}
	}()
	h.Observe(ctx, stmt)
}
