package apmsql

import (
	"context"
	"database/sql/driver"
	"time"
)

// Statement describes a single SQL statement executed through a wrapped
// driver. Err is the error returned by the real driver, if any.
type Statement struct {
	Query    string
	Args     []driver.NamedValue
	Duration time.Duration
	Err      error
}

// Values returns the bound argument values in ordinal order.
func (s Statement) Values() []driver.Value {
	return namedValueToValue(s.Args)
}

// Hook observes statements executed with a context it was installed on.
// Observe runs synchronously after the real driver call returns and must not
// block.
type Hook interface {
	Observe(ctx context.Context, stmt Statement)
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(ctx context.Context, stmt Statement)

// Observe calls f(ctx, stmt).
func (f HookFunc) Observe(ctx context.Context, stmt Statement) { f(ctx, stmt) }
