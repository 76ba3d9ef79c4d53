package apmsql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"sync"
	"time"
)

// ---------------- Driver registration ----------------

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]driver.Driver)
)

// Register wraps the provided driver with statement interception and
// registers it in database/sql under the given name. Typical usage:
//
//	import "github.com/mattn/go-sqlite3"
//	apmsql.Register("sqlite3-devbar", &sqlite3.SQLiteDriver{})
//	db, _ := sql.Open("sqlite3-devbar", dsn)
//
// Panics if the driver is nil or the name is already taken.
func Register(name string, d driver.Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()

	if d == nil {
		panic("apmsql: Register driver is nil")
	}
	if _, dup := drivers[name]; dup {
		panic("apmsql: Register called twice for driver " + name)
	}

	drivers[name] = d
	sql.Register(name, Wrap(d))
}

// Wrap returns d with statement interception, for use with NewConnector
// and sql.OpenDB when global registration is not wanted.
func Wrap(d driver.Driver) driver.Driver {
	if w, ok := d.(*apmDriver); ok {
		return w
	}
	return &apmDriver{realDriver: d}
}

// NewConnector returns a driver.Connector opening dsn through the wrapped d.
func NewConnector(d driver.Driver, dsn string) driver.Connector {
	return &dsnConnector{driver: Wrap(d), dsn: dsn}
}

type dsnConnector struct {
	driver driver.Driver
	dsn    string
}

func (c *dsnConnector) Connect(context.Context) (driver.Conn, error) { return c.driver.Open(c.dsn) }
func (c *dsnConnector) Driver() driver.Driver                        { return c.driver }

// ---------------- Driver wrappers ----------------

type apmDriver struct{ realDriver driver.Driver }

func (d *apmDriver) Open(name string) (driver.Conn, error) {
	conn, err := d.realDriver.Open(name)
	if err != nil {
		return nil, err
	}
	return &apmConn{realConn: conn}, nil
}

type apmConn struct{ realConn driver.Conn }

var (
	_ driver.QueryerContext     = (*apmConn)(nil)
	_ driver.ExecerContext      = (*apmConn)(nil)
	_ driver.ConnPrepareContext = (*apmConn)(nil)
	_ driver.ConnBeginTx        = (*apmConn)(nil)
	_ driver.Pinger             = (*apmConn)(nil)
	_ driver.SessionResetter    = (*apmConn)(nil)
	_ driver.Validator          = (*apmConn)(nil)
	_ driver.NamedValueChecker  = (*apmConn)(nil)
)

var errIsolationUnsupported = errors.New("apmsql: driver does not support non-default transaction options")

func (c *apmConn) Prepare(query string) (driver.Stmt, error) {
	stmt, err := c.realConn.Prepare(query)
	if err != nil {
		return nil, err
	}
	return &apmStmt{realStmt: stmt, query: query}, nil
}
func (c *apmConn) Close() error              { return c.realConn.Close() }
func (c *apmConn) Begin() (driver.Tx, error) { return c.realConn.Begin() } //nolint:staticcheck

func (c *apmConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	pc, ok := c.realConn.(driver.ConnPrepareContext)
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return c.Prepare(query)
	}
	stmt, err := pc.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &apmStmt{realStmt: stmt, query: query}, nil
}

func (c *apmConn) BeginTx(ctx context.Context, opts driver.TxOptions) (driver.Tx, error) {
	if bt, ok := c.realConn.(driver.ConnBeginTx); ok {
		return bt.BeginTx(ctx, opts)
	}
	if opts.Isolation != driver.IsolationLevel(sql.LevelDefault) || opts.ReadOnly {
		return nil, errIsolationUnsupported
	}
	return c.realConn.Begin() //nolint:staticcheck
}

func (c *apmConn) Ping(ctx context.Context) error {
	if p, ok := c.realConn.(driver.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (c *apmConn) ResetSession(ctx context.Context) error {
	if r, ok := c.realConn.(driver.SessionResetter); ok {
		return r.ResetSession(ctx)
	}
	return nil
}

func (c *apmConn) IsValid() bool {
	if v, ok := c.realConn.(driver.Validator); ok {
		return v.IsValid()
	}
	return true
}

func (c *apmConn) CheckNamedValue(nv *driver.NamedValue) error {
	if nc, ok := c.realConn.(driver.NamedValueChecker); ok {
		return nc.CheckNamedValue(nv)
	}
	return driver.ErrSkip
}

// Context-aware exec/query
func (c *apmConn) QueryContext(ctx context.Context, q string, a []driver.NamedValue) (driver.Rows, error) {
	if qx, ok := c.realConn.(driver.QueryerContext); ok {
		start := time.Now()
		rows, err := qx.QueryContext(ctx, q, a)
		if !errors.Is(err, driver.ErrSkip) {
			recordQuery(ctx, q, a, time.Since(start), err)
		}
		return rows, err
	}
	return nil, driver.ErrSkip
}
func (c *apmConn) ExecContext(ctx context.Context, q string, a []driver.NamedValue) (driver.Result, error) {
	if ex, ok := c.realConn.(driver.ExecerContext); ok {
		start := time.Now()
		res, err := ex.ExecContext(ctx, q, a)
		if !errors.Is(err, driver.ErrSkip) {
			recordQuery(ctx, q, a, time.Since(start), err)
		}
		return res, err
	}
	return nil, driver.ErrSkip
}

type apmStmt struct {
	realStmt driver.Stmt
	query    string
}

func (s *apmStmt) Close() error  { return s.realStmt.Close() }
func (s *apmStmt) NumInput() int { return s.realStmt.NumInput() }
func (s *apmStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.realStmt.Exec(args) //nolint:staticcheck
}
func (s *apmStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.realStmt.Query(args) //nolint:staticcheck
}

func (s *apmStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	if ex, ok := s.realStmt.(driver.StmtExecContext); ok {
		start := time.Now()
		res, err := ex.ExecContext(ctx, args)
		recordQuery(ctx, s.query, args, time.Since(start), err)
		return res, err
	}
	values := namedValueToValue(args)
	start := time.Now()
	res, err := s.realStmt.Exec(values) //nolint:staticcheck
	recordQuery(ctx, s.query, args, time.Since(start), err)
	return res, err
}

func (s *apmStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	if qx, ok := s.realStmt.(driver.StmtQueryContext); ok {
		start := time.Now()
		rows, err := qx.QueryContext(ctx, args)
		recordQuery(ctx, s.query, args, time.Since(start), err)
		return rows, err
	}
	values := namedValueToValue(args)
	start := time.Now()
	rows, err := s.realStmt.Query(values) //nolint:staticcheck
	recordQuery(ctx, s.query, args, time.Since(start), err)
	return rows, err
}

func namedValueToValue(named []driver.NamedValue) []driver.Value {
	vs := make([]driver.Value, len(named))
	for i, nv := range named {
		vs[i] = nv.Value
	}
	return vs
}
