package apmsql

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3" // Import for side effects
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB registers a wrapped sqlite driver and seeds a users table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	realDriver := db.Driver()
	require.NoError(t, db.Close())

	// We use a unique name for each test to avoid panics from re-registering.
	driverName := fmt.Sprintf("sqlite3-apmsql-%s", t.Name())
	Register(driverName, realDriver)

	// A single connection keeps every statement on the same in-memory database.
	db, err = sql.Open(driverName, ":memory:")
	require.NoError(t, err, "Failed to open in-memory DB")
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
		CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT);
		INSERT INTO users (id, name) VALUES (1, 'Alice'), (2, 'Bob'), (3, 'Charlie');
	`)
	require.NoError(t, err, "Failed to create schema and seed data")
	return db
}

type collector struct {
	mu    sync.Mutex
	stmts []Statement
}

func (c *collector) Observe(_ context.Context, stmt Statement) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stmts = append(c.stmts, stmt)
}

func (c *collector) all() []Statement {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Statement(nil), c.stmts...)
}

func TestHook_ObservesQueriesAndExecs(t *testing.T) {
	db := setupTestDB(t)
	c := &collector{}
	ctx, release := InstallHook(context.Background(), c)
	defer release()

	var name string
	require.NoError(t, db.QueryRowContext(ctx, "SELECT name FROM users WHERE id = ?", 2).Scan(&name))
	assert.Equal(t, "Bob", name)

	_, err := db.ExecContext(ctx, "UPDATE users SET name = ? WHERE id = ?", "Robert", 2)
	require.NoError(t, err)

	stmt, err := db.PrepareContext(ctx, "SELECT name FROM users WHERE id = ?")
	require.NoError(t, err)
	defer stmt.Close()
	require.NoError(t, stmt.QueryRowContext(ctx, 1).Scan(&name))

	got := c.all()
	require.Len(t, got, 3)
	assert.Equal(t, "SELECT name FROM users WHERE id = ?", got[0].Query)
	require.Len(t, got[0].Values(), 1)
	assert.EqualValues(t, 2, got[0].Values()[0])
	assert.Equal(t, "UPDATE users SET name = ? WHERE id = ?", got[1].Query)
	assert.Equal(t, "SELECT name FROM users WHERE id = ?", got[2].Query)
	for _, s := range got {
		assert.NoError(t, s.Err)
		assert.GreaterOrEqual(t, s.Duration.Nanoseconds(), int64(0))
	}
}

func TestHook_DriverErrorsPropagateUnchanged(t *testing.T) {
	db := setupTestDB(t)
	c := &collector{}
	ctx, release := InstallHook(context.Background(), c)
	defer release()

	_, err := db.ExecContext(ctx, "SELECT * FROM non_existent_table")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such table")

	got := c.all()
	require.Len(t, got, 1)
	assert.Equal(t, err.Error(), got[0].Err.Error())
}

func TestHook_ReleaseStopsObservation(t *testing.T) {
	db := setupTestDB(t)
	c := &collector{}
	ctx, release := InstallHook(context.Background(), c)

	_, err := db.ExecContext(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.True(t, HasHooks(ctx))

	release()
	release() // idempotent

	_, err = db.ExecContext(ctx, "SELECT 2")
	require.NoError(t, err)
	assert.False(t, HasHooks(ctx))
	assert.Len(t, c.all(), 1, "released hook must not observe further statements")
}

func TestHook_NestedScopesCompose(t *testing.T) {
	db := setupTestDB(t)
	outer, inner := &collector{}, &collector{}

	ctx, releaseOuter := InstallHook(context.Background(), outer)
	defer releaseOuter()
	innerCtx, releaseInner := InstallHook(ctx, inner)

	_, err := db.ExecContext(innerCtx, "SELECT 1")
	require.NoError(t, err)
	releaseInner()
	_, err = db.ExecContext(innerCtx, "SELECT 2")
	require.NoError(t, err)

	assert.Len(t, outer.all(), 2)
	assert.Len(t, inner.all(), 1)
}

func TestHook_PanickingHookDoesNotBreakQuery(t *testing.T) {
	db := setupTestDB(t)
	ctx, release := InstallHook(context.Background(), HookFunc(func(context.Context, Statement) {
		panic("accounting bug")
	}))
	defer release()

	var n int
	require.NotPanics(t, func() {
		require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n))
	})
	assert.Equal(t, 3, n)
}

func TestHook_TransactionsAreObserved(t *testing.T) {
	db := setupTestDB(t)
	c := &collector{}
	ctx, release := InstallHook(context.Background(), c)
	defer release()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	_, err = tx.ExecContext(ctx, "INSERT INTO users (id, name) VALUES (?, ?)", 4, "Dana")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.Len(t, c.all(), 1)
}

func TestHook_WithoutContextIsNotObserved(t *testing.T) {
	db := setupTestDB(t)
	c := &collector{}
	_, release := InstallHook(context.Background(), c)
	defer release()

	_, err := db.Exec("SELECT 1")
	require.NoError(t, err)
	assert.Empty(t, c.all())
}

func TestRegister_Panics(t *testing.T) {
	assert.Panics(t, func() { Register("apmsql-nil", nil) })

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	d := db.Driver()
	require.NoError(t, db.Close())

	Register("apmsql-dup", d)
	assert.Panics(t, func() { Register("apmsql-dup", d) })
}

func TestNewConnector(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	d := db.Driver()
	require.NoError(t, db.Close())

	wrapped := sql.OpenDB(NewConnector(d, ":memory:"))
	defer wrapped.Close()

	c := &collector{}
	ctx, release := InstallHook(context.Background(), c)
	defer release()

	require.NoError(t, wrapped.PingContext(ctx))
	_, err = wrapped.ExecContext(ctx, "SELECT 1")
	require.NoError(t, err)
	assert.Len(t, c.all(), 1)
}
