package devbar_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fllarpy/devbar"
	"github.com/fllarpy/devbar/domain"
	"github.com/fllarpy/devbar/pkg/config"
)

func TestNewProbe_InvalidLogLevel(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "loud"

	_, err := devbar.NewProbe(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loud")
}

func TestNewProbe_NilConfig(t *testing.T) {
	probe, err := devbar.NewProbe(nil)
	require.NoError(t, err)
	defer probe.Shutdown(context.Background())

	assert.Equal(t, config.Default(), probe.Config())
}

func TestProbe_EndToEnd(t *testing.T) {
	devbar.Register("sqlite3-devbar-e2e", &sqlite3.SQLiteDriver{})
	db, err := sql.Open("sqlite3-devbar-e2e", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	defer db.Close()
	_, err = db.Exec(`CREATE TABLE posts (id INTEGER PRIMARY KEY, title TEXT);
		INSERT INTO posts (title) VALUES ('a'), ('b');`)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Debug = true
	cfg.DevBar.ShowBar = true
	cfg.DevBar.ShowHeaders = true
	cfg.DevBar.EnableExtension = true
	cfg.DevBar.RuntimeInterval = 0

	probe, err := devbar.NewProbe(cfg)
	require.NoError(t, err)
	defer probe.Shutdown(context.Background())

	mux := http.NewServeMux()
	probe.Mount(mux)
	mux.HandleFunc("/posts", func(w http.ResponseWriter, r *http.Request) {
		for i := 0; i < 2; i++ {
			var n int
			if err := db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM posts").Scan(&n); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, "<html><body><h1>posts</h1></body></html>")
	})

	server := httptest.NewServer(probe.Middleware()(mux))
	defer server.Close()

	resp, err := http.Get(server.URL + "/posts")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("DevBar-Query-Count"))
	assert.Equal(t, "1", resp.Header.Get("DevBar-Duplicates"))
	assert.NotEmpty(t, resp.Header.Get("DevBar-Data"))
	assert.True(t, strings.Contains(string(body), `<div id="devbar"`))

	resp, err = http.Get(server.URL + cfg.DevBar.DebugEndpoint)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var summary domain.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	require.Contains(t, summary.ServerEndpoints, "/posts")
	assert.Equal(t, uint64(1), summary.ServerEndpoints["/posts"].RequestsWithDuplicates)
	require.Len(t, summary.DuplicateEvents, 1)
	assert.Equal(t, "SELECT COUNT(*) FROM posts", summary.DuplicateEvents[0].Query)

	assert.Equal(t, summary.ServerEndpoints["/posts"].TotalRequests, probe.Summary().ServerEndpoints["/posts"].TotalRequests)
}

func TestProbe_MountWithoutEndpoint(t *testing.T) {
	cfg := config.Default()
	cfg.DevBar.DebugEndpoint = ""
	probe, err := devbar.NewProbe(cfg)
	require.NoError(t, err)
	defer probe.Shutdown(context.Background())

	mux := http.NewServeMux()
	probe.Mount(mux)

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/devbar", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestProbe_ShutdownIsIdempotent(t *testing.T) {
	probe, err := devbar.NewProbe(config.Default())
	require.NoError(t, err)

	assert.NoError(t, probe.Shutdown(context.Background()))
	assert.NoError(t, probe.Shutdown(context.Background()))
}
