package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/fllarpy/devbar"
	"github.com/fllarpy/devbar/internal/logging"
	"github.com/fllarpy/devbar/pkg/config"
)

const driverName = "sqlite3-devbar"

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	configDir := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	devbar.Register(driverName, &sqlite3.SQLiteDriver{})

	app := fx.New(
		fx.NopLogger,
		fx.Provide(
			func() (*config.Config, error) { return config.Load(*configDir) },
			openDB,
		),
		devbar.FXModule,
		fx.Invoke(func(lc fx.Lifecycle, probe *devbar.Probe, db *sql.DB) {
			registerServer(lc, *addr, probe, db)
		}),
	)
	app.Run()
}

func openDB(lc fx.Lifecycle) (*sql.DB, error) {
	db, err := sql.Open(driverName, "file:devbar-demo?mode=memory&cache=shared")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := seed(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return db.Close() }})
	return db, nil
}

func seed(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS authors (id INTEGER PRIMARY KEY, name TEXT);
		CREATE TABLE IF NOT EXISTS posts (id INTEGER PRIMARY KEY, author_id INTEGER, title TEXT);
		DELETE FROM posts;
		DELETE FROM authors;
		INSERT INTO authors (id, name) VALUES (1, 'Ada'), (2, 'Grace'), (3, 'Linus');
		INSERT INTO posts (author_id, title) VALUES
			(1, 'Notes on the engine'), (2, 'Compilers'), (3, 'Kernels'),
			(1, 'Bernoulli numbers'), (2, 'Debugging'), (3, 'Version control');
	`)
	if err != nil {
		return fmt.Errorf("seed database: %w", err)
	}
	return nil
}

func registerServer(lc fx.Lifecycle, addr string, probe *devbar.Probe, db *sql.DB) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", indexHandler)
	mux.HandleFunc("/posts", postsHandler(db))
	mux.HandleFunc("/duplicates", duplicatesHandler(db))
	mux.HandleFunc("/api/posts", apiPostsHandler(db))
	mux.HandleFunc("/stream", streamHandler)
	mux.HandleFunc("/db-error", dbErrorHandler(db))
	mux.Handle("/metrics", promhttp.Handler())
	probe.Mount(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           probe.Middleware()(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log := logging.GetLogger()

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			log.Info("devbar demo listening",
				zap.String("addr", ln.Addr().String()),
				zap.String("debug_endpoint", probe.Config().DevBar.DebugEndpoint),
			)
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<ul>{{range .Items}}<li>{{.}}</li>{{end}}</ul>
<p><a href="/">home</a></p>
</body>
</html>
`))

type page struct {
	Title string
	Items []string
}

func render(w http.ResponseWriter, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pageTemplate.Execute(w, p); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func indexHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	render(w, page{Title: "devbar demo", Items: []string{
		"/posts: one author lookup per post (N+1)",
		"/duplicates: the same query three times",
		"/api/posts: JSON, never decorated",
		"/stream: flushed response, never decorated",
		"/db-error: failing statement",
		"/metrics: Prometheus",
	}})
}

// postsHandler loads every post, then its author one query at a time.
func postsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		rows, err := db.QueryContext(ctx, "SELECT author_id, title FROM posts ORDER BY id")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		type post struct {
			authorID int
			title    string
		}
		var posts []post
		for rows.Next() {
			var p post
			if err := rows.Scan(&p.authorID, &p.title); err != nil {
				_ = rows.Close()
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			posts = append(posts, p)
		}
		_ = rows.Close()

		items := make([]string, 0, len(posts))
		for _, p := range posts {
			var author string
			if err := db.QueryRowContext(ctx, "SELECT name FROM authors WHERE id = ?", p.authorID).Scan(&author); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			items = append(items, fmt.Sprintf("%s by %s", p.title, author))
		}
		render(w, page{Title: "Posts", Items: items})
	}
}

func duplicatesHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var count int
		for i := 0; i < 3; i++ {
			if err := db.QueryRowContext(r.Context(), "SELECT COUNT(*) FROM posts WHERE author_id = ?", 1).Scan(&count); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		render(w, page{Title: "Duplicates", Items: []string{fmt.Sprintf("Ada wrote %d posts", count)}})
	}
}

func apiPostsHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := db.QueryContext(r.Context(), "SELECT id, title FROM posts ORDER BY id")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer rows.Close()

		type post struct {
			ID    int    `json:"id"`
			Title string `json:"title"`
		}
		posts := []post{}
		for rows.Next() {
			var p post
			if err := rows.Scan(&p.ID, &p.Title); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			posts = append(posts, p)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(posts)
	}
}

func streamHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, "<html><body><ol>")
	rc := http.NewResponseController(w)
	for i := 1; i <= 3; i++ {
		_, _ = fmt.Fprintf(w, "<li>chunk %d</li>", i)
		_ = rc.Flush()
		time.Sleep(100 * time.Millisecond)
	}
	_, _ = fmt.Fprint(w, "</ol></body></html>")
}

func dbErrorHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, err := db.ExecContext(r.Context(), "SELECT * FROM non_existent_table"); err != nil {
			http.Error(w, "database error", http.StatusInternalServerError)
			return
		}
		_, _ = fmt.Fprintln(w, "This should not be reached.")
	}
}
