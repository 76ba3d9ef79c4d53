package http_reporter

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/fllarpy/devbar/domain"
	"github.com/fllarpy/devbar/internal/logging"
)

// NewHandler creates an HTTP handler that serves the summary of store as
// JSON. Runtime figures are refreshed on every call.
func NewHandler(store domain.StoreReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		store.UpdateRuntime()
		data, err := json.Marshal(store.GetSummary())
		if err != nil {
			logging.WithContext(r.Context()).Error("devbar: encode summary", zap.Error(err))
			http.Error(w, "Failed to encode metrics to JSON", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(data)
	})
}
