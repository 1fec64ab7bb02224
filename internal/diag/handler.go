package diag

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Snapshot produces the current diagnostics value to serve.
type Snapshot func() any

// Handler serves the snapshot as indented JSON. It is mounted by the
// embedding application at its diagnostics path.
func Handler(snapshot Snapshot, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "application/json")

		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(snapshot()); err != nil {
			logger.Warn("diagnostics encode failed", "error", err)
		}
	})
}
