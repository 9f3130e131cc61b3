package metrics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// healthHandler reports liveness for process supervisors.
func (m *Metrics) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	healthData := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime_s":  int64(time.Since(m.started).Seconds()),
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}

func writeJSONResponse(w http.ResponseWriter, statusCode int, response any) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Metrics.writeJSONResponse: failed to marshal JSON response", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(jsonData); err != nil {
		slog.Error("Metrics.writeJSONResponse: failed to write JSON response", "error", err)
	}
}
