package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/rickgao/livestatus/internal/connection"
	"github.com/rickgao/livestatus/internal/progress"
	"github.com/rickgao/livestatus/internal/recorder"
)

// pinger is satisfied by *pgxpool.Pool.
type pinger interface {
	Ping(ctx context.Context) error
}

// statser reports live connection state.
type statser interface {
	Stats() connection.ManagerStats
}

// newHealthHandler creates the HTTP handler for health checks.
// rec and db may be nil when persistence is disabled.
func newHealthHandler(mgr statser, tracker *progress.Tracker, rec *recorder.Recorder, db pinger) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		ms := mgr.Stats()
		health.Components["live"] = map[string]any{
			"state":    ms.State.String(),
			"attempts": ms.Attempts,
			"messages": ms.MessagesReceived,
		}
		switch ms.State {
		case connection.StateConnected:
		case connection.StateConnecting:
			health.Status = "degraded"
		default:
			health.Status = "unhealthy"
		}

		if db != nil {
			if err := db.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["postgres"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["postgres"] = "connected"
			}
		}

		if rec != nil {
			rs := rec.Stats()
			health.Components["recorder"] = map[string]any{
				"inserts":   rs.Inserts,
				"conflicts": rs.Conflicts,
				"errors":    rs.Errors,
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	}).Methods(http.MethodGet)

	router.HandleFunc("/debug/sync", func(w http.ResponseWriter, r *http.Request) {
		snap := tracker.Snapshot()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"percent": snap.Percent,
			"running": snap.Running,
			"tasks":   snap.Tasks,
		})
	}).Methods(http.MethodGet)

	router.HandleFunc("/debug/sync/{taskId}", func(w http.ResponseWriter, r *http.Request) {
		task, ok := tracker.Task(mux.Vars(r)["taskId"])
		if !ok {
			http.Error(w, "unknown task", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(task)
	}).Methods(http.MethodGet)

	return router
}
