// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package daemon

import (
	"encoding/json"
	"net/http"

	"github.com/ManuGH/aircheck/internal/engine"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusSource exposes the recorder's show table to the status API.
type StatusSource interface {
	Snapshot() []engine.ShowStatus
}

// NewRouter builds the status server's HTTP routes: health endpoints,
// Prometheus metrics and a read-only view of the tracked shows.
func NewRouter(status StatusSource) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/api/v1/shows", func(w http.ResponseWriter, _ *http.Request) {
		shows := status.Snapshot()
		if shows == nil {
			shows = []engine.ShowStatus{}
		}
		writeJSON(w, http.StatusOK, shows)
	})

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
