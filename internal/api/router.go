// Package api serves the widget protocol over HTTP/JSON.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ruslano69/tdtp-explorer/internal/session"
	"github.com/ruslano69/tdtp-explorer/pkg/metadata"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators of the router.
type Deps struct {
	Sessions      *session.Registry
	Meta          *metadata.Metadata
	Redis         Pinger // may be nil
	ExportMaxRows int64
	Timeout       time.Duration // per request; default 30s
	Logger        zerolog.Logger
}

// NewRouter wires all dependencies and returns the chi router.
func NewRouter(d Deps) http.Handler {
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(zerologMiddleware(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(d.Timeout))
	r.Use(gzipMiddleware)

	h := &sessionsHandler{
		sessions: d.Sessions,
		maxRows:  d.ExportMaxRows,
		logger:   d.Logger,
	}

	r.Get("/healthz", handleHealthz)
	r.Get("/readyz", handleReadyz(d.Redis))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/metadata", handleMetadata(d.Meta))

	r.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
			r.Post("/state", h.State)
			r.Get("/export.xlsx", h.Export)
		})
	})

	return r
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz pings Redis, when configured, to confirm the service is ready.
func handleReadyz(redis Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{"redis": "disabled"}
		status := http.StatusOK
		if redis != nil {
			checks["redis"] = "ok"
			if err := redis.Ping(r.Context()); err != nil {
				checks["redis"] = err.Error()
				status = http.StatusServiceUnavailable
			}
		}
		writeJSON(w, status, checks)
	}
}

func handleMetadata(meta *metadata.Metadata) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, meta)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
