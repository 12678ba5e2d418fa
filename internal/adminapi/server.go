// Package adminapi is the operator-facing HTTP surface: health and
// readiness probes, the effective configuration, and
// admin-script triggers. It is surface, not a dashboard — every
// response is JSON, there is no HTML.
package adminapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/fdominguez1972/thumper-counter-sub002/internal/admin"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/config"
	"github.com/fdominguez1972/thumper-counter-sub002/internal/logging"
)

// Server wires the health, config, metrics and admin-job endpoints onto
// one chi.Router.
type Server struct {
	DB     *sqlx.DB
	Config *config.LiveConfig
	Jobs   *admin.Jobs
	Logger *logrus.Logger
}

// Router builds the http.Handler; callers wrap it with http.Server.
// Every documented endpoint is validated against the embedded OpenAPI
// contract (internal/adminapi/openapi.yaml) before it reaches its
// handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST"},
		AllowedHeaders: []string{"Content-Type"},
	}))
	r.Use(s.validateAgainstSpec(loadSpecRouter()))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/admin/config", s.handleConfig)
	r.Post("/admin/backfill", s.handleBackfill)
	r.Post("/admin/reembed", s.handleReembed)
	r.Post("/admin/reassign", s.handleReassign)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// handleHealthz reports process liveness only: the server can answer
// HTTP requests. It never touches the database.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz additionally checks the database connection, per
// the "backpressure" concern: a pod that cannot reach
// Postgres should fail readiness and stop receiving new work.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := s.DB.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Config.Get())
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	s.runJob(w, r, "backfill", func(ctx context.Context) (int, error) {
		return s.Jobs.Backfill(ctx)
	})
}

func (s *Server) handleReassign(w http.ResponseWriter, r *http.Request) {
	s.runJob(w, r, "reassign", func(ctx context.Context) (int, error) {
		return s.Jobs.Reassign(ctx)
	})
}

func (s *Server) handleReembed(w http.ResponseWriter, r *http.Request) {
	version := r.URL.Query().Get("version")
	if version == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "version query parameter is required"})
		return
	}
	s.runJob(w, r, "reembed", func(ctx context.Context) (int, error) {
		return s.Jobs.Reembed(ctx, version)
	})
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request, name string, job func(context.Context) (int, error)) {
	n, err := job(r.Context())
	if err != nil {
		s.Logger.WithFields(logging.NewFields().Component("adminapi").Operation(name).Error(err).Logrus()).
			Error("admin job failed")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": n})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
