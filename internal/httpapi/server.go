// Package httpapi is the dashboard's REST surface: a thin routing layer
// over internal/orchestrator and internal/store, grounded on the Python
// original's dashboard/api/routes.py and the teacher's hand-written
// (non-generated) handler style in pkg/kernel/server.go.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/aulebatch/kernel/internal/config"
	"github.com/aulebatch/kernel/internal/orchestrator"
	"github.com/aulebatch/kernel/internal/store"
)

type Server struct {
	st     store.Store
	orch   *orchestrator.Orchestrator
	logger *slog.Logger
	cfg    *config.Config
}

func New(st store.Store, orch *orchestrator.Orchestrator, logger *slog.Logger, cfg *config.Config) *Server {
	return &Server{st: st, orch: orch, logger: logger, cfg: cfg}
}

// Handler builds the full route table wrapped in permissive CORS, the
// way the teacher's cmd/aule-kernel/main.go wraps its own mux.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs", s.handleCreateJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{job_id}/units", s.handleGetJobUnits).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{job_id}/units/{unit_id}", s.handleGetUnit).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{job_id}/units/{unit_id}/kill", s.handleKillUnit).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/units/{unit_id}/restart", s.handleRestartUnit).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/logs", s.handleGetJobLogs).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{job_id}/live", s.handleGetJobLiveActivity).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{job_id}/executor", s.handleGetJobExecutorStatus).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{job_id}/events", s.handleJobEventsSSE).Methods(http.MethodGet)
	api.HandleFunc("/jobs/{job_id}/start", s.handleStartJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/resume", s.handleResumeJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/bypass", s.handleBypassFailures).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/kill", s.handleKillJob).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{job_id}/restart", s.handleRestartJob).Methods(http.MethodPost)
	api.HandleFunc("/workers", s.handleListWorkers).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/openapi.json", s.handleOpenAPISpec).Methods(http.MethodGet)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})

	return corsHandler.Handler(loggingMiddleware(s.logger)(r))
}

func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("http request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
		})
	}
}
