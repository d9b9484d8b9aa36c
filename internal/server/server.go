// Package server is the thin HTTP surface. Handlers parse and delegate;
// behavior lives in the services.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/belticlabs/alternate-ocr/internal/common"
	"github.com/belticlabs/alternate-ocr/internal/export"
	"github.com/belticlabs/alternate-ocr/internal/runs"
	"github.com/belticlabs/alternate-ocr/internal/templates"
)

// Server wires the HTTP routes to the services.
type Server struct {
	runs      *runs.Service
	templates *templates.Service
	export    *export.Service
	cfg       common.RunConfig
	log       *slog.Logger
}

func New(
	runsSvc *runs.Service,
	templatesSvc *templates.Service,
	exportSvc *export.Service,
	cfg common.RunConfig,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		runs:      runsSvc,
		templates: templatesSvc,
		export:    exportSvc,
		cfg:       cfg,
		log:       logger,
	}
}

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/runs", s.handleCreateRun)
	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/runs/{id}", s.handleGetRun)
	mux.HandleFunc("GET /api/runs/{id}/detail", s.handleGetRunDetail)
	mux.HandleFunc("DELETE /api/runs/{id}", s.handleDeleteRun)
	mux.HandleFunc("GET /api/runs/{id}/export", s.handleExportRun)
	mux.HandleFunc("GET /api/runs/{id}/document", s.handleGetRunDocument)

	mux.HandleFunc("POST /api/templates", s.handleUpsertTemplate)
	mux.HandleFunc("PUT /api/templates/{id}", s.handleUpsertTemplate)
	mux.HandleFunc("GET /api/templates", s.handleListTemplates)
	mux.HandleFunc("GET /api/templates/{id}", s.handleGetTemplate)
	mux.HandleFunc("DELETE /api/templates/{id}", s.handleDeactivateTemplate)
	mux.HandleFunc("POST /api/templates/draft", s.handleDraftTemplate)

	return s.withRecovery(s.withRequestLog(mux))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// withRequestLog tags each request with an id and logs one line on completion.
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := uuid.New().String()
		ctx := common.WithRequestID(r.Context(), reqID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r.WithContext(ctx))

		s.log.Info("http.request",
			"req_id", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) withRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.log.Error("http.panic", "path", r.URL.Path, "panic", rec)
				s.writeJSON(w, http.StatusInternalServerError,
					map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("http.encode_error", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := common.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Internal detail stays in the logs.
		msg = "internal server error"
	}
	s.writeJSON(w, status, map[string]string{"error": msg})
}
