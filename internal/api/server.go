package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dyluth/agora/internal/config"
	"github.com/dyluth/agora/internal/service"
	"github.com/dyluth/agora/pkg/fault"
)

// maxBodyBytes caps a tool call's argument payload.
const maxBodyBytes = 1 << 20

// Server serves the tool surface and health checks.
type Server struct {
	svc    *service.Service
	tools  *Dispatcher
	cfg    config.ServerConfig
	logger *slog.Logger
	server *http.Server
}

// NewServer creates a Server. Call Start or use Handler directly.
func NewServer(svc *service.Service, cfg config.ServerConfig, logger *slog.Logger) *Server {
	return &Server{
		svc:    svc,
		tools:  NewDispatcher(svc),
		cfg:    cfg,
		logger: logger,
	}
}

// Handler returns the routed, rate-limited HTTP handler. ctx bounds the limiter's
// background cleanup.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthCheckHandler)
	mux.HandleFunc("GET /v1/tools", s.listToolsHandler)
	mux.HandleFunc("POST /v1/tools/{name}", s.callToolHandler)

	var h http.Handler = mux
	if s.cfg.RequestsPerMin > 0 {
		h = RateLimit(ctx, s.cfg.RequestsPerMin, s.cfg.Burst)(h)
	}
	return h
}

// Start serves on the configured address in the background.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Handler(ctx),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "addr", s.cfg.Addr, "error", err)
		}
	}()
	s.logger.Info("http server listening", "addr", s.cfg.Addr)
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// HealthResponse is the JSON body of /healthz.
type HealthResponse struct {
	Status   string            `json:"status"`
	Store    string            `json:"store,omitempty"`
	Breakers map[string]string `json:"breakers,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// healthCheckHandler returns 200 when the store answers, 503 otherwise.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:   "healthy",
		Store:    "connected",
		Breakers: s.svc.BreakerStates(),
	}
	status := http.StatusOK
	if err := s.svc.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.Store = "disconnected"
		response.Error = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func (s *Server) listToolsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tools": s.tools.Names()})
}

func (s *Server) callToolHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, name, fault.Invalid(name, err))
		return
	}

	result, err := s.tools.Call(r.Context(), name, body)
	if err != nil {
		s.writeError(w, name, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, tool string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("tool call failed", "tool", tool, "error", err)
	} else {
		s.logger.Debug("tool call rejected", "tool", tool, "error", err)
	}
	writeJSON(w, status, map[string]errorBody{
		"error": {Code: fault.Code(err), Message: err.Error()},
	})
}

// StatusFor maps an error category to an HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, fault.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fault.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, fault.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, fault.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, fault.ErrRetryable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
