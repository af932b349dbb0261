// Package server provides the HTTP server for the lookup API.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/whoswhip/anilyzer/internal/apierrors"
	"github.com/whoswhip/anilyzer/internal/config"
	"github.com/whoswhip/anilyzer/internal/handler"
	"github.com/whoswhip/anilyzer/internal/metrics"
	"github.com/whoswhip/anilyzer/internal/middleware"
	"go.uber.org/zap"
)

// Server represents the lookup HTTP server.
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *handler.Handlers
	errorHandler *apierrors.Handler
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a new HTTP server.
func NewServer(cfg *config.Config, handlers *handler.Handlers, errorHandler *apierrors.Handler, m *metrics.Metrics, logger *zap.Logger) *Server {
	router := mux.NewRouter()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	s := &Server{
		router:       router,
		httpServer:   httpServer,
		handlers:     handlers,
		errorHandler: errorHandler,
		logger:       logger,
		cfg:          cfg,
	}
	s.setupRoutes(m)

	return s
}

// setupRoutes configures middleware and routes.
func (s *Server) setupRoutes(m *metrics.Metrics) {
	chain := middleware.Chain(
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
		metrics.Middleware(m),
	)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	s.router.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handlers.Ready).Methods(http.MethodGet)

	s.router.HandleFunc("/lookup", s.handlers.LookupGET).Methods(http.MethodGet)
	s.router.HandleFunc("/lookup", s.handlers.LookupPOST).Methods(http.MethodPost)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		s.errorHandler.WriteErrorResponse(w, http.StatusNotFound, apierrors.ErrorCodeInvalidRequest, "endpoint not found", requestID)
	})

	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		s.errorHandler.WriteErrorResponse(w, http.StatusMethodNotAllowed, apierrors.ErrorCodeInvalidRequest, "method not allowed", requestID)
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.Int("port", s.cfg.Server.Port))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler {
	return s.router
}
