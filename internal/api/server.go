package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/mailpipe/internal/config"
)

// Server is the HTTP front door of the pipeline.
type Server struct {
	config config.ServerConfig
	router *chi.Mux
	server *http.Server
}

// NewServer builds the router for the given services.
func NewServer(cfg config.ServerConfig, deps Deps) *Server {
	return &Server{config: cfg, router: SetupRoutes(cfg, deps)}
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		// campaign dispatch with ?sync=true runs inside the request
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}
