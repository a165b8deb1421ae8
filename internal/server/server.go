package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/allaspectsdev/scoutman/internal/tracing"
)

// Options configures the HTTP server around a Handler.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// AuthToken enables bearer-token auth on the /v1 routes when set.
	AuthToken string
	// AuthTokenFunc, when set, replaces AuthToken with a per-request lookup.
	AuthTokenFunc func() string
	Tracing       bool
}

// Server is the scoutman HTTP API. It binds the chi router to the
// configured address and provides graceful shutdown support.
type Server struct {
	router  chi.Router
	handler *Handler
	httpSrv *http.Server
}

// New creates a Server. Zero-value timeouts leave the corresponding
// http.Server field at its default (no timeout).
func New(handler *Handler, opts Options) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if opts.Tracing {
		r.Use(tracing.HTTPMiddleware)
	}

	r.Get("/health", handler.HandleHealth)

	auth := AuthMiddleware(opts.AuthToken)
	if opts.AuthTokenFunc != nil {
		auth = AuthMiddlewareFunc(opts.AuthTokenFunc)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth)
		r.Post("/generate", handler.HandleGenerate)
		r.Post("/search", handler.HandleSearch)
		r.Get("/providers", handler.HandleProviders)
		r.Post("/providers/{kind}/{name}/reset", handler.HandleReset)
	})

	return &Server{
		router:  r,
		handler: handler,
		httpSrv: &http.Server{
			Addr:         opts.Addr,
			Handler:      r,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
			IdleTimeout:  opts.IdleTimeout,
		},
	}
}

// Router returns the underlying chi.Router.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start begins listening for HTTP connections. It blocks until the server
// is shut down or encounters a fatal error.
func (s *Server) Start() error {
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
