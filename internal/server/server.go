// Package server exposes the AI pipeline over HTTP: an SSE streaming
// endpoint per usecase, template administration, usage reporting, and
// operational endpoints.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/watchout/haishin-puls-hub-sub001/internal/metrics"
	"github.com/watchout/haishin-puls-hub-sub001/internal/tracing"
)

// Server binds the chi router to the configured address and provides
// graceful shutdown support.
type Server struct {
	router  chi.Router
	handler *Handler
	addr    string
	httpSrv *http.Server
}

// NewServer creates a new Server for the given Handler and listen
// address. Zero-value timeouts leave the corresponding http.Server field
// at its default (no timeout). If tracingEnabled is true, the
// OpenTelemetry HTTP middleware is added to extract/inject trace context.
func NewServer(handler *Handler, addr string, readTimeout, writeTimeout, idleTimeout time.Duration, tracingEnabled bool) *Server {
	r := chi.NewRouter()

	// Standard chi middleware.
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if tracingEnabled {
		r.Use(tracing.HTTPMiddleware)
	}

	r.Post("/v1/ai/{usecase}/stream", handler.HandleStream)

	r.Route("/v1/templates", func(r chi.Router) {
		r.Get("/", handler.HandleListUsecases)
		r.Get("/{usecase}", handler.HandleGetTemplate)
		r.Put("/{usecase}", handler.HandleSaveTemplate)
		r.Get("/{usecase}/versions", handler.HandleListVersions)
		r.Post("/{usecase}/versions/{version}/activate", handler.HandleActivateVersion)
	})

	r.Get("/v1/usage/recent", handler.HandleRecentUsage)
	r.Get("/v1/usage/tenants/{tenant}", handler.HandleTenantUsage)

	r.Get("/health", handler.HandleHealth)
	r.Get("/metrics", metrics.PrometheusHandler(handler.collector))

	srv := &Server{
		router:  r,
		handler: handler,
		addr:    addr,
	}

	srv.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	return srv
}

// Router returns the underlying chi.Router, useful for testing or
// additional route mounting by the caller.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start begins listening for HTTP connections on the configured address.
// It blocks until the server is shut down or encounters a fatal error.
func (s *Server) Start() error {
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
