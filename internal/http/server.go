// Package http provides the HTTP server and API surface for clipdock.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/clipdock/clipdock/internal/auth"
	"github.com/clipdock/clipdock/internal/config"
	"github.com/clipdock/clipdock/internal/http/middleware"
)

// Server wires the chi router, the typed API layer and the HTTP listener.
type Server struct {
	config     config.ServerConfig
	router     *chi.Mux
	api        huma.API
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new HTTP server with the standard middleware chain.
// The verifier guards every route: requests with bad credentials are
// rejected up front, requests with none reach handlers without a principal
// and are refused there. The version parameter is used in the OpenAPI spec
// and should match the build version.
func NewServer(cfg *config.Config, verifier auth.Verifier, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}

	router := chi.NewRouter()

	router.Use(chimiddleware.RealIP)
	router.Use(middleware.RequestID)
	router.Use(middleware.NewLoggingMiddleware(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORSWithConfig(corsConfig(cfg)))
	router.Use(middleware.Authenticate(verifier, cfg.Auth.TenantHeader, logger))

	// Range responses and WebSocket upgrades must not pass through the
	// compressor: it rewrites Content-Length and buffers the body.
	router.Use(middleware.SkipCompressionForStreams(chimiddleware.Compress(5)))

	humaConfig := huma.DefaultConfig("clipdock API", version)
	humaConfig.Info.Description = "Multi-tenant video ingestion, processing and delivery API"

	api := humachi.New(router, humaConfig)

	return &Server{
		config: cfg.Server,
		router: router,
		api:    api,
		logger: logger,
	}
}

// corsConfig builds the CORS policy from server configuration. The tenant
// header must be allowed or browser clients cannot authenticate in dev mode.
func corsConfig(cfg *config.Config) middleware.CORSConfig {
	corsCfg := middleware.DefaultCORSConfig()
	if len(cfg.Server.CORSOrigins) > 0 {
		corsCfg.AllowedOrigins = cfg.Server.CORSOrigins
	}
	if h := cfg.Auth.TenantHeader; h != "" && !containsFold(corsCfg.AllowedHeaders, h) {
		corsCfg.AllowedHeaders = append(corsCfg.AllowedHeaders, h)
	}
	return corsCfg
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if http.CanonicalHeaderKey(s) == http.CanonicalHeaderKey(needle) {
			return true
		}
	}
	return false
}

// API returns the Huma API instance for registering operations.
func (s *Server) API() huma.API {
	return s.api
}

// Router returns the chi router for registering raw routes.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	// No global read or write timeouts: uploads and range streams of
	// multi-gigabyte files outlive any reasonable fixed value.
	s.httpServer = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP server",
		slog.String("address", s.config.Listen),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("starting server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("shutting down HTTP server",
		slog.Duration("timeout", s.config.ShutdownTimeout),
	)

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// ListenAndServe starts the server and handles graceful shutdown.
// It blocks until the server is shut down.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errChan := make(chan error, 1)
	go func() {
		errChan <- s.Start()
	}()

	select {
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}
