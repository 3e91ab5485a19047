// Package server assembles the chi mux and *http.Server for the gateway,
// adapted from the teacher's apiserver.PureAPIServer: the same
// construct-router-then-wrap-in-http.Server shape, minus the JSON-API
// concerns this gateway doesn't have.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/alchemorsel/gateway/internal/infrastructure/config"
	"github.com/alchemorsel/gateway/internal/infrastructure/http/handlers"
	gwmiddleware "github.com/alchemorsel/gateway/internal/infrastructure/http/middleware"
	"github.com/alchemorsel/gateway/internal/ports/inbound"
	"github.com/alchemorsel/gateway/pkg/healthcheck"
)

// Server wraps the chi mux and the standard library HTTP server.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger
	router *chi.Mux
	http   *http.Server
}

// New constructs a Server wired to the gateway service and health checker.
func New(cfg *config.Config, logger *zap.Logger, gatewaySvc inbound.ObjectGatewayService, health *healthcheck.HealthCheck) *Server {
	s := &Server{cfg: cfg, logger: logger}
	s.router = s.setupRoutes(gatewaySvc, health)
	s.http = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        s.router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		IdleTimeout:    cfg.Server.IdleTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}
	return s
}

func (s *Server) setupRoutes(gatewaySvc inbound.ObjectGatewayService, health *healthcheck.HealthCheck) *chi.Mux {
	r := chi.NewRouter()

	mw := gwmiddleware.New(s.cfg, s.logger)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(mw.RequestID)
	r.Use(mw.Recovery)
	r.Use(mw.Logger)
	r.Use(mw.Security)
	r.Use(mw.RateLimit)
	r.Use(mw.Tracing)

	r.Get(s.cfg.Monitoring.HealthCheckPath, health.Handler())
	r.Get("/livez", health.LivenessHandler())
	r.Get("/readyz", health.ReadinessHandler())

	r.Get("/", handlers.Root(s.cfg.App.Name, s.cfg.App.Version))

	// The object read path is mounted last and matches everything else:
	// no compression, no JSON enforcement — the body is already framed
	// by Content-Length/Range and must reach the client byte-identical.
	objectHandler := handlers.Object(gatewaySvc)
	r.Get("/*", objectHandler)
	r.Head("/*", objectHandler)

	return r
}

// ListenAndServe starts the server; it blocks until Shutdown is called or
// the listener fails.
func (s *Server) ListenAndServe() error {
	s.logger.Info("starting gateway server", zap.String("address", s.http.Addr))
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops accepting new connections and waits for
// in-flight requests to finish, up to ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gateway server")
	return s.http.Shutdown(ctx)
}
