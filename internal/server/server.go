// Package server exposes the controller's REST API and the module
// WebSocket bridge.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/picklereef/pi-touch/internal/config"
	"github.com/picklereef/pi-touch/internal/discovery"
	"github.com/picklereef/pi-touch/internal/hub"
	"github.com/picklereef/pi-touch/internal/store"
	"github.com/picklereef/pi-touch/internal/wstrace"
	"github.com/picklereef/pi-touch/pkg/version"
)

// Server runs the HTTP API, the module bridge, and mDNS discovery.
type Server struct {
	cfg     config.Config
	store   *store.Store
	manager *hub.Manager
	service *hub.Service
	trace   *wstrace.Trace
	log     zerolog.Logger

	router    *gin.Engine
	httpSrv   *http.Server
	mdnsSrv   *discovery.Server
	startTime time.Time
}

// New creates a server wired to the given store.
func New(cfg config.Config, st *store.Store, log zerolog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   st,
		manager: hub.NewManager(),
		service: hub.NewService(st, log),
		trace:   wstrace.New(cfg.WSTrace),
		log:     log.With().Str("component", "server").Logger(),
	}
	s.initRouter()
	return s
}

// Router returns the HTTP handler, used directly by tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP server and mDNS advertisement and blocks until the
// context is cancelled or a server error occurs.
func (s *Server) Run(ctx context.Context) error {
	s.startTime = time.Now()

	s.httpSrv = &http.Server{
		Addr:         s.cfg.APIAddr(),
		Handler:      s.router,
		ReadTimeout:  0, // WebSocket connections are long-lived
		WriteTimeout: 0,
		IdleTimeout:  2 * time.Minute,
	}

	s.mdnsSrv = discovery.NewServer(discovery.ServiceInfo{
		ID:      discovery.Hostname(),
		Name:    "Pickle Reef Controller",
		Version: version.Version,
		Port:    s.cfg.APIPort,
	})

	errCh := make(chan error, 2)

	go func() {
		if err := s.mdnsSrv.Start(); err != nil {
			// Discovery is a convenience, not a requirement.
			s.log.Warn().Err(err).Msg("mDNS advertisement unavailable")
			return
		}
		s.log.Info().Str("service", discovery.ServiceName).Msg("mDNS service registered")
	}()

	go func() {
		s.log.Info().Str("addr", s.httpSrv.Addr).Msg("API listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		s.shutdown()
		return err
	}
}

// shutdown gracefully stops all services.
func (s *Server) shutdown() error {
	var errs []error

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
		}
	}

	if s.mdnsSrv != nil {
		if err := s.mdnsSrv.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("mDNS shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}
