// Package api exposes the ingestion pipeline and analytics engine over
// HTTP. Read endpoints degrade to empty, zero-valued structures on an
// empty store so dashboards render cleanly on first run.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/robometrics/robometrics/pkg/analytics"
	"github.com/robometrics/robometrics/pkg/config"
	"github.com/robometrics/robometrics/pkg/ingest"
	"github.com/robometrics/robometrics/pkg/runindex"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.ServerConfig
	service    *ingest.Service
	engine     *analytics.Engine
	index      runindex.Store
	resultsDir string
	httpServer *http.Server
	limiter    *rateLimiterMap
	wg         sync.WaitGroup
}

// Option configures the server.
type Option func(*server)

// WithIndex lets list/status endpoints read the database index instead
// of scanning the file store.
func WithIndex(idx runindex.Store) Option {
	return func(s *server) {
		s.index = idx
	}
}

// WithResultsDir points the force-parse endpoint at a results directory.
func WithResultsDir(dir string) Option {
	return func(s *server) {
		s.resultsDir = dir
	}
}

// NewServer creates a new API server over the ingest service and
// analytics engine.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.ServerConfig,
	service *ingest.Service,
	engine *analytics.Engine,
	opts ...Option,
) Server {
	s := &server{
		log:     log.WithField("component", "api"),
		cfg:     cfg,
		service: service,
		engine:  engine,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start binds the listener and serves requests until Stop.
func (s *server) Start(ctx context.Context) error {
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Listen).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	if s.limiter != nil {
		s.limiter.stop()
	}

	s.wg.Wait()

	s.log.Info("API server stopped")

	return nil
}
