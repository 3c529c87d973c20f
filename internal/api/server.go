// Package api exposes the orchestrator's operation surface over HTTP:
// a gin.Engine with optional CORS and a uniform Response envelope,
// routed to create/get/search/retrieval/consolidation operations.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synapsed/synapsed/internal/embedding"
	"github.com/synapsed/synapsed/internal/logging"
	"github.com/synapsed/synapsed/internal/orchestrator"
	"github.com/synapsed/synapsed/pkg/config"
)

// Server is the REST API server fronting an Orchestrator.
type Server struct {
	router       *gin.Engine
	orchestrator *orchestrator.Orchestrator
	embedder     embedding.Provider
	cfg          *config.Config
	httpServer   *http.Server
	log          *logging.Logger
}

// NewServer creates a REST API server wired to orch. embedder fills in an
// embedding for create/search requests that supply text but no vector;
// it may be nil, in which case callers must always supply their own
// embedding.
func NewServer(orch *orchestrator.Orchestrator, embedder embedding.Provider, cfg *config.Config) *Server {
	log := logging.GetLogger("api")
	log.Info("initializing REST API server")

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	if cfg.RestAPI.CORS {
		log.Debug("enabling CORS")
		router.Use(cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowHeaders:    []string{"Origin", "Content-Type", "Accept"},
			ExposeHeaders:   []string{"Content-Length"},
			MaxAge:          12 * time.Hour,
		}))
	}

	router.Use(MaxBodySizeMiddleware(DefaultBodyLimit))

	s := &Server{
		router:       router,
		orchestrator: orch,
		embedder:     embedder,
		cfg:          cfg,
		log:          log,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures every route under /api/v1, plus a top-level
// /metrics endpoint for Prometheus scraping.
func (s *Server) setupRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/health", s.health)
		v1.GET("/stats", s.statistics)

		v1.POST("/memories", s.createMemory)
		v1.GET("/memories/:id", s.getMemory)
		v1.PUT("/memories/:id", s.updateMemory)
		v1.DELETE("/memories/:id", s.deleteMemory)
		v1.POST("/memories/search", s.searchMemories)
		v1.POST("/memories/:id/retrieval", s.recordRetrieval)

		v1.POST("/consolidation/trigger", s.triggerConsolidation)
	}
}

// Router returns the underlying Gin engine, for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Start starts the HTTP server and blocks until it stops or errors.
func (s *Server) Start() error {
	addr := s.addr()
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	s.log.Info("starting REST API server", "address", addr)
	return s.httpServer.ListenAndServe()
}

// StartWithContext starts the server and blocks until ctx is cancelled or
// the server errors, shutting down gracefully within shutdownTimeout.
func (s *Server) StartWithContext(ctx context.Context, shutdownTimeout time.Duration) error {
	addr := s.addr()
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting REST API server", "address", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.Stop(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	s.log.Info("stopping REST API server")
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Error("server shutdown error", "error", err)
		return err
	}
	s.log.Info("REST API server stopped")
	return nil
}

func (s *Server) addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.RestAPI.Host, s.cfg.RestAPI.Port)
}
