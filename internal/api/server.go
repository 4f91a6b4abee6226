package api

import (
	"context"
	"net/http"
	"time"

	"example.com/cityevents/services/ingestion/config"
	"example.com/cityevents/services/ingestion/internal/api/handlers"
	"example.com/cityevents/services/ingestion/internal/metrics"
	"example.com/cityevents/services/ingestion/internal/pipeline"
	"example.com/cityevents/services/ingestion/internal/runs"
	"example.com/cityevents/services/ingestion/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Server represents the HTTP server
type Server struct {
	config       config.Config
	router       *gin.Engine
	httpServer   *http.Server
	orchestrator *pipeline.Orchestrator
	runs         *runs.Repository
	metrics      *metrics.Metrics
	tracer       tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.Config,
	orchestrator *pipeline.Orchestrator,
	runRepo *runs.Repository,
	m *metrics.Metrics,
	tracer tracing.Tracer,
) *Server {
	server := &Server{
		config:       cfg,
		orchestrator: orchestrator,
		runs:         runRepo,
		metrics:      m,
		tracer:       tracer,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:    cfg.ServerAddress,
		Handler: server.router,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	router := gin.Default()

	router.Use(gin.Recovery())

	ingestHandler := handlers.NewIngestHandler(s.orchestrator, s.runs, s.tracer)
	ingestHandler.RegisterRoutes(router)

	metricsHandler := handlers.NewMetricsHandler(s.metrics)
	metricsHandler.RegisterRoutes(router)

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
