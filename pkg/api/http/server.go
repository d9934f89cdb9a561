package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aescanero/newsroom/internal/application/orchestrator"
	"github.com/aescanero/newsroom/pkg/domain"
	"github.com/aescanero/newsroom/pkg/protocol"
)

// Stories is the orchestrator surface the API drives.
type Stories interface {
	Start(ctx context.Context, pitch domain.StoryPitch, opts ...orchestrator.StartOption) (*domain.Instance, error)
	Get(ctx context.Context, id domain.StoryID) (*domain.Instance, error)
	List(ctx context.Context) ([]*domain.Instance, error)
	Signal(ctx context.Context, id domain.StoryID, name string, approval domain.Approval) error
	Retry(ctx context.Context, id domain.StoryID) (*domain.Instance, error)
}

// HealthCheck reports the state of one dependency.
type HealthCheck func(ctx context.Context) error

// Server represents the HTTP API server
type Server struct {
	router  *gin.Engine
	server  *http.Server
	stories Stories
	intake  protocol.Publisher
	checks  map[string]HealthCheck
	logger  *zap.Logger
}

// Config holds HTTP server configuration
type Config struct {
	Port int
	// Stories is nil when the service runs choreographed.
	Stories Stories
	// Intake publishes accepted pitches to the bus. Without it pitches are
	// started directly.
	Intake   protocol.Publisher
	Gatherer prometheus.Gatherer
	Checks   map[string]HealthCheck
	APIToken string
	Logger   *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(cfg.Logger))
	router.Use(corsMiddleware())

	s := &Server{
		router:  router,
		stories: cfg.Stories,
		intake:  cfg.Intake,
		checks:  cfg.Checks,
		logger:  cfg.Logger,
	}

	s.setupRoutes(cfg)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// setupRoutes configures API routes
func (s *Server) setupRoutes(cfg *Config) {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// Metrics
	metrics := promhttp.Handler()
	if cfg.Gatherer != nil {
		metrics = promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})
	}
	s.router.GET("/metrics", gin.WrapH(metrics))

	// API v1
	v1 := s.router.Group("/api/v1", AuthMiddleware(cfg.APIToken))
	{
		v1.POST("/pitches", s.handleSubmitPitch)

		v1.POST("/stories", s.handleStartStory)
		v1.GET("/stories", s.handleListStories)
		v1.GET("/stories/:id", s.handleGetStory)
		v1.POST("/stories/:id/approval", s.handleApproval)
		v1.POST("/stories/:id/retry", s.handleRetry)
	}
}

// SetupWebSocket adds WebSocket handler to the server
func (s *Server) SetupWebSocket(handler interface{}) {
	if wsHandler, ok := handler.(interface {
		HandleStoryStream(*gin.Context)
	}); ok {
		s.router.GET("/api/v1/stories/:id/ws", wsHandler.HandleStoryStream)
	}
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.logger.Info("HTTP server shut down complete")
	return nil
}

// requestLogger is a middleware for request logging
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		duration := time.Since(start)

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", duration),
			zap.String("client_ip", c.ClientIP()))
	}
}
