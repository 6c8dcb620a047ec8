// Package api serves the query facade over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lpsugar/internal/metrics"
	"lpsugar/internal/sugar"
)

// Config controls the HTTP surface.
type Config struct {
	Listen string
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit      float64
	RateBurst      int
	RequestTimeout time.Duration
}

// Server wires the gin router to a Sugar instance.
type Server struct {
	cfg     Config
	sugar   *sugar.Sugar
	metrics *metrics.Metrics
	logger  *zap.Logger
	router  *gin.Engine
	server  *http.Server
}

// NewServer builds the router. m may be nil, in which case /metrics is not
// mounted and no request metrics are recorded.
func NewServer(cfg Config, s *sugar.Sugar, m *metrics.Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	srv := &Server{
		cfg:     cfg,
		sugar:   s,
		metrics: m,
		logger:  logger,
		router:  router,
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	srv.server = &http.Server{
		Addr:              cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	return srv
}

func (s *Server) setupMiddleware() {
	s.router.Use(requestID())
	s.router.Use(accessLog(s.logger, s.metrics))
	if s.cfg.RateLimit > 0 {
		s.router.Use(rateLimit(newClientLimiters(s.cfg.RateLimit, s.cfg.RateBurst)))
	}
	if s.cfg.RequestTimeout > 0 {
		s.router.Use(func(c *gin.Context) {
			ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
			defer cancel()

			c.Request = c.Request.WithContext(ctx)
			c.Next()
		})
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.router.Group("/v1")
	{
		v1.GET("/deployment", s.handleDeployment)
		v1.GET("/swaps", s.handleSwaps)
		v1.GET("/tokens", s.handleTokens)
		v1.GET("/epochs/latest", s.handleEpochsLatest)

		pools := v1.Group("/pools")
		{
			pools.GET("", s.handlePools)
			pools.GET("/:index", s.handlePool)
			pools.GET("/by-address/:address/epochs", s.handleEpochsByAddress)
		}
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Stop is called. Once Stop has been called, Start
// returns immediately.
func (s *Server) Start() error {
	s.logger.Info("api server start", zap.String("listen", s.cfg.Listen))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// Stop drains in-flight requests until ctx expires.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("api server stop")
	return s.server.Shutdown(ctx)
}
