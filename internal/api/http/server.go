// Package http serves the wallet cache admin API over gin.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/api/http/middlewares"
	"github.com/rxrmgg2srb-code/DegenScore-Card-sub002/internal/platform/observability"
)

// ServerConfig holds listener settings
type ServerConfig struct {
	Port            int
	Mode            string // gin mode
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// Controller registers its routes on the router
type Controller interface {
	RegisterRoutes(r *gin.Engine)
}

// Server is the admin API server
type Server struct {
	cfg         ServerConfig
	logger      *observability.Logger
	metrics     *observability.Metrics
	controllers []Controller
	srv         *http.Server
}

// NewServer creates a server. Controllers are added with AddController.
func NewServer(cfg ServerConfig, logger *observability.Logger, metrics *observability.Metrics) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{cfg: cfg, logger: logger, metrics: metrics}
}

// AddController adds one or more controllers
func (s *Server) AddController(c ...Controller) {
	s.controllers = append(s.controllers, c...)
}

// Router builds the gin engine with middleware and all controller routes
func (s *Server) Router() *gin.Engine {
	if s.cfg.Mode != "" {
		gin.SetMode(s.cfg.Mode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: s.cfg.CORSOrigins,
			AllowMethods: []string{"GET", "PUT", "POST", "DELETE", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		}))
	}
	r.Use(middlewares.RequestLogger(s.logger))
	r.Use(middlewares.RequestMetrics(s.metrics))

	for _, c := range s.controllers {
		c.RegisterRoutes(r)
	}
	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Router(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.LogInfo(ctx, "http server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
