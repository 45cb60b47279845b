package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/auth"
	"github.com/hakoniwalab/hakoniwa-mujoco-robots/internal/config"
)

// Services are the collaborators behind the endpoints. Cameras, Gamepad
// and Telemetry may be nil; their endpoints then answer UNAVAILABLE.
type Services struct {
	Motion    MotionPort
	Missions  MissionPort
	Gamepad   GamepadPort
	Cameras   CameraPort
	Telemetry TelemetryPort
}

// Server represents the HTTP API server.
type Server struct {
	httpServer     *http.Server
	services       Services
	authMiddleware *auth.Middleware
	cfg            config.APIConfig
	logger         *logrus.Entry
	startTime      time.Time
}

// NewServer creates a new API server. A nil authMiddleware serves every
// endpoint without authentication.
func NewServer(services Services, authMiddleware *auth.Middleware, cfg config.APIConfig, logger *logrus.Logger) *Server {
	if authMiddleware == nil {
		authMiddleware = auth.NewMiddleware(nil, logger)
	}
	return &Server{
		services:       services,
		authMiddleware: authMiddleware,
		cfg:            cfg,
		logger:         logger.WithField("component", "api"),
		startTime:      time.Now(),
	}
}

// Handler builds the gin engine.
func (s *Server) Handler() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.New(s.corsConfig()))
	}
	s.RegisterRoutes(r)
	return r
}

// Start serves until Stop is called.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadTimeout,
	}

	s.logger.WithField("addr", addr).Info("HTTP API listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("Request served")
	}
}

// corsConfig allows every origin when "*" is listed; credentials are only
// allowed with explicit origins.
func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", "Authorization", "Last-Event-ID"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if containsWildcard(s.cfg.CORSOrigins) {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.cfg.CORSOrigins
		cfg.AllowCredentials = true
	}
	return cfg
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}
