// Package http provides HTTP server adapter for the application layer.
// This is a thin adapter layer that translates HTTP requests to application service calls.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/garyjia/fleet-requests/internal/application/service"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// SocketServer upgrades a request into a live notification socket for userID
type SocketServer interface {
	Serve(w http.ResponseWriter, r *http.Request, userID string) error
}

// Services are the application services exposed over HTTP
type Services struct {
	Requests      map[workflow.Kind]service.RequestService
	Assignments   service.AssignmentService
	Trips         service.TripService
	Notifications service.NotificationService

	// Optional
	Sockets           SocketServer
	MetricsHandler    http.Handler
	MetricsMiddleware gin.HandlerFunc
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	services   Services
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, services Services, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	server := &Server{
		config:   config,
		router:   router,
		services: services,
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
	s.router.Use(corsMiddleware())
	if s.services.MetricsMiddleware != nil {
		s.router.Use(s.services.MetricsMiddleware)
	}
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
			"actor_id", c.GetString(actorKey),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := NewHandlers(s.services, s.logger)

	s.router.GET("/health", h.HealthCheck)
	if s.services.MetricsHandler != nil {
		s.router.GET("/metrics", gin.WrapH(s.services.MetricsHandler))
	}
	if s.services.Sockets != nil {
		s.router.GET("/ws", h.OpenSocket)
	}

	api := s.router.Group("/api", requireActor())
	{
		requests := api.Group("/requests/:kind")
		requests.POST("", h.CreateRequest)
		requests.GET("", h.ListRequests)
		requests.GET("/:id", h.GetRequest)
		requests.GET("/:id/history", h.GetHistory)
		requests.POST("/:id/approve", h.Approve)
		requests.POST("/:id/reject", h.Reject)
		requests.POST("/:id/send-back", h.SendBack)
		requests.POST("/:id/resubmit", h.Resubmit)
		requests.POST("/:id/cancel", h.Cancel)
		requests.POST("/:id/fulfill", h.Fulfill)
		requests.POST("/:id/accept", h.Accept)
		requests.POST("/:id/assign", h.Assign)
		requests.POST("/:id/swap-driver", h.SwapDriver)
		requests.GET("/:id/trip", h.GetRequestTrip)

		fleet := api.Group("/fleet")
		fleet.GET("/drivers/available", h.AvailableDrivers)
		fleet.GET("/vehicles/available", h.AvailableVehicles)
		fleet.GET("/drivers/:id/trips", h.ListDriverTrips)

		trips := api.Group("/trips")
		trips.GET("/:id", h.GetTrip)
		trips.POST("/:id/start", h.StartTrip)
		trips.POST("/:id/location", h.UpdateLocation)
		trips.POST("/:id/complete", h.CompleteTrip)
		trips.POST("/:id/return", h.MarkReturned)

		notifications := api.Group("/notifications")
		notifications.GET("", h.ListNotifications)
		notifications.POST("/:id/read", h.MarkNotificationRead)
	}
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
