package api

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/repligit/repligit/internal/api/handlers"
	"github.com/repligit/repligit/internal/config"
	"github.com/repligit/repligit/internal/registry"
)

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, reg *registry.Registry, pool handlers.Submitter) *gin.Engine {
	// Set Gin mode
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(loggingMiddleware())

	// Initialize handlers
	webhookHandler := handlers.NewWebhookHandler(pool, cfg.Webhook.Secret, slog.Default())
	mirrorHandler := handlers.NewMirrorHandler(reg)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck)
		v1.GET("/version", handlers.GetVersion)
		v1.GET("/mirrors", mirrorHandler.ListMirrors)
		v1.GET("/mirrors/:owner/:name", mirrorHandler.GetMirror)
	}

	// GitHub delivers to whatever path the hook was registered with, so
	// every POST is treated as a webhook delivery.
	router.POST("/*path", webhookHandler.Receive)

	slog.Info("API router initialized", "mode", cfg.Server.Mode)
	return router
}

// loggingMiddleware logs HTTP requests
func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		slog.Info("HTTP request",
			"method", method,
			"path", path,
			"status", status,
			"latency", latency.String(),
			"ip", c.ClientIP(),
		)
	}
}
