// Package router assembles the HTTP surface.
package router

import (
	"net/http"
	"strings"

	"classifieds-messaging/backend/internal/api"
	"classifieds-messaging/backend/internal/ws"
	"classifieds-messaging/backend/pkg/config"
	"classifieds-messaging/backend/pkg/di"
	"classifieds-messaging/backend/pkg/errors"
	"classifieds-messaging/backend/pkg/logger"
	"classifieds-messaging/backend/pkg/middleware"
	"classifieds-messaging/backend/pkg/validator"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Router is the main router for the application
type Router struct {
	Engine      *gin.Engine
	Container   *di.Container
	Logger      *logger.Logger
	Config      *config.Config
	rateLimiter *middleware.RateLimiter
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	cfg := container.Config
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Use the logger middleware first to capture all requests
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(middleware.Metrics())
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
		rateLimiter: middleware.NewRateLimiter(container.Logger, middleware.RateLimiterOptions{
			Limit:          rate.Limit(cfg.Security.RateLimit),
			Burst:          cfg.Security.RateLimitBurst,
			ExpiryDuration: middleware.DefaultRateLimiterOptions().ExpiryDuration,
		}),
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() error {
	r.Engine.GET("/health", r.Container.Health.Handler())
	r.Engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	wsHandler := ws.NewHandler(r.Container.Hub, r.Container.Messaging, r.Container.JWTService, ws.Config{
		WriteWait:      r.Config.WebSocket.WriteWait,
		PongWait:       r.Config.WebSocket.PongWait,
		AuthTimeout:    r.Config.WebSocket.AuthTimeout,
		MaxMessageSize: r.Config.WebSocket.MaxMessageSize,
		SendBuffer:     r.Config.WebSocket.SendBuffer,
		FrameRate:      r.Config.WebSocket.FrameRate,
		FrameBurst:     r.Config.WebSocket.FrameBurst,
		AllowedOrigins: r.Config.Security.AllowedOrigins,
	}, r.Logger)
	r.Engine.GET("/ws", wsHandler.ServeWs)

	v1 := r.Engine.Group("/api/v1")
	v1.Use(bodyLimit(r.Config.Security.MaxBodySize))

	if path := r.Config.OpenAPISchemaPath; path != "" {
		v, err := validator.NewOpenAPIValidator(path)
		if err != nil {
			return err
		}
		v1.Use(v.Middleware())
		r.Engine.StaticFile("/api/docs/openapi.yaml", path)
		r.Logger.Info("OpenAPI validation enabled", "schema", path)
	}

	v1.Use(middleware.JWTAuthMiddleware(r.Container.JWTService), r.rateLimiter.Middleware())
	api.NewMessageController(r.Container.Messaging).RegisterRoutes(v1)

	return nil
}

// Close stops background work started by the router
func (r *Router) Close() {
	r.rateLimiter.Stop()
}

func bodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// corsMiddleware echoes allowed origins and answers preflight requests
func corsMiddleware(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && originAllowed(allowed, origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept, Authorization, Origin, Upgrade, Connection, Cache-Control")
			c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
			c.Writer.Header().Set("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}
