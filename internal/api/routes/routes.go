package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/castarena/castarena_service/internal/api/handlers"
	"github.com/castarena/castarena_service/pkg/logger"
	"github.com/castarena/castarena_service/pkg/ratelimit"
)

// SetupRoutes configures all application routes
func SetupRoutes(
	webhookHandler *handlers.WebhookHandler,
	healthHandler *handlers.HealthHandler,
	log *logger.Logger,
	environment string,
) *gin.Engine {
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(log))

	// Operational endpoints (no auth required)
	router.GET("/health", healthHandler.Health)
	router.GET("/stats", healthHandler.Stats)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Inbound events, rate limited per delivery source
	webhooks := router.Group("/webhooks")
	webhooks.Use(ratelimit.Middleware(ratelimit.NewSourceLimiter(ratelimit.DefaultConfig())))
	{
		webhooks.POST("/farcaster", webhookHandler.HandleWebhook)
	}

	return router
}

func requestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics" {
			return
		}
		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			log.Warn("Request completed with server error",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"status", status)
			return
		}
		log.Debug("Request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status)
	}
}
