package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/lavsmart/cyclebridge/internal/handlers"
	"github.com/lavsmart/cyclebridge/internal/middleware"
	"github.com/lavsmart/cyclebridge/internal/telemetry"
)

func NewRouter(webhook *handlers.WebhookHandler, initiation *handlers.InitiationHandler, redisClient *redis.Client) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(telemetry.TracingMiddleware())

	// Prometheus metrics
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "cyclebridge"})
	})

	// Gateway notifications
	r.POST("/webhook", webhook.Webhook)

	// Payment initiation
	r.POST("/payments", middleware.IdempotencyMiddleware(redisClient), initiation.CreatePayment)
	r.GET("/checkout", initiation.Checkout)

	return r
}
