package router

import (
	"time"

	"referral-service/internal/metrics"
	"referral-service/internal/webhook"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Setup собирает HTTP роутер сервиса: здоровье, метрики и webhook адаптера выплат
func Setup(metricsHandler *metrics.Handler, webhookHandler *webhook.YooKassaWebhookHandler, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(requestLogger(logger))
	r.Use(gin.Recovery())

	r.GET("/health", metricsHandler.HealthHandler)
	r.GET("/metrics", metricsHandler.MetricsHandler())

	r.POST("/webhook/yookassa", gin.WrapF(webhookHandler.HandleWebhook))

	return r
}

// requestLogger пишет в zap каждый HTTP запрос
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Debug("HTTP запрос",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
