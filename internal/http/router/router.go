package router

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"socialpulse.app/autopilot/internal/engine"
	"socialpulse.app/autopilot/internal/http/handler"
	"socialpulse.app/autopilot/internal/store"
)

type RouterConfig struct {
	AdminAPIKey    string
	ActivityStream string
}

func SetupRoutes(router *gin.Engine, scheduler *engine.Scheduler, stores *store.Stores, redisClient *redis.Client, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		automationHandler := handler.NewAutomationHandler(
			scheduler,
			stores.ProcessedComments(),
			stores.ActivityLog(),
			cfg.AdminAPIKey,
		)
		streamHandler := handler.NewActivityStreamHandler(redisClient, cfg.ActivityStream)
		AutomationRouter(v1.Group("/automation"), automationHandler, streamHandler)
	}
}
