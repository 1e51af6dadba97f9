package router

import (
	"github.com/gin-gonic/gin"

	"socialpulse.app/autopilot/internal/http/handler"
)

func AutomationRouter(group *gin.RouterGroup, h *handler.AutomationHandler, stream *handler.ActivityStreamHandler) {
	group.Use(h.RequireAdminAPIKey())

	group.POST("/start", h.Start)
	group.POST("/stop", h.Stop)
	group.GET("/status", h.Status)
	group.PATCH("/config", h.UpdateConfig)
	group.POST("/stats/reset", h.ResetStats)
	group.GET("/activity", h.Activity)
	group.GET("/activity/stream", stream.Stream)
	group.GET("/replies", h.Replies)
}
