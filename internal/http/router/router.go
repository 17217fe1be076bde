package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"driftsync.app/core/internal/http/handler"
	"driftsync.app/core/internal/http/middleware"
)

type RouterConfig struct {
	AdminAPIKey  string
	IsProduction bool
}

func SetupRoutes(router *gin.Engine, webhook *handler.WebhookHandler, dashboard *handler.DashboardHandler, cfg RouterConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/:source", webhook.HandleEvent)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/queue/depth", dashboard.QueueDepth)
		v1.GET("/queue/health", dashboard.QueueHealth)
		v1.GET("/inbox/stats", dashboard.InboxStats)
		v1.GET("/bus/stats", dashboard.BusStats)
		v1.GET("/bus/history", dashboard.BusHistory)
		v1.GET("/alerts", dashboard.ListAlerts)
		v1.GET("/dead-letters", dashboard.ListDeadLetters)

		admin := v1.Group("", middleware.RequireAdminKey(cfg.AdminAPIKey))
		{
			admin.POST("/alerts/:id/acknowledge", dashboard.AcknowledgeAlert)
			admin.POST("/alerts/:id/resolve", dashboard.ResolveAlert)
			admin.POST("/dead-letters/:id/resolve", dashboard.ResolveDeadLetter)
		}
	}
}
