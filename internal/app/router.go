package app

import (
	"attendance_console/internal/config"
	"attendance_console/internal/middleware"
	"attendance_console/pkg/monitoring"

	"github.com/gin-gonic/gin"
)

func (a *App) registerRoutes(router *gin.Engine, c *controllers, cfg *config.Config) {
	router.GET("/metrics", monitoring.PrometheusHandler())
	router.GET("/api/health", c.health.HealthCheck)

	withSession := middleware.SessionMiddleware(a.services.sessions, cfg.Session.CookieName)

	// 1. 页面：表单提交后重定向回首页
	page := router.Group("/")
	page.Use(withSession)
	{
		page.GET("", c.attendance.Index)
		page.GET("reload", c.attendance.Reload)
		page.POST("select", c.attendance.SelectClassForm)
		page.POST("rows/:id/toggle", c.attendance.ToggleRowForm)
		page.POST("submit", c.attendance.SubmitForm)
		page.POST("import", c.attendance.ImportForm)
	}

	// 2. JSON 接口
	api := router.Group("/api/session")
	api.Use(withSession)
	{
		api.GET("", c.attendance.GetSession)
		api.GET("/classes", c.attendance.ListClasses)
		api.POST("/class", c.attendance.SelectClass)
		api.POST("/rows/:id/toggle", c.attendance.ToggleRow)
		api.POST("/submit", c.attendance.Submit)
		api.POST("/import", c.attendance.Import)
		api.POST("/reset", c.attendance.Reset)
	}
}
