package controller

import (
	"attendance_console/internal/util"
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthController struct {
	API      Pinger
	Sessions interface{ Len() int }
}

func NewHealthController(api Pinger, sessions interface{ Len() int }) *HealthController {
	return &HealthController{API: api, Sessions: sessions}
}

// @Summary 健康检查
// @Description 检查服务状态以及远端考勤服务是否可达
// @Tags 系统
// @Produce json
// @Success 200 {object} util.Response
// @Router /health [get]
func (c *HealthController) HealthCheck(ctx *gin.Context) {
	pingCtx, cancel := context.WithTimeout(ctx.Request.Context(), 3*time.Second)
	defer cancel()

	if err := c.API.Ping(pingCtx); err != nil {
		util.Error(ctx, http.StatusServiceUnavailable, "Attendance API unavailable")
		return
	}

	util.Success(ctx, gin.H{
		"status":   "ok",
		"sessions": c.Sessions.Len(),
		"components": gin.H{
			"attendance_api": "up",
		},
	})
}
