package http

import (
	"OmniSearch/internal/modules/search/application/service"
	"OmniSearch/pkg/back"

	"github.com/gin-gonic/gin"
)

// HealthHandler 健康检查 HTTP Handler
type HealthHandler struct {
	healthSvc service.HealthService
}

func NewHealthHandler(healthSvc service.HealthService) *HealthHandler {
	return &HealthHandler{healthSvc: healthSvc}
}

// Liveness 轻量探活
//
// 路由: GET /health
func (h *HealthHandler) Liveness(c *gin.Context) {
	back.Success(c, h.healthSvc.Liveness())
}

// Status 完整健康状态
//
// 路由: GET /health/status
func (h *HealthHandler) Status(c *gin.Context) {
	back.Success(c, h.healthSvc.Status(c.Request.Context()))
}
