package http

import (
	jwtMiddleware "OmniSearch/internal/middleware/jwt"
	searchRequest "OmniSearch/internal/modules/search/application/dto/request"
	"OmniSearch/internal/modules/search/application/service"
	"OmniSearch/pkg/back"
	"OmniSearch/pkg/xerr"
	"OmniSearch/pkg/zlog"

	"github.com/gin-gonic/gin"
)

// AdminHandler 安全等级变更、缓存纪元、安全档位管理 HTTP Handler
type AdminHandler struct {
	securitySvc service.SecurityService
}

func NewAdminHandler(securitySvc service.SecurityService) *AdminHandler {
	return &AdminHandler{securitySvc: securitySvc}
}

// UpdateSecurityLevel 变更文档安全等级
//
// 路由: POST /admin/securityLevel
// 鉴权: 属主或 admin（服务内判定）
func (h *AdminHandler) UpdateSecurityLevel(c *gin.Context) {
	var req searchRequest.LevelUpdateRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	user := jwtMiddleware.UserFromContext(c)
	data, err := h.securitySvc.UpdateLevel(c.Request.Context(), req, user)
	back.Result(c, data, err)
}

// BumpEpoch 手动失效集合缓存
//
// 路由: POST /admin/epochBump
// 鉴权: admin / 服务调用方
func (h *AdminHandler) BumpEpoch(c *gin.Context) {
	var req searchRequest.EpochBumpRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	user := jwtMiddleware.UserFromContext(c)
	data, err := h.securitySvc.BumpEpoch(c.Request.Context(), req, user)
	back.Result(c, data, err)
}

// ProfileReport 当前激活安全档位的校验报告
//
// 路由: GET /admin/securityProfile
func (h *AdminHandler) ProfileReport(c *gin.Context) {
	data, err := h.securitySvc.ProfileReport(c.Request.Context())
	back.Result(c, data, err)
}

// ActivateProfile 激活安全档位
//
// 路由: POST /admin/securityProfile/activate
// 鉴权: admin / 服务调用方，激活前必须通过档位校验
func (h *AdminHandler) ActivateProfile(c *gin.Context) {
	var req searchRequest.ProfileActivateRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	user := jwtMiddleware.UserFromContext(c)
	data, err := h.securitySvc.ActivateProfile(c.Request.Context(), req, user)
	back.Result(c, data, err)
}
