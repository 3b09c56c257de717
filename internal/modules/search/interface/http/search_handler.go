package http

import (
	searchRequest "OmniSearch/internal/modules/search/application/dto/request"
	"OmniSearch/internal/modules/search/application/service"
	jwtMiddleware "OmniSearch/internal/middleware/jwt"
	"OmniSearch/pkg/back"
	"OmniSearch/pkg/xerr"
	"OmniSearch/pkg/zlog"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SearchHandler 混合检索 HTTP Handler
type SearchHandler struct {
	searchSvc service.SearchService
}

// NewSearchHandler 创建混合检索 Handler
func NewSearchHandler(searchSvc service.SearchService) *SearchHandler {
	return &SearchHandler{searchSvc: searchSvc}
}

// HybridQuery 处理混合检索请求
//
// 路由: POST /query/hybrid
// 鉴权: 可匿名（游客仅能看到公共 level-1 文档）
// 请求体: HybridSearchRequest
// 响应体: SearchRespond
func (h *SearchHandler) HybridQuery(c *gin.Context) {
	var req searchRequest.HybridSearchRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	user := jwtMiddleware.UserFromContext(c)
	data, err := h.searchSvc.HybridQuery(c.Request.Context(), req, user)
	if err != nil {
		zlog.Warn("hybrid query failed",
			zap.String("user", user.UserID),
			zap.Error(err))
	}
	back.Result(c, data, err)
}
