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

// FeedbackHandler 用户反馈 HTTP Handler
type FeedbackHandler struct {
	feedbackSvc service.FeedbackService
}

func NewFeedbackHandler(feedbackSvc service.FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{feedbackSvc: feedbackSvc}
}

// Submit 受理检索反馈
//
// 路由: POST /feedback
// 低质量反馈（停留过短、重复提交、未知策略）会被静默拒绝，
// 响应里的 accepted/reason 字段说明结果，不返回错误码
func (h *FeedbackHandler) Submit(c *gin.Context) {
	var req searchRequest.FeedbackRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	user := jwtMiddleware.UserFromContext(c)
	data, err := h.feedbackSvc.Submit(c.Request.Context(), req, user)
	back.Result(c, data, err)
}
