package http

import (
	"strconv"
	"strings"

	jwtMiddleware "OmniSearch/internal/middleware/jwt"
	searchRequest "OmniSearch/internal/modules/search/application/dto/request"
	"OmniSearch/internal/modules/search/application/service"
	"OmniSearch/pkg/back"
	"OmniSearch/pkg/xerr"
	"OmniSearch/pkg/zlog"

	"github.com/gin-gonic/gin"
)

// BatchHandler 批量入库与任务查询 HTTP Handler
type BatchHandler struct {
	ingestSvc service.IngestService
	jobSvc    service.JobService
}

func NewBatchHandler(ingestSvc service.IngestService, jobSvc service.JobService) *BatchHandler {
	return &BatchHandler{ingestSvc: ingestSvc, jobSvc: jobSvc}
}

// Ingest 受理批量入库
//
// 路由: POST /batch/ingest
// 鉴权: editor / admin / 服务调用方
func (h *BatchHandler) Ingest(c *gin.Context) {
	var req searchRequest.IngestRequest
	if err := c.BindJSON(&req); err != nil {
		zlog.Error(err.Error())
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	user := jwtMiddleware.UserFromContext(c)
	data, err := h.ingestSvc.Submit(c.Request.Context(), req, user)
	back.Result(c, data, err)
}

// Purge 删除逻辑文档（全部分块）
//
// 路由: DELETE /batch/documents/:collection/:doc_id
func (h *BatchHandler) Purge(c *gin.Context) {
	collection := strings.TrimSpace(c.Param("collection"))
	docID := strings.TrimSpace(c.Param("doc_id"))
	if collection == "" || docID == "" {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	user := jwtMiddleware.UserFromContext(c)
	err := h.ingestSvc.Purge(c.Request.Context(), collection, docID, user)
	back.Result(c, gin.H{"collection": collection, "doc_id": docID}, err)
}

// JobStatus 查询单个任务状态
//
// 路由: GET /batch/jobs/status/:job_id
func (h *BatchHandler) JobStatus(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("job_id"))
	if jobID == "" {
		back.Error(c, xerr.BadRequest, xerr.ErrParam.Message)
		return
	}

	data, err := h.jobSvc.GetStatus(c.Request.Context(), jobID)
	back.Result(c, data, err)
}

// RecentJobs 查询最近任务列表
//
// 路由: GET /batch/jobs/recent?limit=20
func (h *BatchHandler) RecentJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	data, err := h.jobSvc.ListRecent(c.Request.Context(), limit)
	back.Result(c, data, err)
}
