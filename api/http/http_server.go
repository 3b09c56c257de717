package http

import (
	"OmniSearch/internal/config"
	"OmniSearch/internal/initial"
	jwtMiddleware "OmniSearch/internal/middleware/jwt"
	"OmniSearch/internal/middleware/trace"
	searchHandler "OmniSearch/internal/modules/search/interface/http"
	"OmniSearch/pkg/ssl"

	cors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

var GE *gin.Engine

func init() {
	GE = gin.Default()
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key", "X-Correlation-ID"}
	GE.Use(cors.New(corsConfig))
	GE.Use(ssl.TlsHandler(config.GetConfig().MainConfig.Host, config.GetConfig().MainConfig.Port))
	GE.Use(trace.Correlation())
	GE.Use(jwtMiddleware.Identify())

	searchH := searchHandler.NewSearchHandler(initial.SearchSvc)
	batchH := searchHandler.NewBatchHandler(initial.IngestSvc, initial.JobSvc)
	feedbackH := searchHandler.NewFeedbackHandler(initial.FeedbackSvc)
	adminH := searchHandler.NewAdminHandler(initial.SecuritySvc)
	healthH := searchHandler.NewHealthHandler(initial.HealthSvc)
	jobWsH := searchHandler.NewJobWsHandler(initial.Hub, initial.JobSvc)

	// 匿名可用：检索按调用方身份过滤结果，健康检查与任务进度订阅只读
	GE.GET("/health", healthH.Liveness)
	GE.GET("/health/status", healthH.Status)
	GE.POST("/query/hybrid", searchH.HybridQuery)
	GE.POST("/feedback", feedbackH.Submit)
	GE.GET("/batch/jobs/ws", jobWsH.Connect)

	authed := GE.Group("/")
	authed.Use(jwtMiddleware.Auth())
	authed.POST("/batch/ingest", batchH.Ingest)
	authed.DELETE("/batch/documents/:collection/:doc_id", batchH.Purge)
	authed.GET("/batch/jobs/status/:job_id", batchH.JobStatus)
	authed.GET("/batch/jobs/recent", batchH.RecentJobs)
	authed.POST("/admin/securityLevel", adminH.UpdateSecurityLevel)
	authed.POST("/admin/epochBump", adminH.BumpEpoch)
	authed.GET("/admin/securityProfile", adminH.ProfileReport)
	authed.POST("/admin/securityProfile", adminH.ActivateProfile)
}
