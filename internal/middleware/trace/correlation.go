package trace

import (
	"OmniSearch/pkg/util"

	"github.com/gin-gonic/gin"
)

const headerCorrelationID = "X-Correlation-ID"

// Correlation 为每个请求分配关联 ID，客户端传入则透传，响应头原样带回
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(headerCorrelationID)
		if cid == "" || len(cid) > 64 {
			cid = util.GenerateShortUUID()
		}
		c.Set("correlation_id", cid)
		c.Header(headerCorrelationID, cid)
		c.Next()
	}
}
