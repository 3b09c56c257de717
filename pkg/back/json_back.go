package back

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"OmniSearch/pkg/xerr"
)

// Response 统一响应结构
type Response struct {
	Code          int         `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Data          interface{} `json:"data,omitempty"`
}

// Result 统一返回入口
func Result(c *gin.Context, data interface{}, err error) {
	if err == nil {
		Success(c, data)
		return
	}

	// 判断是否为自定义错误（中间层可能再包一层，用 errors.As 解开）
	var e *xerr.CodeError
	if errors.As(err, &e) {
		Error(c, e.Code, e.Message)
		return
	}

	// 默认为系统错误
	Error(c, xerr.ErrServerError.Code, xerr.ErrServerError.Message)
}

// Success 成功返回
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:          xerr.OK,
		Message:       "Success",
		CorrelationID: c.GetString("correlation_id"),
		Data:          data,
	})
}

// Error 错误返回（携带 correlation_id，便于和服务端日志对账）
func Error(c *gin.Context, code int, message string) {
	c.JSON(http.StatusOK, Response{
		Code:          code,
		Message:       message,
		CorrelationID: c.GetString("correlation_id"),
	})
}
