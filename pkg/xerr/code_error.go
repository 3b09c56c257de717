package xerr

import "fmt"

// CodeError 自定义错误结构
type CodeError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error 实现 error 接口
func (e *CodeError) Error() string {
	return fmt.Sprintf("Code: %d, Message: %s", e.Code, e.Message)
}

// New 创建新的 CodeError
func New(code int, msg string) *CodeError {
	return &CodeError{Code: code, Message: msg}
}

// 常用通用错误码
const (
	OK                  = 200
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	RateLimited         = 429
	InternalServerError = 500
	DependencyFailure   = 502
)

// 业务错误码（检索服务专用）
const (
	CodeInvalidQuery      = 4001 // 查询参数非法
	CodeInvalidLevel      = 4002 // 安全等级超出 [1,4]
	CodeCollectionMissing = 4041 // 集合不存在
	CodeDocumentMissing   = 4042 // 文档不存在
	CodeInvalidToken      = 4011 // token 无效或过期
	CodeInvalidAPIKey     = 4012 // 服务 API Key 无效
	CodeAccessDenied      = 4031 // 权限不足
	CodeInjectionDetected = 4032 // 注入模式命中
	CodeQuotaExceeded     = 4291 // 配额用尽
	CodeStoreUnavailable  = 5021 // 向量库不可达
	CodeQueueUnavailable  = 5022 // 任务队列不可达
)

// 常用预定义错误
var (
	ErrSuccess          = New(OK, "Success")
	ErrServerError      = New(InternalServerError, "系统错误，请联系工作人员")
	ErrParam            = New(BadRequest, "参数错误")
	ErrUnauthorized     = New(Unauthorized, "未登录或凭证无效")
	ErrForbidden        = New(Forbidden, "权限不足")
	ErrNotFound         = New(NotFound, "资源不存在")
	ErrInvalidLevel     = New(CodeInvalidLevel, "安全等级必须在 1-4 之间")
	ErrAccessDenied     = New(CodeAccessDenied, "无权访问该文档")
	ErrStoreUnavailable = New(CodeStoreUnavailable, "向量库暂不可用")
	ErrQueueUnavailable = New(CodeQueueUnavailable, "任务队列暂不可用")
)
