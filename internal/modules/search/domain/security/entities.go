package security

import (
	"time"
)

// 角色（权限从低到高）
const (
	RoleGuest  = "guest"
	RoleViewer = "viewer"
	RoleEditor = "editor"
	RoleAdmin  = "admin"
)

// ContextTypeService 标记服务间调用（API Key 鉴权，等价 admin 权限）
const (
	ContextTypeUser    = "user"
	ContextTypeService = "service"
)

// UserContext 每个请求解析一次的调用方上下文，贯穿整个管线，不允许中途重建
type UserContext struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	Tenant string `json:"tenant"`
	Team   string `json:"team"`
	Type   string `json:"type"`
}

// Guest 匿名调用方（缺省兜底，永远不会兜底到 admin）
func Guest() *UserContext {
	return &UserContext{UserID: "anonymous", Role: RoleGuest, Type: ContextTypeUser}
}

// allowedLevels 每个角色允许访问的公共文档安全等级白名单
var allowedLevels = map[string][]int{
	RoleAdmin:  {1, 2, 3, 4},
	RoleEditor: {1, 2, 3},
	RoleViewer: {1, 2},
	RoleGuest:  {1},
}

// AllowedLevels 返回角色可见的安全等级（未知角色按 guest 处理）
func AllowedLevels(role string) []int {
	if levels, ok := allowedLevels[role]; ok {
		return levels
	}
	return allowedLevels[RoleGuest]
}

// MaxAllowedLevel 角色可见的最高安全等级（用于构造存储侧范围过滤）
func MaxAllowedLevel(role string) int {
	levels := AllowedLevels(role)
	return levels[len(levels)-1]
}

// SecurityProfile 持久化的安全档位配置文档
type SecurityProfile struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Name      string    `gorm:"column:name;uniqueIndex;type:varchar(64)"` // production_basic / production_enhanced
	Tier      int       `gorm:"column:tier;not null"`
	MFA       bool      `gorm:"column:mfa;default:false"`
	Overrides string    `gorm:"column:overrides;type:text"` // JSON: feature -> Override
	Active    bool      `gorm:"column:active;default:false;index"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (SecurityProfile) TableName() string {
	return "search_security_profile"
}

// Override 安全要求的豁免记录；缺少任一必填字段或已过期的豁免视为不存在
type Override struct {
	Reason     string    `json:"reason"`
	ApprovedBy string    `json:"approved_by"`
	Expires    time.Time `json:"expires"`
}

// Valid 豁免是否有效
func (o Override) Valid(now time.Time) bool {
	if o.Reason == "" || o.ApprovedBy == "" || o.Expires.IsZero() {
		return false
	}
	return o.Expires.After(now)
}
