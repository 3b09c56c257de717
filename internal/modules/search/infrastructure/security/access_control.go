package security

import (
	"fmt"
	"strings"

	"OmniSearch/internal/modules/search/domain/document"
	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/internal/modules/search/domain/security"
)

// AccessController 集中判定文档可见性与可写性。
// 规则只有两条：本人文档始终可见可写；公共文档按角色等级白名单放行。
// admin 也不例外，他人的私有文档对 admin 同样不可见。
type AccessController struct{}

func NewAccessController() *AccessController {
	return &AccessController{}
}

// CanView 判定调用方是否可见该命中
func (a *AccessController) CanView(user *security.UserContext, hit *repository.VectorSearchHit) bool {
	return a.CanViewMeta(user, hit.TenantID, hit.AccessLevel)
}

// CanViewMeta 用租户归属与安全等级判定可见性（缓存命中等没有完整命中结构的场景）
func (a *AccessController) CanViewMeta(user *security.UserContext, tenantID string, accessLevel int) bool {
	if user == nil {
		user = security.Guest()
	}
	if user.Type == security.ContextTypeService {
		return true
	}
	if tenantID != "" && tenantID != document.TenantPublic {
		return tenantID == user.UserID
	}
	for _, lv := range security.AllowedLevels(user.Role) {
		if accessLevel == lv {
			return true
		}
	}
	return false
}

// CanEdit 判定调用方是否可改写该命中（含删除与安全等级变更）
func (a *AccessController) CanEdit(user *security.UserContext, hit *repository.VectorSearchHit) bool {
	if user == nil {
		return false
	}
	if user.Type == security.ContextTypeService {
		return true
	}
	if hit.TenantID != "" && hit.TenantID != document.TenantPublic {
		return hit.TenantID == user.UserID
	}
	return user.Role == security.RoleAdmin
}

// CanChangeSecurityLevel 等级变更权限与编辑权限一致
func (a *AccessController) CanChangeSecurityLevel(user *security.UserContext, hit *repository.VectorSearchHit) bool {
	return a.CanEdit(user, hit)
}

// FilterHits 对命中列表做逐条可见性过滤；缓存命中的结果同样必须过一遍
func (a *AccessController) FilterHits(user *security.UserContext, hits []repository.VectorSearchHit) []repository.VectorSearchHit {
	out := make([]repository.VectorSearchHit, 0, len(hits))
	for i := range hits {
		if a.CanView(user, &hits[i]) {
			out = append(out, hits[i])
		}
	}
	return out
}

// SearchFilterExpr 构造存储侧的预过滤表达式：
// (公共租户 且 等级 <= 角色上限) 或 (租户 == 本人)。
// 仅是第一道闸，返回结果仍需 FilterHits 复核。
func (a *AccessController) SearchFilterExpr(user *security.UserContext) string {
	if user == nil {
		user = security.Guest()
	}
	if user.Type == security.ContextTypeService {
		return ""
	}
	maxLevel := security.MaxAllowedLevel(user.Role)
	public := fmt.Sprintf(`(tenant_id == "%s" && access_level <= %d)`, document.TenantPublic, maxLevel)
	if user.UserID == "" || user.UserID == "anonymous" {
		return public
	}
	owner := fmt.Sprintf(`tenant_id == "%s"`, escapeExprString(user.UserID))
	return public + " || " + owner
}

func escapeExprString(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}
