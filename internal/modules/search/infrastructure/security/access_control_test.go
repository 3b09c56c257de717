package security

import (
	"testing"

	"OmniSearch/internal/modules/search/domain/repository"
	"OmniSearch/internal/modules/search/domain/security"

	"github.com/stretchr/testify/assert"
)

func userCtx(id, role string) *security.UserContext {
	return &security.UserContext{UserID: id, Role: role, Type: security.ContextTypeUser}
}

func serviceCtx() *security.UserContext {
	return &security.UserContext{UserID: "service", Role: security.RoleAdmin, Type: security.ContextTypeService}
}

func publicHit(level int) *repository.VectorSearchHit {
	return &repository.VectorSearchHit{TenantID: "public", AccessLevel: level}
}

func privateHit(owner string) *repository.VectorSearchHit {
	return &repository.VectorSearchHit{TenantID: owner, AccessLevel: 1}
}

func TestCanViewPublicByRoleLevel(t *testing.T) {
	acl := NewAccessController()
	cases := []struct {
		role     string
		maxLevel int
	}{
		{security.RoleGuest, 1},
		{security.RoleViewer, 2},
		{security.RoleEditor, 3},
		{security.RoleAdmin, 4},
	}
	for _, tc := range cases {
		u := userCtx("u1", tc.role)
		for level := 1; level <= 4; level++ {
			got := acl.CanView(u, publicHit(level))
			assert.Equal(t, level <= tc.maxLevel, got, "role=%s level=%d", tc.role, level)
		}
	}
}

func TestCanViewOwnerAlwaysWins(t *testing.T) {
	acl := NewAccessController()
	// 属主可见自己的私有文档，哪怕角色只是 guest
	assert.True(t, acl.CanView(userCtx("alice", security.RoleGuest), privateHit("alice")))
	// admin 看不到别人的私有文档
	assert.False(t, acl.CanView(userCtx("root", security.RoleAdmin), privateHit("alice")))
	// 服务调用方全量可见
	assert.True(t, acl.CanView(serviceCtx(), privateHit("alice")))
}

func TestCanViewNilUserIsGuest(t *testing.T) {
	acl := NewAccessController()
	assert.True(t, acl.CanViewMeta(nil, "public", 1))
	assert.False(t, acl.CanViewMeta(nil, "public", 2))
	assert.False(t, acl.CanViewMeta(nil, "alice", 1))
}

func TestCanViewUnknownRoleTreatedAsGuest(t *testing.T) {
	acl := NewAccessController()
	u := userCtx("u1", "superuser")
	assert.True(t, acl.CanView(u, publicHit(1)))
	assert.False(t, acl.CanView(u, publicHit(2)))
}

func TestCanEdit(t *testing.T) {
	acl := NewAccessController()
	// 公共文档只有 admin 可改
	assert.True(t, acl.CanEdit(userCtx("root", security.RoleAdmin), publicHit(4)))
	assert.False(t, acl.CanEdit(userCtx("e", security.RoleEditor), publicHit(1)))
	// 私有文档只有属主可改
	assert.True(t, acl.CanEdit(userCtx("alice", security.RoleViewer), privateHit("alice")))
	assert.False(t, acl.CanEdit(userCtx("root", security.RoleAdmin), privateHit("alice")))
	assert.True(t, acl.CanEdit(serviceCtx(), privateHit("alice")))
	assert.False(t, acl.CanEdit(nil, publicHit(1)))
}

func TestFilterHits(t *testing.T) {
	acl := NewAccessController()
	hits := []repository.VectorSearchHit{
		*publicHit(1),
		*publicHit(3),
		*privateHit("alice"),
		*privateHit("bob"),
	}
	out := acl.FilterHits(userCtx("alice", security.RoleViewer), hits)
	assert.Len(t, out, 2) // public level1 + 本人私有
}

func TestSearchFilterExpr(t *testing.T) {
	acl := NewAccessController()

	assert.Equal(t, "", acl.SearchFilterExpr(serviceCtx()))

	expr := acl.SearchFilterExpr(userCtx("alice", security.RoleViewer))
	assert.Contains(t, expr, `access_level <= 2`)
	assert.Contains(t, expr, `tenant_id == "alice"`)

	// 匿名调用方没有属主分支
	guestExpr := acl.SearchFilterExpr(nil)
	assert.Contains(t, guestExpr, `access_level <= 1`)
	assert.NotContains(t, guestExpr, "anonymous")

	// 表达式字符串注入转义
	evil := acl.SearchFilterExpr(userCtx(`x" || tenant_id != "`, security.RoleViewer))
	assert.Contains(t, evil, `\"`)
}
