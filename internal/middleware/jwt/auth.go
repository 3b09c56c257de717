package jwt

import (
	"crypto/sha256"
	"crypto/subtle"
	"strings"

	"OmniSearch/internal/config"
	"OmniSearch/internal/modules/search/domain/security"
	"OmniSearch/pkg/back"
	"OmniSearch/pkg/util/myjwt"
	"OmniSearch/pkg/xerr"

	"github.com/gin-gonic/gin"
)

// ContextKeyUser gin 上下文中调用方身份的键名
const ContextKeyUser = "user_context"

// Identify 解析调用方身份：Bearer Token -> 用户，X-API-Key -> 服务，都没有 -> 游客。
// 身份解析失败不拦截请求，交给各接口按资源做访问控制。
func Identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ContextKeyUser, resolveCaller(c))
		c.Next()
	}
}

// Auth 强制鉴权：要求已解析出非游客身份，否则直接拒绝
func Auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := UserFromContext(c)
		if user.Type != security.ContextTypeService && user.Role == security.RoleGuest {
			back.Error(c, xerr.Unauthorized, "missing or invalid credentials")
			c.Abort()
			return
		}
		c.Next()
	}
}

// UserFromContext 读取已解析的调用方身份，缺失时兜底为游客
func UserFromContext(c *gin.Context) *security.UserContext {
	if v, ok := c.Get(ContextKeyUser); ok {
		if user, ok := v.(*security.UserContext); ok && user != nil {
			return user
		}
	}
	return security.Guest()
}

func resolveCaller(c *gin.Context) *security.UserContext {
	if apiKey := c.GetHeader("X-API-Key"); apiKey != "" {
		if matchAPIKey(apiKey) {
			return &security.UserContext{
				UserID: "service",
				Role:   security.RoleAdmin,
				Type:   security.ContextTypeService,
			}
		}
		return security.Guest()
	}

	authHeader := c.GetHeader("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return security.Guest()
	}

	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	claims, err := myjwt.ParseToken(tokenString)
	if err != nil {
		return security.Guest()
	}

	role := claims.Role
	if _, known := map[string]bool{
		security.RoleAdmin:  true,
		security.RoleEditor: true,
		security.RoleViewer: true,
		security.RoleGuest:  true,
	}[role]; !known {
		role = security.RoleGuest
	}

	return &security.UserContext{
		UserID: claims.Uuid,
		Role:   role,
		Team:   claims.Team,
		Type:   security.ContextTypeUser,
	}
}

// matchAPIKey 常量时间比较，避免时序侧信道泄露 key 前缀
func matchAPIKey(got string) bool {
	conf := config.GetConfig()
	want := conf.ServiceAuthConfig.APIKey
	if want == "" {
		return false
	}
	gotSum := sha256.Sum256([]byte(got))
	wantSum := sha256.Sum256([]byte(want))
	return subtle.ConstantTimeCompare(gotSum[:], wantSum[:]) == 1
}
