package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"landrop/logger"
	"landrop/models"
	"landrop/services"
)

// TokenHeader REST请求携带令牌的请求头
const TokenHeader = "X-Ld-Token"

// 上下文中的键
const (
	ContextClaims = "claims"
	ContextUserID = "userID"
)

// TokenAuth 令牌认证中间件
func TokenAuth(tokens *services.TokenService) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 跳过不需要认证的路由
		if skipAuth(c.Request.URL.Path) {
			c.Next()
			return
		}

		token := c.GetHeader(TokenHeader)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "msg": "未提供认证令牌"})
			return
		}

		// 解析令牌
		claims, err := tokens.Validate(token)
		if err != nil {
			logger.L().Debug("令牌校验失败", zap.String("path", c.Request.URL.Path), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "msg": services.ErrAuthInvalid.Error()})
			return
		}

		// 将用户信息存储在上下文中
		c.Set(ContextClaims, claims)
		c.Set(ContextUserID, claims.UserID)
		c.Next()
	}
}

// AdminOnly 只允许管理员调用，必须放在TokenAuth之后
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil || !models.IsAdminRole(claims.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "msg": "没有权限"})
			return
		}
		c.Next()
	}
}

// Claims 当前请求的令牌声明
func Claims(c *gin.Context) *services.TokenClaims {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*services.TokenClaims)
	return claims
}

// skipAuth 判断是否跳过认证
func skipAuth(path string) bool {
	// 不需要认证的路径列表，WebSocket在握手时自己校验查询参数中的令牌
	noAuthPaths := []string{
		"/ws",
		"/api/v1/appLogin",
	}

	for _, p := range noAuthPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
