package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/eln-editsession/cmd/server/internal/users"
	"github.com/houzhh15/eln-editsession/pkg/logger"
)

// TokenParser 解析 bearer token
type TokenParser interface {
	ParseToken(token string) (*users.Claims, error)
}

// publicPaths 免认证路由
var publicPaths = map[string]bool{
	"/api/v1/auth/login": true,
	"/health":            true,
	"/metrics":           true,
}

// Auth 校验 bearer token 并把用户名写入 context 的 "user"
func Auth(parser TokenParser) gin.HandlerFunc {
	authLogger := logger.OrDefault().With("component", "auth")
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if publicPaths[path] || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}
		auth := c.GetHeader("Authorization")
		if len(auth) < 8 || !strings.HasPrefix(auth, "Bearer ") {
			authLogger.Warn("missing bearer token", "method", c.Request.Method, "path", path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": "missing bearer token"})
			return
		}
		claims, err := parser.ParseToken(auth[7:])
		if err != nil {
			authLogger.Warn("invalid token", "method", c.Request.Method, "path", path, "error", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "UNAUTHORIZED", "message": "invalid token"})
			return
		}
		c.Set("user", claims.Username)
		c.Next()
	}
}
