package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/eln-editsession/cmd/server/internal/audit"
	"github.com/houzhh15/eln-editsession/cmd/server/internal/users"
	"github.com/houzhh15/eln-editsession/pkg/logger"
)

// Authenticator 登录所需的用户操作
type Authenticator interface {
	Authenticate(username, password string) (*users.User, error)
	GenerateToken(username string) (string, time.Time, error)
}

// HandleLogin POST /api/v1/auth/login
// 校验用户名密码并签发 JWT
func HandleLogin(auth Authenticator, auditLogger audit.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" {
			badRequestResponse(c, "username and password are required")
			return
		}

		u, err := auth.Authenticate(req.Username, req.Password)
		if err != nil {
			unauthorizedResponse(c, "invalid credentials")
			return
		}
		token, expiresAt, err := auth.GenerateToken(u.Username)
		if err != nil {
			logger.OrDefault().Error("token generation failed", "user", u.Username, "error", err)
			errorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to generate token")
			return
		}
		if err := auditLogger.LogActionSimple(u.Username, audit.ActionLogin, u.Username, c.ClientIP()); err != nil {
			logger.OrDefault().Warn("audit write failed", "action", audit.ActionLogin, "error", err)
		}

		c.JSON(http.StatusOK, gin.H{
			"token":     token,
			"username":  u.Username,
			"expiresAt": expiresAt.UnixMilli(),
		})
	}
}
