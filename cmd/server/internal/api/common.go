package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// currentUser 获取认证中间件注入的用户名
func currentUser(c *gin.Context) string {
	if user, exists := c.Get("user"); exists {
		if username, ok := user.(string); ok {
			return username
		}
	}
	return ""
}

// errorResponse 返回带错误码的错误响应
func errorResponse(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error":   code,
		"message": message,
	})
}

// badRequestResponse 返回 400 响应
func badRequestResponse(c *gin.Context, message string) {
	errorResponse(c, http.StatusBadRequest, "INVALID_INPUT", message)
}

// unauthorizedResponse 返回 401 响应
func unauthorizedResponse(c *gin.Context, message string) {
	if message == "" {
		message = "unauthorized"
	}
	errorResponse(c, http.StatusUnauthorized, "UNAUTHORIZED", message)
}
