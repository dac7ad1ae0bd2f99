package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/houzhh15/eln-editsession/cmd/server/internal/users"
)

type stubParser map[string]string

func (s stubParser) ParseToken(token string) (*users.Claims, error) {
	if name, ok := s[token]; ok {
		return &users.Claims{Username: name}, nil
	}
	return nil, errors.New("bad token")
}

func newAuthRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Auth(stubParser{"good": "alice"}))
	r.GET("/api/v1/whoami", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("user")) })
	r.POST("/api/v1/auth/login", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestAuth(t *testing.T) {
	r := newAuthRouter()

	cases := []struct {
		name   string
		method string
		path   string
		header string
		code   int
		body   string
	}{
		{"valid token", http.MethodGet, "/api/v1/whoami", "Bearer good", http.StatusOK, "alice"},
		{"missing header", http.MethodGet, "/api/v1/whoami", "", http.StatusUnauthorized, "missing bearer token"},
		{"wrong scheme", http.MethodGet, "/api/v1/whoami", "Basic Zm9vOmJhcg==", http.StatusUnauthorized, "missing bearer token"},
		{"invalid token", http.MethodGet, "/api/v1/whoami", "Bearer nope", http.StatusUnauthorized, "invalid token"},
		{"login is public", http.MethodPost, "/api/v1/auth/login", "", http.StatusNoContent, ""},
		{"health is public", http.MethodGet, "/health", "", http.StatusOK, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code)
			assert.Contains(t, w.Body.String(), tc.body)
		})
	}
}
