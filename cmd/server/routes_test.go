package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houzhh15/eln-editsession/cmd/server/internal/audit"
	"github.com/houzhh15/eln-editsession/cmd/server/internal/config"
	"github.com/houzhh15/eln-editsession/cmd/server/internal/domain/notebook"
	"github.com/houzhh15/eln-editsession/cmd/server/internal/users"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newTestRouter(t *testing.T, store pinger) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	cfg := &config.Config{
		Server: config.ServerConfig{Env: "dev", Port: "8000"},
		Data: config.DataConfig{
			DataDir:      filepath.Join(dir, "data"),
			UsersDir:     filepath.Join(dir, "users"),
			AuditLogsDir: filepath.Join(dir, "audit"),
		},
	}

	repo, err := notebook.OpenRepository(cfg.Data.DataDir)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	if store == nil {
		store = repo
	}

	um, err := users.NewManager(cfg.Data.UsersDir, []byte("secret"), time.Hour)
	require.NoError(t, err)
	require.NoError(t, um.EnsureDefaultAdmin("admin-pw"))
	auditLogger, err := audit.NewFileAuditLogger(cfg.Data.AuditLogsDir)
	require.NoError(t, err)

	return newRouter(cfg, store, notebook.NewService(repo), um, auditLogger)
}

func TestHealthAndMetricsArePublic(t *testing.T) {
	r := newTestRouter(t, nil)

	for _, path := range []string{"/health", "/readiness", "/metrics"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/documents/x", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestReadinessReportsStoreFailure(t *testing.T) {
	r := newTestRouter(t, pingFunc(func(context.Context) error { return errors.New("db down") }))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readiness", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp ReadinessCheckResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Ready)
	assert.Equal(t, "fail", resp.Checks[0].Status)
	assert.Equal(t, "db down", resp.Checks[0].Error)
}
