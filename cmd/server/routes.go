package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/houzhh15/eln-editsession/cmd/server/internal/api"
	"github.com/houzhh15/eln-editsession/cmd/server/internal/audit"
	"github.com/houzhh15/eln-editsession/cmd/server/internal/config"
	"github.com/houzhh15/eln-editsession/cmd/server/internal/domain/notebook"
	"github.com/houzhh15/eln-editsession/cmd/server/internal/middleware"
	"github.com/houzhh15/eln-editsession/cmd/server/internal/users"
)

// pinger 就绪检查所需的存储探活
type pinger interface {
	Ping(ctx context.Context) error
}

// newRouter 组装中间件与路由
func newRouter(cfg *config.Config, store pinger, svc *notebook.Service, userManager *users.Manager, auditLogger *audit.FileAuditLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())

	// 免认证路由
	startTime := time.Now()
	r.GET("/health", healthCheckHandler(cfg, startTime))
	r.GET("/readiness", readinessCheckHandler(cfg, store))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.Use(middleware.Auth(userManager))
	r.POST("/api/v1/auth/login", api.HandleLogin(userManager, auditLogger))

	v1 := r.Group("/api/v1")
	api.RegisterNotebookRoutes(v1, svc)
	v1.GET("/documents/:id/audit", api.HandleDocumentAudit(auditLogger))
	return r
}

// HealthCheckResponse represents the response from the health check endpoint
type HealthCheckResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	Timestamp time.Time `json:"timestamp"`
	Env       string    `json:"env"`
}

// ReadinessCheckResponse represents the response from the readiness check endpoint
type ReadinessCheckResponse struct {
	Ready     bool             `json:"ready"`
	Checks    []ReadinessCheck `json:"checks"`
	Timestamp time.Time        `json:"timestamp"`
}

// ReadinessCheck represents a single readiness check
type ReadinessCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok" or "fail"
	Error  string `json:"error,omitempty"`
}

// healthCheckHandler returns the liveness probe handler
func healthCheckHandler(cfg *config.Config, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthCheckResponse{
			Status:    "healthy",
			Service:   "eln-server",
			Version:   "1.0.0",
			Uptime:    time.Since(startTime).String(),
			Timestamp: time.Now(),
			Env:       cfg.Server.Env,
		})
	}
}

// readinessCheckHandler returns the readiness probe handler
func readinessCheckHandler(cfg *config.Config, store pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := []ReadinessCheck{}
		allReady := true

		dbCheck := ReadinessCheck{Name: "document_store", Status: "ok"}
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			dbCheck.Status = "fail"
			dbCheck.Error = err.Error()
			allReady = false
		}
		checks = append(checks, dbCheck)

		for _, d := range []struct{ name, dir string }{
			{"users_dir", cfg.Data.UsersDir},
			{"audit_logs_dir", cfg.Data.AuditLogsDir},
		} {
			check := ReadinessCheck{Name: d.name, Status: "ok"}
			if !checkDataDirAccessible(d.dir) {
				check.Status = "fail"
				check.Error = d.dir + " not accessible"
				allReady = false
			}
			checks = append(checks, check)
		}

		httpStatus := http.StatusOK
		if !allReady {
			httpStatus = http.StatusServiceUnavailable
		}
		c.JSON(httpStatus, ReadinessCheckResponse{Ready: allReady, Checks: checks, Timestamp: time.Now()})
	}
}

// checkDataDirAccessible checks if a directory is accessible
func checkDataDirAccessible(dir string) bool {
	info, err := os.Stat(dir)
	if err != nil {
		return false
	}
	return info.IsDir()
}
