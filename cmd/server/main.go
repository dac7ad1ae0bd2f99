package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/houzhh15/eln-editsession/cmd/server/internal/audit"
	"github.com/houzhh15/eln-editsession/cmd/server/internal/config"
	"github.com/houzhh15/eln-editsession/cmd/server/internal/domain/notebook"
	"github.com/houzhh15/eln-editsession/cmd/server/internal/users"
	"github.com/houzhh15/eln-editsession/pkg/logger"
)

// generateRandomPassword generates a cryptographically secure random password
func generateRandomPassword(length int) string {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		panic(fmt.Sprintf("failed to generate random password: %v", err))
	}
	return base64.URLEncoding.EncodeToString(bytes)[:length]
}

func main() {
	logEnv := os.Getenv("ENV")
	if strings.EqualFold(os.Getenv("LOG_FORMAT"), "json") {
		logEnv = "prod"
	}
	logInstance, err := logger.Init(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: logEnv,
		WithSource:  !strings.EqualFold(os.Getenv("ENV"), "production"),
		File:        os.Getenv("LOG_FILE"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	appLogger := logInstance.With("component", "eln-server")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		appLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := config.ValidateConfig(cfg); err != nil {
		appLogger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	appLogger.Debug("configuration", "config", cfg)
	appLogger.Info("configuration loaded", "env", cfg.Server.Env, "port", cfg.Server.Port)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Open document store
	repo, err := notebook.OpenRepository(cfg.Data.DataDir)
	if err != nil {
		appLogger.Error("document store init failed", "error", err)
		os.Exit(1)
	}
	defer repo.Close()
	appLogger.Info("document store ready", "dir", cfg.Data.DataDir)

	// Initialize user manager
	userManager, err := users.NewManager(cfg.Data.UsersDir, []byte(cfg.Security.JWTSecret), cfg.Security.TokenTTL)
	if err != nil {
		appLogger.Error("user manager init failed", "error", err)
		os.Exit(1)
	}

	// Ensure default admin with config-based password
	adminPassword := cfg.Security.AdminDefaultPassword
	if adminPassword == "" {
		if cfg.IsDevelopment() {
			adminPassword = generateRandomPassword(16)
			appLogger.Warn("generated random admin password", "password", adminPassword)
		} else {
			appLogger.Error("admin default password not set in production/staging")
			os.Exit(1)
		}
	}
	if err := userManager.EnsureDefaultAdmin(adminPassword); err != nil {
		appLogger.Warn("failed to ensure default admin", "error", err)
	}

	// Initialize audit logger
	auditLogger, err := audit.NewFileAuditLogger(cfg.Data.AuditLogsDir)
	if err != nil {
		appLogger.Error("audit logger init failed", "error", err)
		os.Exit(1)
	}
	appLogger.Info("audit logger ready", "dir", cfg.Data.AuditLogsDir)

	svc := notebook.NewService(repo,
		notebook.WithAudit(auditLogger),
		notebook.WithLogger(logInstance),
		notebook.WithLockTTL(cfg.Editing.LockTTL),
	)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go svc.RunLockSweeper(sweepCtx, cfg.Editing.LockSweepInterval)

	r := newRouter(cfg, repo, svc, userManager, auditLogger)

	// Create HTTP server with graceful shutdown
	srv := &http.Server{
		Addr:              cfg.GetServerAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.Info("server starting", "addr", srv.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-quit
	appLogger.Info("shutdown signal received, shutting down server...")
	stopSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	appLogger.Info("server shutdown complete")
}
