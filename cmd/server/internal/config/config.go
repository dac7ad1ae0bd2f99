package config

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Config 文档服务配置，全部来自环境变量
type Config struct {
	Server   ServerConfig
	Data     DataConfig
	Log      LogConfig
	Security SecurityConfig
	Editing  EditingConfig
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Env  string // dev, staging, production
	Port string
}

// DataConfig 数据目录配置
type DataConfig struct {
	DataDir      string // SQLite 数据库目录
	UsersDir     string
	AuditLogsDir string
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // console, json
	File   string // 为空时输出到 stdout
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	JWTSecret            string
	AdminDefaultPassword string
	TokenTTL             time.Duration
}

// EditingConfig 编辑锁配置
type EditingConfig struct {
	LockTTL           time.Duration // 编辑锁租期
	LockSweepInterval time.Duration // 过期锁清理周期
}

const (
	minSecretLength   = 32
	minAdminPassword  = 8
	minLockTTL        = time.Minute
	defaultLockTTL    = "30m"
	defaultTokenTTL   = "24h"
	defaultSweepEvery = "1m"
)

var (
	logLevels     = []string{"debug", "info", "warn", "error"}
	logFormats    = []string{"console", "json"}
	environments  = []string{"dev", "development", "staging", "production"}
	weakPasswords = []string{"admin", "admin123", "changeme", "password"}
)

// LoadConfig 从环境变量加载配置；时长格式错误时返回错误
func LoadConfig() (*Config, error) {
	var bad []string
	duration := func(key, def string) time.Duration {
		raw := getEnv(key, def)
		d, err := time.ParseDuration(raw)
		if err != nil {
			bad = append(bad, fmt.Sprintf("invalid %s: %s", key, raw))
		}
		return d
	}

	cfg := &Config{
		Server: ServerConfig{
			Env:  getEnv("ENV", "dev"),
			Port: getEnv("PORT", "8000"),
		},
		Data: DataConfig{
			DataDir:      getEnv("DATA_DIR", "./data"),
			UsersDir:     getEnv("USERS_DIR", "./users"),
			AuditLogsDir: getEnv("AUDIT_LOGS_DIR", "./audit_logs"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
			File:   os.Getenv("LOG_FILE"),
		},
		Security: SecurityConfig{
			JWTSecret:            os.Getenv("USER_JWT_SECRET"),
			AdminDefaultPassword: os.Getenv("ADMIN_DEFAULT_PASSWORD"),
			TokenTTL:             duration("TOKEN_TTL", defaultTokenTTL),
		},
		Editing: EditingConfig{
			LockTTL:           duration("LOCK_TTL", defaultLockTTL),
			LockSweepInterval: duration("LOCK_SWEEP_INTERVAL", defaultSweepEvery),
		},
	}
	if len(bad) > 0 {
		return nil, fmt.Errorf("configuration parse failed:\n  - %s", strings.Join(bad, "\n  - "))
	}
	return cfg, nil
}

// ValidateConfig 验证配置，汇总所有问题一次返回
func ValidateConfig(cfg *Config) error {
	var problems []string
	problems = append(problems, cfg.Server.validate()...)
	problems = append(problems, cfg.Log.validate()...)
	problems = append(problems, cfg.Security.validate(cfg.IsProduction())...)
	problems = append(problems, cfg.Editing.validate()...)

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func (s ServerConfig) validate() []string {
	var out []string
	if port, err := strconv.Atoi(s.Port); err != nil || port < 1 || port > 65535 {
		out = append(out, fmt.Sprintf("invalid PORT value: %s (must be 1-65535)", s.Port))
	}
	out = appendOneOf(out, "ENV", s.Env, environments)
	return out
}

func (l LogConfig) validate() []string {
	out := appendOneOf(nil, "LOG_LEVEL", l.Level, logLevels)
	return appendOneOf(out, "LOG_FORMAT", l.Format, logFormats)
}

// validate 生产环境额外要求强管理员密码
func (s SecurityConfig) validate(production bool) []string {
	var out []string
	switch {
	case s.JWTSecret == "":
		out = append(out, "USER_JWT_SECRET is required")
	case len(s.JWTSecret) < minSecretLength:
		out = append(out, fmt.Sprintf("USER_JWT_SECRET must be at least %d characters long", minSecretLength))
	}
	if s.TokenTTL <= 0 {
		out = append(out, "TOKEN_TTL must be positive")
	}
	if !production {
		return out
	}
	switch {
	case s.AdminDefaultPassword == "":
		out = append(out, "ADMIN_DEFAULT_PASSWORD is required in production environment")
	case slices.Contains(weakPasswords, s.AdminDefaultPassword):
		out = append(out, "ADMIN_DEFAULT_PASSWORD cannot be a weak/default password in production")
	case len(s.AdminDefaultPassword) < minAdminPassword:
		out = append(out, fmt.Sprintf("ADMIN_DEFAULT_PASSWORD must be at least %d characters long in production", minAdminPassword))
	}
	return out
}

func (e EditingConfig) validate() []string {
	var out []string
	if e.LockTTL < minLockTTL {
		out = append(out, fmt.Sprintf("LOCK_TTL must be at least %s, got %s", minLockTTL, e.LockTTL))
	}
	if e.LockSweepInterval <= 0 {
		out = append(out, "LOCK_SWEEP_INTERVAL must be positive")
	}
	return out
}

func appendOneOf(out []string, key, value string, allowed []string) []string {
	if slices.Contains(allowed, value) {
		return out
	}
	return append(out, fmt.Sprintf("invalid %s: %s (must be: %s)", key, value, strings.Join(allowed, ", ")))
}

// IsProduction 判断是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// IsDevelopment 判断是否为开发环境
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "dev" || c.Server.Env == "development"
}

// GetServerAddr 获取服务器监听地址
func (c *Config) GetServerAddr() string {
	return ":" + c.Server.Port
}

// LogValue 以结构化形式输出配置，密钥只显示是否设置
func (c *Config) LogValue() slog.Value {
	logFile := c.Log.File
	if logFile == "" {
		logFile = "<stdout>"
	}
	return slog.GroupValue(
		slog.String("env", c.Server.Env),
		slog.String("port", c.Server.Port),
		slog.String("data_dir", c.Data.DataDir),
		slog.String("users_dir", c.Data.UsersDir),
		slog.String("audit_logs_dir", c.Data.AuditLogsDir),
		slog.String("log_level", c.Log.Level),
		slog.String("log_format", c.Log.Format),
		slog.String("log_file", logFile),
		slog.Bool("jwt_secret_set", c.Security.JWTSecret != ""),
		slog.Bool("admin_password_set", c.Security.AdminDefaultPassword != ""),
		slog.Duration("token_ttl", c.Security.TokenTTL),
		slog.Duration("lock_ttl", c.Editing.LockTTL),
		slog.Duration("lock_sweep_interval", c.Editing.LockSweepInterval),
	)
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
