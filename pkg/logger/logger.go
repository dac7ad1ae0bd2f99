package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 定义日志初始化配置
// Level 支持 debug/info/warn/error，Environment 支持 prod/dev 等
// WithSource 控制是否记录源码位置
// File 非空时写入滚动日志文件（lumberjack）；否则写 Output，Output 为空时写 stdout
// Default 对于未提供 level/环境时采用 info 与文本格式
type Config struct {
	Level       string
	Environment string
	WithSource  bool
	File        string
	Output      io.Writer
	MaxSizeMB   int
	MaxBackups  int
	MaxAgeDays  int
}

var (
	global *slog.Logger
	once   sync.Once
)

func levelFromString(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, errors.New("invalid log level: " + level)
	}
}

// output 选择日志输出目标
func output(cfg Config) io.Writer {
	if cfg.File == "" {
		if cfg.Output != nil {
			return cfg.Output
		}
		return os.Stdout
	}
	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    maxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}

// New 根据配置创建新的 slog.Logger，不设置全局实例
func New(cfg Config) (*slog.Logger, error) {
	lvl, err := levelFromString(cfg.Level)
	if err != nil {
		return nil, err
	}

	handlerOpts := &slog.HandlerOptions{Level: lvl, AddSource: cfg.WithSource}
	w := output(cfg)
	var handler slog.Handler
	if strings.ToLower(cfg.Environment) == "prod" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}

	return slog.New(handler), nil
}

// Init 初始化全局日志实例，重复调用将返回首次创建的 logger
func Init(cfg Config) (*slog.Logger, error) {
	var initErr error
	once.Do(func() {
		global, initErr = New(cfg)
	})
	return global, initErr
}

// L 返回已初始化的全局 logger，未初始化时 panic
func L() *slog.Logger {
	if global == nil {
		panic("logger.Init must be called before logger.L")
	}
	return global
}

// OrDefault 返回全局 logger；未初始化时回退到 slog.Default()
func OrDefault() *slog.Logger {
	if global == nil {
		return slog.Default()
	}
	return global
}

// LogFieldWrite 记录单个字段自动保存请求的结构化日志
// documentID: 文档 ID
// fieldID: 字段 ID
// outcome: success/invalid/failed
// durationMs: 请求耗时（毫秒）
// status: 失败时的 HTTP 状态码（超时为 0）
func LogFieldWrite(logger *slog.Logger, documentID, fieldID, outcome string, durationMs int64, status int) {
	attrs := []slog.Attr{
		slog.String("document_id", documentID),
		slog.String("field_id", fieldID),
		slog.String("outcome", outcome),
		slog.Int64("duration_ms", durationMs),
	}

	if outcome == "failed" {
		attrs = append(attrs, slog.Int("status", status))
		logger.LogAttrs(context.Background(), slog.LevelWarn, "Field autosave failed", attrs...)
	} else {
		logger.LogAttrs(context.Background(), slog.LevelDebug, "Field autosave", attrs...)
	}
}
