package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/houzhh15/eln-editsession/pkg/editsession"
	"github.com/houzhh15/eln-editsession/pkg/logger"
)

// Config 保存 CLI 全局配置
type Config struct {
	ServerURL string             `yaml:"server_url"`
	Token     string             `yaml:"token"`
	Username  string             `yaml:"username,omitempty"`
	LogLevel  string             `yaml:"log_level,omitempty"`
	Autosave  editsession.Policy `yaml:"autosave,omitempty"`
	Output    string             `yaml:"-"`
	path      string
}

// LoadConfig 从命令行标志、环境变量、配置文件加载配置（优先级从高到低）
func LoadConfig(cmd *cobra.Command) *Config {
	cfg := &Config{path: configPath(cmd)}

	loadConfigFile(cfg)

	// 环境变量覆盖配置文件
	if v := os.Getenv("ELN_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("ELN_TOKEN"); v != "" {
		cfg.Token = v
	}

	// 命令行标志覆盖环境变量
	if v, _ := cmd.Flags().GetString("server-url"); v != "" {
		cfg.ServerURL = v
	}
	if v, _ := cmd.Flags().GetString("token"); v != "" {
		cfg.Token = v
	}
	if v, _ := cmd.Flags().GetString("output"); v != "" {
		cfg.Output = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}

	// 默认值
	if cfg.ServerURL == "" {
		cfg.ServerURL = "http://localhost:8000"
	}
	if cfg.Output == "" {
		cfg.Output = "text"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "warn"
	}
	return cfg
}

// configPath 返回配置文件路径；--config 优先，否则 ~/.eln/config.yaml
func configPath(cmd *cobra.Command) string {
	if v, _ := cmd.Flags().GetString("config"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".eln", "config.yaml")
}

// loadConfigFile 读取配置文件，文件不存在时忽略
func loadConfigFile(cfg *Config) {
	if cfg.path == "" {
		return
	}
	data, err := os.ReadFile(cfg.path)
	if err != nil {
		return
	}
	_ = yaml.Unmarshal(data, cfg)
}

// Save 写回配置文件（登录后保存 token）
func (c *Config) Save() error {
	if c.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0600)
}

// newLogger 创建写往 stderr 的日志；级别无效时回退到 warn
func (c *Config) newLogger(w io.Writer) *slog.Logger {
	l, err := logger.New(logger.Config{Level: c.LogLevel, Environment: "cli", Output: w})
	if err != nil {
		l, _ = logger.New(logger.Config{Level: "warn", Environment: "cli", Output: w})
	}
	return l
}

// addGlobalFlags 为 root 命令添加全局标志
func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("server-url", "", "服务器地址 (env: ELN_SERVER_URL, 默认: http://localhost:8000)")
	cmd.PersistentFlags().String("token", "", "认证令牌 (env: ELN_TOKEN)")
	cmd.PersistentFlags().String("config", "", "配置文件 (默认: ~/.eln/config.yaml)")
	cmd.PersistentFlags().StringP("output", "o", "", "输出格式: json / text (默认: text)")
	cmd.PersistentFlags().String("log-level", "", "日志级别: debug/info/warn/error (默认: warn)")
}
