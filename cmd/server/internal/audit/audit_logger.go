package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditAction 审计日志操作类型
type AuditAction string

const (
	ActionDocumentCreated  AuditAction = "document_created"
	ActionLockGranted      AuditAction = "lock_granted"
	ActionLockDenied       AuditAction = "lock_denied"
	ActionLockExpired      AuditAction = "lock_expired"
	ActionDocumentSaved    AuditAction = "document_saved"
	ActionDocumentUnlocked AuditAction = "document_unlocked"
	ActionFieldAdded       AuditAction = "field_added"
	ActionFieldDeleted     AuditAction = "field_deleted"
	ActionLogin            AuditAction = "login"
)

// AuditEntry 审计日志条目
type AuditEntry struct {
	Timestamp  time.Time   `json:"timestamp"`
	Operator   string      `json:"operator"`          // 操作者用户名
	Action     AuditAction `json:"action"`            // 操作类型
	ResourceID string      `json:"resource_id"`       // 资源标识 (document_id, field_id)
	Before     interface{} `json:"before,omitempty"`  // 操作前状态
	After      interface{} `json:"after,omitempty"`   // 操作后状态
	Details    string      `json:"details,omitempty"` // 额外详情
}

// AuditLogger 审计日志记录器接口
type AuditLogger interface {
	// LogAction 记录审计日志
	LogAction(operator string, action AuditAction, resourceID string, before, after interface{}, details string) error

	// LogActionSimple 记录简单审计日志 (不包含before/after)
	LogActionSimple(operator string, action AuditAction, resourceID string, details string) error
}

// Nop 丢弃所有审计记录
type Nop struct{}

func (Nop) LogAction(string, AuditAction, string, interface{}, interface{}, string) error { return nil }
func (Nop) LogActionSimple(string, AuditAction, string, string) error                    { return nil }

// FileAuditLogger 基于文件的审计日志实现
type FileAuditLogger struct {
	baseDir string // 审计日志根目录
	now     func() time.Time
	mu      sync.Mutex
}

// NewFileAuditLogger 创建文件审计日志记录器
func NewFileAuditLogger(baseDir string) (*FileAuditLogger, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit logs directory: %w", err)
	}
	return &FileAuditLogger{baseDir: baseDir, now: time.Now}, nil
}

// LogAction 记录审计日志到 JSONL 文件 (按日期分组)
func (f *FileAuditLogger) LogAction(operator string, action AuditAction, resourceID string, before, after interface{}, details string) error {
	return f.writeEntry(AuditEntry{
		Timestamp:  f.now().UTC(),
		Operator:   operator,
		Action:     action,
		ResourceID: resourceID,
		Before:     before,
		After:      after,
		Details:    details,
	})
}

// LogActionSimple 记录简单审计日志
func (f *FileAuditLogger) LogActionSimple(operator string, action AuditAction, resourceID string, details string) error {
	return f.LogAction(operator, action, resourceID, nil, nil, details)
}

func (f *FileAuditLogger) pathFor(t time.Time) string {
	return filepath.Join(f.baseDir, t.Format("2006"), t.Format("01"), t.Format("02")+".jsonl")
}

// writeEntry 追加写入 {year}/{month}/{day}.jsonl
func (f *FileAuditLogger) writeEntry(entry AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	filePath := f.pathFor(entry.Timestamp)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create audit log directory: %w", err)
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open audit log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write audit entry: %w", err)
	}
	return nil
}

// GetAuditLogs 读取日期范围内的审计日志；resourceID 为空时不过滤
func (f *FileAuditLogger) GetAuditLogs(startDate, endDate time.Time, resourceID string) ([]AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	startDate = truncateDay(startDate.UTC())
	endDate = truncateDay(endDate.UTC())

	var entries []AuditEntry
	for d := startDate; !d.After(endDate); d = d.AddDate(0, 0, 1) {
		found, err := readDay(f.pathFor(d), resourceID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, found...)
	}
	return entries, nil
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func readDay(path, resourceID string) ([]AuditEntry, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read audit log file %s: %w", path, err)
	}
	defer file.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit entry at %s:%d: %w", path, line, err)
		}
		if resourceID == "" || entry.ResourceID == resourceID {
			entries = append(entries, entry)
		}
	}
	return entries, scanner.Err()
}
