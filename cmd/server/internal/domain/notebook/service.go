package notebook

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/houzhh15/eln-editsession/cmd/server/internal/audit"
	"github.com/houzhh15/eln-editsession/cmd/server/internal/metrics"
	"github.com/houzhh15/eln-editsession/pkg/editsession"
	"github.com/houzhh15/eln-editsession/pkg/logger"
)

// DefaultLockTTL 编辑锁租期；每次自动保存都会续期
const DefaultLockTTL = 30 * time.Minute

// Service 文档编辑服务：编辑锁、字段自动保存与正式保存
type Service struct {
	repo    *Repository
	audit   audit.AuditLogger
	log     *slog.Logger
	lockTTL time.Duration
	now     func() time.Time

	stampMu   sync.Mutex
	lastStamp int64
}

// Option 服务配置项
type Option func(*Service)

// WithAudit 设置审计日志
func WithAudit(a audit.AuditLogger) Option {
	return func(s *Service) { s.audit = a }
}

// WithLogger 设置日志
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithLockTTL 设置编辑锁租期
func WithLockTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.lockTTL = d
		}
	}
}

// WithClock 替换时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService 创建服务
func NewService(repo *Repository, opts ...Option) *Service {
	s := &Service{
		repo:    repo,
		audit:   audit.Nop{},
		log:     logger.OrDefault(),
		lockTTL: DefaultLockTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "notebook")
	return s
}

func (s *Service) nowMs() int64 {
	return s.now().UnixMilli()
}

// stamp 返回严格递增的修改时间戳，同一毫秒内的多次写入也能被增量同步区分
func (s *Service) stamp() int64 {
	s.stampMu.Lock()
	defer s.stampMu.Unlock()
	ts := max(s.nowMs(), s.lastStamp+1)
	s.lastStamp = ts
	return ts
}

func (s *Service) record(operator string, action audit.AuditAction, resourceID, details string) {
	if err := s.audit.LogActionSimple(operator, action, resourceID, details); err != nil {
		s.log.Warn("audit write failed", "action", action, "resource_id", resourceID, "error", err)
	}
}

// CreateDocument 创建文档；创建者成为所有者
func (s *Service) CreateDocument(ctx context.Context, owner string, req CreateRequest) (*DocumentView, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, NewInvalidInputError("title is required")
	}
	for _, spec := range req.Fields {
		if err := validateSpec(spec); err != nil {
			return nil, err
		}
	}

	ts := s.stamp()
	doc := &Document{
		ID:         uuid.NewString(),
		Title:      req.Title,
		Owner:      owner,
		Writers:    req.Writers,
		Version:    1,
		CreatedAt:  ts,
		ModifiedAt: ts,
	}
	fields := make([]*Field, 0, len(req.Fields))
	for i, spec := range req.Fields {
		fields = append(fields, &Field{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Name:       spec.Name,
			Kind:       spec.Kind,
			Value:      spec.Value,
			SavedValue: spec.Value,
			Options:    spec.Options,
			Mandatory:  spec.Mandatory,
			Position:   i,
			ModifiedAt: ts,
		})
	}

	if err := s.repo.InsertDocument(ctx, doc, fields); err != nil {
		return nil, NewInternalError(doc.ID, err)
	}
	s.record(owner, audit.ActionDocumentCreated, doc.ID, doc.Title)
	s.log.Info("document created", "document_id", doc.ID, "owner", owner, "fields", len(fields))

	return &DocumentView{Document: *doc, EditStatus: editsession.StatusViewMode, Fields: fields}, nil
}

// GetDocument 返回文档及其字段；调用方持有编辑锁时 EditStatus 为 EDIT_MODE
func (s *Service) GetDocument(ctx context.Context, user, docID string) (*DocumentView, error) {
	doc, err := s.repo.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	fields, err := s.repo.ListFields(ctx, docID, 0, false)
	if err != nil {
		return nil, NewInternalError(docID, err)
	}
	view := &DocumentView{Document: *doc, EditStatus: editsession.StatusViewMode, Fields: fields}
	if doc.lockedBy(s.nowMs()) == user {
		view.EditStatus = editsession.StatusEditMode
	}
	return view, nil
}

// RequestEdit 申请编辑锁；已持有时续期并返回 EDIT_MODE
func (s *Service) RequestEdit(ctx context.Context, user, docID string) (editsession.LockResponse, error) {
	defer metrics.ObserveOperation("lock", time.Now())

	doc, err := s.repo.GetDocument(ctx, docID)
	if err != nil {
		return editsession.LockResponse{}, err
	}
	if !doc.CanWrite(user) {
		metrics.RecordLockDecision(string(editsession.StatusNoPermission))
		s.record(user, audit.ActionLockDenied, docID, "no permission")
		return editsession.LockResponse{Status: editsession.StatusNoPermission}, nil
	}

	now := s.nowMs()
	granted, err := s.repo.AcquireLock(ctx, docID, user, now, now+s.lockTTL.Milliseconds())
	if err != nil {
		return editsession.LockResponse{}, NewInternalError(docID, err)
	}
	if granted {
		metrics.RecordLockDecision(string(editsession.StatusEditMode))
		if doc.lockedBy(now) != user {
			s.record(user, audit.ActionLockGranted, docID, "")
			s.log.Info("edit lock granted", "document_id", docID, "user", user)
		}
		return editsession.LockResponse{Status: editsession.StatusEditMode}, nil
	}

	current, err := s.repo.GetDocument(ctx, docID)
	if err != nil {
		return editsession.LockResponse{}, err
	}
	metrics.RecordLockDecision(string(editsession.StatusOtherEditing))
	s.record(user, audit.ActionLockDenied, docID, "held by "+current.LockHolder)
	return editsession.LockResponse{Status: editsession.StatusOtherEditing, EditorUsername: current.LockHolder}, nil
}

// FetchFields 返回 since 之后修改的字段；since 为 0 时返回全部现存字段，否则包含删除标记
func (s *Service) FetchFields(ctx context.Context, user, docID string, since int64) ([]editsession.FieldUpdate, error) {
	defer metrics.ObserveOperation("fetch", time.Now())

	if _, err := s.repo.GetDocument(ctx, docID); err != nil {
		return nil, err
	}
	fields, err := s.repo.ListFields(ctx, docID, since, since > 0)
	if err != nil {
		return nil, NewInternalError(docID, err)
	}
	out := make([]editsession.FieldUpdate, 0, len(fields))
	for _, f := range fields {
		out = append(out, f.Update())
	}
	return out, nil
}

// requireLock 校验调用方持有未过期的编辑锁
func (s *Service) requireLock(ctx context.Context, user, docID string) (*Document, error) {
	doc, err := s.repo.GetDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.lockedBy(s.nowMs()) != user {
		return nil, NewLockNotHeldError(docID, user)
	}
	return doc, nil
}

// AutosaveField 写入字段工作值；校验失败返回 success=false 与提示信息
func (s *Service) AutosaveField(ctx context.Context, user, fieldID string, kind editsession.FieldKind, raw string) (editsession.AutosaveResponse, error) {
	defer metrics.ObserveOperation("autosave", time.Now())

	f, err := s.repo.GetField(ctx, fieldID)
	if err != nil {
		metrics.RecordAutosave("error")
		return editsession.AutosaveResponse{}, err
	}
	if f.Deleted {
		metrics.RecordAutosave("error")
		return editsession.AutosaveResponse{}, NewFieldNotFoundError(fieldID)
	}
	if _, err := s.requireLock(ctx, user, f.DocumentID); err != nil {
		metrics.RecordAutosave("lock_not_held")
		return editsession.AutosaveResponse{}, err
	}
	if kind != "" && kind != f.Kind {
		metrics.RecordAutosave("invalid")
		return editsession.AutosaveResponse{}, NewInvalidInputError(fmt.Sprintf("field %s is %s, not %s", f.Name, f.Kind, kind))
	}
	if msg := ValidateValue(f, raw); msg != "" {
		metrics.RecordAutosave("invalid")
		return editsession.AutosaveResponse{Success: false, ValidationError: msg}, nil
	}

	if f.Value != raw {
		if err := s.repo.UpdateFieldValue(ctx, fieldID, raw, s.stamp()); err != nil {
			metrics.RecordAutosave("error")
			return editsession.AutosaveResponse{}, NewInternalError(f.DocumentID, err)
		}
	}
	now := s.nowMs()
	if _, err := s.repo.AcquireLock(ctx, f.DocumentID, user, now, now+s.lockTTL.Milliseconds()); err != nil {
		s.log.Warn("lock lease refresh failed", "document_id", f.DocumentID, "error", err)
	}
	metrics.RecordAutosave("success")
	return editsession.AutosaveResponse{Success: true}, nil
}

// Save 提交所有字段工作值；unlock 为 true 时同时释放编辑锁
func (s *Service) Save(ctx context.Context, user, docID string, unlock bool) (editsession.SaveResponse, error) {
	defer metrics.ObserveOperation("save", time.Now())

	if _, err := s.requireLock(ctx, user, docID); err != nil {
		return editsession.SaveResponse{}, err
	}
	changed, version, err := s.repo.CommitSave(ctx, docID, s.stamp(), unlock)
	if err != nil {
		return editsession.SaveResponse{}, NewInternalError(docID, err)
	}

	metrics.RecordSave(changed, unlock)
	s.record(user, audit.ActionDocumentSaved, docID, fmt.Sprintf("version=%d changed=%t unlock=%t", version, changed, unlock))
	if unlock {
		s.record(user, audit.ActionDocumentUnlocked, docID, "save")
	}
	s.log.Info("document saved", "document_id", docID, "user", user, "version", version, "changed", changed, "unlock", unlock)

	return editsession.SaveResponse{
		Success:        true,
		ContentChanged: changed,
		RedirectURL:    "/documents/" + docID,
	}, nil
}

// Unlock 释放调用方持有的编辑锁；未持有时不做任何事
func (s *Service) Unlock(ctx context.Context, user, docID string) error {
	defer metrics.ObserveOperation("unlock", time.Now())

	if _, err := s.repo.GetDocument(ctx, docID); err != nil {
		return err
	}
	released, err := s.repo.ReleaseLock(ctx, docID, user)
	if err != nil {
		return NewInternalError(docID, err)
	}
	if released {
		s.record(user, audit.ActionDocumentUnlocked, docID, "")
		s.log.Info("edit lock released", "document_id", docID, "user", user)
	}
	return nil
}

// AddField 向持锁文档追加字段
func (s *Service) AddField(ctx context.Context, user, docID string, spec FieldSpec) (*Field, error) {
	if _, err := s.requireLock(ctx, user, docID); err != nil {
		return nil, err
	}
	if err := validateSpec(spec); err != nil {
		return nil, err
	}
	pos, err := s.repo.NextPosition(ctx, docID)
	if err != nil {
		return nil, NewInternalError(docID, err)
	}
	f := &Field{
		ID:         uuid.NewString(),
		DocumentID: docID,
		Name:       spec.Name,
		Kind:       spec.Kind,
		Value:      spec.Value,
		SavedValue: spec.Value,
		Options:    spec.Options,
		Mandatory:  spec.Mandatory,
		Position:   pos,
		ModifiedAt: s.stamp(),
	}
	if err := s.repo.InsertField(ctx, f); err != nil {
		return nil, NewInternalError(docID, err)
	}
	s.record(user, audit.ActionFieldAdded, docID, f.ID+" "+f.Name)
	return f, nil
}

// DeleteField 删除持锁文档中的字段
func (s *Service) DeleteField(ctx context.Context, user, fieldID string) error {
	f, err := s.repo.GetField(ctx, fieldID)
	if err != nil {
		return err
	}
	if f.Deleted {
		return NewFieldNotFoundError(fieldID)
	}
	if _, err := s.requireLock(ctx, user, f.DocumentID); err != nil {
		return err
	}
	if err := s.repo.MarkFieldDeleted(ctx, f.DocumentID, fieldID, s.stamp()); err != nil {
		return NewInternalError(f.DocumentID, err)
	}
	s.record(user, audit.ActionFieldDeleted, f.DocumentID, f.ID+" "+f.Name)
	return nil
}

// ReleaseExpiredLocks 清理过期编辑锁
func (s *Service) ReleaseExpiredLocks(ctx context.Context) (int64, error) {
	n, err := s.repo.ReleaseExpiredLocks(ctx, s.nowMs())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		metrics.RecordExpiredLocks(n)
		s.record("system", audit.ActionLockExpired, "", fmt.Sprintf("released=%d", n))
		s.log.Info("expired edit locks released", "count", n)
	}
	return n, nil
}

// RunLockSweeper 按 interval 周期清理过期锁，直到 ctx 结束
func (s *Service) RunLockSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ReleaseExpiredLocks(ctx); err != nil {
				s.log.Error("lock sweep failed", "error", err)
			}
		}
	}
}
