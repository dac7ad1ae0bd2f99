package notebook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// schemaVersion 当前数据库结构版本
const schemaVersion = 1

var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS documents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		owner TEXT NOT NULL,
		writers TEXT NOT NULL DEFAULT '[]',
		version INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL,
		modified_at INTEGER NOT NULL,
		lock_holder TEXT NOT NULL DEFAULT '',
		lock_expires_at INTEGER NOT NULL DEFAULT 0,
		structure_changed INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS fields (
		id TEXT PRIMARY KEY,
		document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		value TEXT NOT NULL DEFAULT '',
		saved_value TEXT NOT NULL DEFAULT '',
		options TEXT NOT NULL DEFAULT '[]',
		mandatory INTEGER NOT NULL DEFAULT 0,
		position INTEGER NOT NULL,
		modified_at INTEGER NOT NULL,
		deleted INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_fields_document_modified ON fields(document_id, modified_at)`,
}

// Repository SQLite 持久化
type Repository struct {
	db *sql.DB
}

// OpenRepository 打开（必要时创建）dataDir 下的数据库并执行迁移
func OpenRepository(dataDir string) (*Repository, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dataDir, "notebook.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite 单写者
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL;", "PRAGMA foreign_keys=ON;", "PRAGMA busy_timeout=5000;"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	r := &Repository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

// migrate 创建表结构并记录版本
func (r *Repository) migrate() error {
	if _, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var current int
	if err := r.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, stmt := range schemaV1 {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("migration %d failed: %w", schemaVersion, err)
		}
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, strftime('%s','now'))", schemaVersion); err != nil {
		return err
	}
	return tx.Commit()
}

// Close 关闭数据库
func (r *Repository) Close() error {
	return r.db.Close()
}

// Ping 检查数据库可用
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const documentColumns = "id, title, owner, writers, version, created_at, modified_at, lock_holder, lock_expires_at"

const fieldColumns = "id, document_id, name, kind, value, saved_value, options, mandatory, position, modified_at, deleted"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var d Document
	var writers string
	if err := row.Scan(&d.ID, &d.Title, &d.Owner, &writers, &d.Version, &d.CreatedAt, &d.ModifiedAt, &d.LockHolder, &d.LockExpiresAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(writers), &d.Writers); err != nil {
		return nil, fmt.Errorf("decode writers of %s: %w", d.ID, err)
	}
	return &d, nil
}

func scanField(row rowScanner) (*Field, error) {
	var f Field
	var options string
	if err := row.Scan(&f.ID, &f.DocumentID, &f.Name, &f.Kind, &f.Value, &f.SavedValue, &options, &f.Mandatory, &f.Position, &f.ModifiedAt, &f.Deleted); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(options), &f.Options); err != nil {
		return nil, fmt.Errorf("decode options of %s: %w", f.ID, err)
	}
	return &f, nil
}

func encodeList(list []string) string {
	if list == nil {
		list = []string{}
	}
	b, _ := json.Marshal(list)
	return string(b)
}

// InsertDocument 在同一事务中写入文档及其字段
func (r *Repository) InsertDocument(ctx context.Context, d *Document, fields []*Field) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO documents ("+documentColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		d.ID, d.Title, d.Owner, encodeList(d.Writers), d.Version, d.CreatedAt, d.ModifiedAt, d.LockHolder, d.LockExpiresAt,
	); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	for _, f := range fields {
		if err := insertField(ctx, tx, f); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertField(ctx context.Context, db execer, f *Field) error {
	_, err := db.ExecContext(ctx,
		"INSERT INTO fields ("+fieldColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		f.ID, f.DocumentID, f.Name, string(f.Kind), f.Value, f.SavedValue, encodeList(f.Options), f.Mandatory, f.Position, f.ModifiedAt, f.Deleted,
	)
	if err != nil {
		return fmt.Errorf("insert field %s: %w", f.Name, err)
	}
	return nil
}

// InsertField 追加字段并标记文档结构变更
func (r *Repository) InsertField(ctx context.Context, f *Field) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := insertField(ctx, tx, f); err != nil {
		return err
	}
	if err := markStructureChanged(ctx, tx, f.DocumentID); err != nil {
		return err
	}
	return tx.Commit()
}

func markStructureChanged(ctx context.Context, db execer, docID string) error {
	if _, err := db.ExecContext(ctx, "UPDATE documents SET structure_changed = 1 WHERE id = ?", docID); err != nil {
		return fmt.Errorf("mark structure changed: %w", err)
	}
	return nil
}

// NextPosition 返回文档下一个字段序号
func (r *Repository) NextPosition(ctx context.Context, docID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(position), -1) + 1 FROM fields WHERE document_id = ?", docID).Scan(&n)
	return n, err
}

// GetDocument 读取文档
func (r *Repository) GetDocument(ctx context.Context, id string) (*Document, error) {
	d, err := scanDocument(r.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewDocNotFoundError(id)
	}
	return d, err
}

// ListFields 列出 since 之后修改的字段；includeDeleted 为 false 时跳过已删除字段
func (r *Repository) ListFields(ctx context.Context, docID string, since int64, includeDeleted bool) ([]*Field, error) {
	var q strings.Builder
	q.WriteString("SELECT " + fieldColumns + " FROM fields WHERE document_id = ? AND modified_at > ?")
	if !includeDeleted {
		q.WriteString(" AND deleted = 0")
	}
	q.WriteString(" ORDER BY position")

	rows, err := r.db.QueryContext(ctx, q.String(), docID, since)
	if err != nil {
		return nil, fmt.Errorf("list fields: %w", err)
	}
	defer rows.Close()

	var out []*Field
	for rows.Next() {
		f, err := scanField(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetField 读取字段（含已删除）
func (r *Repository) GetField(ctx context.Context, id string) (*Field, error) {
	f, err := scanField(r.db.QueryRowContext(ctx, "SELECT "+fieldColumns+" FROM fields WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NewFieldNotFoundError(id)
	}
	return f, err
}

// AcquireLock 在锁空闲、已过期或已属于 holder 时授予锁，返回是否成功
func (r *Repository) AcquireLock(ctx context.Context, docID, holder string, nowMs, expiresAt int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE documents SET lock_holder = ?, lock_expires_at = ?
		 WHERE id = ? AND (lock_holder = '' OR lock_holder = ? OR lock_expires_at <= ?)`,
		holder, expiresAt, docID, holder, nowMs,
	)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReleaseLock 释放 holder 持有的锁
func (r *Repository) ReleaseLock(ctx context.Context, docID, holder string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE documents SET lock_holder = '', lock_expires_at = 0 WHERE id = ? AND lock_holder = ?",
		docID, holder,
	)
	if err != nil {
		return false, fmt.Errorf("release lock: %w", err)
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// ReleaseExpiredLocks 清理过期锁，返回清理数量
func (r *Repository) ReleaseExpiredLocks(ctx context.Context, nowMs int64) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE documents SET lock_holder = '', lock_expires_at = 0 WHERE lock_holder != '' AND lock_expires_at <= ?",
		nowMs,
	)
	if err != nil {
		return 0, fmt.Errorf("release expired locks: %w", err)
	}
	return res.RowsAffected()
}

// UpdateFieldValue 写入字段工作值
func (r *Repository) UpdateFieldValue(ctx context.Context, fieldID, value string, modifiedAt int64) error {
	_, err := r.db.ExecContext(ctx, "UPDATE fields SET value = ?, modified_at = ? WHERE id = ?", value, modifiedAt, fieldID)
	if err != nil {
		return fmt.Errorf("update field: %w", err)
	}
	return nil
}

// MarkFieldDeleted 标记字段删除；保留记录以便客户端同步时移除
func (r *Repository) MarkFieldDeleted(ctx context.Context, docID, fieldID string, modifiedAt int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "UPDATE fields SET deleted = 1, modified_at = ? WHERE id = ?", modifiedAt, fieldID); err != nil {
		return fmt.Errorf("delete field: %w", err)
	}
	if err := markStructureChanged(ctx, tx, docID); err != nil {
		return err
	}
	return tx.Commit()
}

// CommitSave 将工作值提交为正式值；有变更时递增版本，可选释放锁
func (r *Repository) CommitSave(ctx context.Context, docID string, nowMs int64, unlock bool) (changed bool, version int, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback()

	var pending int
	if err := tx.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM fields WHERE document_id = ? AND deleted = 0 AND value != saved_value)
		      + (SELECT structure_changed FROM documents WHERE id = ?)`,
		docID, docID,
	).Scan(&pending); err != nil {
		return false, 0, fmt.Errorf("count changes: %w", err)
	}
	changed = pending > 0

	if changed {
		if _, err := tx.ExecContext(ctx,
			"UPDATE fields SET saved_value = value WHERE document_id = ? AND deleted = 0",
			docID,
		); err != nil {
			return false, 0, fmt.Errorf("commit fields: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE documents SET version = version + 1, modified_at = ?, structure_changed = 0 WHERE id = ?",
			nowMs, docID,
		); err != nil {
			return false, 0, fmt.Errorf("bump version: %w", err)
		}
	}
	if unlock {
		if _, err := tx.ExecContext(ctx,
			"UPDATE documents SET lock_holder = '', lock_expires_at = 0 WHERE id = ?",
			docID,
		); err != nil {
			return false, 0, fmt.Errorf("release lock: %w", err)
		}
	}
	if err := tx.QueryRowContext(ctx, "SELECT version FROM documents WHERE id = ?", docID).Scan(&version); err != nil {
		return false, 0, err
	}
	return changed, version, tx.Commit()
}
