package notebook

import (
	"github.com/houzhh15/eln-editsession/pkg/editsession"
)

// Document 笔记文档；时间戳均为毫秒
type Document struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Owner         string   `json:"owner"`
	Writers       []string `json:"writers,omitempty"`
	Version       int      `json:"version"`
	CreatedAt     int64    `json:"createdAt"`
	ModifiedAt    int64    `json:"modifiedAt"`
	LockHolder    string   `json:"lockHolder,omitempty"`
	LockExpiresAt int64    `json:"lockExpiresAt,omitempty"`
}

// CanWrite 所有者或 Writers 中的用户可编辑
func (d *Document) CanWrite(user string) bool {
	if user == d.Owner {
		return true
	}
	for _, w := range d.Writers {
		if w == user {
			return true
		}
	}
	return false
}

// lockedBy 返回未过期的锁持有者
func (d *Document) lockedBy(nowMs int64) string {
	if d.LockHolder == "" || d.LockExpiresAt <= nowMs {
		return ""
	}
	return d.LockHolder
}

// Field 文档字段
// Value 为最近一次自动保存的工作值，SavedValue 为最近一次正式保存的值
type Field struct {
	ID         string                `json:"id"`
	DocumentID string                `json:"documentId"`
	Name       string                `json:"name"`
	Kind       editsession.FieldKind `json:"kind"`
	Value      string                `json:"value"`
	SavedValue string                `json:"-"`
	Options    []string              `json:"options,omitempty"`
	Mandatory  bool                  `json:"mandatory"`
	Position   int                   `json:"-"`
	ModifiedAt int64                 `json:"modifiedAt"`
	Deleted    bool                  `json:"-"`
}

// MandatorySatisfied 必填字段是否已填写
func (f *Field) MandatorySatisfied() bool {
	return !f.Mandatory || f.Value != ""
}

// Update 转换为字段同步响应
func (f *Field) Update() editsession.FieldUpdate {
	return editsession.FieldUpdate{
		FieldID:               f.ID,
		Kind:                  f.Kind,
		Value:                 f.Value,
		ModificationTimestamp: f.ModifiedAt,
		MandatorySatisfied:    f.MandatorySatisfied(),
		Deleted:               f.Deleted,
	}
}

// DocumentView 对当前用户呈现的文档
type DocumentView struct {
	Document
	EditStatus editsession.EditStatus `json:"editStatus"`
	Fields     []*Field               `json:"fields"`
}

// FieldSpec 创建文档时的字段定义
type FieldSpec struct {
	Name      string                `json:"name"`
	Kind      editsession.FieldKind `json:"kind"`
	Value     string                `json:"value,omitempty"`
	Options   []string              `json:"options,omitempty"`
	Mandatory bool                  `json:"mandatory,omitempty"`
}

// CreateRequest 创建文档请求
type CreateRequest struct {
	Title   string      `json:"title"`
	Writers []string    `json:"writers,omitempty"`
	Fields  []FieldSpec `json:"fields"`
}
