package docstore

import (
	"context"
	"net/http"

	"github.com/houzhh15/eln-editsession/pkg/editsession"
)

// Field 文档中的字段
type Field struct {
	ID         string                `json:"id"`
	Name       string                `json:"name"`
	Kind       editsession.FieldKind `json:"kind"`
	Value      string                `json:"value"`
	Options    []string              `json:"options,omitempty"`
	Mandatory  bool                  `json:"mandatory"`
	ModifiedAt int64                 `json:"modifiedAt"`
}

// Document 文档及其字段；EditStatus 为当前用户视角的编辑状态
type Document struct {
	ID         string                 `json:"id"`
	Title      string                 `json:"title"`
	Owner      string                 `json:"owner"`
	Writers    []string               `json:"writers,omitempty"`
	Version    int                    `json:"version"`
	ModifiedAt int64                  `json:"modifiedAt"`
	LockHolder string                 `json:"lockHolder,omitempty"`
	EditStatus editsession.EditStatus `json:"editStatus"`
	Fields     []Field                `json:"fields"`
}

// FieldSpec 创建文档时的字段定义
type FieldSpec struct {
	Name      string                `json:"name"`
	Kind      editsession.FieldKind `json:"kind"`
	Value     string                `json:"value,omitempty"`
	Options   []string              `json:"options,omitempty"`
	Mandatory bool                  `json:"mandatory,omitempty"`
}

// CreateDocumentRequest 创建文档请求
type CreateDocumentRequest struct {
	Title   string      `json:"title"`
	Writers []string    `json:"writers,omitempty"`
	Fields  []FieldSpec `json:"fields"`
}

// LoginRequest 登录请求
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse 登录响应
type LoginResponse struct {
	Token     string `json:"token"`
	Username  string `json:"username"`
	ExpiresAt int64  `json:"expiresAt"`
}

// Login 登录并在成功后保存 token
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var out LoginResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", LoginRequest{Username: username, Password: password}, &out); err != nil {
		return nil, err
	}
	c.Token = out.Token
	return &out, nil
}

// CreateDocument 创建文档
func (c *Client) CreateDocument(ctx context.Context, req CreateDocumentRequest) (*Document, error) {
	var out Document
	if err := c.do(ctx, http.MethodPost, "/api/v1/documents", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDocument 获取文档
func (c *Client) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	var out Document
	if err := c.do(ctx, http.MethodGet, documentPath(documentID, ""), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenSession 加载文档并创建绑定其字段的编辑会话
// 每个字段使用 MemoryEditor，返回 editors 以便调用方输入
func (c *Client) OpenSession(ctx context.Context, documentID string, opts ...editsession.Option) (*editsession.Session, map[string]*editsession.MemoryEditor, *Document, error) {
	doc, err := c.GetDocument(ctx, documentID)
	if err != nil {
		return nil, nil, nil, err
	}
	opts = append([]editsession.Option{editsession.WithInitialStatus(doc.EditStatus)}, opts...)
	s := editsession.New(doc.ID, c, opts...)
	editors := make(map[string]*editsession.MemoryEditor, len(doc.Fields))
	for _, f := range doc.Fields {
		ed := editsession.NewMemoryEditor(editsession.DecodeValue(f.Kind, f.Value))
		if _, err := s.AddField(f.ID, f.Kind, ed); err != nil {
			return nil, nil, nil, err
		}
		editors[f.ID] = ed
	}
	return s, editors, doc, nil
}
