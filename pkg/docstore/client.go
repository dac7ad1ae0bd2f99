// Package docstore implements the document store protocol over HTTP/JSON.
package docstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/houzhh15/eln-editsession/pkg/editsession"
)

// Client 封装文档服务的 HTTP 客户端
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

var _ editsession.DocumentStore = (*Client)(nil)

// New 创建新的客户端；请求超时由调用方 context 控制
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

// HTTPError 表示非 2xx 响应或请求超时
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
	Timeout    bool
	Err        error
}

func (e *HTTPError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("request timed out: %v", e.Err)
	}
	if e.Code != "" {
		return fmt.Sprintf("HTTP %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *HTTPError) Unwrap() error { return e.Err }

// HTTPStatus 返回 HTTP 状态码，超时为 0
func (e *HTTPError) HTTPStatus() int { return e.StatusCode }

// errorBody 服务端错误响应
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// do 执行请求；in 非 nil 时编码为 JSON body，out 非 nil 时解码响应
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return &HTTPError{Timeout: true, Err: err}
		}
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return &HTTPError{Timeout: true, Err: err}
		}
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		herr := &HTTPError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(data))}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			herr.Code = eb.Error
			herr.Message = eb.Message
		}
		return herr
	}

	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func documentPath(documentID, suffix string) string {
	return "/api/v1/documents/" + url.PathEscape(documentID) + suffix
}

// RequestEditLock 申请编辑锁
func (c *Client) RequestEditLock(ctx context.Context, documentID string) (editsession.LockResponse, error) {
	var out editsession.LockResponse
	err := c.do(ctx, http.MethodPost, documentPath(documentID, "/edit-lock"), nil, &out)
	return out, err
}

// fieldsResponse 字段拉取响应
type fieldsResponse struct {
	Fields []editsession.FieldUpdate `json:"fields"`
}

// FetchUpdatedFields 拉取 known 之后修改过的字段
func (c *Client) FetchUpdatedFields(ctx context.Context, documentID string, known int64) ([]editsession.FieldUpdate, error) {
	path := documentPath(documentID, "/fields") + "?since=" + strconv.FormatInt(known, 10)
	var out fieldsResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Fields, nil
}

// AutosaveRequest 单字段自动保存请求体
type AutosaveRequest struct {
	Kind  editsession.FieldKind `json:"kind"`
	Value string                `json:"value"`
}

// AutosaveField 保存单个字段
func (c *Client) AutosaveField(ctx context.Context, fieldID string, value editsession.Value) (editsession.AutosaveResponse, error) {
	var out editsession.AutosaveResponse
	in := AutosaveRequest{Kind: value.Kind, Value: value.Encode()}
	err := c.do(ctx, http.MethodPut, "/api/v1/fields/"+url.PathEscape(fieldID)+"/autosave", in, &out)
	return out, err
}

// SaveRequest 正式保存请求体
type SaveRequest struct {
	Unlock bool `json:"unlock"`
}

// Save 正式保存文档，可选释放编辑锁
func (c *Client) Save(ctx context.Context, documentID string, unlock bool) (editsession.SaveResponse, error) {
	var out editsession.SaveResponse
	err := c.do(ctx, http.MethodPost, documentPath(documentID, "/save"), SaveRequest{Unlock: unlock}, &out)
	return out, err
}

// Unlock 释放编辑锁
func (c *Client) Unlock(ctx context.Context, documentID string) error {
	return c.do(ctx, http.MethodPost, documentPath(documentID, "/unlock"), nil, nil)
}
