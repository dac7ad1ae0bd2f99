package notebook

import (
	"errors"
	"fmt"
)

// 预定义错误类型
var (
	// ErrDocNotFound 文档不存在
	ErrDocNotFound = errors.New("document not found")

	// ErrFieldNotFound 字段不存在
	ErrFieldNotFound = errors.New("field not found")

	// ErrLockNotHeld 调用方未持有编辑锁
	ErrLockNotHeld = errors.New("edit lock not held")

	// ErrForbidden 无编辑权限
	ErrForbidden = errors.New("no permission to edit document")

	// ErrInvalidInput 请求参数无效
	ErrInvalidInput = errors.New("invalid input")
)

// 错误码常量
const (
	ErrCodeDocNotFound   = "DOC_NOT_FOUND"
	ErrCodeFieldNotFound = "FIELD_NOT_FOUND"
	ErrCodeLockNotHeld   = "LOCK_NOT_HELD"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// NotebookError 笔记错误（包含上下文信息）
type NotebookError struct {
	Code       string // 错误码
	Message    string // 错误消息
	DocumentID string // 文档 ID
	FieldID    string // 字段 ID
	Err        error  // 原始错误
}

// Error 实现 error 接口
func (e *NotebookError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] doc=%s field=%s: %s (%v)", e.Code, e.DocumentID, e.FieldID, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] doc=%s field=%s: %s", e.Code, e.DocumentID, e.FieldID, e.Message)
}

// Unwrap 返回原始错误
func (e *NotebookError) Unwrap() error {
	return e.Err
}

// NewDocNotFoundError 创建文档不存在错误
func NewDocNotFoundError(docID string) *NotebookError {
	return &NotebookError{
		Code:       ErrCodeDocNotFound,
		Message:    fmt.Sprintf("document '%s' not found", docID),
		DocumentID: docID,
		Err:        ErrDocNotFound,
	}
}

// NewFieldNotFoundError 创建字段不存在错误
func NewFieldNotFoundError(fieldID string) *NotebookError {
	return &NotebookError{
		Code:    ErrCodeFieldNotFound,
		Message: fmt.Sprintf("field '%s' not found", fieldID),
		FieldID: fieldID,
		Err:     ErrFieldNotFound,
	}
}

// NewLockNotHeldError 创建未持有编辑锁错误
func NewLockNotHeldError(docID, user string) *NotebookError {
	return &NotebookError{
		Code:       ErrCodeLockNotHeld,
		Message:    fmt.Sprintf("user '%s' does not hold the edit lock", user),
		DocumentID: docID,
		Err:        ErrLockNotHeld,
	}
}

// NewForbiddenError 创建无权限错误
func NewForbiddenError(docID, user string) *NotebookError {
	return &NotebookError{
		Code:       ErrCodeForbidden,
		Message:    fmt.Sprintf("user '%s' may not edit this document", user),
		DocumentID: docID,
		Err:        ErrForbidden,
	}
}

// NewInvalidInputError 创建参数错误
func NewInvalidInputError(message string) *NotebookError {
	return &NotebookError{
		Code:    ErrCodeInvalidInput,
		Message: message,
		Err:     ErrInvalidInput,
	}
}

// NewInternalError 创建内部错误
func NewInternalError(docID string, err error) *NotebookError {
	return &NotebookError{
		Code:       ErrCodeInternalError,
		Message:    "internal error",
		DocumentID: docID,
		Err:        err,
	}
}

// IsDocNotFound 检查是否为文档不存在错误
func IsDocNotFound(err error) bool {
	return errors.Is(err, ErrDocNotFound)
}

// IsFieldNotFound 检查是否为字段不存在错误
func IsFieldNotFound(err error) bool {
	return errors.Is(err, ErrFieldNotFound)
}

// IsLockNotHeld 检查是否为未持锁错误
func IsLockNotHeld(err error) bool {
	return errors.Is(err, ErrLockNotHeld)
}
