package rag

import (
	"errors"
	"fmt"
)

// ErrorKind 核心错误类别
type ErrorKind string

const (
	KindEmbeddingUnavailable ErrorKind = "embedding_unavailable"      // 向量化服务不可用(瞬态,可重试)
	KindInputTooLarge        ErrorKind = "input_too_large"            // 输入超出模型限制(不可重试)
	KindTenantIsolation      ErrorKind = "tenant_isolation_violation" // 租户隔离被破坏(致命)
	KindIngestionFailed      ErrorKind = "ingestion_failed"           // 文档入库终态失败
)

// Error 带类别的核心错误
// 上层通过 errors.As 取出类别决定重试策略
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError 创建带类别的错误
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// IsKind 判断错误链中是否包含指定类别
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf 取出错误链中的类别,未分类时返回空串
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
