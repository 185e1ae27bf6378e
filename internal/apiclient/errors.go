package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 后端调用错误分类
type Kind string

const (
	KindUnauthorized      Kind = "unauthorized"
	KindNotFound          Kind = "not_found"
	KindValidationFailed  Kind = "validation_failed"
	KindServerError       Kind = "server_error"
	KindMalformedResponse Kind = "malformed_response"
)

// Error 所有 API 调用返回的统一错误
type Error struct {
	Kind       Kind
	Op         string
	StatusCode int // 0 表示请求没有到达后端
	Message    string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable 只有服务端错误（含网络错误、熔断）值得重试
func (e *Error) Retryable() bool {
	return e.Kind == KindServerError
}

// Category 错误类型名
func (e *Error) Category() string {
	return string(e.Kind)
}

// KindOf 返回错误分类，非 *Error 返回空
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsKind 判断错误是否属于某个分类
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// kindForStatus HTTP 状态码到错误分类的映射
func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindUnauthorized
	case code == http.StatusNotFound:
		return KindNotFound
	case code >= 500:
		return KindServerError
	case code >= 400:
		return KindValidationFailed
	default:
		return KindMalformedResponse
	}
}

func validationError(op, msg string) *Error {
	return &Error{Kind: KindValidationFailed, Op: op, Message: msg}
}
