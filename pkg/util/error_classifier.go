package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/jackc/pgx/v5"

	"timelineboard/pkg/circuitbreaker"
)

// Classified 自带分类信息的错误（例如后端 API 错误）
type Classified interface {
	error
	Retryable() bool
	Category() string
}

// IsRetryableError determines if an error is retryable
// Returns: (isRetryable, errorType)
func IsRetryableError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	// context 取消优先判断：调用方已放弃
	if errors.Is(err, context.Canceled) {
		return false, "context_canceled"
	}

	var classified Classified
	if errors.As(err, &classified) {
		return classified.Retryable(), classified.Category()
	}

	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return true, "circuit_open"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}

	// JSON decode errors - 不可重试（数据格式错误）
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return false, "json_decode_error"
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return false, "not_found"
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "network_timeout"
		}
		return true, "network_error"
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown_error"
}
