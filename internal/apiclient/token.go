package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoToken 没有可用的 bearer token
var ErrNoToken = errors.New("no bearer token available")

// TokenSource 提供每次请求使用的 bearer token
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc 函数适配器
type TokenFunc func(ctx context.Context) (string, error)

func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// StaticToken 固定 token（服务间调用）
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

type tokenKey struct{}

// WithToken 把请求方的 token 放进 context
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// ContextToken 从 context 读取 token（由 HTTP 中间件写入）
var ContextToken TokenSource = TokenFunc(func(ctx context.Context) (string, error) {
	if t, ok := ctx.Value(tokenKey{}).(string); ok && t != "" {
		return t, nil
	}
	return "", ErrNoToken
})

// FileToken 从本地文件读取 token，支持纯文本或 {"token": "..."}
type FileToken string

func (p FileToken) Token(context.Context) (string, error) {
	data, err := os.ReadFile(string(p))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("read token file: %w", err)
	}

	content := strings.TrimSpace(string(data))
	if strings.HasPrefix(content, "{") {
		var stored struct {
			Token string `json:"token"`
		}
		if err := json.Unmarshal([]byte(content), &stored); err != nil {
			return "", fmt.Errorf("parse token file: %w", err)
		}
		content = stored.Token
	}
	if content == "" {
		return "", ErrNoToken
	}
	return content, nil
}

// FirstOf 依次尝试多个来源，返回第一个可用 token
func FirstOf(sources ...TokenSource) TokenSource {
	return TokenFunc(func(ctx context.Context) (string, error) {
		for _, s := range sources {
			t, err := s.Token(ctx)
			if err == nil {
				return t, nil
			}
			if !errors.Is(err, ErrNoToken) {
				return "", err
			}
		}
		return "", ErrNoToken
	})
}
