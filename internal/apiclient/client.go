package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"timelineboard/pkg/circuitbreaker"
	"timelineboard/pkg/metrics"
	"timelineboard/pkg/otel"
	"timelineboard/pkg/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// 单个响应体的读取上限
const maxBodyBytes = 4 << 20

// Client 项目后端 REST API 客户端，基础路径 /api/projects
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	cb         *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
	bulkLimit  int
}

// Option 客户端选项
type Option func(*Client)

// WithHTTPClient 替换底层 http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenSource 设置 token 来源，默认从 context 读取
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.tokens = ts }
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithCircuitBreaker 使用自定义熔断配置
func WithCircuitBreaker(cfg circuitbreaker.Config) Option {
	return func(c *Client) { c.cb = newBreaker(cfg) }
}

// WithBulkLimit 批量删除的并发上限
func WithBulkLimit(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.bulkLimit = n
		}
	}
}

// NewClient 创建客户端，backendURL 形如 http://host:port
func NewClient(backendURL string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(backendURL, "/") + "/api/projects",
		httpClient: &http.Client{
			Timeout: timeout,
		},
		tokens:    ContextToken,
		cb:        newBreaker(circuitbreaker.DefaultConfig()),
		logger:    zap.NewNop(),
		bulkLimit: 4,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newBreaker(cfg circuitbreaker.Config) *circuitbreaker.CircuitBreaker {
	// 只有服务端错误计入熔断，4xx 是调用方的问题
	cfg.IsFailure = func(err error) bool {
		return IsKind(err, KindServerError)
	}
	cfg.OnStateChange = func(_, to circuitbreaker.State) {
		metrics.SetCircuitBreakerState("backend", int(to))
	}
	return circuitbreaker.NewCircuitBreaker(cfg)
}

// request 一次后端调用的描述
type request struct {
	op     string
	method string
	path   string
	query  url.Values
	body   any
}

// do 发送请求并用 decode 解析响应体；decode 为 nil 时只检查状态码
func (c *Client) do(ctx context.Context, r request, decode func(body []byte) error) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		if errors.Is(err, ErrNoToken) {
			return &Error{Kind: KindUnauthorized, Op: r.op, Message: "missing bearer token"}
		}
		return &Error{Kind: KindUnauthorized, Op: r.op, Err: err}
	}

	ctx, span := otel.StartBackendSpan(ctx, r.op, r.method, r.path)

	start := time.Now()
	var statusCode int
	err = c.cb.ExecuteContext(ctx, func(ctx context.Context) error {
		code, body, err := c.send(ctx, r, token)
		statusCode = code
		if err != nil {
			return err
		}
		if decode == nil {
			return nil
		}
		if err := decode(body); err != nil {
			return &Error{Kind: KindMalformedResponse, Op: r.op, StatusCode: code, Err: err}
		}
		return nil
	})
	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		err = &Error{Kind: KindServerError, Op: r.op, Err: err}
	}

	outcome := "success"
	if err != nil {
		outcome = string(KindOf(err))
		if outcome == "" {
			outcome = "canceled"
		}
	}
	span.SetAttributes(attribute.Int("http.status_code", statusCode))
	otel.EndSpan(span, outcome, err)
	metrics.RecordBackendCall(r.op, outcome, time.Since(start))

	if err != nil {
		c.logger.Warn("backend call failed",
			zap.String("trace_id", trace.FromContext(ctx)),
			zap.String("op", r.op),
			zap.String("method", r.method),
			zap.String("path", r.path),
			zap.Int("status", statusCode),
			zap.Error(err),
		)
	}
	return err
}

// send 执行 HTTP 往返，非 2xx 转成 *Error
func (c *Client) send(ctx context.Context, r request, token string) (int, []byte, error) {
	var reader io.Reader
	if r.body != nil {
		b, err := json.Marshal(r.body)
		if err != nil {
			return 0, nil, validationError(r.op, fmt.Sprintf("encode body: %v", err))
		}
		reader = bytes.NewReader(b)
	}

	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, r.method, target, reader)
	if err != nil {
		return 0, nil, validationError(r.op, err.Error())
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set(trace.HeaderName, traceID)
	}
	otel.InjectHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// context 取消不是后端的问题，原样返回
		if ctx.Err() != nil {
			return 0, nil, ctx.Err()
		}
		return 0, nil, &Error{Kind: KindServerError, Op: r.op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, &Error{Kind: KindServerError, Op: r.op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, body, &Error{
			Kind:       kindForStatus(resp.StatusCode),
			Op:         r.op,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(body),
		}
	}
	return resp.StatusCode, body, nil
}
