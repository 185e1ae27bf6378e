package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"timelineboard/pkg/metrics"
	"timelineboard/pkg/trace"
)

// HandlerFunc 处理单个事件，返回错误时事件进入重试
type HandlerFunc func(ctx context.Context, event *Event) error

// Publisher 默认处理器使用的 MQ 发布接口
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// Permanent 包装处理器错误，事件不再重试直接置为 failed
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return permanentError{err: err}
}

// IsPermanent 错误是否被 Permanent 包装过
func IsPermanent(err error) bool {
	var perm permanentError
	return errors.As(err, &perm)
}

// Dispatcher 从 outbox 读取到期事件并交给对应的处理器
// 未注册处理器的 routing key 发布到 MQ
type Dispatcher struct {
	store      Store
	publisher  Publisher
	handlers   map[string]HandlerFunc
	onGiveUp   func(ctx context.Context, event *Event, err error)
	logger     *zap.Logger
	maxRetries int
	interval   time.Duration
	batchSize  int
}

// NewDispatcher 创建新的 Dispatcher，publisher 可以为 nil
func NewDispatcher(store Store, publisher Publisher, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:      store,
		publisher:  publisher,
		handlers:   make(map[string]HandlerFunc),
		logger:     logger,
		maxRetries: 5,
		interval:   time.Second,
		batchSize:  100,
	}
}

// Handle 为 routing key 注册处理器
func (d *Dispatcher) Handle(routingKey string, h HandlerFunc) *Dispatcher {
	d.handlers[routingKey] = h
	return d
}

// OnGiveUp 设置事件达到最大重试次数后的回调
func (d *Dispatcher) OnGiveUp(fn func(ctx context.Context, event *Event, err error)) *Dispatcher {
	d.onGiveUp = fn
	return d
}

// WithMaxRetries 设置最大重试次数
func (d *Dispatcher) WithMaxRetries(maxRetries int) *Dispatcher {
	d.maxRetries = maxRetries
	return d
}

// WithInterval 设置扫描间隔
func (d *Dispatcher) WithInterval(interval time.Duration) *Dispatcher {
	d.interval = interval
	return d
}

// WithBatchSize 设置批次大小
func (d *Dispatcher) WithBatchSize(batchSize int) *Dispatcher {
	d.batchSize = batchSize
	return d
}

// Start 阻塞运行直到 ctx 取消，应在 goroutine 中调用
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("Starting Outbox Dispatcher",
		zap.Int("max_retries", d.maxRetries),
		zap.Duration("interval", d.interval),
		zap.Int("batch_size", d.batchSize),
	)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Outbox Dispatcher stopped")
			return
		case <-ticker.C:
			d.ProcessPending(ctx)
		}
	}
}

// ProcessPending 处理一批到期事件，返回成功处理的数量
func (d *Dispatcher) ProcessPending(ctx context.Context) int {
	events, err := d.store.GetPendingEvents(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("Failed to get pending events", zap.Error(err))
		return 0
	}

	sent := 0
	for _, event := range events {
		if ctx.Err() != nil {
			return sent
		}

		evCtx := d.contextFromPayload(ctx, event.Payload)
		if err := d.dispatch(evCtx, event); err != nil {
			d.fail(evCtx, event, err)
			continue
		}

		if err := d.store.MarkAsSent(ctx, event.ID); err != nil {
			d.logger.Error("Failed to mark event as sent",
				zap.Int64("event_id", event.ID),
				zap.Error(err),
			)
			continue
		}
		metrics.IncrementOutboxEvent(event.RoutingKey, "sent")
		sent++
	}
	return sent
}

func (d *Dispatcher) dispatch(ctx context.Context, event *Event) error {
	if h, ok := d.handlers[event.RoutingKey]; ok {
		return h(ctx, event)
	}
	if d.publisher == nil {
		return fmt.Errorf("no handler or publisher for routing key %q", event.RoutingKey)
	}

	var payload any
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	if err := d.publisher.PublishWithContext(ctx, event.RoutingKey, payload); err != nil {
		return fmt.Errorf("failed to publish to MQ: %w", err)
	}
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, event *Event, cause error) {
	d.logger.Warn("Outbox event handling failed",
		zap.Int64("event_id", event.ID),
		zap.String("routing_key", event.RoutingKey),
		zap.Int("retry_count", event.RetryCount),
		zap.Error(cause),
	)

	maxRetries := d.maxRetries
	if IsPermanent(cause) {
		maxRetries = 0
	}

	status, err := d.store.MarkAsFailed(ctx, event.ID, maxRetries, cause.Error())
	if err != nil {
		d.logger.Error("Failed to mark event as failed",
			zap.Int64("event_id", event.ID),
			zap.Error(err),
		)
		return
	}

	if status != StatusFailed {
		metrics.IncrementOutboxEvent(event.RoutingKey, "retry")
		return
	}

	metrics.IncrementOutboxEvent(event.RoutingKey, "failed")
	if d.onGiveUp != nil {
		d.onGiveUp(ctx, event, cause)
	}
}

// contextFromPayload 从 payload 的 trace_id 字段恢复 trace
func (d *Dispatcher) contextFromPayload(ctx context.Context, payload json.RawMessage) context.Context {
	var envelope struct {
		TraceID string `json:"trace_id"`
	}
	if err := json.Unmarshal(payload, &envelope); err == nil && envelope.TraceID != "" {
		return trace.WithContext(ctx, envelope.TraceID)
	}
	return ctx
}
