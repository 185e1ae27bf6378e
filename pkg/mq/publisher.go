package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"timelineboard/pkg/otel"
	"timelineboard/pkg/trace"
)

// AppID 写入每条消息的 app_id
const AppID = "timelineboard"

// Publisher 向 timeline.events 发布 JSON 事件
type Publisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	mu      sync.Mutex // amqp channel 不是并发安全的
}

func NewPublisher(url string) (*Publisher, error) {
	conn, ch, err := openChannel(url)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, channel: ch}, nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// IsConnected 连接是否仍然可用（readiness 检查使用）
func (p *Publisher) IsConnected() bool {
	if p.conn == nil || p.channel == nil {
		return false
	}
	return !p.conn.IsClosed() && !p.channel.IsClosed()
}

// PublishWithContext 发布事件；ctx 中的 trace id 写入消息头
func (p *Publisher) PublishWithContext(ctx context.Context, routingKey string, payload any) (err error) {
	ctx, span := otel.StartPublishSpan(ctx, ExchangeName, routingKey)
	defer func() { otel.EndSpan(span, "publish_failed", err) }()

	msg, err := newPublishing(ctx, routingKey, payload)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel.PublishWithContext(ctx, ExchangeName, routingKey, false, false, msg)
}

func newPublishing(ctx context.Context, routingKey string, payload any) (amqp091.Publishing, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return amqp091.Publishing{}, fmt.Errorf("failed to marshal %s event: %w", routingKey, err)
	}

	headers := amqp091.Table{}
	if traceID := trace.FromContext(ctx); traceID != "" {
		headers[trace.HeaderName] = traceID
	}
	otel.InjectMessageHeaders(ctx, headers)

	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    uuid.NewString(),
		Type:         routingKey,
		AppId:        AppID,
		Timestamp:    time.Now().UTC(),
		Headers:      headers,
		Body:         body,
	}, nil
}
