package mq

import (
	"fmt"

	"github.com/rabbitmq/amqp091-go"
)

// 处理失败的事件进入死信队列，供人工排查
const (
	DLQExchangeName = "timeline.events.dlq"
	DLQQueueName    = "timeline.events.dlq"
)

// DeclareDLQ 声明死信 exchange 和收集全部死信的持久队列
func DeclareDLQ(ch *amqp091.Channel) error {
	if err := ch.ExchangeDeclare(DLQExchangeName, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ exchange: %w", err)
	}
	q, err := ch.QueueDeclare(DLQQueueName, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare DLQ queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "#", DLQExchangeName, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ queue: %w", err)
	}
	return nil
}

// deadLetterArgs 让队列把 reject 的消息转到死信 exchange，保留原 routing key
func deadLetterArgs() amqp091.Table {
	return amqp091.Table{"x-dead-letter-exchange": DLQExchangeName}
}
