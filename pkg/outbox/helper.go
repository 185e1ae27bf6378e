package outbox

import (
	"encoding/json"
	"fmt"
)

// 聚合类型
const (
	AggregateModule  = "timeline_module"
	AggregateProject = "project"
)

// NewEvent 构造一个 pending 事件，payload 序列化为 JSON
func NewEvent(aggregateType string, aggregateID *int64, routingKey string, payload any) (*Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", routingKey, err)
	}
	return &Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		RoutingKey:    routingKey,
		Payload:       raw,
		Status:        StatusPending,
	}, nil
}

// Decode 解析 payload，解析失败标记为 Permanent
func (e *Event) Decode(out any) error {
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return Permanent(fmt.Errorf("failed to decode %s payload of event %d: %w", e.RoutingKey, e.ID, err))
	}
	return nil
}
