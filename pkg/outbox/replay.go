package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ReplayService 把 failed 事件放回 pending，供 dispatcher 重新处理
type ReplayService struct {
	store  Store
	logger *zap.Logger
}

func NewReplayService(store Store, logger *zap.Logger) *ReplayService {
	return &ReplayService{store: store, logger: logger}
}

// ReplayResult 批量重放结果
type ReplayResult struct {
	Requeued []int64
	Failed   map[int64]error
}

// ReplayEvent 重放单个事件
func (s *ReplayService) ReplayEvent(ctx context.Context, eventID int64) error {
	if err := s.store.ReplayEvent(ctx, eventID); err != nil {
		return fmt.Errorf("failed to replay event %d: %w", eventID, err)
	}
	s.logger.Info("Outbox event requeued", zap.Int64("event_id", eventID))
	return nil
}

// ReplayFailedEvents 重放最多 limit 个失败事件；routingKey 非空时只处理该类事件
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, routingKey string, limit int) (ReplayResult, error) {
	res := ReplayResult{Failed: make(map[int64]error)}

	events, err := s.store.GetFailedEvents(ctx, limit)
	if err != nil {
		return res, fmt.Errorf("failed to list failed events: %w", err)
	}

	for _, event := range events {
		if routingKey != "" && event.RoutingKey != routingKey {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.ReplayEvent(ctx, event.ID); err != nil {
			s.logger.Warn("Replay failed", zap.Int64("event_id", event.ID), zap.Error(err))
			res.Failed[event.ID] = err
			continue
		}
		res.Requeued = append(res.Requeued, event.ID)
	}
	return res, nil
}
