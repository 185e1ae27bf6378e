package board

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mqcontracts "timelineboard/contracts/mq"
	"timelineboard/internal/model"
	"timelineboard/internal/timeline"
	"timelineboard/pkg/logger"
	"timelineboard/pkg/metrics"
	"timelineboard/pkg/outbox"
	"timelineboard/pkg/util"

	"go.uber.org/zap"
)

// HandleStatusSync 重放排队的状态同步，注册到 outbox Dispatcher
func (r *Registry) HandleStatusSync(ctx context.Context, event *outbox.Event) error {
	log := logger.WithTrace(ctx, r.logger).With(zap.Int64("event_id", event.ID))

	var p mqcontracts.StatusSyncPayload
	if err := event.Decode(&p); err != nil {
		return err
	}
	log = log.With(
		zap.Int64("project_id", p.ProjectID),
		zap.Int64("module_id", p.ModuleID),
		zap.String("status", p.Status),
	)

	view, hasView := r.lookup(p.ProjectID, p.ViewQuery)
	if hasView && view.superseded(p) {
		log.Info("Skipping status sync superseded by a newer edit")
		metrics.IncrementStatusTransition(p.Status, "superseded")
		return nil
	}

	update := model.TimelineUpdate{
		ProjectID: p.ProjectID,
		Details: []model.TimelineDetail{{
			Module:    p.Module,
			StartDate: p.StartDate,
			EndDate:   p.EndDate,
			Status:    p.Status,
		}},
	}
	if err := r.replayAPI.UpdateProjectTimeline(ctx, p.ModuleID, update); err != nil {
		if retryable, _ := util.IsRetryableError(err); !retryable {
			return outbox.Permanent(err)
		}
		return err
	}

	if hasView {
		view.markSynced(p)
	}
	r.markStaleExcept(p.ProjectID, view)
	metrics.IncrementStatusTransition(p.Status, "replayed")
	log.Info("Queued status update synced")

	moduleID := p.ModuleID
	color, _ := timeline.StatusColor(p.Status)
	r.afterCommit(ctx, model.Module{
		ID:        &moduleID,
		DetailID:  p.DetailID,
		ProjectID: p.ProjectID,
		Name:      p.Module,
		Status:    p.Status,
		Color:     color,
	}, p.From, true)
	return nil
}

// HandleEvent 消费 timeline.* 事件，把对应项目的列表标记为过期
// 本实例发出的事件已在提交时处理过，直接忽略。签名与 mq.MessageHandler 一致
func (r *Registry) HandleEvent(ctx context.Context, routingKey string, data json.RawMessage) error {
	var ref struct {
		ProjectID int64  `json:"project_id"`
		Origin    string `json:"origin"`
	}
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("failed to decode %s event: %w", routingKey, err)
	}
	if ref.Origin == r.instanceID {
		return nil
	}

	views := r.viewsOf(ref.ProjectID)
	for _, v := range views {
		v.MarkStale()
	}
	if len(views) > 0 {
		logger.WithTrace(ctx, r.logger).Debug("Timeline marked stale by event",
			zap.String("routing_key", routingKey),
			zap.Int64("project_id", ref.ProjectID),
			zap.Int("views", len(views)),
		)
	}
	return nil
}

// HandleSyncGiveUp 重放放弃后回滚内存中的行
func (r *Registry) HandleSyncGiveUp(ctx context.Context, event *outbox.Event, cause error) {
	if event.RoutingKey != mqcontracts.RoutingStatusSync {
		return
	}
	log := logger.WithTrace(ctx, r.logger).With(zap.Int64("event_id", event.ID))

	var p mqcontracts.StatusSyncPayload
	if err := event.Decode(&p); err != nil {
		log.Error("Failed to decode status sync payload", zap.Error(err))
		return
	}
	if cause == nil {
		cause = errors.New("status sync gave up")
	}

	if view, ok := r.lookup(p.ProjectID, p.ViewQuery); ok {
		view.markSyncFailed(p, cause)
	}
	metrics.IncrementStatusTransition(p.Status, "failed")
	log.Error("Status sync gave up",
		zap.Int64("project_id", p.ProjectID),
		zap.Int64("module_id", p.ModuleID),
		zap.String("status", p.Status),
		zap.Error(cause),
	)
}
