package board

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	mqcontracts "timelineboard/contracts/mq"
	"timelineboard/internal/apiclient"
	"timelineboard/internal/model"
	"timelineboard/internal/timeline"
	"timelineboard/pkg/logger"
	"timelineboard/pkg/metrics"
	"timelineboard/pkg/outbox"
	"timelineboard/pkg/trace"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventQueue outbox 写入接口，*outbox.Repository 实现了它
type EventQueue interface {
	Enqueue(ctx context.Context, event *outbox.Event) error
}

// EventPublisher 没有 outbox 时直接发布事件，*mq.Publisher 实现了它
type EventPublisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// Deduper 跨实例的重复提交过滤，*util.Deduper 实现了它
type Deduper interface {
	AcquireOnce(ctx context.Context, key string) bool
	Release(ctx context.Context, key string)
}

// viewKey 同一项目的不同查询条件各自有独立的列表
type viewKey struct {
	projectID int64
	query     string
}

// Registry 按 (项目, 查询条件) 管理 View，并持有它们共享的依赖
type Registry struct {
	api        TimelineAPI
	replayAPI  TimelineAPI
	loader     *Loader
	queue      EventQueue
	publisher  EventPublisher
	deduper    Deduper
	logger     *zap.Logger
	instanceID string
	now        func() time.Time
	// generations 所有列表共用，回收后重建的列表不会复用旧版本号
	generations atomic.Uint64

	mu    sync.Mutex
	views map[viewKey]*View
}

// Option Registry 选项
type Option func(*Registry)

// WithQueue 可重试失败写入 outbox 等待重放，事件也经 outbox 发布
func WithQueue(q EventQueue) Option {
	return func(r *Registry) { r.queue = q }
}

// WithPublisher 没有 outbox 时直接发布事件
func WithPublisher(p EventPublisher) Option {
	return func(r *Registry) { r.publisher = p }
}

// WithDeduper 过滤重复提交
func WithDeduper(d Deduper) Option {
	return func(r *Registry) { r.deduper = d }
}

// WithReplayAPI 重放 outbox 时使用的客户端（服务 token）
func WithReplayAPI(api TimelineAPI) Option {
	return func(r *Registry) { r.replayAPI = api }
}

func NewRegistry(api TimelineAPI, loader *Loader, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		api:        api,
		loader:     loader,
		logger:     logger,
		instanceID: uuid.NewString(),
		now:        time.Now,
		views:      make(map[viewKey]*View),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.replayAPI == nil {
		r.replayAPI = api
	}
	return r
}

// Open 返回 (项目, 查询条件) 对应的列表，必要时从后端加载
// 首次加载成功后才登记 View，加载失败不留下任何状态
func (r *Registry) Open(ctx context.Context, projectID int64, q apiclient.Query) (*View, Snapshot, error) {
	return r.open(ctx, projectID, q, false)
}

// Refresh 与 Open 相同，但总是重新拉取
func (r *Registry) Refresh(ctx context.Context, projectID int64, q apiclient.Query) (*View, Snapshot, error) {
	return r.open(ctx, projectID, q, true)
}

func (r *Registry) open(ctx context.Context, projectID int64, q apiclient.Query, force bool) (*View, Snapshot, error) {
	key := viewKey{projectID: projectID, query: q.Key()}

	if v, ok := r.lookup(projectID, key.query); ok {
		v.touch(r.now())
		var (
			snap Snapshot
			err  error
		)
		if force {
			snap, err = v.Load(ctx)
		} else {
			snap, err = v.Ensure(ctx)
		}
		if err != nil {
			return nil, Snapshot{}, err
		}
		return v, snap, nil
	}

	v := newView(r, projectID, q)
	snap, err := v.Load(ctx)
	if err != nil {
		return nil, Snapshot{}, err
	}
	v.touch(r.now())

	r.mu.Lock()
	existing, ok := r.views[key]
	if !ok {
		r.views[key] = v
	}
	r.mu.Unlock()

	if ok {
		// 并发的首次加载，保留先登记的那个
		existing.touch(r.now())
		snap, err = existing.Ensure(ctx)
		if err != nil {
			return nil, Snapshot{}, err
		}
		return existing, snap, nil
	}
	return v, snap, nil
}

func (r *Registry) lookup(projectID int64, queryKey string) (*View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.views[viewKey{projectID: projectID, query: queryKey}]
	return v, ok
}

// viewsOf 项目的所有列表
func (r *Registry) viewsOf(projectID int64) []*View {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*View
	for k, v := range r.views {
		if k.projectID == projectID {
			out = append(out, v)
		}
	}
	return out
}

// markStaleExcept 同一项目的其它列表下次访问时重新加载
func (r *Registry) markStaleExcept(projectID int64, keep *View) {
	for _, v := range r.viewsOf(projectID) {
		if v != keep {
			v.MarkStale()
		}
	}
}

// EvictIdle 移除超过 ttl 未访问的列表，返回移除的数量
func (r *Registry) EvictIdle(ttl time.Duration) int {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for k, v := range r.views {
		if v.idle(now, ttl) {
			delete(r.views, k)
			evicted++
		}
	}
	return evicted
}

// StartJanitor 定期回收空闲列表，ctx 取消后退出
func (r *Registry) StartJanitor(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("View janitor started",
		zap.Duration("interval", interval),
		zap.Duration("idle_ttl", ttl),
	)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("View janitor stopped")
			return
		case <-ticker.C:
			if n := r.EvictIdle(ttl); n > 0 {
				r.logger.Debug("Evicted idle timeline views", zap.Int("count", n))
			}
		}
	}
}

// DeleteDetails 批量删除 detail，成功删除的行从内存列表移除
func (r *Registry) DeleteDetails(ctx context.Context, projectID int64, detailIDs []int64) apiclient.BulkResult {
	log := logger.WithTrace(ctx, r.logger)
	result := r.api.BulkDeleteTimelineDetails(ctx, projectID, detailIDs)

	if len(result.Deleted) > 0 {
		r.loader.Invalidate(ctx, projectID)
		for _, v := range r.viewsOf(projectID) {
			v.RemoveDetails(result.Deleted)
		}
		pid := projectID
		r.emit(ctx, mqcontracts.RoutingDetailsDeleted, outbox.AggregateProject, &pid, mqcontracts.DetailsDeletedPayload{
			EventID:   uuid.NewString(),
			TraceID:   trace.FromContext(ctx),
			ProjectID: projectID,
			Deleted:   result.Deleted,
			Failed:    result.Failed,
			UserID:    userFrom(ctx),
			Origin:    r.instanceID,
			DeletedAt: time.Now().UTC(),
		})
	}

	log.Info("Bulk delete finished",
		zap.Int64("project_id", projectID),
		zap.Int("requested", len(detailIDs)),
		zap.Int("deleted", len(result.Deleted)),
		zap.Int("failed", len(result.Failed)),
	)
	return result
}

func (r *Registry) enqueueSync(ctx context.Context, p mqcontracts.StatusSyncPayload) error {
	moduleID := p.ModuleID
	event, err := outbox.NewEvent(outbox.AggregateModule, &moduleID, mqcontracts.RoutingStatusSync, p)
	if err != nil {
		return err
	}
	return r.queue.Enqueue(ctx, event)
}

// afterCommit 失效缓存并发出 status_changed 事件
func (r *Registry) afterCommit(ctx context.Context, m model.Module, from string, replayed bool) {
	ctx = context.WithoutCancel(ctx)
	r.loader.Invalidate(ctx, m.ProjectID)
	r.emit(ctx, mqcontracts.RoutingStatusChanged, outbox.AggregateModule, m.ID, newStatusChangedPayload(ctx, r.instanceID, m, from, replayed))
}

// PatchDetailStatus 通过 PATCH 直接修改单个 detail 的状态
// 后端确认后才改动内存中所有包含该 detail 的列表；都不包含时返回由 detail id 构造的行
func (r *Registry) PatchDetailStatus(ctx context.Context, projectID, detailID int64, status string) (model.Module, error) {
	if status == "" {
		return model.Module{}, ErrEmptyStatus
	}
	log := logger.WithTrace(ctx, r.logger).With(
		zap.Int64("project_id", projectID),
		zap.Int64("detail_id", detailID),
		zap.String("status", status),
	)

	if err := r.api.PatchTimelineDetail(ctx, projectID, detailID, status); err != nil {
		metrics.IncrementStatusTransition(status, "failed")
		log.Warn("Detail status patch rejected", zap.Error(err))
		return model.Module{}, err
	}

	var (
		m     model.Module
		from  string
		found bool
	)
	for _, v := range r.viewsOf(projectID) {
		if vm, vfrom, ok := v.applyDetailStatus(detailID, status); ok && !found {
			m, from, found = vm, vfrom, true
		}
	}
	if !found {
		id := detailID
		m = model.Module{ProjectID: projectID, DetailID: &id, Sync: model.SyncCommitted}
		timeline.ApplyStatus(&m, status)
	}

	metrics.IncrementStatusTransition(status, "committed")
	log.Info("Detail status patched", zap.Bool("in_view", found))
	r.afterCommit(ctx, m, from, false)
	return m, nil
}

// emit 事件优先写 outbox，其次直接发布；失败只记日志
func (r *Registry) emit(ctx context.Context, routingKey, aggregateType string, aggregateID *int64, payload any) {
	log := logger.WithTrace(ctx, r.logger)
	ctx = context.WithoutCancel(ctx)

	switch {
	case r.queue != nil:
		event, err := outbox.NewEvent(aggregateType, aggregateID, routingKey, payload)
		if err == nil {
			err = r.queue.Enqueue(ctx, event)
		}
		if err != nil {
			log.Error("Failed to enqueue event", zap.String("routing_key", routingKey), zap.Error(err))
		}
	case r.publisher != nil:
		if err := r.publisher.PublishWithContext(ctx, routingKey, payload); err != nil {
			log.Warn("Failed to publish event", zap.String("routing_key", routingKey), zap.Error(err))
		}
	}
}
