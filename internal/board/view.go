package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqcontracts "timelineboard/contracts/mq"
	"timelineboard/internal/apiclient"
	"timelineboard/internal/model"
	"timelineboard/internal/timeline"
	"timelineboard/pkg/logger"
	"timelineboard/pkg/metrics"
	"timelineboard/pkg/trace"
	"timelineboard/pkg/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrEditInFlight 该行上一次修改还在等待后端响应
	ErrEditInFlight = errors.New("status update already in flight for this row")
	// ErrDuplicateEdit 其它实例刚处理过相同的修改
	ErrDuplicateEdit = errors.New("duplicate status update")
	// ErrRowNotFound 行下标越界
	ErrRowNotFound = errors.New("timeline row not found")
	// ErrEmptyStatus 状态不能为空
	ErrEmptyStatus = errors.New("status must not be empty")
	// ErrStaleView 调用方看到的列表已被重新加载，下标不再可信
	ErrStaleView = errors.New("timeline changed since it was loaded")
)

// View 一个项目在某个查询条件下的内存列表，被并发请求共享
// 不持锁做网络调用；generation 每次重新加载或删除行时更新，在 Registry 内唯一
type View struct {
	projectID int64
	query     apiclient.Query
	reg       *Registry

	mu         sync.Mutex
	modules    []model.Module
	loaded     bool
	generation uint64
	loadSeq    uint64
	appliedSeq uint64
	lastUsed   time.Time
}

// Snapshot 当前行的副本
type Snapshot struct {
	ProjectID  int64
	Generation uint64
	Loaded     bool
	Modules    []model.Module
}

func newView(r *Registry, projectID int64, q apiclient.Query) *View {
	return &View{projectID: projectID, query: q, reg: r}
}

// ProjectID 项目 id
func (v *View) ProjectID() int64 { return v.projectID }

// Query 该列表的查询条件
func (v *View) Query() apiclient.Query { return v.query }

// Snapshot 返回当前列表的拷贝
func (v *View) Snapshot() Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshotLocked()
}

func (v *View) snapshotLocked() Snapshot {
	modules := make([]model.Module, len(v.modules))
	copy(modules, v.modules)
	return Snapshot{
		ProjectID:  v.projectID,
		Generation: v.generation,
		Loaded:     v.loaded,
		Modules:    modules,
	}
}

// Load 按该列表自己的查询条件重新拉取并整体替换；失败时保留原列表
func (v *View) Load(ctx context.Context) (Snapshot, error) {
	v.mu.Lock()
	v.loadSeq++
	seq := v.loadSeq
	v.mu.Unlock()

	modules, err := v.reg.loader.Load(ctx, v.projectID, v.query)
	if err != nil {
		return Snapshot{}, err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	// 更晚发起的加载已经生效，丢弃这次结果
	if seq < v.appliedSeq {
		return v.snapshotLocked(), nil
	}
	v.appliedSeq = seq
	v.modules = modules
	v.loaded = true
	v.generation = v.reg.generations.Add(1)
	return v.snapshotLocked(), nil
}

// Ensure 列表未加载或已被标记过期时加载，否则返回当前列表
func (v *View) Ensure(ctx context.Context) (Snapshot, error) {
	v.mu.Lock()
	if v.loaded {
		s := v.snapshotLocked()
		v.mu.Unlock()
		return s, nil
	}
	v.mu.Unlock()
	return v.Load(ctx)
}

func (v *View) touch(now time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastUsed = now
}

// idle 超过 ttl 未被访问且没有等待响应的行
func (v *View) idle(now time.Time, ttl time.Duration) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, m := range v.modules {
		if m.Sync == model.SyncPending {
			return false
		}
	}
	return now.Sub(v.lastUsed) >= ttl
}

// rowLocked 校验版本和下标；generation 为 0 时不校验版本，调用方持有锁
func (v *View) rowLocked(index int, generation uint64) (*model.Module, error) {
	if generation != 0 && generation != v.generation {
		return nil, fmt.Errorf("%w: loaded generation %d, current %d", ErrStaleView, generation, v.generation)
	}
	if index < 0 || index >= len(v.modules) {
		return nil, fmt.Errorf("%w: index %d", ErrRowNotFound, index)
	}
	return &v.modules[index], nil
}

// SetStatus 修改一行的状态
//
// generation 是调用方拿到列表时的版本（Snapshot.Generation），列表已被替换时返回 ErrStaleView；
// 传 0 表示使用当前列表。
// 先在本地乐观修改并重新计算颜色；没有 id 的行到此为止，不访问后端。
// 有 id 的行进入 pending 并调用 UpdateProjectTimeline：
// 成功 -> committed；可重试失败且配置了 outbox -> queued，等待重放；
// 其它失败 -> 回滚为修改前的状态并标记 failed。
// 响应返回时列表已被重新加载的话，结果被丢弃，不会改动新列表。
func (v *View) SetStatus(ctx context.Context, index int, generation uint64, status string) (model.Module, error) {
	if status == "" {
		return model.Module{}, ErrEmptyStatus
	}
	log := logger.WithTrace(ctx, v.reg.logger).With(
		zap.Int64("project_id", v.projectID),
		zap.Int("index", index),
		zap.String("status", status),
	)

	v.mu.Lock()
	target, err := v.rowLocked(index, generation)
	if err != nil {
		v.mu.Unlock()
		return model.Module{}, err
	}
	current := *target
	gen := v.generation
	v.mu.Unlock()

	if current.Sync == model.SyncPending {
		metrics.IncrementStatusTransition(status, "in_flight")
		return model.Module{}, ErrEditInFlight
	}

	// key 只在请求处理期间持有，拦截并发的重复提交；ttl 兜底进程异常退出
	if d := v.reg.deduper; d != nil && current.Persisted() {
		key := util.FormatEditKey(v.projectID, rowID(current), status)
		if !d.AcquireOnce(ctx, key) {
			metrics.IncrementStatusTransition(status, "duplicate")
			return model.Module{}, ErrDuplicateEdit
		}
		defer d.Release(context.WithoutCancel(ctx), key)
	}

	v.mu.Lock()
	// 去重检查期间列表可能已被替换
	row, err := v.rowLocked(index, gen)
	if err != nil {
		v.mu.Unlock()
		return model.Module{}, err
	}
	if row.Sync == model.SyncPending {
		v.mu.Unlock()
		metrics.IncrementStatusTransition(status, "in_flight")
		return model.Module{}, ErrEditInFlight
	}

	previous := *row
	timeline.ApplyStatus(row, status)
	row.SyncError = ""

	if !row.Persisted() {
		row.Sync = model.SyncLocal
		updated := *row
		v.mu.Unlock()
		metrics.IncrementStatusTransition(status, "local")
		log.Debug("Status changed on unpersisted row")
		return updated, nil
	}

	row.Sync = model.SyncPending
	sent := *row
	v.mu.Unlock()

	err = v.reg.api.UpdateProjectTimeline(ctx, *sent.ID, model.UpdateFor(sent))
	if err == nil {
		return v.commit(ctx, log, index, gen, sent, previous.Status), nil
	}

	retryable, category := util.IsRetryableError(err)
	queued := false
	if retryable && v.reg.queue != nil {
		payload := v.newStatusSyncPayload(ctx, index, gen, sent, previous)
		if qerr := v.reg.enqueueSync(ctx, payload); qerr != nil {
			log.Error("Failed to queue status update", zap.Error(qerr))
		} else {
			queued = true
		}
	}

	v.mu.Lock()
	stale := v.generation != gen
	updated := sent
	switch {
	case stale:
	case queued:
		row = &v.modules[index]
		row.Sync = model.SyncQueued
		row.SyncError = err.Error()
		updated = *row
	default:
		// 回滚乐观修改
		row = &v.modules[index]
		*row = previous
		row.Sync = model.SyncFailed
		row.SyncError = err.Error()
	}
	v.mu.Unlock()

	switch {
	case queued:
		metrics.IncrementStatusTransition(status, "queued")
		log.Warn("Status update queued for retry",
			zap.String("error_type", category),
			zap.Bool("stale", stale),
			zap.Error(err),
		)
		updated.Sync = model.SyncQueued
		updated.SyncError = err.Error()
		return updated, nil
	case stale:
		metrics.IncrementStatusTransition(status, "stale")
		log.Info("Discarding status response for reloaded timeline", zap.Error(err))
		return model.Module{}, err
	default:
		metrics.IncrementStatusTransition(status, "failed")
		log.Warn("Status update rejected, rolled back",
			zap.String("error_type", category),
			zap.Error(err),
		)
		return model.Module{}, err
	}
}

// rowID 行的持久化身份：优先 detail id，其次 module id
func rowID(m model.Module) int64 {
	switch {
	case m.DetailID != nil:
		return *m.DetailID
	case m.ID != nil:
		return *m.ID
	}
	return 0
}

// commit 后端已接受修改；列表在此期间被重新加载时不改动新列表
func (v *View) commit(ctx context.Context, log *zap.Logger, index int, gen uint64, sent model.Module, from string) model.Module {
	sent.Sync = model.SyncCommitted

	v.mu.Lock()
	if v.generation == gen {
		row := &v.modules[index]
		row.Sync = model.SyncCommitted
		sent = *row
	} else {
		log.Info("Status committed after timeline reload, list left unchanged")
	}
	v.mu.Unlock()

	metrics.IncrementStatusTransition(sent.Status, "committed")
	log.Info("Status committed", zap.Int64("module_id", *sent.ID))
	v.reg.markStaleExcept(v.projectID, v)
	v.reg.afterCommit(ctx, sent, from, false)
	return sent
}

// applyDetailStatus 后端已接受 PATCH，更新对应 detail 的行
func (v *View) applyDetailStatus(detailID int64, status string) (model.Module, string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.modules {
		row := &v.modules[i]
		if row.DetailID == nil || *row.DetailID != detailID {
			continue
		}
		from := row.Status
		timeline.ApplyStatus(row, status)
		if row.Persisted() {
			row.Sync = model.SyncCommitted
		}
		row.SyncError = ""
		return *row, from, true
	}
	return model.Module{}, "", false
}

// MarkStale 下次 Ensure 时重新加载（其它实例修改了该项目）
func (v *View) MarkStale() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.loaded = false
}

// RemoveDetails 从列表中删除已在后端删除的行
func (v *View) RemoveDetails(detailIDs []int64) int {
	if len(detailIDs) == 0 {
		return 0
	}
	gone := make(map[int64]struct{}, len(detailIDs))
	for _, id := range detailIDs {
		gone[id] = struct{}{}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	kept := make([]model.Module, 0, len(v.modules))
	for _, m := range v.modules {
		if m.DetailID != nil {
			if _, ok := gone[*m.DetailID]; ok {
				continue
			}
		}
		kept = append(kept, m)
	}
	removed := len(v.modules) - len(kept)
	if removed > 0 {
		v.modules = kept
		// 下标已变化，进行中的状态修改响应需要被丢弃
		v.generation = v.reg.generations.Add(1)
	}
	return removed
}

// rowFor 按下标和身份找到排队同步对应的行，调用方持有锁
func (v *View) rowFor(p mqcontracts.StatusSyncPayload) *model.Module {
	if p.Index < 0 || p.Index >= len(v.modules) {
		return nil
	}
	row := &v.modules[p.Index]
	if row.ID == nil || *row.ID != p.ModuleID || row.Name != p.Module {
		return nil
	}
	if p.DetailID != nil && (row.DetailID == nil || *row.DetailID != *p.DetailID) {
		return nil
	}
	return row
}

// superseded 排队之后同一列表里的该行又被改成了其它状态
func (v *View) superseded(p mqcontracts.StatusSyncPayload) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.generation != p.ViewGeneration {
		return false
	}
	row := v.rowFor(p)
	return row != nil && row.Status != p.Status
}

// markSynced 重放成功，queued 行变为 committed
func (v *View) markSynced(p mqcontracts.StatusSyncPayload) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if row := v.rowFor(p); row != nil && row.Status == p.Status && row.Sync == model.SyncQueued {
		row.Sync = model.SyncCommitted
		row.SyncError = ""
	}
}

// markSyncFailed 重放放弃，回滚到排队前的状态
func (v *View) markSyncFailed(p mqcontracts.StatusSyncPayload, cause error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if row := v.rowFor(p); row != nil && row.Status == p.Status && row.Sync == model.SyncQueued {
		row.Status = p.From
		if p.FromColor != "" {
			row.Color = p.FromColor
		} else {
			timeline.ApplyStatus(row, p.From)
		}
		row.Sync = model.SyncFailed
		row.SyncError = cause.Error()
	}
}

func (v *View) newStatusSyncPayload(ctx context.Context, index int, gen uint64, m, previous model.Module) mqcontracts.StatusSyncPayload {
	return mqcontracts.StatusSyncPayload{
		EventID:        uuid.NewString(),
		TraceID:        trace.FromContext(ctx),
		ProjectID:      m.ProjectID,
		ModuleID:       *m.ID,
		DetailID:       m.DetailID,
		Index:          index,
		ViewQuery:      v.query.Key(),
		ViewGeneration: gen,
		Module:         m.Name,
		StartDate:      m.StartDate,
		EndDate:        m.EndDate,
		From:           previous.Status,
		FromColor:      previous.Color,
		Status:         m.Status,
		UserID:         userFrom(ctx),
		QueuedAt:       time.Now().UTC(),
	}
}

func newStatusChangedPayload(ctx context.Context, origin string, m model.Module, from string, replayed bool) mqcontracts.StatusChangedPayload {
	var moduleID int64
	if m.ID != nil {
		moduleID = *m.ID
	}
	return mqcontracts.StatusChangedPayload{
		EventID:   uuid.NewString(),
		TraceID:   trace.FromContext(ctx),
		ProjectID: m.ProjectID,
		ModuleID:  moduleID,
		DetailID:  m.DetailID,
		Module:    m.Name,
		From:      from,
		To:        m.Status,
		Color:     m.Color,
		UserID:    userFrom(ctx),
		Replayed:  replayed,
		Origin:    origin,
		ChangedAt: time.Now().UTC(),
	}
}

