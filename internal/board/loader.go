package board

import (
	"context"

	"timelineboard/internal/apiclient"
	"timelineboard/internal/model"
	"timelineboard/internal/timeline"
	"timelineboard/pkg/logger"

	"go.uber.org/zap"
)

// TimelineAPI board 依赖的后端操作，*apiclient.Client 实现了它
type TimelineAPI interface {
	FetchTimeline(ctx context.Context, projectID int64, q apiclient.Query) ([]model.TimelineRecord, error)
	UpdateProjectTimeline(ctx context.Context, moduleID int64, update model.TimelineUpdate) error
	PatchTimelineDetail(ctx context.Context, projectID, detailID int64, status string) error
	BulkDeleteTimelineDetails(ctx context.Context, projectID int64, detailIDs []int64) apiclient.BulkResult
}

// RecordCache 时间线记录缓存，*cache.TimelineCache 实现了它
type RecordCache interface {
	Get(ctx context.Context, projectID int64, queryKey string) ([]model.TimelineRecord, bool)
	Set(ctx context.Context, projectID int64, queryKey string, records []model.TimelineRecord)
	InvalidateProject(ctx context.Context, projectID int64)
}

// Loader 拉取项目时间线并展开成行
type Loader struct {
	api    TimelineAPI
	cache  RecordCache
	logger *zap.Logger
}

// NewLoader cache 可以为 nil
func NewLoader(api TimelineAPI, cache RecordCache, logger *zap.Logger) *Loader {
	return &Loader{
		api:    api,
		cache:  cache,
		logger: logger,
	}
}

// Load 返回项目的全部行；失败时返回 *apiclient.Error，不会返回空列表冒充成功
func (l *Loader) Load(ctx context.Context, projectID int64, q apiclient.Query) ([]model.Module, error) {
	log := logger.WithTrace(ctx, l.logger)
	key := q.Key()

	if l.cache != nil {
		if records, ok := l.cache.Get(ctx, projectID, key); ok {
			return toModules(records), nil
		}
	}

	records, err := l.api.FetchTimeline(ctx, projectID, q)
	if err != nil {
		log.Warn("Failed to load timeline",
			zap.Int64("project_id", projectID),
			zap.String("kind", string(apiclient.KindOf(err))),
			zap.Error(err),
		)
		return nil, err
	}

	if l.cache != nil {
		l.cache.Set(ctx, projectID, key, records)
	}

	modules := toModules(records)
	log.Debug("Timeline loaded",
		zap.Int64("project_id", projectID),
		zap.Int("records", len(records)),
		zap.Int("rows", len(modules)),
	)
	return modules, nil
}

// Invalidate 丢弃项目的缓存
func (l *Loader) Invalidate(ctx context.Context, projectID int64) {
	if l.cache != nil {
		l.cache.InvalidateProject(ctx, projectID)
	}
}

func toModules(records []model.TimelineRecord) []model.Module {
	modules := []model.Module{}
	for _, r := range records {
		for _, m := range r.ToModules() {
			m.Color = timeline.ColorFor(m.Status, "")
			modules = append(modules, m)
		}
	}
	return modules
}
