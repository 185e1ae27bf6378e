package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"

	"timelineboard/internal/model"

	"golang.org/x/sync/errgroup"
)

// Query 时间线列表查询参数
type Query struct {
	Search string
	Page   int
	Limit  int
}

func (q Query) values() url.Values {
	v := url.Values{}
	page, limit := q.Page, q.Limit
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = 100
	}
	v.Set("page", strconv.Itoa(page))
	v.Set("limit", strconv.Itoa(limit))
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	return v
}

// Key 缓存键使用的稳定表示
func (q Query) Key() string {
	return q.values().Encode()
}

// FetchTimeline GET /{projectId}/timeline
// 失败返回 *Error，不会用空列表代替错误
func (c *Client) FetchTimeline(ctx context.Context, projectID int64, q Query) ([]model.TimelineRecord, error) {
	const op = "fetch_timeline"
	if projectID <= 0 {
		return nil, validationError(op, "project id must be positive")
	}

	var records []model.TimelineRecord
	err := c.do(ctx, request{
		op:     op,
		method: http.MethodGet,
		path:   fmt.Sprintf("/%d/timeline", projectID),
		query:  q.values(),
	}, func(body []byte) error {
		var err error
		records, err = decodeList[model.TimelineRecord](body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// UpdateProjectTimeline PUT /timeline/{moduleId}
func (c *Client) UpdateProjectTimeline(ctx context.Context, moduleID int64, update model.TimelineUpdate) error {
	const op = "update_project_timeline"
	if moduleID <= 0 {
		return validationError(op, "module id must be positive")
	}
	if len(update.Details) == 0 {
		return validationError(op, "details must not be empty")
	}

	return c.do(ctx, request{
		op:     op,
		method: http.MethodPut,
		path:   fmt.Sprintf("/timeline/%d", moduleID),
		body:   update,
	}, nil)
}

// PatchTimelineDetail PATCH /{projectId}/timeline-detail/{detailId}
func (c *Client) PatchTimelineDetail(ctx context.Context, projectID, detailID int64, status string) error {
	const op = "patch_timeline_detail"
	if projectID <= 0 || detailID <= 0 {
		return validationError(op, "project id and detail id must be positive")
	}
	if status == "" {
		return validationError(op, "status must not be empty")
	}

	var patch model.DetailStatusPatch
	patch.TimelineDetail.Status = status
	return c.do(ctx, request{
		op:     op,
		method: http.MethodPatch,
		path:   fmt.Sprintf("/%d/timeline-detail/%d", projectID, detailID),
		body:   patch,
	}, nil)
}

// DeleteTimelineDetail DELETE /{projectId}/timeline-detail/{detailId}
func (c *Client) DeleteTimelineDetail(ctx context.Context, projectID, detailID int64) error {
	const op = "delete_timeline_detail"
	if projectID <= 0 || detailID <= 0 {
		return validationError(op, "project id and detail id must be positive")
	}

	return c.do(ctx, request{
		op:     op,
		method: http.MethodDelete,
		path:   fmt.Sprintf("/%d/timeline-detail/%d", projectID, detailID),
	}, nil)
}

// BulkResult 批量删除的汇总结果
type BulkResult struct {
	Deleted []int64          `json:"deleted"`
	Failed  map[int64]string `json:"failed"`
}

// OK 是否全部成功
func (r BulkResult) OK() bool {
	return len(r.Failed) == 0
}

// BulkDeleteTimelineDetails 并发删除多个 detail，单个失败不影响其它
func (c *Client) BulkDeleteTimelineDetails(ctx context.Context, projectID int64, detailIDs []int64) BulkResult {
	result := BulkResult{
		Deleted: []int64{},
		Failed:  map[int64]string{},
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.bulkLimit)

	seen := make(map[int64]struct{}, len(detailIDs))
	for _, id := range detailIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		id := id
		g.Go(func() error {
			err := c.DeleteTimelineDetail(gctx, projectID, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed[id] = err.Error()
			} else {
				result.Deleted = append(result.Deleted, id)
			}
			// 不返回错误，避免取消其它删除
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Deleted, func(i, j int) bool { return result.Deleted[i] < result.Deleted[j] })
	return result
}
