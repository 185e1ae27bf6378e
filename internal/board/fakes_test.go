package board

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	mqcontracts "timelineboard/contracts/mq"
	"timelineboard/internal/apiclient"
	"timelineboard/internal/model"
	"timelineboard/pkg/outbox"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func int64Ptr(v int64) *int64 { return &v }

// 行 0 Design、行 1 Build 已持久化；行 2 Idea 没有 id
func sampleRecords() []model.TimelineRecord {
	return []model.TimelineRecord{
		{ID: 1, ProjectID: 9, Timeline: "Phase 1", Duration: "2 months", Details: []model.TimelineDetail{
			{ID: int64Ptr(11), Module: "Design", StartDate: "01/01/2024", EndDate: "14/01/2024", Status: model.StatusPending},
			{ID: int64Ptr(12), Module: "Build", StartDate: "15/01/2024", EndDate: "28/02/2024", Status: model.StatusOnProgress},
		}},
		{ID: 0, ProjectID: 9, Timeline: "Draft", Details: []model.TimelineDetail{
			{Module: "Idea", StartDate: "01/03/2024", EndDate: "07/03/2024", Status: model.StatusPending},
		}},
	}
}

type updateCall struct {
	moduleID int64
	update   model.TimelineUpdate
}

type fakeAPI struct {
	mu        sync.Mutex
	records   []model.TimelineRecord
	fetchErr  error
	updateErr error
	fetches   int
	updates   []updateCall
	deleteErr map[int64]string
	patchErr  error
	patches   []int64

	// 非 nil 时 UpdateProjectTimeline 先通知 entered 再等待 release
	entered chan struct{}
	release chan struct{}
}

// FetchTimeline 按 Search 过滤 detail 的 module 名
func (f *fakeAPI) FetchTimeline(_ context.Context, _ int64, q apiclient.Query) ([]model.TimelineRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out, _ := json.Marshal(f.records)
	var all []model.TimelineRecord
	_ = json.Unmarshal(out, &all)

	records := []model.TimelineRecord{}
	for _, r := range all {
		if q.Search != "" {
			var kept []model.TimelineDetail
			for _, d := range r.Details {
				if strings.Contains(d.Module, q.Search) {
					kept = append(kept, d)
				}
			}
			if len(kept) == 0 {
				continue
			}
			r.Details = kept
		}
		records = append(records, r)
	}
	return records, nil
}

func (f *fakeAPI) setFetchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

func (f *fakeAPI) UpdateProjectTimeline(_ context.Context, moduleID int64, update model.TimelineUpdate) error {
	f.mu.Lock()
	f.updates = append(f.updates, updateCall{moduleID: moduleID, update: update})
	entered, release := f.entered, f.release
	err := f.updateErr
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
		<-release
	}
	return err
}

func (f *fakeAPI) PatchTimelineDetail(_ context.Context, _ int64, detailID int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches = append(f.patches, detailID)
	return f.patchErr
}

func (f *fakeAPI) BulkDeleteTimelineDetails(_ context.Context, _ int64, ids []int64) apiclient.BulkResult {
	res := apiclient.BulkResult{Deleted: []int64{}, Failed: map[int64]string{}}
	for _, id := range ids {
		if msg, ok := f.deleteErr[id]; ok {
			res.Failed[id] = msg
			continue
		}
		res.Deleted = append(res.Deleted, id)
	}
	return res
}

func (f *fakeAPI) setUpdateErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateErr = err
}

func (f *fakeAPI) updateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.updates)
}

type memQueue struct {
	mu     sync.Mutex
	events []*outbox.Event
	err    error
}

func (q *memQueue) Enqueue(_ context.Context, e *outbox.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	e.ID = int64(len(q.events) + 1)
	q.events = append(q.events, e)
	return nil
}

func (q *memQueue) byKey(key string) []*outbox.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*outbox.Event
	for _, e := range q.events {
		if e.RoutingKey == key {
			out = append(out, e)
		}
	}
	return out
}

type memCache struct {
	mu          sync.Mutex
	entries     map[string][]model.TimelineRecord
	invalidated []int64
}

func newMemCache() *memCache {
	return &memCache{entries: map[string][]model.TimelineRecord{}}
}

func (c *memCache) Get(_ context.Context, projectID int64, key string) ([]model.TimelineRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[fmt.Sprintf("%d|%s", projectID, key)]
	return r, ok
}

func (c *memCache) Set(_ context.Context, projectID int64, key string, records []model.TimelineRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fmt.Sprintf("%d|%s", projectID, key)] = records
}

func (c *memCache) InvalidateProject(_ context.Context, projectID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string][]model.TimelineRecord{}
	c.invalidated = append(c.invalidated, projectID)
}

type stubDeduper struct {
	allow    bool
	released []string
}

func (d *stubDeduper) AcquireOnce(context.Context, string) bool { return d.allow }

func (d *stubDeduper) Release(_ context.Context, key string) {
	d.released = append(d.released, key)
}

// memDeduper 行为与 Redis SETNX 一致，key 不过期
type memDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDeduper) AcquireOnce(_ context.Context, key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	if d.seen[key] {
		return false
	}
	d.seen[key] = true
	return true
}

func (d *memDeduper) Release(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
}

type fixture struct {
	api   *fakeAPI
	queue *memQueue
	cache *memCache
	reg   *Registry
	view  *View
}

func newFixture(t *testing.T, withQueue bool, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		api:   &fakeAPI{records: sampleRecords()},
		queue: &memQueue{},
		cache: newMemCache(),
	}
	loader := NewLoader(f.api, f.cache, zap.NewNop())
	if withQueue {
		opts = append(opts, WithQueue(f.queue))
	}
	f.reg = NewRegistry(f.api, loader, zap.NewNop(), opts...)

	view, _, err := f.reg.Open(context.Background(), 9, apiclient.Query{})
	require.NoError(t, err)
	f.view = view
	return f
}

func decodeSync(t *testing.T, e *outbox.Event) mqcontracts.StatusSyncPayload {
	t.Helper()
	var p mqcontracts.StatusSyncPayload
	require.NoError(t, json.Unmarshal(e.Payload, &p))
	return p
}
