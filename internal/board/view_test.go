package board

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	mqcontracts "timelineboard/contracts/mq"
	"timelineboard/internal/apiclient"
	"timelineboard/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errServer     = &apiclient.Error{Kind: apiclient.KindServerError, Op: "update_project_timeline", StatusCode: 503}
	errValidation = &apiclient.Error{Kind: apiclient.KindValidationFailed, Op: "update_project_timeline", StatusCode: 422}
)

func TestSetStatus_UnpersistedRowMakesNoCall(t *testing.T) {
	f := newFixture(t, true)

	m, err := f.view.SetStatus(context.Background(), 2, 0, model.StatusDone)
	require.NoError(t, err)

	assert.Equal(t, model.StatusDone, m.Status)
	assert.Equal(t, "#1C148B", m.Color)
	assert.Equal(t, model.SyncLocal, m.Sync)
	assert.Equal(t, 0, f.api.updateCount())
	assert.Empty(t, f.queue.events)
}

func TestSetStatus_Committed(t *testing.T) {
	f := newFixture(t, true)
	ctx := WithUser(context.Background(), "u-1")

	m, err := f.view.SetStatus(ctx, 0, 0, model.StatusOnProgress)
	require.NoError(t, err)
	assert.Equal(t, model.SyncCommitted, m.Sync)
	assert.Equal(t, "#ECA6A6", m.Color)

	require.Len(t, f.api.updates, 1)
	call := f.api.updates[0]
	assert.Equal(t, int64(1), call.moduleID)
	assert.Equal(t, int64(9), call.update.ProjectID)
	assert.Equal(t, []model.TimelineDetail{{
		Module: "Design", StartDate: "01/01/2024", EndDate: "14/01/2024", Status: model.StatusOnProgress,
	}}, call.update.Details)

	snap := f.view.Snapshot()
	assert.Equal(t, model.StatusOnProgress, snap.Modules[0].Status)
	assert.Equal(t, model.SyncCommitted, snap.Modules[0].Sync)

	assert.Equal(t, []int64{9}, f.cache.invalidated)

	events := f.queue.byKey(mqcontracts.RoutingStatusChanged)
	require.Len(t, events, 1)
	var p mqcontracts.StatusChangedPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &p))
	assert.Equal(t, model.StatusPending, p.From)
	assert.Equal(t, model.StatusOnProgress, p.To)
	assert.Equal(t, "u-1", p.UserID)
	assert.NotEmpty(t, p.EventID)
	assert.False(t, p.Replayed)
}

func TestSetStatus_UnknownStatusKeepsColor(t *testing.T) {
	f := newFixture(t, false)

	m, err := f.view.SetStatus(context.Background(), 1, 0, "BLOCKED")
	require.NoError(t, err)
	assert.Equal(t, "BLOCKED", m.Status)
	assert.Equal(t, "#ECA6A6", m.Color)
}

func TestSetStatus_RejectedRollsBack(t *testing.T) {
	f := newFixture(t, true)
	f.api.setUpdateErr(errValidation)

	_, err := f.view.SetStatus(context.Background(), 0, 0, model.StatusDone)
	require.Error(t, err)
	assert.True(t, apiclient.IsKind(err, apiclient.KindValidationFailed))

	row := f.view.Snapshot().Modules[0]
	assert.Equal(t, model.StatusPending, row.Status)
	assert.Equal(t, "#B20000", row.Color)
	assert.Equal(t, model.SyncFailed, row.Sync)
	assert.NotEmpty(t, row.SyncError)
	assert.Empty(t, f.queue.events)
}

func TestSetStatus_RetryableFailureIsQueued(t *testing.T) {
	f := newFixture(t, true)
	f.api.setUpdateErr(errServer)

	m, err := f.view.SetStatus(context.Background(), 0, 0, model.StatusDone)
	require.NoError(t, err)
	assert.Equal(t, model.SyncQueued, m.Sync)
	assert.Equal(t, model.StatusDone, m.Status)

	row := f.view.Snapshot().Modules[0]
	assert.Equal(t, model.SyncQueued, row.Sync)
	assert.Equal(t, "#1C148B", row.Color)

	events := f.queue.byKey(mqcontracts.RoutingStatusSync)
	require.Len(t, events, 1)
	p := decodeSync(t, events[0])
	assert.Equal(t, int64(1), p.ModuleID)
	assert.Equal(t, 0, p.Index)
	assert.Equal(t, model.StatusPending, p.From)
	assert.Equal(t, model.StatusDone, p.Status)
	assert.Empty(t, f.queue.byKey(mqcontracts.RoutingStatusChanged))
}

func TestSetStatus_RetryableWithoutQueueRollsBack(t *testing.T) {
	f := newFixture(t, false)
	f.api.setUpdateErr(errServer)

	_, err := f.view.SetStatus(context.Background(), 0, 0, model.StatusDone)
	assert.True(t, apiclient.IsKind(err, apiclient.KindServerError))
	assert.Equal(t, model.StatusPending, f.view.Snapshot().Modules[0].Status)
}

func TestSetStatus_QueueFailureRollsBack(t *testing.T) {
	f := newFixture(t, true)
	f.api.setUpdateErr(errServer)
	f.queue.err = errors.New("db down")

	_, err := f.view.SetStatus(context.Background(), 0, 0, model.StatusDone)
	require.Error(t, err)
	assert.Equal(t, model.SyncFailed, f.view.Snapshot().Modules[0].Sync)
}

func TestSetStatus_Validation(t *testing.T) {
	f := newFixture(t, false)

	_, err := f.view.SetStatus(context.Background(), 3, 0, model.StatusDone)
	assert.ErrorIs(t, err, ErrRowNotFound)
	_, err = f.view.SetStatus(context.Background(), -1, 0, model.StatusDone)
	assert.ErrorIs(t, err, ErrRowNotFound)
	_, err = f.view.SetStatus(context.Background(), 0, 0, "")
	assert.ErrorIs(t, err, ErrEmptyStatus)
	assert.Equal(t, 0, f.api.updateCount())
}

func TestSetStatus_EditInFlight(t *testing.T) {
	f := newFixture(t, false)
	f.api.entered = make(chan struct{})
	f.api.release = make(chan struct{})
	release := f.api.release

	done := make(chan error, 1)
	go func() {
		_, err := f.view.SetStatus(context.Background(), 0, 0, model.StatusDone)
		done <- err
	}()
	<-f.api.entered

	assert.Equal(t, model.SyncPending, f.view.Snapshot().Modules[0].Sync)
	_, err := f.view.SetStatus(context.Background(), 0, 0, model.StatusOnProgress)
	assert.ErrorIs(t, err, ErrEditInFlight)

	close(release)
	require.NoError(t, <-done)

	row := f.view.Snapshot().Modules[0]
	assert.Equal(t, model.SyncCommitted, row.Sync)
	assert.Equal(t, model.StatusDone, row.Status)
	assert.Equal(t, 1, f.api.updateCount())
}

func TestSetStatus_StaleResponseDiscarded(t *testing.T) {
	f := newFixture(t, true)
	f.api.entered = make(chan struct{})
	f.api.release = make(chan struct{})
	release := f.api.release

	done := make(chan error, 1)
	go func() {
		_, err := f.view.SetStatus(context.Background(), 0, 0, model.StatusOnProgress)
		done <- err
	}()
	<-f.api.entered

	// 后端数据已被别人改成 DONE，重新加载替换列表
	f.api.mu.Lock()
	f.api.records[0].Details[0].Status = model.StatusDone
	f.api.entered, f.api.release = nil, nil
	f.api.mu.Unlock()
	f.cache.InvalidateProject(context.Background(), 9)

	before := f.view.Snapshot()
	_, err := f.view.Load(context.Background())
	require.NoError(t, err)

	close(release)
	require.NoError(t, <-done)

	after := f.view.Snapshot()
	assert.Equal(t, before.Generation+1, after.Generation)
	assert.Equal(t, model.StatusDone, after.Modules[0].Status)
	assert.Equal(t, model.SyncCommitted, after.Modules[0].Sync)
}

func TestSetStatus_StaleFailureDoesNotRollBackNewList(t *testing.T) {
	f := newFixture(t, true)
	f.api.updateErr = errValidation
	f.api.entered = make(chan struct{})
	f.api.release = make(chan struct{})
	release := f.api.release

	done := make(chan error, 1)
	go func() {
		_, err := f.view.SetStatus(context.Background(), 0, 0, model.StatusOnProgress)
		done <- err
	}()
	<-f.api.entered

	f.api.mu.Lock()
	f.api.entered, f.api.release = nil, nil
	f.api.mu.Unlock()
	f.cache.InvalidateProject(context.Background(), 9)
	_, err := f.view.Load(context.Background())
	require.NoError(t, err)

	close(release)
	assert.Error(t, <-done)

	row := f.view.Snapshot().Modules[0]
	assert.Equal(t, model.SyncCommitted, row.Sync)
	assert.Equal(t, model.StatusPending, row.Status)
}

func TestSetStatus_Duplicate(t *testing.T) {
	d := &stubDeduper{allow: false}
	f := newFixture(t, false, WithDeduper(d))

	_, err := f.view.SetStatus(context.Background(), 0, 0, model.StatusDone)
	assert.ErrorIs(t, err, ErrDuplicateEdit)
	assert.Equal(t, 0, f.api.updateCount())
}

func TestSetStatus_DedupKeyReleasedAfterRequest(t *testing.T) {
	d := &stubDeduper{allow: true}
	f := newFixture(t, false, WithDeduper(d))

	_, err := f.view.SetStatus(context.Background(), 0, 0, model.StatusDone)
	require.NoError(t, err)
	assert.Equal(t, []string{"dedup:status:9:11:DONE"}, d.released)

	f.api.setUpdateErr(errValidation)
	_, err = f.view.SetStatus(context.Background(), 1, 0, model.StatusDone)
	require.Error(t, err)
	assert.Equal(t, []string{"dedup:status:9:11:DONE", "dedup:status:9:12:DONE"}, d.released)

	// 没有 id 的行不访问后端，也不去重
	_, err = f.view.SetStatus(context.Background(), 2, 0, model.StatusDone)
	require.NoError(t, err)
	assert.Len(t, d.released, 2)
}

func TestSetStatus_DedupAllowsToggleBack(t *testing.T) {
	d := &memDeduper{}
	f := newFixture(t, false, WithDeduper(d))
	ctx := context.Background()

	for _, status := range []string{model.StatusDone, model.StatusPending, model.StatusDone, model.StatusPending} {
		m, err := f.view.SetStatus(ctx, 0, 0, status)
		require.NoError(t, err, status)
		assert.Equal(t, status, m.Status)
	}
	assert.Equal(t, 4, f.api.updateCount())

	// 其它实例正在提交同一行的同一修改
	require.True(t, d.AcquireOnce(ctx, "dedup:status:9:11:ON PROGRESS"))
	_, err := f.view.SetStatus(ctx, 0, 0, model.StatusOnProgress)
	assert.ErrorIs(t, err, ErrDuplicateEdit)
	assert.Equal(t, 4, f.api.updateCount())
}

func TestSetStatus_DedupKeyFollowsRowAfterReload(t *testing.T) {
	d := &memDeduper{}
	f := newFixture(t, false, WithDeduper(d))
	ctx := context.Background()

	_, err := f.view.SetStatus(ctx, 0, 0, model.StatusDone)
	require.NoError(t, err)

	// 后端删掉了 Design，重新加载后 Build 移到下标 0
	f.api.mu.Lock()
	f.api.records[0].Details = f.api.records[0].Details[1:]
	f.api.mu.Unlock()
	f.cache.InvalidateProject(ctx, 9)
	snap, err := f.view.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, "Build", snap.Modules[0].Name)

	m, err := f.view.SetStatus(ctx, 0, snap.Generation, model.StatusDone)
	require.NoError(t, err)
	assert.Equal(t, "Build", m.Name)
}

func TestSetStatus_QueriesDoNotShareIndexes(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	build, buildSnap, err := f.reg.Open(ctx, 9, apiclient.Query{Search: "Build"})
	require.NoError(t, err)
	require.Len(t, buildSnap.Modules, 1)
	require.Equal(t, "Build", buildSnap.Modules[0].Name)

	// 另一个用户打开未过滤的列表，不影响 Build 列表的下标
	_, all, err := f.reg.Open(ctx, 9, apiclient.Query{})
	require.NoError(t, err)
	require.Equal(t, "Design", all.Modules[0].Name)
	assert.NotSame(t, f.view, build)

	m, err := build.SetStatus(ctx, 0, buildSnap.Generation, model.StatusDone)
	require.NoError(t, err)
	assert.Equal(t, "Build", m.Name)
	require.NotNil(t, m.DetailID)
	assert.Equal(t, int64(12), *m.DetailID)

	require.Len(t, f.api.updates, 1)
	assert.Equal(t, "Build", f.api.updates[0].update.Details[0].Module)
	assert.Equal(t, model.StatusPending, f.view.Snapshot().Modules[0].Status)
}

func TestSetStatus_StaleGenerationRejected(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	seen := f.view.Snapshot().Generation

	f.cache.InvalidateProject(ctx, 9)
	_, _, err := f.reg.Refresh(ctx, 9, apiclient.Query{})
	require.NoError(t, err)

	_, err = f.view.SetStatus(ctx, 0, seen, model.StatusDone)
	assert.ErrorIs(t, err, ErrStaleView)
	assert.Zero(t, f.api.updateCount())
	assert.Equal(t, model.StatusPending, f.view.Snapshot().Modules[0].Status)

	current := f.view.Snapshot().Generation
	_, err = f.view.SetStatus(ctx, 0, current, model.StatusDone)
	require.NoError(t, err)
}

func TestSetStatus_OwnEventKeepsViewLoaded(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	_, _, err := f.reg.Open(ctx, 9, apiclient.Query{Search: "Build"})
	require.NoError(t, err)
	build, _ := f.reg.lookup(9, apiclient.Query{Search: "Build"}.Key())

	gen := f.view.Snapshot().Generation
	_, err = f.view.SetStatus(ctx, 0, gen, model.StatusDone)
	require.NoError(t, err)

	// 同一项目的其它列表在提交时就被标记过期
	assert.False(t, build.Snapshot().Loaded)

	events := f.queue.byKey(mqcontracts.RoutingStatusChanged)
	require.Len(t, events, 1)
	require.NoError(t, f.reg.HandleEvent(ctx, mqcontracts.RoutingStatusChanged, events[0].Payload))

	snap, err := f.view.Ensure(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Loaded)
	assert.Equal(t, gen, snap.Generation)

	_, err = f.view.SetStatus(ctx, 0, gen, model.StatusOnProgress)
	require.NoError(t, err)
}

func TestRegistry_DeleteDetails(t *testing.T) {
	f := newFixture(t, true)
	f.api.deleteErr = map[int64]string{12: "not_found"}
	gen := f.view.Snapshot().Generation

	res := f.reg.DeleteDetails(context.Background(), 9, []int64{11, 12})
	assert.Equal(t, []int64{11}, res.Deleted)
	assert.Equal(t, map[int64]string{12: "not_found"}, res.Failed)

	snap := f.view.Snapshot()
	require.Len(t, snap.Modules, 2)
	assert.Equal(t, "Build", snap.Modules[0].Name)
	assert.Equal(t, gen+1, snap.Generation)
	assert.Len(t, f.queue.byKey(mqcontracts.RoutingDetailsDeleted), 1)
}

func TestRegistry_PatchDetailStatus(t *testing.T) {
	f := newFixture(t, true)

	m, err := f.reg.PatchDetailStatus(context.Background(), 9, 12, model.StatusDone)
	require.NoError(t, err)
	assert.Equal(t, "Build", m.Name)
	assert.Equal(t, "#1C148B", m.Color)
	assert.Equal(t, model.SyncCommitted, m.Sync)
	assert.Equal(t, []int64{12}, f.api.patches)
	assert.Zero(t, f.api.updateCount())

	assert.Equal(t, model.StatusDone, f.view.Snapshot().Modules[1].Status)
	assert.Contains(t, f.cache.invalidated, int64(9))

	events := f.queue.byKey(mqcontracts.RoutingStatusChanged)
	require.Len(t, events, 1)
	var p mqcontracts.StatusChangedPayload
	require.NoError(t, json.Unmarshal(events[0].Payload, &p))
	assert.Equal(t, model.StatusOnProgress, p.From)
	assert.Equal(t, model.StatusDone, p.To)
	require.NotNil(t, p.DetailID)
	assert.Equal(t, int64(12), *p.DetailID)
}

func TestRegistry_PatchDetailStatus_Rejected(t *testing.T) {
	f := newFixture(t, true)
	f.api.patchErr = errValidation

	_, err := f.reg.PatchDetailStatus(context.Background(), 9, 12, model.StatusDone)
	assert.ErrorIs(t, err, errValidation)
	assert.Equal(t, model.StatusOnProgress, f.view.Snapshot().Modules[1].Status)
	assert.Empty(t, f.queue.byKey(mqcontracts.RoutingStatusChanged))

	_, err = f.reg.PatchDetailStatus(context.Background(), 9, 12, "")
	assert.ErrorIs(t, err, ErrEmptyStatus)
}

func TestRegistry_PatchDetailStatus_ViewNotLoaded(t *testing.T) {
	f := newFixture(t, true)

	m, err := f.reg.PatchDetailStatus(context.Background(), 77, 5, model.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, int64(77), m.ProjectID)
	require.NotNil(t, m.DetailID)
	assert.Equal(t, int64(5), *m.DetailID)
	assert.Equal(t, "#B20000", m.Color)
	assert.Len(t, f.queue.byKey(mqcontracts.RoutingStatusChanged), 1)
}
