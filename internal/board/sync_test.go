package board

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	mqcontracts "timelineboard/contracts/mq"
	"timelineboard/internal/apiclient"
	"timelineboard/internal/model"
	"timelineboard/pkg/outbox"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// queueOne 让行 0 进入 queued 并返回排队的事件
func queueOne(t *testing.T, f *fixture, status string) *outbox.Event {
	t.Helper()
	f.api.setUpdateErr(errServer)
	m, err := f.view.SetStatus(context.Background(), 0, 0, status)
	require.NoError(t, err)
	require.Equal(t, model.SyncQueued, m.Sync)
	f.api.setUpdateErr(nil)

	events := f.queue.byKey(mqcontracts.RoutingStatusSync)
	require.NotEmpty(t, events)
	return events[len(events)-1]
}

func TestHandleStatusSync_Replays(t *testing.T) {
	f := newFixture(t, true)
	ev := queueOne(t, f, model.StatusDone)

	require.NoError(t, f.reg.HandleStatusSync(context.Background(), ev))

	require.Equal(t, 2, f.api.updateCount())
	last := f.api.updates[1]
	assert.Equal(t, int64(1), last.moduleID)
	assert.Equal(t, model.StatusDone, last.update.Details[0].Status)

	row := f.view.Snapshot().Modules[0]
	assert.Equal(t, model.SyncCommitted, row.Sync)
	assert.Empty(t, row.SyncError)

	changed := f.queue.byKey(mqcontracts.RoutingStatusChanged)
	require.Len(t, changed, 1)
	var p mqcontracts.StatusChangedPayload
	require.NoError(t, json.Unmarshal(changed[0].Payload, &p))
	assert.True(t, p.Replayed)
	assert.Equal(t, "#1C148B", p.Color)
}

func TestHandleStatusSync_UsesReplayAPI(t *testing.T) {
	replay := &fakeAPI{}
	f := newFixture(t, true, WithReplayAPI(replay))
	ev := queueOne(t, f, model.StatusDone)

	require.NoError(t, f.reg.HandleStatusSync(context.Background(), ev))
	assert.Equal(t, 1, f.api.updateCount())
	assert.Equal(t, 1, replay.updateCount())
}

func TestHandleStatusSync_SkipsSupersededEdit(t *testing.T) {
	f := newFixture(t, true)
	ev := queueOne(t, f, model.StatusDone)

	_, err := f.view.SetStatus(context.Background(), 0, 0, model.StatusOnProgress)
	require.NoError(t, err)
	calls := f.api.updateCount()

	require.NoError(t, f.reg.HandleStatusSync(context.Background(), ev))
	assert.Equal(t, calls, f.api.updateCount())
	assert.Equal(t, model.StatusOnProgress, f.view.Snapshot().Modules[0].Status)
}

func TestHandleStatusSync_ReplaysAfterReload(t *testing.T) {
	f := newFixture(t, true)
	ev := queueOne(t, f, model.StatusDone)

	f.cache.InvalidateProject(context.Background(), 9)
	_, err := f.view.Load(context.Background())
	require.NoError(t, err)

	require.NoError(t, f.reg.HandleStatusSync(context.Background(), ev))
	assert.Equal(t, 2, f.api.updateCount())
}

func TestHandleStatusSync_NonRetryableIsPermanent(t *testing.T) {
	f := newFixture(t, true)
	ev := queueOne(t, f, model.StatusDone)
	f.api.setUpdateErr(errValidation)

	err := f.reg.HandleStatusSync(context.Background(), ev)
	require.Error(t, err)
	assert.True(t, outbox.IsPermanent(err))
	assert.ErrorIs(t, err, errValidation)
}

func TestHandleStatusSync_RetryableIsReturned(t *testing.T) {
	f := newFixture(t, true)
	ev := queueOne(t, f, model.StatusDone)
	f.api.setUpdateErr(errServer)

	err := f.reg.HandleStatusSync(context.Background(), ev)
	assert.ErrorIs(t, err, errServer)
	assert.False(t, outbox.IsPermanent(err))
	assert.Equal(t, model.SyncQueued, f.view.Snapshot().Modules[0].Sync)
}

func TestHandleStatusSync_BadPayload(t *testing.T) {
	f := newFixture(t, true)
	err := f.reg.HandleStatusSync(context.Background(), &outbox.Event{
		ID:         1,
		RoutingKey: mqcontracts.RoutingStatusSync,
		Payload:    json.RawMessage(`not json`),
	})
	assert.True(t, outbox.IsPermanent(err))
}

func TestHandleSyncGiveUp_RollsBack(t *testing.T) {
	f := newFixture(t, true)
	ev := queueOne(t, f, model.StatusDone)

	f.reg.HandleSyncGiveUp(context.Background(), ev, errors.New("backend down"))

	row := f.view.Snapshot().Modules[0]
	assert.Equal(t, model.StatusPending, row.Status)
	assert.Equal(t, "#B20000", row.Color)
	assert.Equal(t, model.SyncFailed, row.Sync)
	assert.Equal(t, "backend down", row.SyncError)
}

func TestHandleSyncGiveUp_RestoresPreviousColor(t *testing.T) {
	f := newFixture(t, true)

	// 未知状态沿用原颜色
	m, err := f.view.SetStatus(context.Background(), 0, 0, "BLOCKED")
	require.NoError(t, err)
	require.Equal(t, "#B20000", m.Color)

	ev := queueOne(t, f, model.StatusDone)
	p := decodeSync(t, ev)
	assert.Equal(t, "BLOCKED", p.From)
	assert.Equal(t, "#B20000", p.FromColor)
	require.Equal(t, "#1C148B", f.view.Snapshot().Modules[0].Color)

	f.reg.HandleSyncGiveUp(context.Background(), ev, errors.New("backend down"))

	row := f.view.Snapshot().Modules[0]
	assert.Equal(t, "BLOCKED", row.Status)
	assert.Equal(t, "#B20000", row.Color)
	assert.Equal(t, model.SyncFailed, row.Sync)
}

func TestHandleStatusSync_FindsViewByQuery(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	build, snap, err := f.reg.Open(ctx, 9, apiclient.Query{Search: "Build"})
	require.NoError(t, err)

	f.api.setUpdateErr(errServer)
	_, err = build.SetStatus(ctx, 0, snap.Generation, model.StatusDone)
	require.NoError(t, err)
	f.api.setUpdateErr(nil)

	events := f.queue.byKey(mqcontracts.RoutingStatusSync)
	require.Len(t, events, 1)
	p := decodeSync(t, events[0])
	assert.Equal(t, apiclient.Query{Search: "Build"}.Key(), p.ViewQuery)
	require.NotNil(t, p.DetailID)
	assert.Equal(t, int64(12), *p.DetailID)

	require.NoError(t, f.reg.HandleStatusSync(ctx, events[0]))
	assert.Equal(t, model.SyncCommitted, build.Snapshot().Modules[0].Sync)
	// 未过滤列表里的 Design 行不受影响
	assert.Equal(t, model.StatusPending, f.view.Snapshot().Modules[0].Status)
	assert.False(t, f.view.Snapshot().Loaded)
}

func TestHandleEvent_IgnoresOwnEvents(t *testing.T) {
	f := newFixture(t, false)

	payload, err := json.Marshal(map[string]any{"project_id": 9, "origin": f.reg.instanceID})
	require.NoError(t, err)
	require.NoError(t, f.reg.HandleEvent(context.Background(), mqcontracts.RoutingDetailsDeleted, payload))
	assert.True(t, f.view.Snapshot().Loaded)

	other, err := json.Marshal(map[string]any{"project_id": 9, "origin": "another-instance"})
	require.NoError(t, err)
	require.NoError(t, f.reg.HandleEvent(context.Background(), mqcontracts.RoutingDetailsDeleted, other))
	assert.False(t, f.view.Snapshot().Loaded)
}

func TestHandleEvent_MarksViewStale(t *testing.T) {
	f := newFixture(t, false)
	gen := f.view.Snapshot().Generation

	payload := json.RawMessage(`{"project_id":9,"module_id":1}`)
	require.NoError(t, f.reg.HandleEvent(context.Background(), mqcontracts.RoutingStatusChanged, payload))
	assert.False(t, f.view.Snapshot().Loaded)

	snap, err := f.view.Ensure(context.Background())
	require.NoError(t, err)
	assert.Equal(t, gen+1, snap.Generation)

	assert.Error(t, f.reg.HandleEvent(context.Background(), mqcontracts.RoutingStatusChanged, json.RawMessage(`[`)))
}
