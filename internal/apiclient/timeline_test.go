package apiclient

import (
	"context"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBulkDelete_PartialFailure(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("unexpected method %s", r.Method)
		}
		switch {
		case strings.HasSuffix(r.URL.Path, "/timeline-detail/2"):
			writeJSON(w, http.StatusNotFound, `{"message":"no such detail"}`)
		case strings.HasSuffix(r.URL.Path, "/timeline-detail/4"):
			writeJSON(w, http.StatusInternalServerError, `{}`)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}, WithBulkLimit(2))

	res := c.BulkDeleteTimelineDetails(context.Background(), 1, []int64{5, 1, 2, 3, 4, 1})

	assert.Equal(t, []int64{1, 3, 5}, res.Deleted)
	assert.Len(t, res.Failed, 2)
	assert.Contains(t, res.Failed[2], "not_found")
	assert.Contains(t, res.Failed[4], "server_error")
	assert.False(t, res.OK())
	// 重复 id 只删除一次
	assert.Equal(t, int32(5), atomic.LoadInt32(calls))
}

func TestBulkDelete_Empty(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	res := c.BulkDeleteTimelineDetails(context.Background(), 1, nil)
	assert.True(t, res.OK())
	assert.Empty(t, res.Deleted)
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestQueryKeyIsStable(t *testing.T) {
	a := Query{Search: "api", Page: 2}
	b := Query{Search: "api", Page: 2, Limit: 100}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), Query{Search: "ui", Page: 2}.Key())
}
