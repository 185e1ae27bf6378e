package mq

import "time"

// Routing keys
const (
	// RoutingStatusChanged 状态修改已提交到后端，发布到 MQ
	RoutingStatusChanged = "timeline.status_changed"
	// RoutingStatusSync 排队等待重放的状态同步，由 BFF 自己处理，不发布
	RoutingStatusSync = "timeline.status_sync"
	// RoutingDetailsDeleted 批量删除完成
	RoutingDetailsDeleted = "timeline.details_deleted"
)

// StatusChangedPayload 时间线行状态变化事件
// Origin 是发出事件的实例 id，实例忽略自己发出的事件
type StatusChangedPayload struct {
	EventID   string    `json:"event_id"`
	TraceID   string    `json:"trace_id,omitempty"`
	ProjectID int64     `json:"project_id"`
	ModuleID  int64     `json:"module_id"`
	DetailID  *int64    `json:"detail_id,omitempty"`
	Module    string    `json:"module"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Color     string    `json:"color"`
	UserID    string    `json:"user_id,omitempty"`
	Replayed  bool      `json:"replayed,omitempty"`
	Origin    string    `json:"origin,omitempty"`
	ChangedAt time.Time `json:"changed_at"`
}

// StatusSyncPayload 可重试失败后暂存的状态同步请求
type StatusSyncPayload struct {
	EventID   string `json:"event_id"`
	TraceID   string `json:"trace_id,omitempty"`
	ProjectID int64  `json:"project_id"`
	ModuleID  int64  `json:"module_id"`
	DetailID  *int64 `json:"detail_id,omitempty"`
	Index     int    `json:"index"`
	// ViewQuery 排队时所在列表的查询条件（apiclient.Query.Key）
	ViewQuery string `json:"view_query"`
	// ViewGeneration 排队时内存列表的版本，用来判断该行之后是否又被修改
	ViewGeneration uint64    `json:"view_generation"`
	Module         string    `json:"module"`
	StartDate      string    `json:"start_date"`
	EndDate        string    `json:"end_date"`
	From           string    `json:"from"`
	FromColor      string    `json:"from_color,omitempty"`
	Status         string    `json:"status"`
	UserID         string    `json:"user_id,omitempty"`
	QueuedAt       time.Time `json:"queued_at"`
}

// DetailsDeletedPayload 批量删除结果
type DetailsDeletedPayload struct {
	EventID   string           `json:"event_id"`
	TraceID   string           `json:"trace_id,omitempty"`
	ProjectID int64            `json:"project_id"`
	Deleted   []int64          `json:"deleted"`
	Failed    map[int64]string `json:"failed,omitempty"`
	UserID    string           `json:"user_id,omitempty"`
	Origin    string           `json:"origin,omitempty"`
	DeletedAt time.Time        `json:"deleted_at"`
}
