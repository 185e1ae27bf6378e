package model

// 驱动颜色逻辑的三个状态；status 字段本身允许任意字符串
const (
	StatusDone       = "DONE"
	StatusOnProgress = "ON PROGRESS"
	StatusPending    = "PENDING"
)

// SyncState 行的同步状态
type SyncState string

const (
	SyncLocal     SyncState = "local"     // 没有 id，不会同步到后端
	SyncCommitted SyncState = "committed" // 与后端一致
	SyncPending   SyncState = "pending"   // 请求进行中
	SyncQueued    SyncState = "queued"    // 可重试失败，已放入同步 outbox
	SyncFailed    SyncState = "failed"    // 永久失败，乐观修改已回滚
)

// Module 时间线中的一行
type Module struct {
	ID        *int64    `json:"id,omitempty"`
	DetailID  *int64    `json:"detailId,omitempty"`
	ProjectID int64     `json:"projectId"`
	Name      string    `json:"name"`
	StartDate string    `json:"startDate"` // DD/MM/YYYY
	EndDate   string    `json:"endDate"`   // DD/MM/YYYY
	Status    string    `json:"status"`
	Color     string    `json:"color"`
	Timeline  string    `json:"timeline"`
	Duration  string    `json:"duration"`
	Sync      SyncState `json:"sync"`
	SyncError string    `json:"syncError,omitempty"`
}

// Persisted 行是否已持久化（有 id）
func (m Module) Persisted() bool {
	return m.ID != nil
}
