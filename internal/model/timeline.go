package model

// TimelineRecord 后端返回的时间线记录
type TimelineRecord struct {
	ID        int64            `json:"id"`
	ProjectID int64            `json:"project_id"`
	Timeline  string           `json:"timeline"`
	Duration  string           `json:"duration"`
	Details   []TimelineDetail `json:"details"`
}

// TimelineDetail 时间线记录中的一个模块
type TimelineDetail struct {
	ID        *int64 `json:"id,omitempty"`
	Module    string `json:"module"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Status    string `json:"status"`
}

// TimelineUpdate PUT /timeline/{moduleId} 的请求体
type TimelineUpdate struct {
	ProjectID int64            `json:"project_id"`
	Details   []TimelineDetail `json:"details"`
}

// DetailStatusPatch PATCH /{projectId}/timeline-detail/{detailId} 的请求体
type DetailStatusPatch struct {
	TimelineDetail struct {
		Status string `json:"status"`
	} `json:"timeline_detail"`
}

// ToModules 把记录展开成行，每个 detail 一行
func (r TimelineRecord) ToModules() []Module {
	modules := make([]Module, 0, len(r.Details))
	for _, d := range r.Details {
		id := r.ID
		m := Module{
			ID:        &id,
			DetailID:  d.ID,
			ProjectID: r.ProjectID,
			Name:      d.Module,
			StartDate: d.StartDate,
			EndDate:   d.EndDate,
			Status:    d.Status,
			Timeline:  r.Timeline,
			Duration:  r.Duration,
			Sync:      SyncCommitted,
		}
		if r.ID == 0 {
			m.ID = nil
			m.Sync = SyncLocal
		}
		modules = append(modules, m)
	}
	return modules
}

// UpdateFor 构造只包含该行的更新请求
func UpdateFor(m Module) TimelineUpdate {
	return TimelineUpdate{
		ProjectID: m.ProjectID,
		Details: []TimelineDetail{{
			Module:    m.Name,
			StartDate: m.StartDate,
			EndDate:   m.EndDate,
			Status:    m.Status,
		}},
	}
}
