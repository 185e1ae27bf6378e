package timeline

import "timelineboard/internal/model"

var statusColors = map[string]string{
	model.StatusDone:       "#1C148B",
	model.StatusOnProgress: "#ECA6A6",
	model.StatusPending:    "#B20000",
}

// StatusColor 返回状态对应的颜色；未知状态返回 false
func StatusColor(status string) (string, bool) {
	c, ok := statusColors[status]
	return c, ok
}

// ColorFor 未知状态保留之前的颜色
func ColorFor(status, previous string) string {
	if c, ok := StatusColor(status); ok {
		return c
	}
	return previous
}

// ApplyStatus 更新行的状态和派生颜色
func ApplyStatus(m *model.Module, status string) {
	m.Status = status
	m.Color = ColorFor(status, m.Color)
}
