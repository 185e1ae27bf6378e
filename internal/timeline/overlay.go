package timeline

import (
	"timelineboard/internal/model"
)

// LayoutConfig 覆盖层的纵向布局
type LayoutConfig struct {
	Scale        Scale   `yaml:"scale"`
	HeaderHeight float64 `yaml:"header_height"`
	RowHeight    float64 `yaml:"row_height"`
	PillHeight   float64 `yaml:"pill_height"`
	LaneStep     float64 `yaml:"lane_step"` // 每个 lane 的额外纵向偏移
}

// DefaultLayoutConfig 默认布局
func DefaultLayoutConfig() LayoutConfig {
	return LayoutConfig{
		Scale:        ScaleWeeks,
		HeaderHeight: 60,
		RowHeight:    48,
		PillHeight:   24,
		LaneStep:     4,
	}
}

// withDefaults 零值字段使用默认值
func (c LayoutConfig) withDefaults() LayoutConfig {
	d := DefaultLayoutConfig()
	if c.Scale == "" {
		c.Scale = d.Scale
	}
	if c.HeaderHeight <= 0 {
		c.HeaderHeight = d.HeaderHeight
	}
	if c.RowHeight <= 0 {
		c.RowHeight = d.RowHeight
	}
	if c.PillHeight <= 0 || c.PillHeight > c.RowHeight {
		c.PillHeight = d.PillHeight
	}
	if c.LaneStep < 0 {
		c.LaneStep = 0
	}
	return c
}

// Pill 一个绘制在图表上的色块
type Pill struct {
	Row    int     `json:"row"`
	Name   string  `json:"name"`
	Label  string  `json:"label"`
	Status string  `json:"status"`
	Color  string  `json:"color"`
	Left   float64 `json:"left"`
	Width  float64 `json:"width"`
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
	Lane   int     `json:"lane"`
}

// RowError 无法绘制的行
type RowError struct {
	Row     int    `json:"row"`
	Name    string `json:"name"`
	Message string `json:"message"`
	err     error
}

// Unwrap 返回原始错误（*ParseError 或 ErrReversedRange）
func (e RowError) Unwrap() error { return e.err }

func (e RowError) Error() string { return e.Message }

// Chart 布局结果
type Chart struct {
	Width  float64      `json:"width"`
	Height float64      `json:"height"`
	Rows   int          `json:"rows"`
	Pills  []Pill       `json:"pills"`
	Errors []RowError   `json:"errors,omitempty"`
	Config LayoutConfig `json:"-"`
}

// Layout 计算每一行 pill 的位置：
// top = HeaderHeight + row*RowHeight + (RowHeight-PillHeight)/2 + lane*LaneStep
// lane 偏移不超过行内上下留白，pill 不会越出所在行
func Layout(modules []model.Module, cfg LayoutConfig) Chart {
	cfg = cfg.withDefaults()

	chart := Chart{
		Width:  FixedLeftWidth + MonthsPerChart*MonthWidth,
		Height: cfg.HeaderHeight + float64(len(modules))*cfg.RowHeight,
		Rows:   len(modules),
		Pills:  make([]Pill, 0, len(modules)),
		Config: cfg,
	}

	var intervals []Interval
	for i, m := range modules {
		pos, err := Compute(cfg.Scale, m.StartDate, m.EndDate)
		if err != nil {
			chart.Errors = append(chart.Errors, RowError{Row: i, Name: m.Name, Message: err.Error(), err: err})
			continue
		}
		chart.Pills = append(chart.Pills, Pill{
			Row:    i,
			Name:   m.Name,
			Label:  m.Timeline,
			Status: m.Status,
			Color:  ColorFor(m.Status, m.Color),
			Left:   pos.Left,
			Width:  pos.Width,
			Height: cfg.PillHeight,
		})
		intervals = append(intervals, Interval{Start: pos.Left, End: pos.Right()})
	}

	centering := (cfg.RowHeight - cfg.PillHeight) / 2
	maxLane := 0
	if cfg.LaneStep > 0 {
		maxLane = int(centering / cfg.LaneStep)
	}
	for i, lane := range AssignLanes(intervals) {
		p := &chart.Pills[i]
		p.Lane = lane
		p.Top = cfg.HeaderHeight + float64(p.Row)*cfg.RowHeight + centering + float64(min(lane, maxLane))*cfg.LaneStep
	}
	return chart
}
