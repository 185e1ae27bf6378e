// Package timeline turns DD/MM/YYYY date ranges into Gantt chart geometry.
package timeline

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// 固定布局常量（像素）
const (
	FixedLeftWidth = 850 // 左侧非图表列
	MonthWidth     = 120
	WeeksPerMonth  = 4
	WeekWidth      = MonthWidth / WeeksPerMonth
	MonthsPerChart = 12
	MaxDay         = 31
)

// Scale 横轴刻度
type Scale string

const (
	// ScaleWeeks 每月固定 4 个 7 天的周桶，22-31 号都落在最后一个桶
	ScaleWeeks Scale = "weeks"
	// ScaleDays 按当月实际天数换算，pixels_per_day = MonthWidth / days_in_month
	ScaleDays Scale = "days"
)

// ErrReversedRange 结束日期早于开始日期（按月/日比较，忽略年份）
var ErrReversedRange = errors.New("end date is before start date")

// ParseError 日期字符串格式错误
type ParseError struct {
	Field  string
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Input, e.Reason)
}

// Date 解析后的 DD/MM/YYYY
type Date struct {
	Day   int
	Month int // 1-12
	Year  int
}

// ParseDate 解析 DD/MM/YYYY，日和月按位置解析
// 日只检查 1-31，不按年份和月份校验；周桶刻度不看年份
func ParseDate(field, s string) (Date, error) {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return Date{}, &ParseError{Field: field, Input: s, Reason: "expected DD/MM/YYYY"}
	}

	nums := [3]int{}
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			return Date{}, &ParseError{Field: field, Input: s, Reason: "non-numeric or zero component"}
		}
		nums[i] = n
	}

	d := Date{Day: nums[0], Month: nums[1], Year: nums[2]}
	if d.Month > 12 {
		return Date{}, &ParseError{Field: field, Input: s, Reason: "month out of range"}
	}
	if d.Day > MaxDay {
		return Date{}, &ParseError{Field: field, Input: s, Reason: "day out of range"}
	}
	return d, nil
}

// weekIndex 日期所在的周桶（0-3）
func (d Date) weekIndex() int {
	w := (d.Day - 1) / 7
	if w >= WeeksPerMonth {
		w = WeeksPerMonth - 1
	}
	return w
}

func (d Date) before(o Date) bool {
	if d.Month != o.Month {
		return d.Month < o.Month
	}
	return d.Day < o.Day
}

func daysIn(month, year int) int {
	return time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Position 图表上的水平位置
type Position struct {
	Left  float64 `json:"left"`
	Width float64 `json:"width"`
}

// Right 右边缘
func (p Position) Right() float64 {
	return p.Left + p.Width
}

// ComputePosition 按周桶刻度计算 (start, end) 的像素位置
func ComputePosition(startDate, endDate string) (Position, error) {
	return Compute(ScaleWeeks, startDate, endDate)
}

// Compute 按指定刻度计算像素位置
func Compute(scale Scale, startDate, endDate string) (Position, error) {
	start, err := ParseDate("startDate", startDate)
	if err != nil {
		return Position{}, err
	}
	end, err := ParseDate("endDate", endDate)
	if err != nil {
		return Position{}, err
	}
	if end.before(start) {
		return Position{}, fmt.Errorf("%w: %s > %s", ErrReversedRange, startDate, endDate)
	}

	if scale == ScaleDays {
		return dayPosition(start, end), nil
	}
	return weekPosition(start, end), nil
}

func weekPosition(start, end Date) Position {
	startMonthIndex := start.Month - 1
	endMonthIndex := end.Month - 1
	startWeekIndex := start.weekIndex()
	endWeekIndex := end.weekIndex()

	left := FixedLeftWidth + startMonthIndex*MonthWidth + startWeekIndex*WeekWidth
	totalWeeks := (endMonthIndex-startMonthIndex)*WeeksPerMonth + (endWeekIndex - startWeekIndex + 1)

	return Position{
		Left:  float64(left),
		Width: float64(totalWeeks * WeekWidth),
	}
}

// dayPosition 以天为粒度；结束日期包含在内
// 超出当月天数的日期（如 31/04）按月末计算
func dayPosition(start, end Date) Position {
	start.Day = min(start.Day, daysIn(start.Month, start.Year))
	end.Day = min(end.Day, daysIn(end.Month, end.Year))
	left := dayOffset(start, start.Day-1)
	right := dayOffset(end, end.Day)
	return Position{Left: left, Width: right - left}
}

func dayOffset(d Date, days int) float64 {
	perDay := float64(MonthWidth) / float64(daysIn(d.Month, d.Year))
	return float64(FixedLeftWidth) + float64((d.Month-1)*MonthWidth) + float64(days)*perDay
}
