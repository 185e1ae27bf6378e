package timeline

import "sort"

// Interval 一个 pill 的水平区间 [Start, End)
type Interval struct {
	Start float64
	End   float64
}

// AssignLanes 贪心区间分配：按 (Start, 输入顺序) 排序，每个区间放到
// 最低的、上一个区间已在 Start 之前结束的 lane。结果与输入顺序一一对应。
func AssignLanes(intervals []Interval) []int {
	order := make([]int, len(intervals))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return intervals[order[a]].Start < intervals[order[b]].Start
	})

	lanes := make([]int, len(intervals))
	var laneEnds []float64
	for _, idx := range order {
		iv := intervals[idx]
		lane := -1
		for l, end := range laneEnds {
			if end <= iv.Start {
				lane = l
				break
			}
		}
		if lane < 0 {
			lane = len(laneEnds)
			laneEnds = append(laneEnds, iv.End)
		} else {
			laneEnds[lane] = iv.End
		}
		lanes[idx] = lane
	}
	return lanes
}
