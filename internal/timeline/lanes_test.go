package timeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssignLanes(t *testing.T) {
	intervals := []Interval{
		{Start: 100, End: 200}, // 0
		{Start: 150, End: 250}, // 1 overlaps 0
		{Start: 200, End: 300}, // 2 touches 0's end -> reuses lane 0
		{Start: 160, End: 170}, // 3 overlaps 0 and 1
		{Start: 400, End: 500}, // 4 free
	}
	assert.Equal(t, []int{0, 1, 0, 2, 0}, AssignLanes(intervals))
}

func TestAssignLanes_Deterministic(t *testing.T) {
	intervals := []Interval{{0, 10}, {0, 10}, {0, 10}}
	assert.Equal(t, []int{0, 1, 2}, AssignLanes(intervals))
	assert.Equal(t, AssignLanes(intervals), AssignLanes(intervals))
	assert.Empty(t, AssignLanes(nil))
}
