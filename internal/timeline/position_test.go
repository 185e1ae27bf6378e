package timeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePosition_SameWeek(t *testing.T) {
	pos, err := ComputePosition("01/01/2024", "07/01/2024")
	require.NoError(t, err)
	assert.Equal(t, Position{Left: 850, Width: 30}, pos)
}

func TestComputePosition_AcrossMonths(t *testing.T) {
	// start: month index 2, bucket 2; end: month index 3, bucket 1
	pos, err := ComputePosition("15/03/2024", "10/04/2024")
	require.NoError(t, err)

	wantLeft := float64(850 + 2*120 + 2*30)
	wantWidth := float64(((3-2)*4 + (1 - 2 + 1)) * 30)
	assert.Equal(t, wantLeft, pos.Left)
	assert.Equal(t, wantWidth, pos.Width)
	assert.Equal(t, 1150.0, pos.Left)
	assert.Equal(t, 120.0, pos.Width)
}

func TestComputePosition_LastBucketAbsorbsMonthEnd(t *testing.T) {
	for _, day := range []string{"22", "28", "29", "31"} {
		pos, err := ComputePosition(day+"/01/2024", "31/01/2024")
		require.NoError(t, err, day)
		assert.Equal(t, float64(850+3*30), pos.Left, day)
		assert.Equal(t, 30.0, pos.Width, day)
	}
}

func TestComputePosition_YearIgnored(t *testing.T) {
	a, err := ComputePosition("15/03/2023", "10/04/2023")
	require.NoError(t, err)
	b, err := ComputePosition("15/03/2030", "10/04/2030")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// 同一个 DD/MM 在闰年和平年结果一致
	leap, err := ComputePosition("29/02/2024", "29/02/2024")
	require.NoError(t, err)
	common, err := ComputePosition("29/02/2023", "29/02/2023")
	require.NoError(t, err)
	assert.Equal(t, leap, common)
	assert.Equal(t, Position{Left: 850 + 120 + 3*30, Width: 30}, common)
}

func TestComputePosition_DayBeyondMonthLength(t *testing.T) {
	pos, err := ComputePosition("31/04/2024", "31/04/2024")
	require.NoError(t, err)
	assert.Equal(t, Position{Left: 850 + 3*120 + 3*30, Width: 30}, pos)

	_, err = ComputePosition("30/02/2023", "31/04/2023")
	require.NoError(t, err)
}

func TestComputePosition_Idempotent(t *testing.T) {
	a, errA := ComputePosition("08/02/2024", "20/09/2024")
	b, errB := ComputePosition("08/02/2024", "20/09/2024")
	require.NoError(t, errA)
	require.NoError(t, errB)
	assert.Equal(t, a, b)
}

func TestComputePosition_WidthPositiveAndLeftMonotonic(t *testing.T) {
	prevLeft := -1.0
	for month := 1; month <= 12; month++ {
		for day := 1; day <= 28; day++ {
			start := fmt.Sprintf("%02d/%02d/2024", day, month)
			pos, err := ComputePosition(start, "31/12/2024")
			require.NoError(t, err, start)
			assert.Greater(t, pos.Width, 0.0, start)
			assert.GreaterOrEqual(t, pos.Left, prevLeft, start)
			prevLeft = pos.Left

			same, err := ComputePosition(start, start)
			require.NoError(t, err)
			assert.Equal(t, float64(WeekWidth), same.Width, start)
		}
	}
}

func TestComputePosition_Reversed(t *testing.T) {
	_, err := ComputePosition("10/04/2024", "15/03/2024")
	assert.ErrorIs(t, err, ErrReversedRange)

	_, err = ComputePosition("07/01/2024", "02/01/2024")
	assert.ErrorIs(t, err, ErrReversedRange, "same bucket but earlier day is still reversed")
}

func TestComputePosition_Malformed(t *testing.T) {
	cases := map[string][2]string{
		"iso format":      {"2024-01-01", "07/01/2024"},
		"wrong separator": {"01-01-2024", "07/01/2024"},
		"non numeric":     {"aa/01/2024", "07/01/2024"},
		"month 13":        {"01/13/2024", "07/01/2024"},
		"day 32":          {"01/01/2024", "32/02/2024"},
		"missing year":    {"01/01", "07/01/2024"},
		"empty":           {"", ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ComputePosition(tc[0], tc[1])
			var perr *ParseError
			require.True(t, errors.As(err, &perr), "got %v", err)
			assert.NotEmpty(t, perr.Reason)
		})
	}
}

func TestCompute_DayScale(t *testing.T) {
	// 整个一月：31 天占满一个月宽
	pos, err := Compute(ScaleDays, "01/01/2024", "31/01/2024")
	require.NoError(t, err)
	assert.InDelta(t, 850, pos.Left, 1e-9)
	assert.InDelta(t, 120, pos.Width, 1e-9)

	// 2024 闰年，2 月 29 天
	pos, err = Compute(ScaleDays, "01/02/2024", "29/02/2024")
	require.NoError(t, err)
	assert.InDelta(t, 970, pos.Left, 1e-9)
	assert.InDelta(t, 120, pos.Width, 1e-9)

	// 平年 2 月的 29 号按月末处理，不报错
	pos, err = Compute(ScaleDays, "29/02/2023", "29/02/2023")
	require.NoError(t, err)
	assert.InDelta(t, 970+120, pos.Right(), 1e-9)
	assert.InDelta(t, 120.0/28, pos.Width, 1e-9)

	// 单日
	pos, err = Compute(ScaleDays, "16/04/2024", "16/04/2024")
	require.NoError(t, err)
	assert.InDelta(t, 850+3*120+15*4, pos.Left, 1e-9)
	assert.InDelta(t, 4, pos.Width, 1e-9)
}
