package utils_test

import (
	"math"
	"testing"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils"
)

func TestFind(t *testing.T) {
	data := []string{"a", "b", "c"}
	dataMap := map[int32]string{0: "a", 1: "b", 2: "c"}

	all, failed := utils.Find(dataMap, data, nil)
	assert.Equal(t, data, all)
	assert.Empty(t, failed)

	ok, failed := utils.Find(dataMap, data, []int32{2, 5, 0})
	assert.Equal(t, []string{"c", "a"}, ok)
	assert.Equal(t, []int32{5}, failed)
}

func TestRangeHelpers(t *testing.T) {
	assert.InDelta(t, 0.25, utils.GetRangePct(100, 500, 200), 1e-9)
	assert.InDelta(t, 1.0, utils.GetRangePct(10, 10, 10), 1e-9)
	assert.InDelta(t, 0.0, utils.GetRangePct(10, 10, 9), 1e-9)
	assert.InDelta(t, 15.0, utils.Lerp(10, 20, 0.5), 1e-9)
	assert.InDelta(t, 20.0, utils.MapRangeClamped(0, 1, 10, 20, 4), 1e-9)
	assert.InDelta(t, 10.0, utils.MapRangeClamped(0, 1, 10, 20, -4), 1e-9)
}

func TestSmoothStep(t *testing.T) {
	assert.InDelta(t, 0.0, utils.SmoothStep(0), 1e-9)
	assert.InDelta(t, 0.5, utils.SmoothStep(0.5), 1e-9)
	assert.InDelta(t, 1.0, utils.SmoothStep(2), 1e-9)
	assert.InDelta(t, 1.5, utils.SmoothStepDerivative(0.5), 1e-9)
	assert.InDelta(t, 0.0, utils.SmoothStepDerivative(1), 1e-9)
}

func TestNormalizeAngle(t *testing.T) {
	assert.InDelta(t, -math.Pi/2, utils.NormalizeAngle(3*math.Pi/2), 1e-9)
	assert.InDelta(t, math.Pi/4, utils.NormalizeAngle(math.Pi/4-4*math.Pi), 1e-9)
}

func TestAngleVectors(t *testing.T) {
	u := utils.UnitFromAngle(math.Pi / 2)
	assert.InDelta(t, 0.0, u.X, 1e-9)
	assert.InDelta(t, 1.0, u.Y, 1e-9)
	r := utils.RightFromAngle(0)
	assert.InDelta(t, -1.0, r.Y, 1e-9)
	// 右侧向量在方向向量的顺时针方向
	assert.Negative(t, utils.UnitFromAngle(1).Cross2D(utils.RightFromAngle(1)))
	assert.InDelta(t, 0.0, utils.UnitFromAngle(1).Dot2D(utils.RightFromAngle(1)), 1e-9)
}

func TestSegmentsIntersect2D(t *testing.T) {
	a1, a2 := geometry.Point{X: -1}, geometry.Point{X: 1}
	assert.True(t, utils.SegmentsIntersect2D(a1, a2, geometry.Point{Y: -1}, geometry.Point{Y: 1}))
	// 共享端点不算相交
	assert.False(t, utils.SegmentsIntersect2D(a1, a2, a2, geometry.Point{X: 1, Y: 1}))
	assert.False(t, utils.SegmentsIntersect2D(a1, a2, geometry.Point{X: -1, Y: 1}, geometry.Point{X: 1, Y: 1}))
	// 共线重叠不算相交
	assert.False(t, utils.SegmentsIntersect2D(a1, a2, geometry.Point{}, geometry.Point{X: 2}))

	square := []geometry.Point{{X: -1, Y: -1}, {X: 1, Y: -1}, {X: 1, Y: 1}}
	assert.True(t, utils.PolylinesIntersect2D(square, []geometry.Point{{X: 0, Y: -2}, {X: 0, Y: 0}}))
	assert.False(t, utils.PolylinesIntersect2D(square, []geometry.Point{{X: 0, Y: 0}, {X: 0.5, Y: 0.5}}))
}
