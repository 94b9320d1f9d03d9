package utils

import (
	"math"
	"sort"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/samber/lo"
)

// UnitFromAngle 由方向角构造二维单位向量
func UnitFromAngle(angle float64) geometry.Point {
	return geometry.Point{X: math.Cos(angle), Y: math.Sin(angle)}
}

// RightFromAngle 方向角右侧的二维单位向量
func RightFromAngle(angle float64) geometry.Point {
	return UnitFromAngle(angle - math.Pi/2)
}

// PolylinePositionAt 计算折线上s处的坐标与所在线段方向
// 参数：line-折线，lengths-各点累计长度，directions-各线段方向，s-弧长坐标
// 说明：s超出范围时截断到端点
func PolylinePositionAt(
	line []geometry.Point, lengths []float64, directions []geometry.PolylineDirection, s float64,
) (geometry.Point, float64) {
	total := lengths[len(lengths)-1]
	s = lo.Clamp(s, 0, total)
	i := sort.SearchFloat64s(lengths, s)
	if i == 0 {
		return line[0], directions[0].Direction
	}
	if i >= len(line) {
		i = len(line) - 1
	}
	sLow, sHigh := lengths[i-1], lengths[i]
	k := 0.
	if sHigh > sLow {
		k = (s - sLow) / (sHigh - sLow)
	}
	return geometry.Blend(line[i-1], line[i], k), directions[i-1].Direction
}

// SegmentsIntersect2D 判断两条线段是否严格相交（共享端点与共线重叠不算）
func SegmentsIntersect2D(a1, a2, b1, b2 geometry.Point) bool {
	da, db := a2.Sub(a1), b2.Sub(b1)
	d1 := geometry.Cross2D(da, b1.Sub(a1))
	d2 := geometry.Cross2D(da, b2.Sub(a1))
	d3 := geometry.Cross2D(db, a1.Sub(b1))
	d4 := geometry.Cross2D(db, a2.Sub(b1))
	const eps = 1e-6
	return ((d1 > eps && d2 < -eps) || (d1 < -eps && d2 > eps)) &&
		((d3 > eps && d4 < -eps) || (d3 < -eps && d4 > eps))
}

// PolylinesIntersect2D 判断两条折线是否相交
func PolylinesIntersect2D(a, b []geometry.Point) bool {
	for i := 1; i < len(a); i++ {
		for j := 1; j < len(b); j++ {
			if SegmentsIntersect2D(a[i-1], a[i], b[j-1], b[j]) {
				return true
			}
		}
	}
	return false
}
