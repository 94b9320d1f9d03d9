package junction

import (
	"math"
	"slices"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils"
)

var (
	// 相邻进口方向夹角不小于75度时认为路口接近方形
	maxMostlySquareAdjacentSideCos = math.Cos(75 * math.Pi / 180)
	// 车道终点相对某进口中点的方向与该进口方向夹角不小于75度时，认为车道驶向该进口
	maxLaneSideConnectionCos = maxMostlySquareAdjacentSideCos
	// 车道终点反向与某进口方向夹角不超过80度时，认为车道驶向已知进口
	maxHiddenSideIntoDirectionCos = math.Cos(80 * math.Pi / 180)
)

// Side 路口的一个进口方向
type Side struct {
	Lanes                      []*lane.Lane   // 从本方向驶入的路口内车道
	Crosswalks                 []*lane.Lane   // 本方向的人行横道
	CrosswalkWaiting           []*lane.Lane   // 本方向人行横道的等待区
	Midpoint                   geometry.Point // 路口内车道起点的平均位置
	Direction                  geometry.Point // 驶入路口的单位方向
	HasInboundLanesFromFreeway bool           // 驶入道路是否为干道
	HasTrafficLight            bool
	TrafficLightIndex          int // 控制本方向的信号灯下标，-1表示没有
}

// hiddenSide 只有驶出车道、没有驶入车道的隐藏方向
type hiddenSide struct {
	Point     geometry.Point
	Direction geometry.Point
}

// computeGeometry 计算进口中点与驶入方向
func (s *Side) computeGeometry() {
	var mid, dir geometry.Point
	for _, l := range s.Lanes {
		mid = mid.Add(l.BeginPoint())
		dir = dir.Add(utils.UnitFromAngle(l.BeginDirection()))
	}
	n := float64(len(s.Lanes))
	s.Midpoint = mid.Scale(1/n)
	s.Direction = dir.Scale(1/n).Unit()
	s.HasInboundLanesFromFreeway = lo.SomeBy(s.Lanes, func(l *lane.Lane) bool {
		return lo.SomeBy(l.PrevLanes(), func(p *lane.Lane) bool { return p.IsTrunkLane() })
	})
}

// numLogicalLanes 驶入本方向的道路车道数
func (s *Side) numLogicalLanes() int {
	prev := make([]*lane.Lane, 0)
	for _, l := range s.Lanes {
		prev = append(prev, l.PrevLanes()...)
	}
	return len(lo.Uniq(prev))
}

// clockwiseKey 进口方向的排序键，按俯视顺时针递增
// 说明：以+X为参考方向计算有符号夹角，逆时针为正，取反后升序即为顺时针
func clockwiseKey(dir geometry.Point) float64 {
	ref := geometry.Point{X: 1}
	angle := math.Acos(lo.Clamp(ref.Dot2D(dir), -1, 1))
	if ref.Cross2D(dir) > 0 {
		return -angle
	}
	return angle
}

// sortSidesClockwise 将进口方向按顺时针排序
func sortSidesClockwise(sides []*Side) {
	slices.SortStableFunc(sides, func(a, b *Side) int {
		ka, kb := clockwiseKey(a.Direction), clockwiseKey(b.Direction)
		switch {
		case ka < kb:
			return -1
		case ka > kb:
			return 1
		default:
			return 0
		}
	})
}

// findHiddenSides 查找隐藏方向
// 算法说明：对每条路口内车道，取其终点方向的反向（即从该出口驶入路口的方向），
// 与除来源方向外的所有进口方向比较，都不接近时该终点属于隐藏方向
func findHiddenSides(sides []*Side) []hiddenSide {
	res := make([]hiddenSide, 0)
	for si, source := range sides {
		for _, l := range source.Lanes {
			into := utils.UnitFromAngle(l.EndDirection()).Scale(-1)
			known := false
			for di, dest := range sides {
				if di == si {
					continue
				}
				if into.Dot2D(dest.Direction) >= maxHiddenSideIntoDirectionCos {
					known = true
					break
				}
			}
			if !known {
				res = append(res, hiddenSide{Point: l.EndPoint(), Direction: into})
			}
		}
	}
	return res
}

// isMostlySquare 是否为接近方形的四路口
// 说明：要求进口方向已顺时针排序，相邻进口方向近似垂直
func isMostlySquare(sides []*Side) bool {
	if len(sides) != 4 {
		return false
	}
	for i := range sides {
		next := sides[(i+1)%4]
		if math.Abs(sides[i].Direction.Dot2D(next.Direction)) > maxMostlySquareAdjacentSideCos {
			return false
		}
	}
	return true
}

// lanesConnectingSides 从start方向驶向end方向的路口内车道
// 说明：车道终点相对end方向中点的方向与end方向接近垂直时，认为车道终点位于end方向
func lanesConnectingSides(sides []*Side, start, end int) []*lane.Lane {
	if start >= len(sides) || end >= len(sides) {
		return nil
	}
	e := sides[end]
	return lo.Filter(sides[start].Lanes, func(l *lane.Lane, _ int) bool {
		along := l.EndPoint().Sub(e.Midpoint).Unit()
		return e.Direction.Dot2D(along) <= maxLaneSideConnectionCos
	})
}
