package vehicle

import (
	"math"

	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils"
)

// maxSmoothStepDerivative 三次平滑曲线导数的最大值（a=0.5处）
const maxSmoothStepDerivative = 1.5

// nextKind 前车的类别
type nextKind int

const (
	nextRegular nextKind = iota
	nextLaneChange
	nextSplittingGhost
	nextMergingGhost
)

// updateDistanceToNearestObstacle 计算到最近前车与障碍物的距离
// 功能：在四类前车（普通前车、变道产生的前车、分流幽灵前车、汇入幽灵前车）中取最小距离，
// 并对障碍物列表计算最小碰撞时间
// 算法说明：
// 1. 距离 = max(中心距离 - 两车半径, 0)；变道相关的前车按朝向对齐程度缩放，远处逐渐恢复原距离
// 2. 同车道上前车反而在本车后方时距离为0
// 3. 横向已经完全错开的变道前车与分流幽灵前车被遗忘
// 4. 障碍物按相对位置与相对速度求碰撞时间，记录碰撞时间最小者的距离
// 说明：并行执行，只写本车的避障字段与变道前车列表
func (m *VehicleManager) updateDistanceToNearestObstacle(v *Vehicle) {
	v.distanceToNext = mathutil.INF

	if next := m.get(v.next); next != nil && next != v {
		m.combineDistanceToNext(v, next, nextRegular)
		if next.lane == v.lane && v.distance > next.distance {
			v.distanceToNext = 0
		}
	}

	kept := v.laneChangeNext[:0]
	for _, h := range v.laneChangeNext {
		next := m.get(h)
		if next == nil || next == v {
			continue
		}
		if m.canForgetNextVehicle(v, next) {
			continue
		}
		kept = append(kept, h)
		m.combineDistanceToNext(v, next, nextLaneChange)
	}
	v.laneChangeNext = kept

	if next := m.get(v.splittingLaneGhostNext); next != nil && next != v {
		if m.canForgetNextVehicle(v, next) {
			v.splittingLaneGhostNext = entity.VehicleHandle{}
		} else {
			m.combineDistanceToNext(v, next, nextSplittingGhost)
		}
	} else {
		v.splittingLaneGhostNext = entity.VehicleHandle{}
	}

	if next := m.get(v.mergingLaneGhostNext); next != nil && next != v {
		m.combineDistanceToNext(v, next, nextMergingGhost)
	} else {
		v.mergingLaneGhostNext = entity.VehicleHandle{}
	}

	v.timeToCollision = mathutil.INF
	v.distanceToCollision = mathutil.INF
	obstacles := m.ctx.ObstacleManager()
	if obstacles == nil {
		return
	}
	idealVelocity := v.forward().Scale(v.lane.SpeedLimit())
	for _, id := range obstacles.ObstaclesOf(v.handle) {
		state, ok := obstacles.State(id)
		if !ok {
			continue
		}
		ttc := TimeToCollision(v.position, idealVelocity, v.radius, state.Position, state.Velocity, state.Radius)
		if ttc < v.timeToCollision {
			v.timeToCollision = ttc
			v.distanceToCollision = math.Max(geometry.Distance2D(v.position, state.Position)-state.Radius-v.radius, 0)
		}
	}
}

// combineDistanceToNext 用一辆前车更新到最近前车的距离
func (m *VehicleManager) combineDistanceToNext(v, next *Vehicle, kind nextKind) {
	c := m.config()
	delta := next.position.Sub(v.position)
	distance := delta.Length2D()
	minDistance := math.Max(distance-v.radius-next.radius, 0)
	if kind == nextLaneChange || kind == nextMergingGhost || (kind == nextRegular && v.lc.inProgress) {
		// 前车越是偏离本车朝向越不构成阻挡，距离越远越接近原始距离
		dot := 1.
		if distance > 0 {
			dot = lo.Clamp(delta.Scale(1/distance).Dot2D(v.forward()), 0, 1)
		}
		pct := lo.Clamp(utils.GetRangePct(c.ForgetAlignmentRange.Min, c.ForgetAlignmentRange.Max, distance), 0, 1)
		minDistance *= utils.Lerp(dot, 1, pct)
	}
	v.distanceToNext = math.Min(v.distanceToNext, minDistance)
}

// canForgetNextVehicle 判断变道前车是否已与本车横向完全错开
// 算法说明：
// 1. 距离过远或两车向同侧变道时不遗忘
// 2. 横向距离超过两车半宽之和（去掉后视镜等侧向附件）时遗忘
// 3. 只有一辆车在变道时，按变道进度的导数放大前车的横向尺寸，摆角最大时尺寸接近前车对角线
func (m *VehicleManager) canForgetNextVehicle(v, next *Vehicle) bool {
	c := m.config()
	delta := next.position.Sub(v.position)
	forgetRadius := c.ForgetRadiusScale * (v.radius + next.radius)
	if delta.SquareLength2D() > forgetRadius*forgetRadius {
		return false
	}
	if v.lc.inProgress && next.lc.inProgress && v.lc.side == next.lc.side {
		return false
	}
	lateral := math.Abs(delta.Dot2D(utils.RightFromAngle(v.direction)))
	accessory := c.LaneChange.MaxSideAccessoryLength
	halfWidth := math.Max(v.halfWidth-accessory, 0)
	nextHalfWidth := math.Max(next.halfWidth-accessory, 0)

	var minLateral float64
	if v.lc.inProgress != next.lc.inProgress {
		var scale float64
		if v.lc.inProgress {
			scale = v.laneChangeProgressionScale(v.distance)
		} else {
			scale = next.laneChangeProgressionScale(v.distance)
		}
		alpha := utils.SmoothStepDerivative(math.Abs(scale)) / maxSmoothStepDerivative
		nextDiagonal := utils.Lerp(nextHalfWidth, math.Sqrt(nextHalfWidth*nextHalfWidth+next.radius*next.radius), alpha)
		minLateral = halfWidth + nextDiagonal
	} else {
		minLateral = halfWidth + nextHalfWidth
	}
	return lateral*lateral > minLateral*minLateral
}
