package vehicle

import (
	"math"

	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
)

// TrunkVehicleLaneCheck 只能行驶在干道上的车辆不能进入非干道
func TrunkVehicleLaneCheck(l *lane.Lane, trunkOnly bool) bool {
	return l != nil && (l.IsTrunkLane() || !trunkOnly)
}

// chooseNextLaneDistanceFromLaneEnd 距离车道终点多远时开始选择下一车道
// 说明：足够在下一车道关闭时停下，且不小于车长
func (m *VehicleManager) chooseNextLaneDistanceFromLaneEnd(v *Vehicle) float64 {
	c := m.config()
	dist := math.Max(
		v.speed*math.Max(c.SpeedControlLaneLookAheadTime, c.SteeringControlLaneLookAheadTime),
		math.Max(c.SpeedControlMinLookAheadDistance, c.SteeringControlMinLookAheadDistance),
	)
	assumedSpeed := math.Max(v.speed, 0.25*v.lane.SpeedLimit())
	dist = math.Max(c.StopSignBrakingTime*assumedSpeed, dist)
	return math.Max(dist, 2*v.radius)
}

// chooseNextLane 选择下一车道
// 功能：在接近车道终点时，按下游流密度（少数情况下按功能密度）选择最空闲的后继车道
// 算法说明：
// 1. 已无法在出口停下的车辆已在下一车道登记预约，不再改变选择
// 2. 只在距离终点足够近时选择
// 3. 已有选择且偏好为保持时跳过；下一车道是关闭的路口车道时，只更新偏好不重选，避免反复选择
// 4. 唯一后继时直接选择；多个后继时跳过干道限制、偏好换道的旧选择与空间不足的车道，取密度最小者
// 5. 路口内车道按其出口车道的空间与密度评估
// 6. 选择后更新接近计数与转向灯；没有前车时以新车道的尾车作为前车
func (m *VehicleManager) chooseNextLane(v *Vehicle) {
	if v.cantStop {
		return
	}
	cur := v.lane
	if v.distance < cur.Length()-m.chooseNextLaneDistanceFromLaneEnd(v) {
		return
	}

	if v.nextLane != nil {
		if v.nextLane.IsIntersectionLane() {
			if v.nextLane.IsOpen {
				if v.preference == NextLaneKeep {
					return
				}
			} else {
				if v.distance > cur.Length()-3*v.radius {
					v.preference = NextLaneKeep
				} else {
					v.preference = NextLaneAny
				}
				return
			}
		} else if v.preference == NextLaneKeep {
			return
		}
	} else {
		v.preference = NextLaneAny
	}

	c := m.config()
	mix := m.ctx.RuntimeConfig().All.Lane.DownstreamFlowDensityMixtureFraction
	byFunctional := m.ctx.Rand().Float64() < c.DownstreamFlowDensityQueryFraction
	density := func(l *lane.Lane) float64 {
		if byFunctional {
			return l.FunctionalDensity()
		}
		return l.DownstreamFlowDensity()
	}

	if v.nextLane != nil {
		v.nextLane.NumVehiclesApproachingLane--
	}

	nextLanes := cur.NextLanes()
	if len(nextLanes) == 0 {
		log.Debugf("%v is on a dead end lane", v)
		v.nextLane = nil
		v.preference = NextLaneAny
		return
	}
	if len(nextLanes) == 1 {
		v.nextLane = nextLanes[0]
		v.preference = NextLaneKeep
		v.nextLane.NumVehiclesApproachingLane++
		v.setTurnSignals(v.nextLane.TurnsLeft(), v.nextLane.TurnsRight())
		cur.UpdateDownstreamFlowDensity(mix)
		if !TrunkVehicleLaneCheck(v.nextLane, v.trunkOnly) {
			log.Errorf("trunk-lane-only %v can only access a single non-trunk next lane %v", v, v.nextLane)
		}
		return
	}

	var best *lane.Lane
	bestDensity := mathutil.INF
	for _, next := range nextLanes {
		if !TrunkVehicleLaneCheck(next, v.trunkOnly) {
			continue
		}
		if v.preference == NextLaneDifferent && v.nextLane == next {
			continue
		}
		assessed := next
		if next.IsIntersectionLane() {
			if len(next.NextLanes()) != 1 {
				log.Warnf("intersection lane %v should have exactly one next lane, but it has %d", next, len(next.NextLanes()))
				continue
			}
			assessed = next.NextLanes()[0]
		}
		// 空间足够，或者车道本身比车辆占用空间还短（全部过短时仍需选择一条）
		if assessed.SpaceAvailable < v.spaceTaken && assessed.Length() >= v.spaceTaken {
			continue
		}
		if d := density(assessed); d <= bestDensity {
			bestDensity = d
			best = next
		}
	}

	cur.UpdateDownstreamFlowDensity(mix)

	if best == nil {
		v.nextLane = nil
		v.preference = NextLaneAny
		v.setTurnSignals(false, false)
		return
	}
	v.nextLane = best
	v.preference = NextLaneKeep
	best.NumVehiclesApproachingLane++
	v.setTurnSignals(best.TurnsLeft(), best.TurnsRight())
	if !v.next.IsSet() && best.TailVehicle.IsSet() {
		v.next = best.TailVehicle
	}
}
