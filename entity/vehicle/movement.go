package vehicle

import (
	"fmt"
	"math"

	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
)

const (
	readyToUseLaneSafetyDistance = 150. // 到达停车位置前多远开始声明准备驶入路口车道
	stoppedSpeedThreshold        = 0.1
)

// setCantStop 车辆已无法在车道出口停下，在下一车道上登记预约
// 说明：不在车道最前方且前车可以停下时，本车也必须停下，不登记
func (m *VehicleManager) setCantStop(v *Vehicle) {
	if v.cantStop || v.nextLane == nil {
		return
	}
	if next := m.get(v.next); next != nil {
		atFront := next.lane != v.lane
		if !atFront && next.cantStop {
			return
		}
	}
	v.cantStop = true
	v.nextLane.NumReservedVehiclesOnLane++
}

// unsetCantStop 撤销预约
func (m *VehicleManager) unsetCantStop(v *Vehicle) {
	if !v.cantStop || v.nextLane == nil {
		log.Warnf("unset cant-stop failed for %v (cant stop: %v, next lane: %v)", v, v.cantStop, v.nextLane)
		return
	}
	v.cantStop = false
	v.nextLane.NumReservedVehiclesOnLane--
}

// setReadyToUseNextIntersectionLane 接近停车位置时声明准备驶入路口车道
func (m *VehicleManager) setReadyToUseNextIntersectionLane(v *Vehicle, noRoom bool) {
	if v.nextLane == nil || !v.nextLane.IsIntersectionLane() {
		return
	}
	stopAt := GetDistanceAlongLaneToStopAt(v.lane.Length(), v.radius, v.randomFraction, m.config().StoppingDistanceRange)
	if v.distance < stopAt-readyToUseLaneSafetyDistance {
		return
	}
	v.nextLane.IsVehicleReadyToUseLane = !noRoom
}

// moveVehicleToNextLane 车辆驶入选择的下一车道
// 算法说明：
// 1. 归还当前车道的空间（本车是尾车时直接清空占用），超出部分作为新车道上的距离
// 2. 清除新车道的准备驶入标记与本车的预约，减少接近计数，新车道只有一条后继时直接选择
// 3. 以新车道原尾车为前车并限制距离不越过前车，没有尾车时取后继车道上最近的尾车
// 4. 登记新车道占用并成为尾车，强制结束未完成的变道
// 5. 新车道上的变道幽灵尾车为本车登记额外前车，接手分流、汇入幽灵前车并在相邻的分流、汇入车道上登记本车
// 6. 新车道上以本车为前车的车辆清除前车，避免首尾相接的死锁
// 返回：新车道上放不下本车（被前车卡住）时返回true
func (m *VehicleManager) moveVehicleToNextLane(v *Vehicle) (stuck bool) {
	next := v.nextLane
	if next == nil || next == v.lane {
		log.Errorf("%v has no valid next lane to move to", v)
		return false
	}
	mix := m.ctx.RuntimeConfig().All.Lane.DownstreamFlowDensityMixtureFraction
	cur := v.lane
	h := v.handle

	if cur.TailVehicle == h {
		cur.TailVehicle = entity.VehicleHandle{}
		cur.ClearVehicleOccupancy()
	} else {
		cur.RemoveVehicleOccupancy(v.spaceTaken)
	}
	v.distance -= cur.Length()

	next.IsVehicleReadyToUseLane = false
	if v.cantStop {
		next.NumReservedVehiclesOnLane--
		v.cantStop = false
	}
	v.prevLane = cur
	v.lane = next
	next.NumVehiclesApproachingLane--
	if v.distance > next.Length() {
		v.distance = next.Length()
	}

	if nl := next.NextLanes(); len(nl) == 1 {
		v.nextLane = nl[0]
		v.nextLane.NumVehiclesApproachingLane++
		v.preference = NextLaneKeep
		next.UpdateDownstreamFlowDensity(mix)
		cur.UpdateDownstreamFlowDensity(mix)
		if !TrunkVehicleLaneCheck(v.nextLane, v.trunkOnly) {
			log.Errorf("trunk-lane-only %v can only access a single non-trunk next lane %v", v, v.nextLane)
		}
	} else {
		v.nextLane = nil
		v.preference = NextLaneAny
	}
	v.setTurnSignals(next.TurnsLeft(), next.TurnsRight())

	if tail := m.get(next.TailVehicle); tail != nil && tail != v {
		v.next = tail.handle
		maxDistance := tail.distance - tail.radius - v.radius
		stuck = maxDistance < 0
		v.distance = math.Max(0, math.Min(v.distance, math.Max(maxDistance, 0)))
	} else {
		v.next = next.FindNearestTailVehicleOnNextLanes(m, v.position, lane.TailRegular)
		if v.next == h {
			v.next = entity.VehicleHandle{}
		}
	}

	next.AddVehicleOccupancy(v.spaceTaken)
	v.cantStop = false
	next.TailVehicle = h

	if v.lc.inProgress {
		m.endLaneChangeProgression(v)
	}
	v.lc.blockAll = false

	if ghost := m.get(next.GhostTailVehicleFromLaneChange); ghost != nil {
		if ghost.lc.inProgress && ghost != v {
			m.addOtherLaneChangeNextVehicleForVehicleBehind(ghost, v)
		}
		next.GhostTailVehicleFromLaneChange = entity.VehicleHandle{}
	}

	v.splittingLaneGhostNext = entity.VehicleHandle{}
	v.mergingLaneGhostNext = entity.VehicleHandle{}
	if next.GhostTailVehicleFromSplittingLane.IsSet() {
		v.splittingLaneGhostNext = next.GhostTailVehicleFromSplittingLane
		next.GhostTailVehicleFromSplittingLane = entity.VehicleHandle{}
	}
	if !next.IsIntersectionLane() && next.GhostTailVehicleFromMergingLane.IsSet() {
		v.mergingLaneGhostNext = next.GhostTailVehicleFromMergingLane
		next.GhostTailVehicleFromMergingLane = entity.VehicleHandle{}
	}
	for _, s := range next.SplittingLanes() {
		s.GhostTailVehicleFromSplittingLane = h
	}
	if !next.IsIntersectionLane() {
		for _, s := range next.MergingLanes() {
			s.GhostTailVehicleFromMergingLane = h
		}
	}
	for _, s := range cur.SplittingLanes() {
		if s.GhostTailVehicleFromSplittingLane == h {
			s.GhostTailVehicleFromSplittingLane = entity.VehicleHandle{}
		}
	}
	if !cur.IsIntersectionLane() {
		for _, s := range cur.MergingLanes() {
			if s.GhostTailVehicleFromMergingLane == h {
				s.GhostTailVehicleFromMergingLane = entity.VehicleHandle{}
			}
		}
	}

	next.ForEachVehicleOnLane(m, func(oh entity.VehicleHandle) bool {
		if oh == h {
			return true
		}
		if o := m.get(oh); o.next == h {
			o.next = entity.VehicleHandle{}
			return false
		}
		return true
	})

	return stuck
}

// teleportVehicleToAnotherLane 将车辆从当前车道的链表中摘除并插入另一条车道
// 参数：chosen-目标车道，distance-目标车道上的距离，
// chosenBehind/chosenAhead-目标车道上插入位置前后的车辆，currentBehind/currentAhead-当前车道上本车前后的车辆
// 算法说明：
// 1. 已无法停车的车辆已在下一车道登记预约，不能瞬移
// 2. 先完成全部一致性检查，链表修改开始后不能中途放弃
// 3. 修改前后车链接与尾车，在两条车道间转移占用空间
// 4. 撤销原下一车道的接近计数，目标车道只有一条后继时直接选择
// 5. 收紧目标车道后车与本车的前车距离
func (m *VehicleManager) teleportVehicleToAnotherLane(
	v *Vehicle, chosen *lane.Lane, distance float64,
	chosenBehind, chosenAhead, currentBehind, currentAhead entity.VehicleHandle,
) error {
	if v.cantStop {
		return fmt.Errorf("teleport %v: %w", v, ErrCantStop)
	}
	if err := m.checkTeleport(v, chosen, chosenBehind, chosenAhead, currentBehind, currentAhead); err != nil {
		log.Errorf("teleport from lane %v to lane %v aborted: %v", v.lane, chosen, err)
		return err
	}
	cur := v.lane
	h := v.handle
	mix := m.ctx.RuntimeConfig().All.Lane.DownstreamFlowDensityMixtureFraction

	// 从当前车道摘除
	wasTail := cur.TailVehicle == h
	if b := m.get(currentBehind); b != nil {
		b.next = currentAhead
	} else {
		cur.TailVehicle = currentAhead
	}
	if wasTail {
		m.redirectPredecessors(cur, h, currentAhead)
	}

	chosen.ForEachVehicleOnLane(m, func(oh entity.VehicleHandle) bool {
		if o := m.get(oh); o.next == h {
			o.next = entity.VehicleHandle{}
			return false
		}
		return true
	})

	// 插入目标车道
	if b := m.get(chosenBehind); b != nil {
		v.next = chosenAhead
		if !chosenAhead.IsSet() && b.next != h {
			// 后车原来的前车已在后继车道上
			v.next = b.next
		}
		b.next = h
	} else {
		oldTail := chosen.TailVehicle
		v.next = chosenAhead
		chosen.TailVehicle = h
		m.redirectPredecessors(chosen, oldTail, h)
	}

	cur.RemoveVehicleOccupancy(v.spaceTaken)
	chosen.AddVehicleOccupancy(v.spaceTaken)

	v.prevLane = nil
	v.lane = chosen
	v.distance = distance

	if v.nextLane != nil {
		v.nextLane.NumVehiclesApproachingLane--
	}
	if nl := chosen.NextLanes(); len(nl) == 1 {
		v.nextLane = nl[0]
		v.nextLane.NumVehiclesApproachingLane++
		v.preference = NextLaneKeep
		chosen.UpdateDownstreamFlowDensity(mix)
		if !v.next.IsSet() && v.nextLane.TailVehicle != h {
			v.next = v.nextLane.TailVehicle
		}
	} else {
		v.nextLane = nil
		v.preference = NextLaneAny
	}

	// 原车道上的前车距离失效，下一帧重新计算
	v.distanceToNext = mathutil.INF
	if b := m.get(chosenBehind); b != nil {
		d := math.Max(distance-b.distance-b.radius-v.radius, 0)
		b.distanceToNext = math.Min(b.distanceToNext, d)
	}
	if a := m.get(chosenAhead); a != nil {
		d := math.Max(a.distance-distance-a.radius-v.radius, 0)
		v.distanceToNext = math.Min(v.distanceToNext, d)
	}
	return nil
}

// checkTeleport 瞬移前的链表一致性检查
func (m *VehicleManager) checkTeleport(
	v *Vehicle, chosen *lane.Lane, chosenBehind, chosenAhead, currentBehind, currentAhead entity.VehicleHandle,
) error {
	h := v.handle
	cur := v.lane
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrChainInconsistent}, args...)...)
	}
	switch {
	case currentBehind.IsSet() && currentAhead.IsSet():
		if cur.TailVehicle == h {
			return fail("current lane %v: vehicle with a behind vehicle is the tail", cur)
		}
		if currentBehind == currentAhead || currentBehind == h || currentAhead == h {
			return fail("current lane %v: behind %v and ahead %v overlap with %v", cur, currentBehind, currentAhead, h)
		}
	case currentBehind.IsSet():
		if cur.TailVehicle == h || currentBehind == h {
			return fail("current lane %v: vehicle with a behind vehicle is the tail", cur)
		}
	case currentAhead.IsSet():
		if cur.TailVehicle != h || currentAhead == h {
			return fail("current lane %v: vehicle without a behind vehicle is not the tail", cur)
		}
	default:
		if cur.TailVehicle != h {
			return fail("current lane %v: vehicle without a behind vehicle is not the tail", cur)
		}
	}
	switch {
	case chosenBehind.IsSet() && chosenAhead.IsSet():
		if chosenBehind == chosenAhead || chosenBehind == h || chosenAhead == h {
			return fail("chosen lane %v: behind %v and ahead %v overlap with %v", chosen, chosenBehind, chosenAhead, h)
		}
	case chosenBehind.IsSet():
		if chosenBehind == h {
			return fail("chosen lane %v: vehicle is its own behind vehicle", chosen)
		}
	case chosenAhead.IsSet():
		if chosen.TailVehicle != chosenAhead || chosenAhead == h {
			return fail("chosen lane %v: ahead vehicle without a behind vehicle is not the tail", chosen)
		}
	default:
		if chosen.TailVehicle.IsSet() {
			return fail("chosen lane %v: no neighbours but the lane has a tail vehicle", chosen)
		}
	}
	return nil
}
