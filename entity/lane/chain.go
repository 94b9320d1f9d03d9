package lane

import (
	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
)

const (
	maxForEachIterations     = 10000 // ForEachVehicleOnLane最大迭代次数
	maxFindNearestIterations = 1000  // FindNearestVehiclesInLane最大迭代次数
)

// TailKind 后继车道尾车的类型
type TailKind int

const (
	TailAny                TailKind = iota // 任意类型
	TailRegular            // 普通尾车
	TailLaneChangeGhost    // 变道幽灵尾车
	TailSplittingLaneGhost // 分流幽灵尾车
	TailMergingLaneGhost   // 汇入幽灵尾车
)

// ForEachVehicleOnLane 从尾车开始沿前车链遍历本车道上的车辆
// 功能：依次对车辆调用visit，遇到以下情况停止：visit返回false、车辆已不在本车道、回到尾车（合法的小环路）
// 参数：chain-车辆链视图，visit-访问函数
// 返回：链表异常（车辆的前车是自己或超过迭代上限）导致提前终止时返回false
func (l *Lane) ForEachVehicleOnLane(chain entity.IVehicleChain, visit func(entity.VehicleHandle) bool) bool {
	h := l.TailVehicle
	for i := 0; chain.Valid(h); i++ {
		if i >= maxForEachIterations {
			log.Errorf("ForEachVehicleOnLane on %v reached iteration limit %d, terminated", l, i)
			return false
		}
		if chain.LaneOf(h) != l.id {
			break
		}
		if !visit(h) {
			break
		}
		next := chain.NextOf(h)
		if next == h {
			log.Errorf("ForEachVehicleOnLane on %v: vehicle %v follows itself, terminated", l, h)
			return false
		}
		if next == l.TailVehicle {
			break
		}
		h = next
	}
	return true
}

// FindNearestVehiclesInLane 查找车道上距离distance前后最近的两辆车
// 功能：distance不超过尾车位置时 prev=空, next=尾车；否则沿链向前找到第一辆位置不小于distance的车辆
// 参数：chain-车辆链视图，distance-车道上的距离
// 返回：prev-distance后方的车辆，next-distance前方的车辆（均可能为空句柄）
func (l *Lane) FindNearestVehiclesInLane(
	chain entity.IVehicleChain, distance float64,
) (prev, next entity.VehicleHandle) {
	if !chain.Valid(l.TailVehicle) {
		return
	}
	if distance <= chain.DistanceAlongLane(l.TailVehicle) {
		return entity.VehicleHandle{}, l.TailVehicle
	}
	prev = l.TailVehicle
	next = chain.NextOf(prev)
	for i := 0; chain.Valid(prev); i++ {
		if !chain.Valid(next) {
			next = entity.VehicleHandle{}
			return
		}
		if chain.LaneOf(next) != l.id {
			// 前车已进入其他车道，prev是本车道最前方的车辆
			next = entity.VehicleHandle{}
			return
		}
		if distance <= chain.DistanceAlongLane(next) {
			return
		}
		prev = next
		next = chain.NextOf(prev)
		if next == l.TailVehicle {
			next = entity.VehicleHandle{}
			return
		}
		if next == prev {
			log.Errorf("FindNearestVehiclesInLane on %v: vehicle %v follows itself", l, prev)
			next = entity.VehicleHandle{}
			return
		}
		if i+1 >= maxFindNearestIterations {
			log.Errorf("FindNearestVehiclesInLane on %v reached iteration limit %d", l, maxFindNearestIterations)
			return
		}
	}
	return
}

// FindNearestTailVehicleOnNextLanes 在后继车道的尾车中找到离pos最近的一辆
// 参数：chain-车辆链视图，pos-参考坐标，kind-尾车类型
func (l *Lane) FindNearestTailVehicleOnNextLanes(
	chain entity.IVehicleChain, pos geometry.Point, kind TailKind,
) entity.VehicleHandle {
	var nearest entity.VehicleHandle
	nearestDistance := mathutil.INF
	test := func(h entity.VehicleHandle) {
		if !chain.Valid(h) {
			return
		}
		if d := geometry.Distance2D(pos, chain.Position(h)); d < nearestDistance {
			nearest, nearestDistance = h, d
		}
	}
	for _, next := range l.nextLanes {
		if kind == TailAny || kind == TailRegular {
			test(next.TailVehicle)
		}
		if kind == TailAny || kind == TailLaneChangeGhost {
			test(next.GhostTailVehicleFromLaneChange)
		}
		if kind == TailAny || kind == TailSplittingLaneGhost {
			test(next.GhostTailVehicleFromSplittingLane)
		}
		if kind == TailAny || kind == TailMergingLaneGhost {
			test(next.GhostTailVehicleFromMergingLane)
		}
	}
	return nearest
}
