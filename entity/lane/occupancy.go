package lane

import (
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils"
)

const (
	maxFunctionalDensity   = 100 // 功能密度上限
	spaceOverflowTolerance = 1.  // 剩余空间超出车道长度的容差
)

// ClearVehicles 清空车道上的全部车辆引用并重置计数
// 说明：幂等，重复调用结果相同
func (l *Lane) ClearVehicles() {
	l.ClearVehicleOccupancy()
	l.TailVehicle = entity.VehicleHandle{}
	l.GhostTailVehicleFromLaneChange = entity.VehicleHandle{}
	l.GhostTailVehicleFromSplittingLane = entity.VehicleHandle{}
	l.GhostTailVehicleFromMergingLane = entity.VehicleHandle{}
	l.downstreamFlowDensity = 0
	l.NumVehiclesApproachingLane = 0
	l.NumVehiclesLaneChangingOntoLane = 0
	l.NumVehiclesLaneChangingOffOfLane = 0
	l.NumReservedVehiclesOnLane = 0
}

// ClearVehicleOccupancy 重置车辆数与剩余空间
func (l *Lane) ClearVehicleOccupancy() {
	l.NumVehiclesOnLane = 0
	l.SpaceAvailable = l.length
}

// RemoveVehicleOccupancy 车辆离开车道，归还其占用的空间
// 说明：归还后剩余空间超过车道长度时记录警告并截断
func (l *Lane) RemoveVehicleOccupancy(space float64) {
	if l.SpaceAvailable+space > l.length+spaceOverflowTolerance {
		log.Warnf("%v: space available %f = old %f + %f > length %f, vehicles=%d approaching=%d reserved=%d lc_onto=%d lc_off=%d",
			l, l.SpaceAvailable+space, l.SpaceAvailable, space, l.length,
			l.NumVehiclesOnLane, l.NumVehiclesApproachingLane, l.NumReservedVehiclesOnLane,
			l.NumVehiclesLaneChangingOntoLane, l.NumVehiclesLaneChangingOffOfLane)
	}
	l.NumVehiclesOnLane--
	l.SpaceAvailable += space
	if l.SpaceAvailable > l.length {
		l.SpaceAvailable = l.length
	}
}

// AddVehicleOccupancy 车辆进入车道，扣除其占用的空间
// 说明：变道时车辆可能进入空间不足的车道，剩余空间允许为负
func (l *Lane) AddVehicleOccupancy(space float64) {
	l.NumVehiclesOnLane++
	l.SpaceAvailable -= space
}

// SpaceAvailableFromStartOfLaneForVehicle 计算从车道起点开始实际可用的空间
// 功能：变道离开的车辆已归还空间但仍在物理上阻挡车道，变道驶入的车辆则使实际空间更少，
// 此时取剩余空间与尾车、幽灵尾车（车道距离减半径）的最小值
// 参数：chain-车辆链视图，checkLaneChange-是否考虑变道幽灵尾车，checkSplitMerge-是否考虑分流/汇入幽灵尾车
func (l *Lane) SpaceAvailableFromStartOfLaneForVehicle(
	chain entity.IVehicleChain, checkLaneChange, checkSplitMerge bool,
) float64 {
	space := l.SpaceAvailable
	if l.NumVehiclesLaneChangingOffOfLane <= 0 && l.NumVehiclesLaneChangingOntoLane <= 0 {
		return space
	}
	combine := func(h entity.VehicleHandle) {
		if !chain.Valid(h) {
			return
		}
		space = min(space, chain.DistanceAlongLane(h)-chain.Radius(h))
	}
	combine(l.TailVehicle)
	if checkLaneChange {
		combine(l.GhostTailVehicleFromLaneChange)
	}
	if checkSplitMerge {
		combine(l.GhostTailVehicleFromSplittingLane)
		combine(l.GhostTailVehicleFromMergingLane)
	}
	return space
}

// BasicDensity 原始占用率，通常在[0,1]，剩余空间为负时大于1
func (l *Lane) BasicDensity() float64 {
	return (l.length - l.SpaceAvailable) / l.length
}

// FunctionalDensity 按目标最大密度归一化的密度，截断到[0,100]
func (l *Lane) FunctionalDensity() float64 {
	if l.maxDensity <= 0 {
		return maxFunctionalDensity
	}
	return lo.Clamp(l.BasicDensity()/l.maxDensity, 0, maxFunctionalDensity)
}

// AreVehiclesApproachingFromIntersection 路口下游车道正有车辆从路口驶来
func (l *Lane) AreVehiclesApproachingFromIntersection() bool {
	return l.isDownstreamFromIntersection && l.NumVehiclesApproachingLane > 0
}

// DownstreamFlowDensity 下游流密度
func (l *Lane) DownstreamFlowDensity() float64 {
	return l.downstreamFlowDensity
}

// UpdateDownstreamFlowDensity 更新下游流密度
// 算法说明：
// 1. 对后继车道的下游流密度求平均，后继是路口内车道时跳过它，取其第一个后继车道的值
// 2. 路口内车道不参与密度计算，保持原值
// 3. 下游流密度 = lerp(本车道功能密度, 后继平均值, clamp(mix,0,1))
// 4. 没有可用后继时保持原值
func (l *Lane) UpdateDownstreamFlowDensity(mixtureFraction float64) {
	if l.isIntersection {
		return
	}
	total, count := 0., 0
	for _, next := range l.nextLanes {
		if next.isIntersection {
			if len(next.nextLanes) == 0 {
				continue
			}
			total += next.nextLanes[0].downstreamFlowDensity
		} else {
			total += next.downstreamFlowDensity
		}
		count++
	}
	if count == 0 {
		return
	}
	l.downstreamFlowDensity = utils.Lerp(l.FunctionalDensity(), total/float64(count), lo.Clamp(mixtureFraction, 0, 1))
}
