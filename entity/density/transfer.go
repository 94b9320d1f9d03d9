package density

import (
	"math"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils"
)

// transferBusiestLaneVehicles 将拥挤车道上超出目标容量的车辆转移到空闲车道
// 参数：vm-车辆管理器，busiest-拥挤车道，candidates-空闲车道
// 返回：转移的车辆数
// 算法说明：
// 1. 容量估计 = 车辆数 / 原始占用率 * 目标最大密度，超出部分从尾车开始收集
// 2. 车道上有可见车辆时放弃整条车道；非干道阶段遇到只能行驶在干道上的车辆时停止收集
// 3. 从尾车开始逐辆转移，总是摘除当前尾车，因此不会在链表中间留下空洞
func (m *DensityManager) transferBusiestLaneVehicles(vm entity.IVehicleManager, busiest *lane.Lane, candidates []*lane.Lane) int {
	basic := busiest.BasicDensity()
	if basic <= 0 || busiest.NumVehiclesOnLane <= 0 {
		return 0
	}
	capacity := int32(math.Floor(float64(busiest.NumVehiclesOnLane) / basic * busiest.MaxDensity()))
	numToTransfer := int(max(busiest.NumVehiclesOnLane-capacity, 0))
	if numToTransfer == 0 {
		return 0
	}

	collected := make([]entity.VehicleHandle, 0, numToTransfer)
	busiest.ForEachVehicleOnLane(vm, func(h entity.VehicleHandle) bool {
		if m.isVisible(vm.Position(h)) {
			collected = collected[:0]
			return false
		}
		if !m.trunkLanesPhase && busiest.IsTrunkLane() && vm.IsTrunkOnly(h) {
			return false
		}
		collected = append(collected, h)
		return len(collected) < numToTransfer
	})

	transferred := 0
	for _, h := range collected {
		if busiest.TailVehicle != h {
			log.Errorf("vehicle %v to transfer is not the tail of %v", h, busiest)
			break
		}
		ahead := vm.NextOf(h)
		if vm.LaneOf(ahead) != busiest.ID() {
			ahead = entity.VehicleHandle{}
		}
		if !m.moveVehicleToFreeSpaceOnRandomLane(vm, h, busiest, entity.VehicleHandle{}, ahead, candidates) {
			break
		}
		transferred++
	}
	return transferred
}

// moveVehicleToFreeSpaceOnRandomLane 将车辆转移到随机一条有足够空间的候选车道
// 参数：vm-车辆管理器，h-车辆，current-车辆所在车道，currentBehind/currentAhead-车辆在当前车道上的后车与前车，candidates-候选车道
// 返回：是否转移成功
// 算法说明：
// 1. 从随机位置开始轮询候选车道，跳过当前车道与距离车辆不足最小转移距离的车道
// 2. 空车道：在[半径, 长度-半径]内随机选择位置
// 3. 非空车道：沿车道找到第一辆前方空间足够的不可见车辆，插入它与前车之间；
// 车道上已有车辆以该车辆为前车时放弃该车道，否则插入后会形成环
func (m *DensityManager) moveVehicleToFreeSpaceOnRandomLane(
	vm entity.IVehicleManager, h entity.VehicleHandle, current *lane.Lane,
	currentBehind, currentAhead entity.VehicleHandle, candidates []*lane.Lane,
) bool {
	if len(candidates) == 0 {
		return false
	}
	c := m.config()
	radius := vm.Radius(h)
	length := 2 * radius
	position := vm.Position(h)
	offset := m.generator.Intn(len(candidates))
	for i := range candidates {
		candidate := candidates[(offset+i)%len(candidates)]
		if candidate == current || candidate.Length() <= length {
			continue
		}
		if geometry.Distance2D(candidate.Center(), position) < c.MinTransferDistance {
			continue
		}

		if !candidate.TailVehicle.IsSet() {
			distance := utils.Lerp(radius, candidate.Length()-radius, m.generator.Float64())
			if err := vm.Teleport(
				h, candidate.ID(), distance,
				entity.VehicleHandle{}, entity.VehicleHandle{}, currentBehind, currentAhead,
			); err != nil {
				log.Warnf("transfer %v to empty %v failed: %v", h, candidate, err)
				continue
			}
			return true
		}

		var behind entity.VehicleHandle
		candidate.ForEachVehicleOnLane(vm, func(o entity.VehicleHandle) bool {
			if vm.NextOf(o) == h {
				behind = entity.VehicleHandle{}
				return false
			}
			if m.isVisible(vm.Position(o)) {
				return true
			}
			if !behind.IsSet() &&
				vm.DistanceToNext(o) > length &&
				vm.DistanceAlongLane(o)+vm.Radius(o)+length < candidate.Length() {
				behind = o
			}
			// 找到插入位置后仍需检查后续车辆是否以h为前车
			return true
		})
		if !behind.IsSet() {
			continue
		}

		ahead := vm.NextOf(behind)
		if vm.LaneOf(ahead) != candidate.ID() {
			ahead = entity.VehicleHandle{}
		}
		minDistance := vm.DistanceAlongLane(behind) + vm.Radius(behind) + radius
		maxDistance := math.Min(minDistance+vm.DistanceToNext(behind)-length, candidate.Length()-radius)
		distance := utils.Lerp(minDistance, math.Max(minDistance, maxDistance), m.generator.Float64())
		if err := vm.Teleport(h, candidate.ID(), distance, behind, ahead, currentBehind, currentAhead); err != nil {
			log.Warnf("transfer %v to %v failed: %v", h, candidate, err)
			continue
		}
		return true
	}
	return false
}
