package density

import (
	"math"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/container"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/randengine"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const generatorSeed = 0x6d617373

// Stats 一次密度管理的统计
type Stats struct {
	Step                  int32
	Partition             int     // 本次处理的车道分区
	TrunkLanesPhase       bool    // 是否处于只处理干道的阶段
	NumLanes              int     // 分区内的车道数
	NumBusiestLanes       int     // 选出的最拥挤车道数
	NumLeastBusiestLanes  int     // 选出的最空闲车道数
	NumTransferred        int     // 转移的车辆数
	MeanFunctionalDensity float64 // 分区内车道功能密度的均值
	StdFunctionalDensity  float64 // 分区内车道功能密度的标准差
	MaxFunctionalDensity  float64
}

// DensityManager 密度管理器
// 功能：低频地把远离观察者的拥挤车道尾部车辆瞬移到远离观察者的空闲车道上，使车辆分布趋于均匀
// 说明：每次只处理一个车道分区，分区轮转一圈后在"只处理干道"与"处理全部车道"两个阶段间切换
type DensityManager struct {
	ctx         entity.ITaskContext
	laneManager *lane.LaneManager
	generator   *randengine.Engine

	partitionIndex  int
	trunkLanesPhase bool
	lastStats       Stats
}

// NewManager 创建密度管理器实例
func NewManager(ctx entity.ITaskContext, laneManager *lane.LaneManager) *DensityManager {
	return &DensityManager{
		ctx:         ctx,
		laneManager: laneManager,
		generator:   randengine.New(generatorSeed, ctx.RuntimeConfig().C.Seed),
	}
}

func (m *DensityManager) config() *config.Density {
	return &m.ctx.RuntimeConfig().All.Density
}

// LastStats 最近一次密度管理的统计
func (m *DensityManager) LastStats() Stats {
	return m.lastStats
}

// PartitionIndex 下一次处理的车道分区
func (m *DensityManager) PartitionIndex() int {
	return m.partitionIndex
}

// TrunkLanesPhase 是否处于只处理干道的阶段
func (m *DensityManager) TrunkLanesPhase() bool {
	return m.trunkLanesPhase
}

// Update 按配置的间隔执行一次密度管理
// 参数：step-当前步数
// 返回：本次是否执行
func (m *DensityManager) Update(step int32) bool {
	c := m.config()
	if !c.Enabled || (c.IntervalFrames > 1 && step%c.IntervalFrames != 0) {
		return false
	}
	vm := m.ctx.VehicleManager()
	if vm == nil || vm.Len() == 0 {
		return false
	}
	m.process(step, vm)
	return true
}

// process 处理当前分区
// 算法说明：
// 1. 在分区内找出超过目标最大密度最多的若干车道，以及功能密度最低的若干车道
// 2. 从拥挤车道尾部开始逐辆转移超出目标容量的车辆，某辆车转移失败时停止处理该车道
// 3. 推进分区，轮转一圈后切换干道阶段
func (m *DensityManager) process(step int32, vm entity.IVehicleManager) {
	c := m.config()
	lanes := m.partition(m.laneManager.TrafficLanes())
	busiest, leastBusiest := m.findTransferLanes(lanes)

	transferred := 0
	for _, l := range busiest {
		transferred += m.transferBusiestLaneVehicles(vm, l, leastBusiest)
	}

	densities := lo.Map(lanes, func(l *lane.Lane, _ int) float64 { return l.FunctionalDensity() })
	stats := Stats{
		Step:                 step,
		Partition:            m.partitionIndex,
		TrunkLanesPhase:      m.trunkLanesPhase,
		NumLanes:             len(lanes),
		NumBusiestLanes:      len(busiest),
		NumLeastBusiestLanes: len(leastBusiest),
		NumTransferred:       transferred,
	}
	if len(densities) > 0 {
		stats.MeanFunctionalDensity, stats.StdFunctionalDensity = stat.MeanStdDev(densities, nil)
		if math.IsNaN(stats.StdFunctionalDensity) {
			stats.StdFunctionalDensity = 0
		}
		stats.MaxFunctionalDensity = floats.Max(densities)
	}
	m.lastStats = stats
	log.Debugf("step %d partition %d (trunk phase %v): %d lanes, busiest %d, least busiest %d, transferred %d, functional density %.3f±%.3f max %.3f",
		step, stats.Partition, stats.TrunkLanesPhase, stats.NumLanes, stats.NumBusiestLanes, stats.NumLeastBusiestLanes,
		transferred, stats.MeanFunctionalDensity, stats.StdFunctionalDensity, stats.MaxFunctionalDensity)

	m.partitionIndex = (m.partitionIndex + 1) % c.NumPartitions
	if m.partitionIndex == 0 {
		m.trunkLanesPhase = !m.trunkLanesPhase
	}
}

// partition 当前分区的车道，分区大小向上取整
func (m *DensityManager) partition(lanes []*lane.Lane) []*lane.Lane {
	n := m.config().NumPartitions
	size := (len(lanes) + n - 1) / n
	start := min(size*m.partitionIndex, len(lanes))
	end := min(start+size, len(lanes))
	return lanes[start:end]
}

// isOKToTeleport 车道是否可以作为转移的来源或目标
// 说明：排除汇入与分流车道、有车辆正在变道进出的车道、路口下游正有车辆驶来的车道
func isOKToTeleport(l *lane.Lane) bool {
	return len(l.MergingLanes()) == 0 &&
		len(l.SplittingLanes()) == 0 &&
		l.NumVehiclesLaneChangingOffOfLane == 0 &&
		l.NumVehiclesLaneChangingOntoLane == 0 &&
		!l.AreVehiclesApproachingFromIntersection()
}

func (m *DensityManager) viewer() geometry.Point {
	c := m.config()
	return geometry.Point{X: c.ViewerX, Y: c.ViewerY}
}

// distanceToViewer 车道包围圆到观察者的距离
func (m *DensityManager) distanceToViewer(l *lane.Lane) float64 {
	return math.Max(geometry.Distance2D(l.Center(), m.viewer())-l.Radius(), 0)
}

// isVisible 位置是否在观察者可见范围内
func (m *DensityManager) isVisible(p geometry.Point) bool {
	return geometry.Distance2D(p, m.viewer()) < m.config().VisibleRadius
}

// findTransferLanes 找出分区内的转移来源与目标车道
// 返回：busiest-超过目标最大密度最多的车道（降序），leastBusiest-功能密度最低的车道（升序）
// 说明：干道阶段只考虑干道；目标车道必须开放且不能是路口内车道
func (m *DensityManager) findTransferLanes(lanes []*lane.Lane) (busiest, leastBusiest []*lane.Lane) {
	c := m.config()
	busiestQueue := container.NewPriorityQueue[*lane.Lane]()
	leastBusiestQueue := container.NewPriorityQueue[*lane.Lane]()
	for _, l := range lanes {
		if !isOKToTeleport(l) {
			continue
		}
		if m.trunkLanesPhase && !l.IsTrunkLane() {
			continue
		}
		excess := l.BasicDensity() - l.MaxDensity()
		functional := l.FunctionalDensity()
		distance := m.distanceToViewer(l)

		if c.BusiestLaneDistanceToViewerRange.Contains(distance) && excess >= 0 {
			busiestQueue.BoundedPush(l, excess, c.NumBusiestLanesToTransferFrom)
		}
		if c.LeastBusiestLaneDistanceToViewerRange.Contains(distance) &&
			functional <= c.LeastBusiestLaneMaxDensity &&
			l.IsOpen &&
			!l.IsIntersectionLane() {
			leastBusiestQueue.BoundedPush(l, -functional, c.NumLeastBusiestLanesToTransferTo)
		}
	}
	return busiestQueue.SortedDesc(), leastBusiestQueue.SortedDesc()
}
