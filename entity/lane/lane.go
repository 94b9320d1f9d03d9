package lane

import (
	"fmt"
	"math"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/paulmach/orb"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/input"
)

// Lane 车道实体
// 功能：表示车道图中的一条有向车道，包含几何派生常量、拓扑关系与运行时占用状态
// 说明：运行时字段（导出字段）在车辆更新阶段串行修改，开闭状态只由路口模块写入
type Lane struct {
	ctx entity.ITaskContext

	id   int32
	tags []string

	// 初始化临时变量

	initNext  []int32
	initLeft  *int32
	initRight *int32

	// 几何
	line           []geometry.Point             // 中心线折线
	lineLengths    []float64                    // 折线点对应的累计长度
	lineDirections []geometry.PolylineDirection // 折线段方向
	length         float64                      // 车道长度
	bound          orb.Bound                    // 外扩后的二维包围盒
	center         geometry.Point               // 起点与终点的中点
	radius         float64                      // 中点到起点的距离

	// 常量
	speedLimit                 float64 // 限速（厘米/秒）
	averageNextLanesSpeedLimit float64 // 后继车道平均限速，没有后继时为0
	maxDensity                 float64 // 目标最大密度，[0,1]

	isTraffic                    bool
	isCrosswalk                  bool
	isIntersection               bool
	isTrunk                      bool
	isLaneChanging               bool
	turnsLeft                    bool
	turnsRight                   bool
	isRightMost                  bool
	hasTransverseLaneAdjacency   bool
	isDownstreamFromIntersection bool

	// 拓扑
	nextLanes      []*Lane
	prevLanes      []*Lane
	mergingLanes   []*Lane // 与本车道汇入同一后继车道的其他车道
	splittingLanes []*Lane // 与本车道从同一前驱车道分出的其他车道
	leftLane       *Lane
	rightLane      *Lane

	// 运行时占用状态

	SpaceAvailable                   float64 // 剩余空间，不超过车道长度，可以为负
	NumVehiclesOnLane                int32
	NumVehiclesApproachingLane       int32
	NumReservedVehiclesOnLane        int32 // 已无法在车道出口停下、必将驶入本车道的车辆数
	NumVehiclesLaneChangingOntoLane  int32
	NumVehiclesLaneChangingOffOfLane int32

	TailVehicle                       entity.VehicleHandle // 车道上最后方的车辆
	GhostTailVehicleFromLaneChange    entity.VehicleHandle // 从本车道变道离开但仍占据物理空间的车辆
	GhostTailVehicleFromSplittingLane entity.VehicleHandle
	GhostTailVehicleFromMergingLane   entity.VehicleHandle

	// 运行时开闭状态

	IsOpen                                            bool
	IsAboutToClose                                    bool
	FractionUntilClosed                               float64
	IsVehicleReadyToUseLane                           bool // 有车辆准备驶入本车道
	IsStoppedVehicleInPreviousLaneOverlappingThisLane bool // 前驱车道上停下的车辆压住了本车道（人行横道）

	downstreamFlowDensity float64
}

// newLane 创建并初始化一个新的Lane实例
// 功能：根据输入数据计算几何信息，并按标签完成车道分类与常量计算
// 参数：ctx-任务上下文，base-车道输入数据
// 返回：初始化完成的Lane实例
func newLane(ctx entity.ITaskContext, base input.Lane) *Lane {
	cfg := &ctx.RuntimeConfig().All.Lane
	l := &Lane{
		ctx:       ctx,
		id:        base.ID,
		tags:      base.Tags,
		initNext:  base.Next,
		initLeft:  base.Left,
		initRight: base.Right,
		IsOpen:    true,
	}
	l.line = lo.Map(base.Points, func(p input.Point, _ int) geometry.Point {
		return p.ToGeometry()
	})
	l.lineLengths = geometry.GetPolylineLengths2D(l.line)
	l.length = l.lineLengths[len(l.lineLengths)-1]
	l.lineDirections = geometry.GetPolylineDirections(l.line)
	if l.length <= 0 {
		log.Panicf("lane %d has zero length", l.id)
	}

	mp := make(orb.MultiPoint, len(l.line))
	for i, p := range l.line {
		mp[i] = orb.Point{p.X, p.Y}
	}
	l.bound = mp.Bound().Pad(cfg.BoundPadding)
	begin, end := l.line[0], l.line[len(l.line)-1]
	l.center = geometry.Blend(begin, end, 0.5)
	l.radius = geometry.Distance2D(l.center, begin)

	hasTag := func(tag string) bool {
		return tag != "" && lo.Contains(l.tags, tag)
	}
	l.isTraffic = hasTag(cfg.Tags.Traffic)
	l.isCrosswalk = hasTag(cfg.Tags.Crosswalk)
	l.isIntersection = hasTag(cfg.Tags.Intersection)
	l.isTrunk = hasTag(cfg.Tags.Trunk)
	l.isLaneChanging = hasTag(cfg.Tags.LaneChanging)
	l.hasTransverseLaneAdjacency = hasTag(cfg.Tags.Transverse)

	l.speedLimit = base.SpeedLimit
	if l.speedLimit <= 0 {
		if v, ok := cfg.SpeedLimitForTags(l.tags); ok {
			l.speedLimit = v
		} else if l.isTraffic {
			log.Warnf("no speed limit matches tags %v of lane %d", l.tags, l.id)
		}
	}
	if base.MaxDensity > 0 {
		l.maxDensity = lo.Clamp(base.MaxDensity, 0, 1)
	} else {
		l.maxDensity = lo.Clamp(cfg.MaxDensityForTags(l.tags), 0, 1)
	}

	// 转向：起终点方向夹角超过阈值视为转弯，右手系下叉积为正表示左转
	beginDir := utils.UnitFromAngle(l.lineDirections[0].Direction)
	endDir := utils.UnitFromAngle(l.lineDirections[len(l.lineDirections)-1].Direction)
	if beginDir.Dot2D(endDir) <= math.Cos(cfg.TurnAngleThreshold*math.Pi/180) {
		if beginDir.Cross2D(endDir) > 0 {
			l.turnsLeft = true
		} else {
			l.turnsRight = true
		}
	}

	l.ClearVehicles()
	return l
}

// initWithManager 在管理器初始化后建立Lane的连接关系
// 功能：建立后继与左右关系
// 参数：m-车道管理器
// 说明：前驱关系由管理器在全部后继关系建立后统一生成
func (l *Lane) initWithManager(m *LaneManager) {
	for _, id := range l.initNext {
		next := m.Get(id)
		if !next.isTraffic {
			// 人行横道等非机动车道不能作为后继
			continue
		}
		if !lo.Contains(l.nextLanes, next) {
			l.nextLanes = append(l.nextLanes, next)
		}
	}
	if l.initLeft != nil {
		l.leftLane = m.Get(*l.initLeft)
	}
	if l.initRight != nil {
		l.rightLane = m.Get(*l.initRight)
	}
	l.initNext = nil
	l.initLeft = nil
	l.initRight = nil
}

// initDerived 计算依赖前驱关系的派生拓扑与常量
// 说明：只写入本车道字段，可以并行调用
func (l *Lane) initDerived() {
	for _, next := range l.nextLanes {
		for _, prev := range next.prevLanes {
			if prev != l && !lo.Contains(l.mergingLanes, prev) {
				l.mergingLanes = append(l.mergingLanes, prev)
			}
		}
	}
	for _, prev := range l.prevLanes {
		for _, next := range prev.nextLanes {
			if next != l && !lo.Contains(l.splittingLanes, next) {
				l.splittingLanes = append(l.splittingLanes, next)
			}
		}
	}
	if len(l.nextLanes) > 0 {
		l.averageNextLanesSpeedLimit = lo.SumBy(l.nextLanes, func(n *Lane) float64 {
			return n.speedLimit
		}) / float64(len(l.nextLanes))
	}
	l.isLaneChanging = l.isLaneChanging && !l.isIntersection &&
		(l.leftLane != nil || l.rightLane != nil || len(l.mergingLanes) > 0 || len(l.splittingLanes) > 0)
	l.isRightMost = l.computeIsRightMost()
}

// computeIsRightMost 判断是否为最右侧车道
// 算法说明：
// 1. 有右侧车道则不是最右侧
// 2. 汇入车道的起点位于本车道起点右侧则不是最右侧
// 3. 分流车道的终点位于本车道终点右侧则不是最右侧
func (l *Lane) computeIsRightMost() bool {
	if l.rightLane != nil {
		return false
	}
	begin, end := l.line[0], l.line[len(l.line)-1]
	beginDir := utils.UnitFromAngle(l.lineDirections[0].Direction)
	endDir := utils.UnitFromAngle(l.lineDirections[len(l.lineDirections)-1].Direction)
	for _, other := range l.mergingLanes {
		if beginDir.Cross2D(other.line[0].Sub(begin)) < 0 {
			return false
		}
	}
	for _, other := range l.splittingLanes {
		if endDir.Cross2D(other.line[len(other.line)-1].Sub(end)) < 0 {
			return false
		}
	}
	return true
}

func (l *Lane) String() string {
	return fmt.Sprintf("Lane(%d)", l.id)
}

// ID 获取车道ID
func (l *Lane) ID() int32 {
	return l.id
}

// Tags 获取车道标签
func (l *Lane) Tags() []string {
	return l.tags
}

// Length 获取车道长度
func (l *Lane) Length() float64 {
	return l.length
}

// SpeedLimit 获取车道限速（厘米/秒）
func (l *Lane) SpeedLimit() float64 {
	return l.speedLimit
}

// AverageNextLanesSpeedLimit 获取后继车道的平均限速，没有后继车道时为0
func (l *Lane) AverageNextLanesSpeedLimit() float64 {
	return l.averageNextLanesSpeedLimit
}

// MaxDensity 获取目标最大密度
func (l *Lane) MaxDensity() float64 {
	return l.maxDensity
}

func (l *Lane) IsTrafficLane() bool                { return l.isTraffic }
func (l *Lane) IsCrosswalk() bool                  { return l.isCrosswalk }
func (l *Lane) IsIntersectionLane() bool           { return l.isIntersection }
func (l *Lane) IsTrunkLane() bool                  { return l.isTrunk }
func (l *Lane) IsLaneChangingLane() bool           { return l.isLaneChanging }
func (l *Lane) TurnsLeft() bool                    { return l.turnsLeft }
func (l *Lane) TurnsRight() bool                   { return l.turnsRight }
func (l *Lane) IsRightMostLane() bool              { return l.isRightMost }
func (l *Lane) HasTransverseLaneAdjacency() bool   { return l.hasTransverseLaneAdjacency }
func (l *Lane) IsDownstreamFromIntersection() bool { return l.isDownstreamFromIntersection }

// NextLanes 后继车道（不含人行横道）
func (l *Lane) NextLanes() []*Lane {
	return l.nextLanes
}

// PrevLanes 前驱车道
func (l *Lane) PrevLanes() []*Lane {
	return l.prevLanes
}

func (l *Lane) MergingLanes() []*Lane {
	return l.mergingLanes
}

func (l *Lane) SplittingLanes() []*Lane {
	return l.splittingLanes
}

// LeftLane 左侧同向车道，没有则为nil
func (l *Lane) LeftLane() *Lane {
	return l.leftLane
}

// RightLane 右侧同向车道，没有则为nil
func (l *Lane) RightLane() *Lane {
	return l.rightLane
}

// Line 获取中心线折线
func (l *Lane) Line() []geometry.Point {
	return l.line
}

// LineLengths 获取中心线折线点的累计长度
func (l *Lane) LineLengths() []float64 {
	return l.lineLengths
}

// Bound 获取外扩后的包围盒
func (l *Lane) Bound() orb.Bound {
	return l.bound
}

// Center 获取车道中点，与Radius一起用于距离测试
func (l *Lane) Center() geometry.Point {
	return l.center
}

func (l *Lane) Radius() float64 {
	return l.radius
}

// BeginPoint 起点
func (l *Lane) BeginPoint() geometry.Point {
	return l.line[0]
}

// EndPoint 终点
func (l *Lane) EndPoint() geometry.Point {
	return l.line[len(l.line)-1]
}

// BeginDirection 起点方向角
func (l *Lane) BeginDirection() float64 {
	return l.lineDirections[0].Direction
}

// EndDirection 终点方向角
func (l *Lane) EndDirection() float64 {
	return l.lineDirections[len(l.lineDirections)-1].Direction
}

// GetDirectionByS 获取车道上s处的方向角
func (l *Lane) GetDirectionByS(s float64) float64 {
	_, dir := utils.PolylinePositionAt(l.line, l.lineLengths, l.lineDirections, s)
	return dir
}

// GetPositionByS 获取车道上s处的坐标
// 功能：根据弧长坐标插值得到中心线上的点，s超出范围时截断
func (l *Lane) GetPositionByS(s float64) geometry.Point {
	if s < 0 || s > l.length {
		log.Debugf("get position with s %v out of range{0,%v}", s, l.length)
	}
	pos, _ := utils.PolylinePositionAt(l.line, l.lineLengths, l.lineDirections, s)
	return pos
}

// GetPositionAndDirectionByS 同时获取s处的坐标与方向角
func (l *Lane) GetPositionAndDirectionByS(s float64) (geometry.Point, float64) {
	return utils.PolylinePositionAt(l.line, l.lineLengths, l.lineDirections, s)
}

// GetOffsetPositionByS 获取s处向右偏移offset后的坐标，offset为负表示向左
func (l *Lane) GetOffsetPositionByS(s, offset float64) geometry.Point {
	pos, dir := utils.PolylinePositionAt(l.line, l.lineLengths, l.lineDirections, s)
	return pos.Add(utils.RightFromAngle(dir).Scale(offset))
}

// ProjectToLane 将坐标投影到车道中心线上，返回截断到[0,length]的弧长坐标
func (l *Lane) ProjectToLane(pos geometry.Point) float64 {
	s := geometry.GetClosestPolylineSToPoint2D(l.line, l.lineLengths, pos)
	return lo.Clamp(s, 0, l.length)
}
