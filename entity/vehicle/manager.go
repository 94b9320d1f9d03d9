package vehicle

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/general/common/v2/mathutil"
	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/container"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/input"
)

// VehicleManager 车辆管理器
// 功能：以代数句柄对象池管理全部车辆，实现车辆链视图、避障距离计算、控制与移动、车道间转移
// 说明：生成与删除请求先进入缓冲区，在Prepare阶段统一生效
type VehicleManager struct {
	ctx         entity.ITaskContext
	laneManager *lane.LaneManager

	vehicles *container.Arena[Vehicle]
	noise    *Noise
	linked   bool // 车辆链是否已建立，之后生成的车辆直接插入链中

	bufferMtx     sync.Mutex
	spawnBuffer   []SpawnRequest
	despawnBuffer []entity.VehicleHandle
}

// NewManager 创建车辆管理器实例
// 参数：ctx-任务上下文，laneManager-车道管理器
func NewManager(ctx entity.ITaskContext, laneManager *lane.LaneManager) *VehicleManager {
	return &VehicleManager{
		ctx:           ctx,
		laneManager:   laneManager,
		vehicles:      container.NewArena[Vehicle](),
		noise:         NewNoise(int64(ctx.RuntimeConfig().C.Seed)),
		spawnBuffer:   make([]SpawnRequest, 0),
		despawnBuffer: make([]entity.VehicleHandle, 0),
	}
}

// Init 初始化全部车辆
// 功能：生成初始车辆，建立车辆链，计算避障距离并初始化速度
// 参数：data-初始车辆数据
// 说明：无法放置的车辆记录警告后跳过
func (m *VehicleManager) Init(data []input.Vehicle) {
	for _, d := range data {
		if _, err := m.Spawn(SpawnRequest{
			Lane:             d.Lane,
			Distance:         d.Distance,
			Radius:           d.Radius,
			HalfWidth:        d.HalfWidth,
			HalfLength:       d.HalfLength,
			Speed:            d.Speed,
			TrunkOnly:        d.TrunkOnly,
			ExternallyDriven: d.ExternallyDriven,
		}); err != nil {
			log.Warnf("skip initial vehicle on lane %d: %v", d.Lane, err)
		}
	}
	m.LinkVehicles()
	m.UpdateDistances()
	m.InitSpeeds()
	log.Infof("init %d vehicles", m.vehicles.Len())
}

func (m *VehicleManager) config() *config.Vehicle {
	return &m.ctx.RuntimeConfig().All.Vehicle
}

func (m *VehicleManager) get(h entity.VehicleHandle) *Vehicle {
	v, _ := m.vehicles.Get(h)
	return v
}

// Get 根据句柄获取车辆，句柄失效时panic
func (m *VehicleManager) Get(h entity.VehicleHandle) *Vehicle {
	if v, ok := m.vehicles.Get(h); !ok {
		log.Panicf("no handle %v in vehicle data", h)
		return nil
	} else {
		return v
	}
}

// GetOrError 根据句柄获取车辆（带错误处理）
func (m *VehicleManager) GetOrError(h entity.VehicleHandle) (*Vehicle, error) {
	if v, ok := m.vehicles.Get(h); !ok {
		return nil, fmt.Errorf("no handle %v in vehicle data: %w", h, ErrInvalidHandle)
	} else {
		return v, nil
	}
}

// Vehicles 按句柄下标顺序返回全部车辆
func (m *VehicleManager) Vehicles() []*Vehicle {
	return m.vehicles.Values()
}

// Add 缓冲一个生成请求，在下一次Prepare时生效
func (m *VehicleManager) Add(req SpawnRequest) {
	m.bufferMtx.Lock()
	defer m.bufferMtx.Unlock()
	m.spawnBuffer = append(m.spawnBuffer, req)
}

// Remove 缓冲一个删除请求，在下一次Prepare时生效
func (m *VehicleManager) Remove(h entity.VehicleHandle) {
	m.bufferMtx.Lock()
	defer m.bufferMtx.Unlock()
	m.despawnBuffer = append(m.despawnBuffer, h)
}

// Prepare 准备阶段：应用缓冲的删除与生成请求
func (m *VehicleManager) Prepare() {
	m.bufferMtx.Lock()
	despawns, spawns := m.despawnBuffer, m.spawnBuffer
	m.despawnBuffer, m.spawnBuffer = make([]entity.VehicleHandle, 0), make([]SpawnRequest, 0)
	m.bufferMtx.Unlock()

	for _, h := range despawns {
		if err := m.Despawn(h); err != nil {
			log.Warnf("despawn %v: %v", h, err)
		}
	}
	for _, req := range spawns {
		if _, err := m.Spawn(req); err != nil {
			log.Warnf("spawn on lane %d: %v", req.Lane, err)
		}
	}
}

// Spawn 立即生成一辆车
// 功能：分配句柄与随机系数，登记车道占用，选择唯一的下一车道，计算初始坐标
// 参数：req-生成请求
// 返回：新车辆句柄
// 说明：车辆链建立之前生成的车辆由LinkVehicles统一链接，之后生成的车辆直接插入链中
func (m *VehicleManager) Spawn(req SpawnRequest) (entity.VehicleHandle, error) {
	l, ok := m.laneManager.Lookup(req.Lane)
	if !ok || !l.IsTrafficLane() {
		return entity.VehicleHandle{}, fmt.Errorf("no traffic lane %d", req.Lane)
	}
	if req.Radius <= 0 {
		return entity.VehicleHandle{}, fmt.Errorf("bad vehicle radius %v", req.Radius)
	}
	req.Distance = lo.Clamp(req.Distance, 0, l.Length())
	if m.linked {
		if err := m.checkInsertionGap(l, req.Distance, req.Radius); err != nil {
			return entity.VehicleHandle{}, err
		}
	}

	c := m.config()
	v := newVehicle(l, req, m.ctx.Rand().Float64())
	v.spaceTaken = GetSpaceTakenByVehicleOnLane(v.radius, v.randomFraction, c.MinimumDistanceToNextVehicleRange)
	v.handle = m.vehicles.Alloc(v)

	if !TrunkVehicleLaneCheck(l, v.trunkOnly) {
		log.Errorf("trunk-lane-only %v spawned on non-trunk lane %v", v, l)
	}
	if next := l.NextLanes(); len(next) == 1 {
		v.nextLane = next[0]
		v.nextLane.NumVehiclesApproachingLane++
		v.preference = NextLaneKeep
		v.setTurnSignals(v.nextLane.TurnsLeft(), v.nextLane.TurnsRight())
		l.UpdateDownstreamFlowDensity(m.ctx.RuntimeConfig().All.Lane.DownstreamFlowDensityMixtureFraction)
	}
	l.AddVehicleOccupancy(v.spaceTaken)
	v.updatePositionFromLane()

	if m.linked {
		m.insertIntoChain(v)
		m.updateDistanceToNearestObstacle(v)
		if v.isInitialSpeedPending {
			m.initSpeed(v)
		}
	}
	return v.handle, nil
}

// checkInsertionGap 检查插入位置前后是否与已有车辆重叠
func (m *VehicleManager) checkInsertionGap(l *lane.Lane, distance, radius float64) error {
	prev, next := l.FindNearestVehiclesInLane(m, distance)
	if p := m.get(prev); p != nil && distance-p.distance < radius+p.radius {
		return fmt.Errorf("overlap with %v: %w", p, ErrNoSpace)
	}
	if n := m.get(next); n != nil && n.lane == l && n.distance-distance < radius+n.radius {
		return fmt.Errorf("overlap with %v: %w", n, ErrNoSpace)
	}
	return nil
}

// insertIntoChain 将新车辆插入所在车道的车辆链
func (m *VehicleManager) insertIntoChain(v *Vehicle) {
	l := v.lane
	prev, _ := l.FindNearestVehiclesInLane(m, v.distance)
	if p := m.get(prev); p != nil && p != v {
		v.next = p.next
		p.next = v.handle
		return
	}
	oldTail := l.TailVehicle
	if m.vehicles.Valid(oldTail) && oldTail != v.handle {
		v.next = oldTail
	} else {
		v.next = l.FindNearestTailVehicleOnNextLanes(m, v.position, lane.TailRegular)
	}
	l.TailVehicle = v.handle
	m.redirectPredecessors(l, oldTail, v.handle)
}

// redirectPredecessors 将前驱车道上以from为前车的车辆改为以to为前车
func (m *VehicleManager) redirectPredecessors(l *lane.Lane, from, to entity.VehicleHandle) {
	if !from.IsSet() {
		return
	}
	for _, prev := range l.PrevLanes() {
		prev.ForEachVehicleOnLane(m, func(h entity.VehicleHandle) bool {
			p := m.get(h)
			if p.next == from {
				p.next = to
				if p.next == h {
					p.next = entity.VehicleHandle{}
				}
			}
			return true
		})
	}
}

// Despawn 立即删除一辆车
// 功能：撤销车辆在车道上的全部登记（占用、接近、预约、变道计数、幽灵尾车），修复前后车链接后释放句柄
func (m *VehicleManager) Despawn(h entity.VehicleHandle) error {
	v, err := m.GetOrError(h)
	if err != nil {
		return err
	}
	if v.lc.inProgress {
		m.endLaneChangeProgression(v)
	}
	if v.nextLane != nil {
		if v.cantStop {
			v.nextLane.NumReservedVehiclesOnLane--
			v.cantStop = false
		}
		v.nextLane.NumVehiclesApproachingLane--
		v.nextLane = nil
	}
	l := v.lane
	l.RemoveVehicleOccupancy(v.spaceTaken)

	successor := v.next
	if s := m.get(successor); s == nil || s == v {
		successor = entity.VehicleHandle{}
	}
	if l.TailVehicle == h {
		if s := m.get(successor); s != nil && s.lane == l {
			l.TailVehicle = successor
		} else {
			l.TailVehicle = entity.VehicleHandle{}
		}
	}
	for _, other := range m.laneManager.TrafficLanes() {
		if other.GhostTailVehicleFromLaneChange == h {
			other.GhostTailVehicleFromLaneChange = entity.VehicleHandle{}
		}
		if other.GhostTailVehicleFromSplittingLane == h {
			other.GhostTailVehicleFromSplittingLane = entity.VehicleHandle{}
		}
		if other.GhostTailVehicleFromMergingLane == h {
			other.GhostTailVehicleFromMergingLane = entity.VehicleHandle{}
		}
	}
	m.vehicles.ForEach(func(oh entity.VehicleHandle, o *Vehicle) {
		if o == v {
			return
		}
		if o.next == h {
			o.next = successor
			if o.next == oh {
				o.next = entity.VehicleHandle{}
			}
		}
		o.laneChangeNext = removeHandle(o.laneChangeNext, h)
		o.lc.otherBehind = removeHandle(o.lc.otherBehind, h)
		if o.splittingLaneGhostNext == h {
			o.splittingLaneGhostNext = entity.VehicleHandle{}
		}
		if o.mergingLaneGhostNext == h {
			o.mergingLaneGhostNext = entity.VehicleHandle{}
		}
		if o.lc.initialBehind == h {
			o.lc.initialBehind = entity.VehicleHandle{}
		}
		if o.lc.initialAhead == h {
			o.lc.initialAhead = entity.VehicleHandle{}
		}
	})
	m.vehicles.Free(h)
	return nil
}

// LinkVehicles 建立车辆链
// 算法说明：
// 1. 按(车道, 距离)排序全部车辆
// 2. 每条车道的第一辆车作为尾车，同车道的下一辆车作为前车
// 3. 车道最前方的车辆以后继车道中距离最小的尾车作为前车
func (m *VehicleManager) LinkVehicles() {
	vs := m.vehicles.Values()
	slices.SortStableFunc(vs, func(a, b *Vehicle) int {
		if c := cmp.Compare(a.lane.ID(), b.lane.ID()); c != 0 {
			return c
		}
		return cmp.Compare(a.distance, b.distance)
	})
	for _, l := range m.laneManager.TrafficLanes() {
		l.TailVehicle = entity.VehicleHandle{}
	}
	for i, v := range vs {
		if i == 0 || vs[i-1].lane != v.lane {
			v.lane.TailVehicle = v.handle
		}
		if i+1 < len(vs) && vs[i+1].lane == v.lane {
			v.next = vs[i+1].handle
		} else {
			v.next = entity.VehicleHandle{}
		}
	}
	for _, v := range vs {
		if v.next.IsSet() {
			continue
		}
		best := mathutil.INF
		for _, nl := range v.lane.NextLanes() {
			if t := m.get(nl.TailVehicle); t != nil && t != v && t.distance < best {
				best = t.distance
				v.next = t.handle
			}
		}
	}
	m.linked = true
}

// InitSpeeds 为速度未指定的车辆计算初始速度
func (m *VehicleManager) InitSpeeds() {
	m.vehicles.ForEach(func(_ entity.VehicleHandle, v *Vehicle) {
		if v.isInitialSpeedPending {
			m.initSpeed(v)
		}
	})
}

// initSpeed 以调整后的限速作为当前速度计算目标速度，作为初始速度
func (m *VehicleManager) initSpeed(v *Vehicle) {
	c := m.config()
	noise := m.noise.CalculateNoiseValue(v.noiseInput, c.NoisePeriod)
	limit := v.lane.SpeedLimit()
	varied := VarySpeedLimit(limit, c.SpeedLimitVariancePct, c.SpeedVariancePct, v.randomFraction, noise)
	decision := ShouldStopAtLaneExit(
		m, v.lane, v.nextLane, v.distance, v.radius, varied, v.spaceTaken, false,
		m.ctx.RuntimeConfig().All.Intersection.StandardTrafficPrepareToStopSeconds,
	)
	stopAt := GetDistanceAlongLaneToStopAt(v.lane.Length(), v.radius, v.randomFraction, c.StoppingDistanceRange)
	brakeFrom := GetDistanceAlongLaneToBrakeFrom(
		v.lane.Length(), v.radius, v.randomFraction, varied, c.StopSignBrakingTime, c.StoppingDistanceRange,
	)
	v.speed = CalculateTargetSpeed(
		varied, varied, v.randomFraction,
		v.distanceToNext, v.timeToCollision, v.distanceToCollision,
		v.distance, stopAt, brakeFrom, decision.MustStop, c,
	)
	v.isInitialSpeedPending = false
	v.updatePositionFromLane()
}

// UpdateDistances 并行计算每辆车到最近前车与障碍物的距离
func (m *VehicleManager) UpdateDistances() {
	parallel.GoFor(m.vehicles.Values(), func(v *Vehicle) { m.updateDistanceToNearestObstacle(v) })
}

// Update 更新阶段：串行执行每辆车的变道、下一车道选择、控制与移动
// 说明：车辆之间共享车道计数与链表，因此串行执行
func (m *VehicleManager) Update(dt float64) {
	laneChangeEnabled := m.config().LaneChange.Enabled
	m.vehicles.ForEach(func(_ entity.VehicleHandle, v *Vehicle) {
		if laneChangeEnabled {
			m.updateLaneChange(v, dt)
			m.tryStartingNewLaneChange(v)
		}
		m.chooseNextLane(v)
		m.updateVehicle(v, dt)
	})
}

// SetPhysicalState 外部运动模块回写车辆的位置与速度
// 说明：距离按位置投影到当前车道，超过车道长度时驶入下一车道
func (m *VehicleManager) SetPhysicalState(h entity.VehicleHandle, pos, vel geometry.Point) error {
	v, err := m.GetOrError(h)
	if err != nil {
		return err
	}
	v.position = pos
	v.velocity = vel
	v.speed = vel.Length2D()
	if v.speed > 0 {
		v.direction = vel.Angle2D()
	}
	old := v.distance
	v.distance = v.lane.ProjectToLane(pos)
	if v.distance > old {
		v.noiseInput += v.distance - old
	}
	if v.distance >= v.lane.Length()-1e-3 && v.nextLane != nil {
		m.moveVehicleToNextLane(v)
	}
	return nil
}

// 车辆链视图

func (m *VehicleManager) Valid(h entity.VehicleHandle) bool {
	return m.vehicles.Valid(h)
}

func (m *VehicleManager) LaneOf(h entity.VehicleHandle) int32 {
	if v := m.get(h); v != nil && v.lane != nil {
		return v.lane.ID()
	}
	return entity.NoLane
}

func (m *VehicleManager) NextOf(h entity.VehicleHandle) entity.VehicleHandle {
	if v := m.get(h); v != nil {
		return v.next
	}
	return entity.VehicleHandle{}
}

func (m *VehicleManager) DistanceAlongLane(h entity.VehicleHandle) float64 {
	if v := m.get(h); v != nil {
		return v.distance
	}
	return 0
}

func (m *VehicleManager) Radius(h entity.VehicleHandle) float64 {
	if v := m.get(h); v != nil {
		return v.radius
	}
	return 0
}

func (m *VehicleManager) Position(h entity.VehicleHandle) geometry.Point {
	if v := m.get(h); v != nil {
		return v.position
	}
	return geometry.Point{}
}

// 依赖倒置接口

func (m *VehicleManager) Len() int {
	return m.vehicles.Len()
}

func (m *VehicleManager) Handles() []entity.VehicleHandle {
	hs := make([]entity.VehicleHandle, 0, m.vehicles.Len())
	m.vehicles.ForEach(func(h entity.VehicleHandle, _ *Vehicle) { hs = append(hs, h) })
	return hs
}

func (m *VehicleManager) IsTrunkOnly(h entity.VehicleHandle) bool {
	if v := m.get(h); v != nil {
		return v.trunkOnly
	}
	return false
}

func (m *VehicleManager) IsChangingLanes(h entity.VehicleHandle) bool {
	if v := m.get(h); v != nil {
		return v.lc.inProgress
	}
	return false
}

func (m *VehicleManager) DistanceToNext(h entity.VehicleHandle) float64 {
	if v := m.get(h); v != nil {
		return v.distanceToNext
	}
	return mathutil.INF
}

func (m *VehicleManager) SpaceTaken(h entity.VehicleHandle) float64 {
	if v := m.get(h); v != nil {
		return v.spaceTaken
	}
	return 0
}

func (m *VehicleManager) SetLanePosition(h entity.VehicleHandle) {
	if v := m.get(h); v != nil {
		v.updatePositionFromLane()
	}
}

// Teleport 将车辆瞬移到另一条车道的指定位置
// 说明：正在变道的车辆先结束变道
func (m *VehicleManager) Teleport(
	h entity.VehicleHandle, laneID int32, distance float64,
	chosenBehind, chosenAhead, currentBehind, currentAhead entity.VehicleHandle,
) error {
	v, err := m.GetOrError(h)
	if err != nil {
		return err
	}
	chosen, err := m.laneManager.GetOrError(laneID)
	if err != nil {
		return err
	}
	if v.lc.inProgress {
		m.endLaneChangeProgression(v)
	}
	if err := m.teleportVehicleToAnotherLane(
		v, chosen, distance, chosenBehind, chosenAhead, currentBehind, currentAhead,
	); err != nil {
		return err
	}
	v.updatePositionFromLane()
	return nil
}

func removeHandle(hs []entity.VehicleHandle, h entity.VehicleHandle) []entity.VehicleHandle {
	return lo.Filter(hs, func(x entity.VehicleHandle, _ int) bool { return x != h })
}
