package obstacle

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/general/common/v2/parallel"
	"github.com/paulmach/orb"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/input"
)

type stateUpdate struct {
	id       entity.ObstacleID
	position geometry.Point
	velocity geometry.Point
}

// avoidance 一个障碍物需要被某辆车避让
type avoidance struct {
	vehicle  entity.VehicleHandle
	obstacle entity.ObstacleID
}

// ObstacleManager 障碍物索引
// 功能：每帧为每个障碍物找到附近车道上位于其后方的最近车辆，登记为该车辆需要避让的障碍物
// 说明：添加、删除与状态更新先进入缓冲区，在Prepare阶段统一生效；避让列表每帧完全重建
type ObstacleManager struct {
	ctx         entity.ITaskContext
	laneManager *lane.LaneManager

	data map[entity.ObstacleID]*Obstacle
	ids  []entity.ObstacleID // 按ID排序，保证每帧遍历顺序确定

	avoid map[entity.VehicleHandle][]entity.ObstacleID

	bufferMtx    sync.Mutex
	addBuffer    []AddRequest
	removeBuffer []entity.ObstacleID
	stateBuffer  []stateUpdate
}

// NewManager 创建障碍物管理器实例
func NewManager(ctx entity.ITaskContext, laneManager *lane.LaneManager) *ObstacleManager {
	return &ObstacleManager{
		ctx:          ctx,
		laneManager:  laneManager,
		data:         make(map[entity.ObstacleID]*Obstacle),
		ids:          make([]entity.ObstacleID, 0),
		avoid:        make(map[entity.VehicleHandle][]entity.ObstacleID),
		addBuffer:    make([]AddRequest, 0),
		removeBuffer: make([]entity.ObstacleID, 0),
		stateBuffer:  make([]stateUpdate, 0),
	}
}

// Init 初始化静态障碍物
func (m *ObstacleManager) Init(data []input.Obstacle) {
	for _, base := range data {
		m.add(FromInput(base))
	}
	log.Infof("init %d obstacles", len(m.data))
}

func (m *ObstacleManager) config() *config.Obstacle {
	return &m.ctx.RuntimeConfig().All.Obstacle
}

func (m *ObstacleManager) add(req AddRequest) {
	if _, ok := m.data[req.ID]; ok {
		log.Warnf("obstacle %d already exists, replace it", req.ID)
	} else {
		m.ids = append(m.ids, req.ID)
		slices.Sort(m.ids)
	}
	m.data[req.ID] = newObstacle(req)
}

func (m *ObstacleManager) remove(id entity.ObstacleID) {
	if _, ok := m.data[id]; !ok {
		log.Warnf("remove unknown obstacle %d", id)
		return
	}
	delete(m.data, id)
	if i, ok := slices.BinarySearch(m.ids, id); ok {
		m.ids = slices.Delete(m.ids, i, i+1)
	}
}

// Add 缓冲一个添加请求
func (m *ObstacleManager) Add(req AddRequest) {
	m.bufferMtx.Lock()
	defer m.bufferMtx.Unlock()
	m.addBuffer = append(m.addBuffer, req)
}

// Remove 缓冲一个删除请求
func (m *ObstacleManager) Remove(id entity.ObstacleID) {
	m.bufferMtx.Lock()
	defer m.bufferMtx.Unlock()
	m.removeBuffer = append(m.removeBuffer, id)
}

// SetState 缓冲一次位置与速度更新
func (m *ObstacleManager) SetState(id entity.ObstacleID, position, velocity geometry.Point) {
	m.bufferMtx.Lock()
	defer m.bufferMtx.Unlock()
	m.stateBuffer = append(m.stateBuffer, stateUpdate{id: id, position: position, velocity: velocity})
}

// Prepare 准备阶段：依次应用删除、添加与状态更新
func (m *ObstacleManager) Prepare() {
	m.bufferMtx.Lock()
	removes, adds, states := m.removeBuffer, m.addBuffer, m.stateBuffer
	m.removeBuffer = make([]entity.ObstacleID, 0)
	m.addBuffer = make([]AddRequest, 0)
	m.stateBuffer = make([]stateUpdate, 0)
	m.bufferMtx.Unlock()

	for _, id := range removes {
		m.remove(id)
	}
	for _, req := range adds {
		m.add(req)
	}
	for _, s := range states {
		o, ok := m.data[s.id]
		if !ok {
			log.Warnf("set state of unknown obstacle %d", s.id)
			continue
		}
		o.position = s.position
		o.velocity = s.velocity
	}
}

// Update 重建全部车辆的避让列表
// 算法说明：
// 1. 车辆障碍物的位置跟随其车辆，车辆已不存在时障碍物保持最后的位置
// 2. 以搜索半径构造包围盒，与每条标签匹配的车道的包围盒做相交测试
// 3. 将障碍物投影到相交的车道上，超出搜索半径或高度差过大时跳过
// 4. 查找投影位置前后的车辆，后方车辆存在且不是障碍物本身时登记
// 5. 每辆车的列表去重后一次性提交
func (m *ObstacleManager) Update() {
	vehicles := m.ctx.VehicleManager()
	obstacles := make([]*Obstacle, 0, len(m.ids))
	for _, id := range m.ids {
		o := m.data[id]
		if vehicles != nil && o.vehicle.IsSet() && vehicles.Valid(o.vehicle) {
			o.position = vehicles.Position(o.vehicle)
		}
		obstacles = append(obstacles, o)
	}

	var found [][]avoidance
	if vehicles != nil {
		lanes := m.candidateLanes()
		found = parallel.GoMap(obstacles, func(o *Obstacle) []avoidance {
			return m.findVehiclesToAvoid(vehicles, lanes, o)
		})
	}

	avoid := make(map[entity.VehicleHandle][]entity.ObstacleID)
	for _, list := range found {
		for _, a := range list {
			if !slices.Contains(avoid[a.vehicle], a.obstacle) {
				avoid[a.vehicle] = append(avoid[a.vehicle], a.obstacle)
			}
		}
	}
	m.avoid = avoid
}

// candidateLanes 参与障碍物搜索的车道
func (m *ObstacleManager) candidateLanes() []*lane.Lane {
	filter := m.config().LaneFilter
	return lo.Filter(m.laneManager.TrafficLanes(), func(l *lane.Lane, _ int) bool {
		return filter.Match(l.Tags())
	})
}

// findVehiclesToAvoid 查找需要避让障碍物o的车辆
func (m *ObstacleManager) findVehiclesToAvoid(
	chain entity.IVehicleChain, lanes []*lane.Lane, o *Obstacle,
) []avoidance {
	c := m.config()
	r := c.SearchRadius
	box := orb.Bound{
		Min: orb.Point{o.position.X - r, o.position.Y - r},
		Max: orb.Point{o.position.X + r, o.position.Y + r},
	}
	res := make([]avoidance, 0)
	for _, l := range lanes {
		if !box.Intersects(l.Bound()) {
			continue
		}
		s := l.ProjectToLane(o.position)
		nearest := l.GetPositionByS(s)
		if geometry.Distance2D(nearest, o.position) > r {
			continue
		}
		if c.SearchHeight > 0 && math.Abs(nearest.Z-o.position.Z) > c.SearchHeight {
			continue
		}
		prev, _ := l.FindNearestVehiclesInLane(chain, s)
		if !prev.IsSet() || prev == o.vehicle {
			continue
		}
		res = append(res, avoidance{vehicle: prev, obstacle: o.id})
	}
	return res
}

// ObstaclesOf 车辆本帧需要避让的障碍物
func (m *ObstacleManager) ObstaclesOf(h entity.VehicleHandle) []entity.ObstacleID {
	return m.avoid[h]
}

// State 查询障碍物状态
func (m *ObstacleManager) State(id entity.ObstacleID) (entity.ObstacleState, bool) {
	o, ok := m.data[id]
	if !ok {
		return entity.ObstacleState{}, false
	}
	return o.state(), true
}

// Get 获取障碍物，不存在时panic
func (m *ObstacleManager) Get(id entity.ObstacleID) *Obstacle {
	o, err := m.GetOrError(id)
	if err != nil {
		log.Panic(err)
	}
	return o
}

// GetOrError 获取障碍物
func (m *ObstacleManager) GetOrError(id entity.ObstacleID) (*Obstacle, error) {
	if o, ok := m.data[id]; ok {
		return o, nil
	}
	return nil, fmt.Errorf("no id %d in obstacle data", id)
}

// Obstacles 按ID顺序返回全部障碍物
func (m *ObstacleManager) Obstacles() []*Obstacle {
	return lo.Map(m.ids, func(id entity.ObstacleID, _ int) *Obstacle { return m.data[id] })
}

func (m *ObstacleManager) Len() int {
	return len(m.data)
}
