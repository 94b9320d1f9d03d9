package lane

import (
	"fmt"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/input"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

// LaneManager Lane管理器
// 功能：管理所有Lane实体，提供创建、查找、下游流密度更新与清空等功能
type LaneManager struct {
	ctx entity.ITaskContext

	lookup     []*Lane // 按车道ID下标的稠密查找表
	lanes      []*Lane // 全部车道（按输入顺序）
	traffic    []*Lane // 机动车道
	crosswalks []*Lane // 人行横道

	downstreamOrder []*Lane // 下游在前、上游在后的机动车道顺序
}

// NewManager 创建Lane管理器实例
// 参数：ctx-任务上下文
// 返回：新创建的Lane管理器实例
func NewManager(ctx entity.ITaskContext) *LaneManager {
	return &LaneManager{
		ctx:        ctx,
		lookup:     make([]*Lane, 0),
		lanes:      make([]*Lane, 0),
		traffic:    make([]*Lane, 0),
		crosswalks: make([]*Lane, 0),
	}
}

// Init 初始化所有Lane
// 功能：根据输入数据创建全部车道，建立ID查找表、拓扑关系与下游更新顺序
// 参数：data-车道输入数据
// 算法说明：
// 1. 并行创建车道对象并计算几何与分类
// 2. 建立稠密查找表，ID重复时panic
// 3. 并行建立后继与左右关系，再串行生成前驱关系与路口下游标记
// 4. 并行计算汇入、分流、最右侧等派生属性
// 5. 构建车道有向图，按强连通分量的逆拓扑序得到下游流密度的更新顺序
func (m *LaneManager) Init(data []input.Lane) {
	m.lanes = parallel.GoMap(data, func(base input.Lane) *Lane {
		return newLane(m.ctx, base)
	})
	maxID := lo.Max(lo.Map(m.lanes, func(l *Lane, _ int) int32 { return l.id }))
	m.lookup = make([]*Lane, maxID+1)
	for _, l := range m.lanes {
		if l.id < 0 {
			log.Panicf("bad lane id %d", l.id)
		}
		if m.lookup[l.id] != nil {
			log.Panicf("duplicated lane id %d", l.id)
		}
		m.lookup[l.id] = l
	}
	parallel.GoFor(m.lanes, func(l *Lane) { l.initWithManager(m) })
	for _, l := range m.lanes {
		for _, next := range l.nextLanes {
			next.prevLanes = append(next.prevLanes, l)
			if l.isIntersection {
				next.isDownstreamFromIntersection = true
			}
		}
	}
	parallel.GoFor(m.lanes, func(l *Lane) { l.initDerived() })

	m.traffic = lo.Filter(m.lanes, func(l *Lane, _ int) bool { return l.isTraffic })
	m.crosswalks = lo.Filter(m.lanes, func(l *Lane, _ int) bool { return l.isCrosswalk })
	m.downstreamOrder = m.buildDownstreamOrder()
	log.Infof("init %d lanes: %d traffic, %d crosswalk", len(m.lanes), len(m.traffic), len(m.crosswalks))
}

// buildDownstreamOrder 计算下游在前的车道更新顺序
// 说明：TarjanSCC按逆拓扑序返回强连通分量，环路内部顺序任意，接受一帧的滞后
func (m *LaneManager) buildDownstreamOrder() []*Lane {
	g := simple.NewDirectedGraph()
	for _, l := range m.traffic {
		g.AddNode(simple.Node(l.id))
	}
	for _, l := range m.traffic {
		for _, next := range l.nextLanes {
			if next == l {
				continue
			}
			g.SetEdge(g.NewEdge(simple.Node(l.id), simple.Node(next.id)))
		}
	}
	order := make([]*Lane, 0, len(m.traffic))
	for _, component := range topo.TarjanSCC(g) {
		for _, node := range component {
			order = append(order, m.lookup[node.ID()])
		}
	}
	return order
}

// Get 根据ID获取Lane实例
// 功能：通过Lane ID查找对应的Lane对象，如果不存在则panic
func (m *LaneManager) Get(id int32) *Lane {
	if lane, ok := m.get(id); !ok {
		log.Panicf("no id %d in lane data", id)
		return nil
	} else {
		return lane
	}
}

// GetOrError 根据ID获取Lane实例（带错误处理）
// 返回：Lane实例和错误信息，如果不存在则返回nil和错误
func (m *LaneManager) GetOrError(id int32) (*Lane, error) {
	if lane, ok := m.get(id); !ok {
		return nil, fmt.Errorf("no id %d in lane data", id)
	} else {
		return lane, nil
	}
}

// Lookup 查找有交通数据的车道（机动车道或人行横道）
// 返回：ID超出注册范围或车道没有交通数据时返回(nil, false)
func (m *LaneManager) Lookup(id int32) (*Lane, bool) {
	lane, ok := m.get(id)
	if !ok || (!lane.isTraffic && !lane.isCrosswalk) {
		return nil, false
	}
	return lane, true
}

func (m *LaneManager) get(id int32) (*Lane, bool) {
	if id < 0 || int(id) >= len(m.lookup) || m.lookup[id] == nil {
		return nil, false
	}
	return m.lookup[id], true
}

// Lanes 全部车道
func (m *LaneManager) Lanes() []*Lane {
	return m.lanes
}

// TrafficLanes 全部机动车道
func (m *LaneManager) TrafficLanes() []*Lane {
	return m.traffic
}

// Crosswalks 全部人行横道
func (m *LaneManager) Crosswalks() []*Lane {
	return m.crosswalks
}

// DownstreamOrder 下游在前的机动车道顺序
func (m *LaneManager) DownstreamOrder() []*Lane {
	return m.downstreamOrder
}

// UpdateDownstreamFlowDensities 按下游在前的顺序更新全部机动车道的下游流密度
func (m *LaneManager) UpdateDownstreamFlowDensities() {
	mix := m.ctx.RuntimeConfig().All.Lane.DownstreamFlowDensityMixtureFraction
	for _, l := range m.downstreamOrder {
		l.UpdateDownstreamFlowDensity(mix)
	}
}

// ClearVehicles 清空全部车道上的车辆引用与计数
func (m *LaneManager) ClearVehicles() {
	parallel.GoFor(m.lanes, func(l *Lane) { l.ClearVehicles() })
}
