package junction

import (
	"errors"
	"fmt"
	"sync"

	"git.fiblab.net/general/common/v2/parallel"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/input"
)

// JunctionManager Junction管理器
// 功能：构建并持有所有需要控制的路口，每帧并行推进各路口的相位状态机
type JunctionManager struct {
	ctx entity.ITaskContext

	data      map[int32]*Junction
	junctions []*Junction // 按输入顺序

	// 外部请求缓冲区，在Prepare阶段统一生效
	bufferMtx     sync.Mutex
	periodBuffer  []periodSetting
	restartBuffer []int32
}

// NewManager 创建Junction管理器实例
// 参数：ctx-任务上下文
// 返回：新创建的Junction管理器实例
func NewManager(ctx entity.ITaskContext) *JunctionManager {
	return &JunctionManager{
		ctx:           ctx,
		data:          make(map[int32]*Junction),
		junctions:     make([]*Junction, 0),
		periodBuffer:  make([]periodSetting, 0),
		restartBuffer: make([]int32, 0),
	}
}

// Init 初始化所有路口
// 功能：并行构建路口控制器，剔除不需要控制与构建失败的路口，再逐个重启使全部车道处于关闭状态
// 参数：defs-路口输入数据，laneManager-车道管理器
// 说明：构建失败只记录错误，路口内车道保持开放，相当于没有控制
func (m *JunctionManager) Init(defs []input.Intersection, laneManager *lane.LaneManager) {
	type result struct {
		j   *Junction
		err error
	}
	results := parallel.GoMap(defs, func(def input.Intersection) result {
		j, err := Build(m.ctx, def, laneManager)
		return result{j, err}
	})
	m.junctions = make([]*Junction, 0, len(results))
	for _, r := range results {
		switch {
		case r.err == nil:
			m.junctions = append(m.junctions, r.j)
		case errors.Is(r.err, ErrNoControlNeeded):
			log.Debugf("skip: %v", r.err)
		default:
			log.Errorf("build junction failed: %v", r.err)
		}
	}
	m.data = lo.SliceToMap(m.junctions, func(j *Junction) (int32, *Junction) {
		return j.id, j
	})
	if len(m.data) != len(m.junctions) {
		log.Panicf("duplicate junction id in %d junctions", len(m.junctions))
	}
	for _, j := range m.junctions {
		j.RestartIntersection()
	}
	log.Infof("init %d junctions from %d intersections", len(m.junctions), len(defs))
}

// Get 根据ID获取Junction实例，不存在时panic
func (m *JunctionManager) Get(id int32) *Junction {
	if junction, ok := m.data[id]; !ok {
		log.Panicf("no id %d in junction data", id)
		return nil
	} else {
		return junction
	}
}

// GetOrError 根据ID获取Junction实例（带错误处理）
// 参数：id-Junction的唯一标识符
// 返回：Junction实例和错误信息，如果不存在则返回nil和错误
func (m *JunctionManager) GetOrError(id int32) (*Junction, error) {
	if junction, ok := m.data[id]; !ok {
		return nil, fmt.Errorf("no id %d in junction data", id)
	} else {
		return junction, nil
	}
}

// Junctions 获取全部路口（按输入顺序）
func (m *JunctionManager) Junctions() []*Junction {
	return m.junctions
}

// Prepare 准备阶段
// 功能：应用缓冲的外部请求，重启请求先于相位跳转执行
func (m *JunctionManager) Prepare() {
	m.bufferMtx.Lock()
	defer m.bufferMtx.Unlock()
	for _, id := range m.restartBuffer {
		j := m.data[id]
		j.pending = nil
		j.resetStall()
		j.RestartIntersection()
	}
	for _, s := range m.periodBuffer {
		if err := m.data[s.id].requestPeriod(s.index, s.remaining); err != nil {
			log.Errorf("set period failed: %v", err)
		}
	}
	m.restartBuffer = m.restartBuffer[:0]
	m.periodBuffer = m.periodBuffer[:0]
}

// Update 更新阶段，执行所有路口的相位状态机
// 参数：dt-时间步长
// 说明：每个路口只修改自己的车道与随机数引擎，可以并行执行
func (m *JunctionManager) Update(dt float64) {
	parallel.GoFor(m.junctions, func(j *Junction) { j.update(dt) })
}
