package task

import (
	"fmt"
	"sync/atomic"

	"github.com/tsinghua-fib-lab/masstraffic-sim/clock"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/density"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/junction"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/obstacle"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/vehicle"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/input"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/randengine"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/telemetry"
)

// 全局随机数引擎的种子
const randSeed = 0x7461736b

// Context 仿真任务上下文
// 功能：包含一次仿真任务的所有变量和状态
// 说明：管理仿真系统的所有组件，包括时钟、管理器、配置、输出等，实现entity.ITaskContext
type Context struct {
	// 关闭指令
	closed atomic.Bool

	// 时钟
	clock *clock.Clock
	// 全局随机数引擎，只在串行阶段使用
	rand *randengine.Engine

	// 运行时配置
	runtimeConfig *config.RuntimeConfig
	// 等待在帧边界生效的配置
	pendingConfig atomic.Pointer[config.RuntimeConfig]

	// Lane管理器
	laneManager *lane.LaneManager
	// Vehicle管理器
	vehicleManager *vehicle.VehicleManager
	// 障碍物索引
	obstacleManager *obstacle.ObstacleManager
	// Junction管理器
	junctionManager *junction.JunctionManager
	// 密度管理器
	densityManager *density.DensityManager
	// 人行横道的行人需求
	pedestrians *junction.StaticPedestrianSource

	// CSV输出，nil表示不输出
	output *telemetry.OutputManager

	// 用于初始化的输入
	initRes *input.Input
}

// NewContext 创建新的仿真任务上下文
// 功能：初始化仿真系统的所有组件和配置
// 参数：c-配置，in-已加载的输入数据
// 返回：Context实例；输出目录无法创建时返回错误
// 算法说明：
// 1. 创建时钟、运行时配置与全局随机数引擎
// 2. 创建CSV输出（output.dir为空时不输出）
// 3. 创建各管理器（车道、车辆、障碍物、路口、密度），此时尚未加载数据，由Init完成
func NewContext(c config.Config, in *input.Input) (*Context, error) {
	ctx := &Context{
		clock:         clock.New(c.Control.Step),
		runtimeConfig: config.NewRuntimeConfig(c),
		rand:          randengine.New(randSeed, c.Control.Seed),
		initRes:       in,
	}
	output, err := telemetry.NewOutputManager(c.Output.Dir)
	if err != nil {
		return nil, fmt.Errorf("init output failed: %w", err)
	}
	ctx.output = output

	ctx.pedestrians = junction.NewStaticPedestrianSource(in.Pedestrians)
	ctx.laneManager = lane.NewManager(ctx)
	ctx.vehicleManager = vehicle.NewManager(ctx, ctx.laneManager)
	ctx.obstacleManager = obstacle.NewManager(ctx, ctx.laneManager)
	ctx.junctionManager = junction.NewManager(ctx)
	ctx.densityManager = density.NewManager(ctx, ctx.laneManager)
	return ctx, nil
}

func (ctx *Context) GetInput() *input.Input {
	return ctx.initRes
}

func (ctx *Context) Clock() *clock.Clock {
	return ctx.clock
}

func (ctx *Context) RuntimeConfig() *config.RuntimeConfig {
	return ctx.runtimeConfig
}

func (ctx *Context) Rand() *randengine.Engine {
	return ctx.rand
}

func (ctx *Context) VehicleManager() entity.IVehicleManager {
	if ctx.vehicleManager == nil {
		return nil
	}
	return ctx.vehicleManager
}

func (ctx *Context) ObstacleManager() entity.IObstacleManager {
	if ctx.obstacleManager == nil {
		return nil
	}
	return ctx.obstacleManager
}

func (ctx *Context) PedestrianSource() entity.IPedestrianSource {
	if ctx.pedestrians == nil {
		return nil
	}
	return ctx.pedestrians
}

func (ctx *Context) LaneManager() *lane.LaneManager {
	return ctx.laneManager
}

func (ctx *Context) Vehicles() *vehicle.VehicleManager {
	return ctx.vehicleManager
}

func (ctx *Context) Obstacles() *obstacle.ObstacleManager {
	return ctx.obstacleManager
}

func (ctx *Context) JunctionManager() *junction.JunctionManager {
	return ctx.junctionManager
}

func (ctx *Context) DensityManager() *density.DensityManager {
	return ctx.densityManager
}

func (ctx *Context) Pedestrians() *junction.StaticPedestrianSource {
	return ctx.pedestrians
}

// ReplaceConfig 替换运行时配置，在下一帧开始时生效
// 说明：可以从其他协程调用；同一帧内多次调用时只有最后一次生效
func (ctx *Context) ReplaceConfig(c config.Config) error {
	if err := c.Validate(); err != nil {
		return err
	}
	ctx.pendingConfig.Store(config.NewRuntimeConfig(c))
	return nil
}

// applyPendingConfig 在帧边界应用等待中的配置
func (ctx *Context) applyPendingConfig() {
	rc := ctx.pendingConfig.Swap(nil)
	if rc == nil {
		return
	}
	if rc.C.Step.Interval != ctx.runtimeConfig.C.Step.Interval {
		ctx.clock.SetDT(rc.C.Step.Interval)
	}
	ctx.runtimeConfig = rc
	log.Infof("step %d: runtime config replaced", ctx.clock.InternalStep)
}

// Init 加载全部输入数据
// 算法说明：
// 1. 先完成车道图的构建，路口与车辆都依赖车道
// 2. 构建路口控制器，并使全部路口内车道处于关闭状态
// 3. 生成初始车辆并建立车辆链，再登记障碍物
func (ctx *Context) Init() {
	ctx.clock.Init()

	n := ctx.initRes.Network
	log.Infof("Lane: %v", len(n.Lanes))
	log.Infof("Intersection: %v", len(n.Intersections))
	log.Infof("Vehicle: %v", len(n.Vehicles))
	log.Infof("Obstacle: %v", len(n.Obstacles))

	ctx.laneManager.Init(n.Lanes)
	ctx.junctionManager.Init(n.Intersections, ctx.laneManager)
	ctx.vehicleManager.Init(n.Vehicles)
	ctx.obstacleManager.Init(n.Obstacles)
}

// Close 关闭任务，释放输出文件
func (ctx *Context) Close() {
	if ctx.closed.Swap(true) {
		return
	}
	if err := ctx.output.Close(); err != nil {
		log.Errorf("close output failed: %v", err)
	}
}
