package entity

import (
	"github.com/tsinghua-fib-lab/masstraffic-sim/clock"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/randengine"
)

// ITaskContext 仿真任务上下文
// 说明：由task.Context实现，车道、车辆、障碍物、路口、密度各模块通过它访问时钟、配置与其他管理器
type ITaskContext interface {
	Clock() *clock.Clock
	RuntimeConfig() *config.RuntimeConfig
	Rand() *randengine.Engine
	VehicleManager() IVehicleManager
	ObstacleManager() IObstacleManager
	PedestrianSource() IPedestrianSource
}
