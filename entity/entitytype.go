package entity

import (
	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/container"
)

// VehicleHandle 车辆句柄，零值表示无车辆
type VehicleHandle = container.Handle

// ObstacleID 障碍物ID
type ObstacleID int32

// NoLane 车辆不在任何车道上
const NoLane int32 = -1

// IVehicleChain 车道车辆链的只读视图
// 功能：车道按tail->next链表遍历车辆时通过该接口读取车辆状态
type IVehicleChain interface {
	Valid(h VehicleHandle) bool                // 句柄是否指向存活车辆
	LaneOf(h VehicleHandle) int32              // 车辆当前所在车道ID，无效句柄返回NoLane
	NextOf(h VehicleHandle) VehicleHandle      // 车辆的前车
	DistanceAlongLane(h VehicleHandle) float64 // 车辆在车道上的距离
	Radius(h VehicleHandle) float64            // 车辆半径
	Position(h VehicleHandle) geometry.Point   // 车辆世界坐标
}

// ObstacleState 障碍物运动状态
type ObstacleState struct {
	Position geometry.Point
	Velocity geometry.Point
	Radius   float64
}

// ControlOutput 车辆控制输出，由外部运动模块消费
type ControlOutput struct {
	Throttle      float64
	Brake         float64
	Handbrake     bool
	Steering      float64
	ApplySteering bool
}
