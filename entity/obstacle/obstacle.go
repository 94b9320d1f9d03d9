package obstacle

import (
	"fmt"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/input"
)

// Obstacle 需要车辆避让的障碍物
// 说明：vehicle非空时障碍物本身是一辆仿真车辆，不会被登记为自己的避让对象
type Obstacle struct {
	id       entity.ObstacleID
	position geometry.Point
	velocity geometry.Point
	radius   float64
	tags     []string
	vehicle  entity.VehicleHandle
}

// AddRequest 障碍物添加请求
type AddRequest struct {
	ID       entity.ObstacleID
	Position geometry.Point
	Velocity geometry.Point
	Radius   float64
	Tags     []string
	Vehicle  entity.VehicleHandle
}

// FromInput 由输入数据构造添加请求
func FromInput(base input.Obstacle) AddRequest {
	return AddRequest{
		ID:       entity.ObstacleID(base.ID),
		Position: base.Position.ToGeometry(),
		Velocity: base.Velocity.ToGeometry(),
		Radius:   base.Radius,
		Tags:     base.Tags,
	}
}

func newObstacle(req AddRequest) *Obstacle {
	return &Obstacle{
		id:       req.ID,
		position: req.Position,
		velocity: req.Velocity,
		radius:   req.Radius,
		tags:     req.Tags,
		vehicle:  req.Vehicle,
	}
}

func (o *Obstacle) String() string {
	return fmt.Sprintf("Obstacle-%d", o.id)
}

func (o *Obstacle) ID() entity.ObstacleID {
	return o.id
}

func (o *Obstacle) Position() geometry.Point {
	return o.position
}

func (o *Obstacle) Velocity() geometry.Point {
	return o.velocity
}

func (o *Obstacle) Radius() float64 {
	return o.radius
}

func (o *Obstacle) Tags() []string {
	return o.tags
}

// Vehicle 障碍物对应的仿真车辆，不是车辆时为空句柄
func (o *Obstacle) Vehicle() entity.VehicleHandle {
	return o.vehicle
}

func (o *Obstacle) state() entity.ObstacleState {
	return entity.ObstacleState{Position: o.position, Velocity: o.velocity, Radius: o.radius}
}
