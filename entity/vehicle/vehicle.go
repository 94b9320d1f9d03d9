package vehicle

import (
	"fmt"

	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils"
)

// NextLanePreference 选择下一车道的偏好
type NextLanePreference int

const (
	NextLaneAny       NextLanePreference = iota // 任意车道
	NextLaneKeep      // 保持当前选择
	NextLaneDifferent // 换一条车道
)

// SpawnRequest 车辆生成请求
// 说明：Speed小于0时在链接完成后按目标速度初始化
type SpawnRequest struct {
	Lane             int32
	Distance         float64
	Radius           float64
	HalfWidth        float64
	HalfLength       float64
	Speed            float64
	TrunkOnly        bool
	ExternallyDriven bool
}

// Vehicle 车辆实体
// 功能：存储车辆在车道上的位置、前车链接、避障结果、控制状态与变道状态
// 说明：只有Update阶段串行修改链接与车道计数；UpdateDistances阶段并行执行，每辆车只写自己的避障字段
type Vehicle struct {
	handle entity.VehicleHandle

	// 车道位置
	lane     *lane.Lane
	prevLane *lane.Lane
	distance float64 // 车道上的距离

	// 尺寸
	radius     float64
	halfWidth  float64
	halfLength float64

	// 世界坐标
	position  geometry.Point
	direction float64        // 朝向角
	velocity  geometry.Point // 速度向量
	speed     float64

	trunkOnly        bool
	externallyDriven bool

	randomFraction float64 // 固定随机系数，决定车辆偏快或偏慢
	spaceTaken     float64 // 在车道上占用的空间，生成时确定
	noiseInput     float64 // 噪声输入，随行驶距离单调递增

	// 前车
	next                   entity.VehicleHandle
	laneChangeNext         []entity.VehicleHandle // 变道产生的额外前车
	splittingLaneGhostNext entity.VehicleHandle
	mergingLaneGhostNext   entity.VehicleHandle
	distanceToNext         float64
	timeToCollision        float64
	distanceToCollision    float64
	isInitialSpeedPending  bool

	// 控制
	nextLane             *lane.Lane
	preference           NextLanePreference
	cantStop             bool
	brakeLightHysteresis float64
	lateralOffset        float64
	targetSpeed          float64
	speedPID             PIDController
	steeringPID          PIDController
	control              entity.ControlOutput

	// 车灯
	leftSignal  bool
	rightSignal bool
	brakeLights bool

	lc laneChange
}

func newVehicle(l *lane.Lane, req SpawnRequest, randomFraction float64) *Vehicle {
	v := &Vehicle{
		lane:                  l,
		distance:              req.Distance,
		radius:                req.Radius,
		halfWidth:             req.HalfWidth,
		halfLength:            req.HalfLength,
		speed:                 req.Speed,
		trunkOnly:             req.TrunkOnly,
		externallyDriven:      req.ExternallyDriven,
		randomFraction:        randomFraction,
		noiseInput:            randomFraction * 10000,
		laneChangeNext:        make([]entity.VehicleHandle, 0),
		distanceToNext:        mathutil.INF,
		timeToCollision:       mathutil.INF,
		distanceToCollision:   mathutil.INF,
		isInitialSpeedPending: req.Speed < 0,
		preference:            NextLaneAny,
	}
	if v.halfWidth <= 0 {
		v.halfWidth = v.radius / 2
	}
	if v.halfLength <= 0 {
		v.halfLength = v.radius
	}
	if v.speed < 0 {
		v.speed = 0
	}
	v.lc.otherBehind = make([]entity.VehicleHandle, 0)
	return v
}

func (v *Vehicle) String() string {
	return fmt.Sprintf("Vehicle(%v, lane=%v, s=%.1f)", v.handle, v.lane, v.distance)
}

// Handle 车辆句柄
func (v *Vehicle) Handle() entity.VehicleHandle {
	return v.handle
}

// Lane 当前车道
func (v *Vehicle) Lane() *lane.Lane {
	return v.lane
}

// NextLane 选择的下一车道
func (v *Vehicle) NextLane() *lane.Lane {
	return v.nextLane
}

// Distance 车道上的距离
func (v *Vehicle) Distance() float64 {
	return v.distance
}

// Speed 速度
func (v *Vehicle) Speed() float64 {
	return v.speed
}

// TargetSpeed 本帧目标速度
func (v *Vehicle) TargetSpeed() float64 {
	return v.targetSpeed
}

// Position 世界坐标
func (v *Vehicle) Position() geometry.Point {
	return v.position
}

// Direction 朝向角
func (v *Vehicle) Direction() float64 {
	return v.direction
}

// Radius 半径
func (v *Vehicle) Radius() float64 {
	return v.radius
}

// Next 前车
func (v *Vehicle) Next() entity.VehicleHandle {
	return v.next
}

// LaneChangeNext 变道产生的额外前车
func (v *Vehicle) LaneChangeNext() []entity.VehicleHandle {
	return v.laneChangeNext
}

// DistanceToNext 到最近前车的距离
func (v *Vehicle) DistanceToNext() float64 {
	return v.distanceToNext
}

// TimeToCollision 到最近障碍物的碰撞时间
func (v *Vehicle) TimeToCollision() float64 {
	return v.timeToCollision
}

// DistanceToCollision 到碰撞时间最小的障碍物的距离
func (v *Vehicle) DistanceToCollision() float64 {
	return v.distanceToCollision
}

// CantStop 是否已无法在车道出口停下
func (v *Vehicle) CantStop() bool {
	return v.cantStop
}

// Control 本帧控制输出
func (v *Vehicle) Control() entity.ControlOutput {
	return v.control
}

// IsChangingLanes 是否正在变道
func (v *Vehicle) IsChangingLanes() bool {
	return v.lc.inProgress
}

// IsExternallyDriven 是否由外部运动模块驱动
func (v *Vehicle) IsExternallyDriven() bool {
	return v.externallyDriven
}

// Signals 左转灯、右转灯与刹车灯
func (v *Vehicle) Signals() (left, right, brake bool) {
	return v.leftSignal, v.rightSignal, v.brakeLights
}

func (v *Vehicle) forward() geometry.Point {
	return utils.UnitFromAngle(v.direction)
}

func (v *Vehicle) setTurnSignals(left, right bool) {
	v.leftSignal, v.rightSignal = left, right
}

// updatePositionFromLane 按车道与距离重新计算坐标与朝向，叠加横向偏移与变道偏移
func (v *Vehicle) updatePositionFromLane() {
	if v.lane == nil {
		return
	}
	s := v.distance
	if v.lc.inProgress {
		v.position, v.direction = v.laneChangeTransform()
	} else {
		v.position = v.lane.GetOffsetPositionByS(s, v.lateralOffset)
		v.direction = v.lane.GetDirectionByS(s)
	}
	v.velocity = v.forward().Scale(v.speed)
}
