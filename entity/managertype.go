package entity

// Manager依赖倒置

// entity/vehicle/manager.go的依赖倒置
// 说明：障碍物索引与密度管理通过该接口访问车辆链与执行转移
type IVehicleManager interface {
	IVehicleChain

	Len() int                               // 存活车辆数
	Handles() []VehicleHandle               // 全部存活车辆句柄（按句柄下标排序）
	IsTrunkOnly(h VehicleHandle) bool       // 是否只能行驶在干道上
	IsChangingLanes(h VehicleHandle) bool   // 是否正在变道
	DistanceToNext(h VehicleHandle) float64 // 到最近前车的距离
	SpaceTaken(h VehicleHandle) float64     // 车辆在车道上占用的空间
	SetLanePosition(h VehicleHandle)        // 按车道与距离重新计算车辆坐标

	// 将车辆瞬移到另一条车道的指定位置
	// chosenBehind/chosenAhead：目标车道上插入位置后方/前方的车辆
	// currentBehind/currentAhead：当前车道上该车辆后方/前方的车辆
	Teleport(
		h VehicleHandle, laneID int32, distance float64,
		chosenBehind, chosenAhead, currentBehind, currentAhead VehicleHandle,
	) error
}

// entity/obstacle/manager.go的依赖倒置
type IObstacleManager interface {
	// 本帧需要避让的障碍物列表
	ObstaclesOf(h VehicleHandle) []ObstacleID
	// 查询障碍物状态
	State(id ObstacleID) (ObstacleState, bool)
}

// IPedestrianSource 行人需求来源
// 说明：行人仿真由外部协作方负责，路口只读取人行横道上的等待与通行人数
type IPedestrianSource interface {
	NumWaiting(laneID int32) int32 // 在人行横道等待区等待的人数
	NumOnLane(laneID int32) int32  // 正在人行横道上通行的人数
}
