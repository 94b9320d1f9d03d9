package telemetry

// VehicleRecord 车辆采样记录
type VehicleRecord struct {
	Step     int32   `csv:"step"`
	ID       int32   `csv:"id"`
	Lane     int32   `csv:"lane"`
	Distance float64 `csv:"distance"` // 车道上的距离（厘米）
	Speed    float64 `csv:"speed"`    // 速度（厘米/秒）
	Target   float64 `csv:"target"`   // 目标速度（厘米/秒）
	Throttle float64 `csv:"throttle"`
	Brake    float64 `csv:"brake"`
	Steering float64 `csv:"steering"`
}

// LaneRecord 车道采样记录
type LaneRecord struct {
	Step       int32   `csv:"step"`
	Lane       int32   `csv:"lane"`
	Vehicles   int32   `csv:"vehicles"`
	Space      float64 `csv:"space"`
	Basic      float64 `csv:"basic"`
	Functional float64 `csv:"functional"`
	Downstream float64 `csv:"downstream"`
	Open       bool    `csv:"open"`
}

// IntersectionRecord 路口采样记录
type IntersectionRecord struct {
	Step      int32   `csv:"step"`
	Junction  int32   `csv:"junction"`
	Period    int     `csv:"period"`
	Remaining float64 `csv:"remaining"` // 当前时段剩余时间（秒）
	Stall     int32   `csv:"stall"`     // 连续未能推进时段的帧数
}
