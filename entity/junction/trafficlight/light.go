package trafficlight

import (
	"fmt"
	"strings"

	"git.fiblab.net/general/common/v2/geometry"
)

// Flags 信号灯显示状态位
type Flags uint8

const (
	None                  Flags = 0
	VehicleGo             Flags = 1  // 机动车绿灯
	VehiclePrepareToStop  Flags = 2  // 机动车黄灯
	PedestrianGoFrontSide Flags = 4  // 正前方人行横道通行
	PedestrianGoLeftSide  Flags = 8  // 左侧人行横道通行
	PedestrianGoRightSide Flags = 16 // 右侧人行横道通行

	PedestrianGo = PedestrianGoFrontSide | PedestrianGoLeftSide | PedestrianGoRightSide
)

// Has 是否包含任一给定状态位
func (f Flags) Has(x Flags) bool {
	return f&x != None
}

// VehicleState 机动车信号灯颜色
func (f Flags) VehicleState() string {
	switch {
	case f.Has(VehicleGo):
		return "green"
	case f.Has(VehiclePrepareToStop):
		return "yellow"
	default:
		return "red"
	}
}

func (f Flags) String() string {
	if f == None {
		return "none"
	}
	parts := make([]string, 0, 5)
	for _, p := range []struct {
		flag Flags
		name string
	}{
		{VehicleGo, "vehicle_go"},
		{VehiclePrepareToStop, "vehicle_prepare_to_stop"},
		{PedestrianGoFrontSide, "pedestrian_front"},
		{PedestrianGoLeftSide, "pedestrian_left"},
		{PedestrianGoRightSide, "pedestrian_right"},
	} {
		if f.Has(p.flag) {
			parts = append(parts, p.name)
		}
	}
	return strings.Join(parts, "|")
}

// TrafficLight 路口一个进口方向的信号灯
// 说明：只用于展示，路口的放行逻辑由车道开闭状态决定
type TrafficLight struct {
	Position  geometry.Point // 所控制进口方向的中点
	ZRotation float64        // 朝向（弧度）
	TypeIndex int32          // 样式编号，取该方向驶入道路的车道数
	Flags     Flags          // 当前显示状态
}

func (t TrafficLight) String() string {
	return fmt.Sprintf("TrafficLight(%v,%v)", t.TypeIndex, t.Flags)
}

// Control 一个相位对一个信号灯的控制
type Control struct {
	Valid bool
	// 该信号灯控制的全部车道都在下一相位关闭时，相位末尾显示黄灯
	WillAllVehicleLanesCloseInNextPeriod bool
	Flags                                Flags
}

// NewControl 创建相位对信号灯的控制
func NewControl(flags Flags) Control {
	return Control{Valid: true, WillAllVehicleLanesCloseInNextPeriod: true, Flags: flags}
}

// DisplayFlags 计算信号灯当前应显示的状态
// 参数：duration-相位总时长，remaining-相位剩余时间，prepareToStopSeconds-黄灯时长
// 算法说明：
// 1. 控制状态不含机动车绿灯时原样显示
// 2. 相位即将结束（剩余时间小于黄灯时长，相位过短时取一半时长）且所控车道全部将关闭时，绿灯改为黄灯
// 3. 剩余时间耗尽后黄灯也熄灭
func (c Control) DisplayFlags(duration, remaining, prepareToStopSeconds float64) Flags {
	flags := c.Flags
	if !flags.Has(VehicleGo) {
		return flags
	}
	var aboutToEnd bool
	if duration < 2*prepareToStopSeconds {
		aboutToEnd = remaining < duration/2
	} else {
		aboutToEnd = remaining < prepareToStopSeconds
	}
	if aboutToEnd && c.WillAllVehicleLanesCloseInNextPeriod {
		flags &^= VehicleGo
		if remaining > 0 {
			flags |= VehiclePrepareToStop
		}
	}
	return flags
}
