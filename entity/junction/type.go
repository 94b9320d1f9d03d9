package junction

import "errors"

var (
	ErrNoPeriodTemplate          = errors.New("no period template matches the intersection")
	ErrTrafficLightControlExists = errors.New("period already controls the traffic light")
	ErrInvalidPeriod             = errors.New("invalid period index")
	ErrNoControlNeeded           = errors.New("intersection needs no control")
)

// LanesAction 对当前相位车道执行的开闭动作
type LanesAction int

const (
	LanesActionNone               LanesAction = iota // 不做任何操作
	LanesActionOpen               // 开放
	LanesActionHardClose          // 全部关闭
	LanesActionSoftClose          // 只关闭下一相位不再开放的车道
	LanesActionHardPrepareToClose // 全部标记为即将关闭
	LanesActionSoftPrepareToClose // 只标记下一相位不再开放的车道
)

func (a LanesAction) String() string {
	switch a {
	case LanesActionNone:
		return "None"
	case LanesActionOpen:
		return "Open"
	case LanesActionHardClose:
		return "HardClose"
	case LanesActionSoftClose:
		return "SoftClose"
	case LanesActionHardPrepareToClose:
		return "HardPrepareToClose"
	case LanesActionSoftPrepareToClose:
		return "SoftPrepareToClose"
	default:
		return "Unknown"
	}
}

// VehicleLaneKind 相位车道的查询范围
type VehicleLaneKind int

const (
	AllVehicleLanes           VehicleLaneKind = iota // 相位的全部车道
	VehicleLanesClosingInNext // 下一相位不再开放的车道
)
