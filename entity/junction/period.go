package junction

import (
	"fmt"
	"slices"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/junction/trafficlight"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
)

// Period 路口相位
// 说明：同一相位内的机动车道在构建时保证互不冲突
type Period struct {
	VehicleLanes                   []*lane.Lane
	VehicleLanesClosedInNextPeriod []int // VehicleLanes中下一相位不再开放的车道下标
	CrosswalkLanes                 []*lane.Lane
	CrosswalkWaitingLanes          []*lane.Lane
	TrafficLightControls           []trafficlight.Control // 按信号灯下标
	Duration                       float64
}

func newPeriod(duration float64) *Period {
	return &Period{
		VehicleLanes:                   make([]*lane.Lane, 0),
		VehicleLanesClosedInNextPeriod: make([]int, 0),
		CrosswalkLanes:                 make([]*lane.Lane, 0),
		CrosswalkWaitingLanes:          make([]*lane.Lane, 0),
		TrafficLightControls:           make([]trafficlight.Control, 0),
		Duration:                       duration,
	}
}

func (p *Period) String() string {
	return fmt.Sprintf("Period(vehicle=%d,crosswalk=%d,duration=%.1f)", len(p.VehicleLanes), len(p.CrosswalkLanes), p.Duration)
}

// AddTrafficLightControl 设置相位对信号灯的控制
// 说明：下标为负表示该方向没有信号灯，直接忽略
func (p *Period) AddTrafficLightControl(index int, flags trafficlight.Flags) error {
	if index < 0 {
		return nil
	}
	if len(p.TrafficLightControls) <= index {
		p.TrafficLightControls = append(p.TrafficLightControls, make([]trafficlight.Control, index+1-len(p.TrafficLightControls))...)
	}
	if p.TrafficLightControls[index].Valid {
		return fmt.Errorf("%w: traffic light %d", ErrTrafficLightControlExists, index)
	}
	p.TrafficLightControls[index] = trafficlight.NewControl(flags)
	return nil
}

// GetTrafficLightControl 获取相位对信号灯的控制，没有时返回nil
func (p *Period) GetTrafficLightControl(index int) *trafficlight.Control {
	if index < 0 || index >= len(p.TrafficLightControls) || !p.TrafficLightControls[index].Valid {
		return nil
	}
	return &p.TrafficLightControls[index]
}

// VehicleLaneClosesInNextPeriod 相位内的车道是否在下一相位关闭
func (p *Period) VehicleLaneClosesInNextPeriod(l *lane.Lane) bool {
	i := slices.Index(p.VehicleLanes, l)
	if i < 0 {
		log.Errorf("%v is not a vehicle lane of %v", l, p)
		return false
	}
	return slices.Contains(p.VehicleLanesClosedInNextPeriod, i)
}

// Lanes 按查询范围返回相位车道
func (p *Period) Lanes(kind VehicleLaneKind) []*lane.Lane {
	if kind == AllVehicleLanes {
		return p.VehicleLanes
	}
	return lo.FilterMap(p.VehicleLanesClosedInNextPeriod, func(i int, _ int) (*lane.Lane, bool) {
		if i >= len(p.VehicleLanes) {
			return nil, false
		}
		return p.VehicleLanes[i], true
	})
}

// IsPedestrianOnly 只放行行人的相位
func (p *Period) IsPedestrianOnly() bool {
	return len(p.VehicleLanes) == 0 && (len(p.CrosswalkLanes) > 0 || len(p.CrosswalkWaitingLanes) > 0)
}

// appendVehicleLanes 追加机动车道，忽略已有车道
func (p *Period) appendVehicleLanes(lanes ...[]*lane.Lane) {
	for _, ls := range lanes {
		for _, l := range ls {
			if !slices.Contains(p.VehicleLanes, l) {
				p.VehicleLanes = append(p.VehicleLanes, l)
			}
		}
	}
}

// appendCrosswalks 追加人行横道与等待区，忽略已有车道
func (p *Period) appendCrosswalks(crosswalks, waiting []*lane.Lane) {
	for _, l := range crosswalks {
		if !slices.Contains(p.CrosswalkLanes, l) {
			p.CrosswalkLanes = append(p.CrosswalkLanes, l)
		}
	}
	for _, l := range waiting {
		if !slices.Contains(p.CrosswalkWaitingLanes, l) {
			p.CrosswalkWaitingLanes = append(p.CrosswalkWaitingLanes, l)
		}
	}
}
