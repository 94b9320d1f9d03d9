package junction

import (
	"fmt"
	"slices"

	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/junction/trafficlight"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/randengine"
)

// Junction 路口信号控制器
// 功能：按相位轮转开放路口内车道与人行横道，保证同一时刻开放的车道互不冲突
// 说明：相位在构建时生成，运行时只修改当前相位下标、剩余时间、车道开闭状态与信号灯显示
type Junction struct {
	ctx entity.ITaskContext

	id          int32
	sides       []*Side      // 按顺时针排序的进口方向
	hiddenSides []hiddenSide // 只有驶出车道的方向
	periods     []*Period

	currentPeriodIndex  int
	periodTimeRemaining float64

	hasTrafficLights bool
	trafficLights    []trafficlight.TrafficLight

	lastVehicleLanesAction    LanesAction
	lastPedestrianLanesAction LanesAction

	// 等待清空的帧数与时长
	stallCounter int32
	stallSeconds float64

	pending *periodRequest // 外部请求的相位跳转

	generator *randengine.Engine
}

type periodRequest struct {
	index     int
	remaining float64
}

func (j *Junction) String() string {
	return fmt.Sprintf("Junction(%d)", j.id)
}

// ID 获取路口ID，路口为nil时返回-1
func (j *Junction) ID() int32 {
	if j == nil {
		return -1
	}
	return j.id
}

func (j *Junction) Sides() []*Side               { return j.sides }
func (j *Junction) Periods() []*Period           { return j.periods }
func (j *Junction) CurrentPeriodIndex() int      { return j.currentPeriodIndex }
func (j *Junction) PeriodTimeRemaining() float64 { return j.periodTimeRemaining }
func (j *Junction) HasTrafficLights() bool       { return j.hasTrafficLights }
func (j *Junction) StallCounter() int32          { return j.stallCounter }
func (j *Junction) LastVehicleLanesAction() LanesAction {
	return j.lastVehicleLanesAction
}
func (j *Junction) LastPedestrianLanesAction() LanesAction {
	return j.lastPedestrianLanesAction
}

// TrafficLights 获取信号灯当前状态的副本
func (j *Junction) TrafficLights() []trafficlight.TrafficLight {
	return slices.Clone(j.trafficLights)
}

// PedestrianOnly 只控制人行横道的路口
func (j *Junction) PedestrianOnly() bool {
	return len(j.sides) == 0
}

// CurrentPeriod 获取当前相位，没有相位时返回nil
func (j *Junction) CurrentPeriod() *Period {
	if len(j.periods) == 0 {
		return nil
	}
	return j.periods[j.currentPeriodIndex]
}

func (j *Junction) prepareToStopSeconds() float64 {
	return j.ctx.RuntimeConfig().All.Intersection.StandardTrafficPrepareToStopSeconds
}

// ApplyLanesActionToCurrentPeriod 对当前相位的车道执行开闭动作
// 参数：vehicle-机动车道动作，pedestrian-人行横道动作，force-动作与上次相同时也执行
// 算法说明：
// 1. 机动车道只处理路口内车道；软关闭与软预关闭只作用于下一相位不再开放的车道
// 2. 人行横道与等待区没有软关闭，软关闭等同于关闭
// 3. 记录最后一次执行的动作，避免每帧重复写车道状态
func (j *Junction) ApplyLanesActionToCurrentPeriod(vehicle, pedestrian LanesAction, force bool) {
	p := j.CurrentPeriod()
	if p == nil {
		return
	}
	if (vehicle != j.lastVehicleLanesAction || force) && vehicle != LanesActionNone {
		for _, l := range p.VehicleLanes {
			if !l.IsIntersectionLane() {
				continue
			}
			switch vehicle {
			case LanesActionOpen:
				l.IsOpen = true
				l.IsAboutToClose = false
			case LanesActionHardClose:
				l.IsOpen = false
				l.IsAboutToClose = false
			case LanesActionSoftClose:
				l.IsOpen = !p.VehicleLaneClosesInNextPeriod(l)
				l.IsAboutToClose = false
			case LanesActionHardPrepareToClose:
				l.IsAboutToClose = true
			case LanesActionSoftPrepareToClose:
				l.IsAboutToClose = p.VehicleLaneClosesInNextPeriod(l)
			}
		}
		j.lastVehicleLanesAction = vehicle
	}
	if (pedestrian != j.lastPedestrianLanesAction || force) && pedestrian != LanesActionNone {
		var open bool
		switch pedestrian {
		case LanesActionOpen:
			open = true
		case LanesActionHardClose, LanesActionSoftClose:
			open = false
		default:
			j.lastPedestrianLanesAction = pedestrian
			return
		}
		for _, l := range p.CrosswalkLanes {
			l.IsOpen = open
		}
		for _, l := range p.CrosswalkWaitingLanes {
			l.IsOpen = open
		}
		j.lastPedestrianLanesAction = pedestrian
	}
}

// UpdateTrafficLightsForCurrentPeriod 按当前相位与剩余时间刷新信号灯显示
func (j *Junction) UpdateTrafficLightsForCurrentPeriod() {
	if !j.hasTrafficLights {
		return
	}
	p := j.CurrentPeriod()
	if p == nil {
		return
	}
	prepare := j.prepareToStopSeconds()
	for i := range j.trafficLights {
		control := p.GetTrafficLightControl(i)
		if control == nil {
			continue
		}
		j.trafficLights[i].Flags = control.DisplayFlags(p.Duration, j.periodTimeRemaining, prepare)
	}
}

// AdvancePeriod 切换到下一相位（循环）
// 说明：只重置机动车道的上次动作，人行横道动作保留，保证关闭后的人行横道不会被重复关闭
func (j *Junction) AdvancePeriod() {
	if len(j.periods) == 0 {
		return
	}
	j.currentPeriodIndex = (j.currentPeriodIndex + 1) % len(j.periods)
	j.lastVehicleLanesAction = LanesActionNone
}

// AddTimeRemainingToCurrentPeriod 为当前相位加上一个完整时长
func (j *Junction) AddTimeRemainingToCurrentPeriod() {
	if p := j.CurrentPeriod(); p != nil {
		j.periodTimeRemaining += p.Duration
	}
}

// PedestrianLightsShowStop 所有信号灯的行人灯显示禁止通行
func (j *Junction) PedestrianLightsShowStop() {
	for i := range j.trafficLights {
		j.trafficLights[i].Flags &^= trafficlight.PedestrianGo
	}
}

// RestartIntersection 关闭全部相位的车道后从当前相位重新开始
// 说明：剩余时间置为1秒，随后由逐帧更新完成关闭、清空与开放
func (j *Junction) RestartIntersection() {
	j.PedestrianLightsShowStop()
	saved := j.currentPeriodIndex
	j.currentPeriodIndex = 0
	for range j.periods {
		j.ApplyLanesActionToCurrentPeriod(LanesActionHardClose, LanesActionHardClose, true)
		j.AdvancePeriod()
	}
	j.currentPeriodIndex = saved
	j.periodTimeRemaining = 1
}

// Finalize 计算每个相位中下一相位不再开放的车道，以及各信号灯是否需要显示黄灯
// 参数：laneToLight-车道到控制它的信号灯下标
// 算法说明：车道在下一相位继续开放时，控制它的信号灯在本相位末尾不显示黄灯；
// 否则记录到本相位的VehicleLanesClosedInNextPeriod
func (j *Junction) Finalize(laneToLight map[*lane.Lane]int) {
	n := len(j.periods)
	for pi, p := range j.periods {
		next := j.periods[(pi+1)%n]
		p.VehicleLanesClosedInNextPeriod = p.VehicleLanesClosedInNextPeriod[:0]
		for i, l := range p.VehicleLanes {
			if slices.Contains(next.VehicleLanes, l) {
				light, ok := laneToLight[l]
				if !ok {
					continue
				}
				if control := p.GetTrafficLightControl(light); control != nil {
					control.WillAllVehicleLanesCloseInNextPeriod = false
				}
			} else {
				p.VehicleLanesClosedInNextPeriod = append(p.VehicleLanesClosedInNextPeriod, i)
			}
		}
	}
}

// AreVehiclesClearOfIntersection 当前相位的车道上是否没有车辆
// 参数：kind-检查的车道范围，includeReserved-是否把必将驶入的车辆也计入
func (j *Junction) AreVehiclesClearOfIntersection(kind VehicleLaneKind, includeReserved bool) bool {
	p := j.CurrentPeriod()
	if p == nil {
		return true
	}
	for _, l := range p.Lanes(kind) {
		if l.NumVehiclesOnLane > 0 {
			return false
		}
		if includeReserved && l.NumReservedVehiclesOnLane > 0 {
			return false
		}
	}
	return true
}

// ArePedestriansClearOfIntersection 当前相位的人行横道上是否没有行人
func (j *Junction) ArePedestriansClearOfIntersection() bool {
	p := j.CurrentPeriod()
	source := j.ctx.PedestrianSource()
	if p == nil || source == nil {
		return true
	}
	for _, l := range p.CrosswalkLanes {
		if source.NumOnLane(l.ID()) > 0 {
			return false
		}
	}
	return true
}

// IsIntersectionClear 车辆与行人都已离开当前相位的车道
func (j *Junction) IsIntersectionClear(kind VehicleLaneKind) bool {
	return j.AreVehiclesClearOfIntersection(kind, true) && j.ArePedestriansClearOfIntersection()
}

// AreVehiclesWaiting 是否有车辆准备驶入当前相位的车道
func (j *Junction) AreVehiclesWaiting() bool {
	p := j.CurrentPeriod()
	if p == nil {
		return false
	}
	return slices.ContainsFunc(p.VehicleLanes, func(l *lane.Lane) bool {
		return l.IsVehicleReadyToUseLane
	})
}

// NumVehiclesInIntersection 当前相位车道上的车辆数（含必将驶入的车辆）
func (j *Junction) NumVehiclesInIntersection(kind VehicleLaneKind) int32 {
	p := j.CurrentPeriod()
	if p == nil {
		return 0
	}
	var n int32
	for _, l := range p.Lanes(kind) {
		n += l.NumVehiclesOnLane + l.NumReservedVehiclesOnLane
	}
	return n
}

// NumPedestriansWaiting 当前相位人行横道等待区的等待人数
func (j *Junction) NumPedestriansWaiting() int32 {
	p := j.CurrentPeriod()
	source := j.ctx.PedestrianSource()
	if p == nil || source == nil {
		return 0
	}
	var n int32
	for _, l := range p.CrosswalkWaitingLanes {
		n += source.NumWaiting(l.ID())
	}
	return n
}

// IsStoppedVehicleBlockingCrosswalk 是否有停下的车辆压住人行横道
// 参数：clear-是否同时清除车道上的标记
// 说明：不清除时找到第一个即返回
func (j *Junction) IsStoppedVehicleBlockingCrosswalk(clear bool) bool {
	blocking := false
	for _, p := range j.periods {
		for _, l := range p.VehicleLanes {
			if !l.IsStoppedVehicleInPreviousLaneOverlappingThisLane {
				continue
			}
			blocking = true
			if !clear {
				return true
			}
			l.IsStoppedVehicleInPreviousLaneOverlappingThisLane = false
		}
	}
	return blocking
}

// CloseLaneAndAllItsSplitLanes 关闭车道以及与它从同一前驱分出的车道
func CloseLaneAndAllItsSplitLanes(l *lane.Lane) {
	l.IsOpen = false
	for _, split := range l.SplittingLanes() {
		split.IsOpen = false
	}
}

// requestPeriod 请求跳转到指定相位
// 说明：立即硬关闭当前相位，等当前相位的车道全部清空后再由逐帧更新完成跳转
func (j *Junction) requestPeriod(index int, remaining float64) error {
	if index < 0 || index >= len(j.periods) {
		return fmt.Errorf("%w: %d of %d periods in junction %d", ErrInvalidPeriod, index, len(j.periods), j.id)
	}
	if remaining < 0 {
		return fmt.Errorf("%w: negative remaining time %v", ErrInvalidPeriod, remaining)
	}
	j.ApplyLanesActionToCurrentPeriod(LanesActionHardClose, LanesActionHardClose, true)
	j.UpdateTrafficLightsForCurrentPeriod()
	j.PedestrianLightsShowStop()
	j.pending = &periodRequest{index: index, remaining: remaining}
	return nil
}
