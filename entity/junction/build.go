package junction

import (
	"fmt"
	"slices"

	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/junction/trafficlight"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/input"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/randengine"
)

// builder 构建路口相位的临时状态
type builder struct {
	j           *Junction
	laneToLight map[*lane.Lane]int // 车道到控制它的信号灯下标

	hiddenCrosswalks        []*lane.Lane
	hiddenCrosswalksWaiting []*lane.Lane
}

// Build 根据路口输入数据构建路口控制器
// 功能：计算进口方向几何，创建信号灯，按路口拓扑选择相位模板生成相位，并随机选择起始相位与剩余时间
// 参数：ctx-任务上下文，def-路口输入数据，laneManager-车道管理器
// 返回：路口控制器；不需要控制的路口返回ErrNoControlNeeded，没有匹配的相位模板返回ErrNoPeriodTemplate
// 算法说明：
// 1. 进口方向按驶入车道的起点与起始方向求平均，按顺时针排序
// 2. 车道终点不对应任何已知进口方向时，该终点属于隐藏方向
// 3. 不超过两个进口方向、没有隐藏方向且没有人行横道的路口不需要控制
// 4. 相位模板：两向路口、方形信号灯四向路口、一般信号灯路口、停车让行路口
func Build(ctx entity.ITaskContext, def input.Intersection, laneManager *lane.LaneManager) (*Junction, error) {
	seed := ctx.RuntimeConfig().C.Seed
	j := &Junction{
		ctx:           ctx,
		id:            def.ID,
		sides:         make([]*Side, 0, len(def.Sides)),
		periods:       make([]*Period, 0),
		trafficLights: make([]trafficlight.TrafficLight, 0),
		generator:     randengine.New(uint64(def.ID), seed),
	}
	b := &builder{
		j:                       j,
		laneToLight:             make(map[*lane.Lane]int),
		hiddenCrosswalks:        lanesOf(laneManager, def.HiddenCrosswalks),
		hiddenCrosswalksWaiting: lanesOf(laneManager, def.HiddenCrosswalksWaiting),
	}

	for i, sd := range def.Sides {
		s := &Side{
			Lanes:             lanesOf(laneManager, sd.Lanes),
			Crosswalks:        lanesOf(laneManager, sd.Crosswalks),
			CrosswalkWaiting:  lanesOf(laneManager, sd.CrosswalkWaiting),
			HasTrafficLight:   sd.HasTrafficLight,
			TrafficLightIndex: -1,
		}
		if len(s.Lanes) == 0 {
			// 没有驶入车道的方向无法确定几何，人行横道并入隐藏人行横道
			log.Warnf("side %d of junction %d has no lanes, its crosswalks are treated as hidden", i, def.ID)
			b.hiddenCrosswalks = appendUnique(b.hiddenCrosswalks, s.Crosswalks...)
			b.hiddenCrosswalksWaiting = appendUnique(b.hiddenCrosswalksWaiting, s.CrosswalkWaiting...)
			continue
		}
		s.computeGeometry()
		j.sides = append(j.sides, s)
	}
	sortSidesClockwise(j.sides)
	j.hiddenSides = findHiddenSides(j.sides)

	if !b.needsControl() {
		return nil, fmt.Errorf("%w: junction %d", ErrNoControlNeeded, def.ID)
	}

	// 信号灯
	for _, s := range j.sides {
		if !s.HasTrafficLight {
			continue
		}
		s.TrafficLightIndex = len(j.trafficLights)
		j.trafficLights = append(j.trafficLights, trafficlight.TrafficLight{
			Position:  s.Midpoint,
			ZRotation: s.Direction.Angle2D(),
			TypeIndex: int32(s.numLogicalLanes()),
		})
	}
	j.hasTrafficLights = len(j.trafficLights) > 0

	var err error
	switch {
	case len(j.sides) == 2 && len(j.hiddenSides) == 0:
		err = b.buildTwoSided()
	case len(j.sides) == 4 && j.hasTrafficLights && isMostlySquare(j.sides) &&
		len(j.hiddenSides) == 0 && !b.hasSideFromFreeway():
		err = b.buildFourWay()
	case j.hasTrafficLights:
		err = b.buildGeneral()
	default:
		err = b.buildStopSign()
	}
	if err != nil {
		return nil, err
	}
	if !lo.SomeBy(j.periods, func(p *Period) bool {
		return len(p.VehicleLanes) > 0 || len(p.CrosswalkLanes) > 0 || len(p.CrosswalkWaitingLanes) > 0
	}) {
		return nil, fmt.Errorf("%w: junction %d has %d sides, hidden sides %d, traffic lights %v, square %v, freeway %v",
			ErrNoPeriodTemplate, def.ID, len(j.sides), len(j.hiddenSides), j.hasTrafficLights,
			isMostlySquare(j.sides), b.hasSideFromFreeway())
	}

	j.Finalize(b.laneToLight)

	j.currentPeriodIndex = j.generator.Intn(len(j.periods))
	j.periodTimeRemaining = j.generator.Float64() * j.periods[j.currentPeriodIndex].Duration
	return j, nil
}

// needsControl 路口是否需要控制
// 说明：不超过两个进口方向且没有隐藏方向的路口相当于一段道路，没有人行横道时不需要控制
func (b *builder) needsControl() bool {
	j := b.j
	if len(j.sides) > 2 || len(j.hiddenSides) > 0 {
		return true
	}
	if lo.SomeBy(j.sides, func(s *Side) bool { return len(s.Crosswalks) > 0 }) {
		return true
	}
	return len(b.hiddenCrosswalks) > 0
}

func (b *builder) hasSideFromFreeway() bool {
	return lo.SomeBy(b.j.sides, func(s *Side) bool { return s.HasInboundLanesFromFreeway })
}

func (b *builder) addPeriod(duration float64) *Period {
	p := newPeriod(duration)
	b.j.periods = append(b.j.periods, p)
	return p
}

// addLightControls 为相位设置多个信号灯的控制
func (b *builder) addLightControls(p *Period, flags trafficlight.Flags, lights ...int) error {
	for _, light := range lights {
		if err := p.AddTrafficLightControl(light, flags); err != nil {
			return fmt.Errorf("junction %d: %w", b.j.id, err)
		}
	}
	return nil
}

// setLightForLanes 记录控制车道的信号灯
// 说明：同一车道不能由两个信号灯控制，冲突时保留原值并记录错误
func (b *builder) setLightForLanes(lanes []*lane.Lane, light int) {
	if light < 0 {
		return
	}
	for _, l := range lanes {
		if old, ok := b.laneToLight[l]; ok {
			if old != light {
				log.Errorf("%v of junction %d is already controlled by traffic light %d, new traffic light %d",
					l, b.j.id, old, light)
			}
			continue
		}
		b.laneToLight[l] = light
	}
}

func (b *builder) scaled(duration float64, freeway bool) float64 {
	if freeway {
		return duration * b.j.ctx.RuntimeConfig().All.Intersection.FreewayIncomingTrafficGoDurationScale
	}
	return duration
}

// buildTwoSided 两向路口：双向机动车相位加行人相位
func (b *builder) buildTwoSided() error {
	cfg := &b.j.ctx.RuntimeConfig().All.Intersection
	s0, s1 := b.j.sides[0], b.j.sides[1]

	p := b.addPeriod(b.scaled(cfg.StandardTrafficGoSeconds, s0.HasInboundLanesFromFreeway || s1.HasInboundLanesFromFreeway))
	p.appendVehicleLanes(s0.Lanes, s1.Lanes)
	if err := b.addLightControls(p, trafficlight.VehicleGo, s0.TrafficLightIndex, s1.TrafficLightIndex); err != nil {
		return err
	}
	b.setLightForLanes(s0.Lanes, s0.TrafficLightIndex)
	b.setLightForLanes(s1.Lanes, s1.TrafficLightIndex)

	p = b.addPeriod(cfg.StandardCrosswalkGoSeconds)
	p.appendCrosswalks(s0.Crosswalks, s0.CrosswalkWaiting)
	p.appendCrosswalks(s1.Crosswalks, s1.CrosswalkWaiting)
	return b.addLightControls(p, trafficlight.PedestrianGo, s0.TrafficLightIndex, s1.TrafficLightIndex)
}

// buildFourWay 方形信号灯四向路口
// 算法说明：进口方向顺时针排序，对每个方向S，S+1为左转方向，S+2为对向，S+3为右转方向，依次生成：
// 1. 行人相位：S与对向直行，左右两侧人行横道通行
// 2. S与对向的直行与右转
// 3. S的直行与右转
// 4. S的全部转向
func (b *builder) buildFourWay() error {
	cfg := &b.j.ctx.RuntimeConfig().All.Intersection
	sides := b.j.sides
	for s := 0; s < 4; s++ {
		left, opposite, right := (s+1)%4, (s+2)%4, (s+3)%4
		this := sides[s]
		thisLight := this.TrafficLightIndex
		leftLight := sides[left].TrafficLightIndex
		oppositeLight := sides[opposite].TrafficLightIndex
		rightLight := sides[right].TrafficLightIndex

		thisToOpposite := lanesConnectingSides(sides, s, opposite)
		oppositeToThis := lanesConnectingSides(sides, opposite, s)
		thisToOppositeAndRight := append(slices.Clone(thisToOpposite), lanesConnectingSides(sides, s, right)...)
		oppositeToThisAndLeft := append(slices.Clone(oppositeToThis), lanesConnectingSides(sides, opposite, left)...)
		thisToAllOther := append(slices.Clone(thisToOppositeAndRight), lanesConnectingSides(sides, s, left)...)

		p := b.addPeriod(cfg.StandardCrosswalkGoSeconds)
		p.appendVehicleLanes(thisToOpposite, oppositeToThis)
		p.appendCrosswalks(sides[left].Crosswalks, sides[left].CrosswalkWaiting)
		p.appendCrosswalks(sides[right].Crosswalks, sides[right].CrosswalkWaiting)
		if err := b.addLightControls(p, trafficlight.VehicleGo|trafficlight.PedestrianGoFrontSide, thisLight, oppositeLight); err != nil {
			return err
		}
		if err := b.addLightControls(p, trafficlight.PedestrianGoRightSide, leftLight, rightLight); err != nil {
			return err
		}
		b.setLightForLanes(thisToOpposite, thisLight)
		b.setLightForLanes(oppositeToThis, oppositeLight)

		p = b.addPeriod(cfg.FourWayBidirectionalStraightRightSeconds)
		p.appendVehicleLanes(thisToOppositeAndRight, oppositeToThisAndLeft)
		if err := b.addLightControls(p, trafficlight.VehicleGo, thisLight, oppositeLight); err != nil {
			return err
		}
		b.setLightForLanes(thisToOppositeAndRight, thisLight)
		b.setLightForLanes(oppositeToThisAndLeft, oppositeLight)

		p = b.addPeriod(cfg.FourWayUnidirectionalStraightRightSeconds)
		p.appendVehicleLanes(thisToOppositeAndRight)
		if err := b.addLightControls(p, trafficlight.VehicleGo, thisLight); err != nil {
			return err
		}
		b.setLightForLanes(thisToOppositeAndRight, thisLight)

		p = b.addPeriod(cfg.FourWayUnidirectionalStraightRightLeftSeconds)
		p.appendVehicleLanes(thisToAllOther)
		if err := b.addLightControls(p, trafficlight.VehicleGo, thisLight); err != nil {
			return err
		}
		b.setLightForLanes(thisToAllOther, thisLight)
	}
	return nil
}

// buildGeneral 一般信号灯路口：每个进口方向一个机动车相位，再加一个全部人行横道的行人相位
func (b *builder) buildGeneral() error {
	cfg := &b.j.ctx.RuntimeConfig().All.Intersection
	for _, s := range b.j.sides {
		p := b.addPeriod(b.scaled(cfg.StandardTrafficGoSeconds, s.HasInboundLanesFromFreeway))
		p.appendVehicleLanes(s.Lanes)
		if err := b.addLightControls(p, trafficlight.VehicleGo, s.TrafficLightIndex); err != nil {
			return err
		}
		b.setLightForLanes(s.Lanes, s.TrafficLightIndex)
	}
	p := b.addCrosswalkPeriod()
	for _, s := range b.j.sides {
		if err := b.addLightControls(p, trafficlight.PedestrianGo, s.TrafficLightIndex); err != nil {
			return err
		}
	}
	return nil
}

// buildStopSign 停车让行路口：每个进口方向一个最短机动车相位，再加一个行人相位
func (b *builder) buildStopSign() error {
	cfg := &b.j.ctx.RuntimeConfig().All.Intersection
	for _, s := range b.j.sides {
		p := b.addPeriod(cfg.StandardMinimumTrafficGoSeconds)
		p.appendVehicleLanes(s.Lanes)
	}
	b.addCrosswalkPeriod()
	return nil
}

// addCrosswalkPeriod 添加包含全部人行横道与隐藏人行横道的行人相位
func (b *builder) addCrosswalkPeriod() *Period {
	p := b.addPeriod(b.j.ctx.RuntimeConfig().All.Intersection.StandardCrosswalkGoSeconds)
	for _, s := range b.j.sides {
		p.appendCrosswalks(s.Crosswalks, s.CrosswalkWaiting)
	}
	p.appendCrosswalks(b.hiddenCrosswalks, b.hiddenCrosswalksWaiting)
	return p
}

// lanesOf 按ID查找车道，ID不存在时panic
func lanesOf(laneManager *lane.LaneManager, ids []int32) []*lane.Lane {
	return lo.Map(ids, func(id int32, _ int) *lane.Lane {
		return laneManager.Get(id)
	})
}

func appendUnique(dst []*lane.Lane, lanes ...*lane.Lane) []*lane.Lane {
	for _, l := range lanes {
		if !slices.Contains(dst, l) {
			dst = append(dst, l)
		}
	}
	return dst
}
