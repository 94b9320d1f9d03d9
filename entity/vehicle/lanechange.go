package vehicle

import (
	"math"
	"slices"

	"git.fiblab.net/general/common/v2/geometry"

	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils"
)

const (
	maxNearbySearchIterations = 200 // 查找变道前后车辆的迭代上限
	maxCountdownRearmAttempts = 10
	retrySoonSeconds          = 0.5
)

// LaneChangeSide 变道方向
type LaneChangeSide int

const (
	LaneChangeNone LaneChangeSide = iota
	LaneChangeLeft
	LaneChangeRight
)

// countdownKind 变道倒计时重置方式
type countdownKind int

const (
	countdownNewTry    countdownKind = iota // [Min,Max]内均匀取值
	countdownRetry     // 按配置的重试时间
	countdownRetrySoon // 0.5秒
)

// recommendationLevel 变道建议等级
type recommendationLevel int

const (
	stayOnCurrentLane          recommendationLevel = iota // 留在当前车道，按正常重试时间重试
	stayOnCurrentLaneRetrySoon // 留在当前车道，很快重试
	normalLaneChange           // 普通变道
	transversingLaneChange     // 横向相邻车道上的变道，每条车道只做一次
)

type laneChangeRecommendation struct {
	level recommendationLevel
	side  LaneChangeSide
	lane  *lane.Lane
}

// laneChangeFitReport 变道空间检查结果
type laneChangeFitReport struct {
	clearOfVehicleBehind bool
	clearOfLaneStart     bool
	clearOfVehicleAhead  bool
	clearOfLaneEnd       bool
}

func (r laneChangeFitReport) isClear() bool {
	return r.clearOfVehicleBehind && r.clearOfLaneStart && r.clearOfVehicleAhead && r.clearOfLaneEnd
}

// laneChange 车辆的变道状态
type laneChange struct {
	countdown            float64
	countdownInitialized bool
	blockAll             bool // 在驶入下一车道之前禁止再次变道

	inProgress           bool
	side                 LaneChangeSide
	initialLane          *lane.Lane
	finalLane            *lane.Lane
	finalBegin           float64 // 在目标车道上开始变道的距离
	finalEnd             float64 // 在目标车道上结束变道的距离
	distanceBetweenLanes float64
	yawInitial           float64

	initialBehind entity.VehicleHandle   // 原车道上的后车，变道期间以本车为额外前车
	initialAhead  entity.VehicleHandle   // 原车道上的前车，变道期间作为本车的额外前车
	otherBehind   []entity.VehicleHandle // 其他把本车登记为额外前车的车辆
}

// laneChangeProgressionScale 变道进度系数
// 功能：从开始到结束由±1线性变为0，左侧为正、右侧为负，未在变道或已越过终点时为0
func (v *Vehicle) laneChangeProgressionScale(distance float64) float64 {
	lc := &v.lc
	if !lc.inProgress || distance > lc.finalEnd {
		return 0
	}
	sign := 1.
	if lc.side == LaneChangeRight {
		sign = -1
	}
	span := lc.finalEnd - lc.finalBegin
	if span <= 0 {
		return 0
	}
	return sign * (1 - (distance-lc.finalBegin)/span)
}

// laneChangeTransform 变道过程中的坐标与朝向
// 算法说明：
// 1. 车辆已登记在目标车道上，从目标车道上的位置向原车道一侧偏移 sign*车道间距*cubic(|scale|)
// 2. 朝向从初始朝向平滑过渡到车道方向，并叠加 sign*cubic'(|scale|)*atan2(车道间距, 变道长度) 的摆角
func (v *Vehicle) laneChangeTransform() (pos geometry.Point, direction float64) {
	lc := &v.lc
	d := math.Max(lc.finalBegin, math.Min(v.distance, lc.finalEnd))
	scale := v.laneChangeProgressionScale(d)
	alpha := math.Abs(scale)
	sign := 1.
	if scale < 0 {
		sign = -1
	}
	cubic := utils.SmoothStep(alpha)
	derivative := utils.SmoothStepDerivative(alpha)

	laneDirection := v.lane.GetDirectionByS(v.distance)
	// 左侧变道时原车道在目标车道右侧
	pos = v.lane.GetOffsetPositionByS(v.distance, sign*lc.distanceBetweenLanes*cubic+v.lateralOffset)
	maxYawDelta := math.Atan2(lc.distanceBetweenLanes, lc.finalEnd-lc.finalBegin)
	yaw := utils.Lerp(0, utils.NormalizeAngle(lc.yawInitial-laneDirection), cubic) + sign*derivative*maxYawDelta
	return pos, utils.NormalizeAngle(laneDirection + yaw)
}

// laneChangeLateralOffset 变道过程中相对目标车道中心线向右的偏移
func (v *Vehicle) laneChangeLateralOffset(distance float64) float64 {
	if !v.lc.inProgress {
		return 0
	}
	d := math.Max(v.lc.finalBegin, math.Min(distance, v.lc.finalEnd))
	scale := v.laneChangeProgressionScale(d)
	sign := 1.
	if scale < 0 {
		sign = -1
	}
	return sign * v.lc.distanceBetweenLanes * utils.SmoothStep(math.Abs(scale))
}

// setLaneChangeCountdownAtLeast 倒计时已到时重新设置倒计时
func (m *VehicleManager) setLaneChangeCountdownAtLeast(v *Vehicle, kind countdownKind) {
	if v.lc.countdown > 0 {
		return
	}
	c := &m.config().LaneChange
	for i := 0; i < maxCountdownRearmAttempts && v.lc.countdown <= 0; i++ {
		switch kind {
		case countdownNewTry:
			v.lc.countdown += utils.Lerp(c.MinSecondsUntilDecision, c.MaxSecondsUntilDecision, m.ctx.Rand().Float64())
		case countdownRetry:
			v.lc.countdown += c.RetrySeconds
		case countdownRetrySoon:
			v.lc.countdown += retrySoonSeconds
		}
	}
}

// updateLaneChange 推进变道倒计时，越过终点时结束变道
func (m *VehicleManager) updateLaneChange(v *Vehicle, dt float64) {
	if !v.lc.countdownInitialized {
		v.lc.countdown = m.config().LaneChange.MaxSecondsUntilDecision * m.ctx.Rand().Float64()
		v.lc.countdownInitialized = true
		return
	}
	if v.lc.inProgress && v.distance > v.lc.finalEnd {
		m.endLaneChangeProgression(v)
		m.setLaneChangeCountdownAtLeast(v, countdownNewTry)
	} else if v.lc.countdown > 0 {
		v.lc.countdown -= dt
	}
}

func (v *Vehicle) isTimeToAttemptLaneChange() bool {
	return !v.lc.inProgress && v.lc.countdown <= 0 && v.lc.countdownInitialized
}

// filterLaneForLaneChange 检查候选车道是否适合变道
func (m *VehicleManager) filterLaneForLaneChange(v *Vehicle, candidate *lane.Lane) *lane.Lane {
	cur := v.lane
	if candidate != nil &&
		candidate.DownstreamFlowDensity() < cur.DownstreamFlowDensity() &&
		candidate.SpaceAvailable > v.spaceTaken &&
		!candidate.IsIntersectionLane() && !cur.IsIntersectionLane() &&
		len(candidate.MergingLanes()) == 0 && len(cur.MergingLanes()) == 0 &&
		len(candidate.SplittingLanes()) == 0 && len(cur.SplittingLanes()) == 0 &&
		!candidate.AreVehiclesApproachingFromIntersection() && !cur.AreVehiclesApproachingFromIntersection() &&
		candidate.NumVehiclesLaneChangingOffOfLane == 0 && cur.NumVehiclesLaneChangingOntoLane == 0 &&
		!v.cantStop &&
		TrunkVehicleLaneCheck(candidate, v.trunkOnly) {
		return candidate
	}
	return nil
}

// chooseLaneForLaneChange 选择变道目标车道
// 算法说明：
// 1. 只在允许变道且没有汇入、分流的车道上变道
// 2. 左右候选车道需要比当前车道的下游流密度更低、空间足够，且两条车道都没有正在进行的变道
// 3. 横向相邻车道上，按随机顺序测试左右两侧，车辆越过车道起点一段随机距离后才变道，否则很快重试
// 4. 普通车道上选择下游流密度更低的一侧，相等时随机选择
func (m *VehicleManager) chooseLaneForLaneChange(v *Vehicle) laneChangeRecommendation {
	res := laneChangeRecommendation{level: stayOnCurrentLane}
	cur := v.lane
	if !cur.IsLaneChangingLane() || len(cur.SplittingLanes()) > 0 || len(cur.MergingLanes()) > 0 {
		return res
	}
	left, right := cur.LeftLane(), cur.RightLane()
	current := cur.DownstreamFlowDensity()
	density := func(l *lane.Lane) float64 {
		if l == nil {
			return math.MaxFloat64
		}
		return l.DownstreamFlowDensity()
	}
	leftDensity, rightDensity := density(left), density(right)
	left = m.filterLaneForLaneChange(v, left)
	right = m.filterLaneForLaneChange(v, right)

	if cur.HasTransverseLaneAdjacency() {
		c := &m.config().LaneChange
		test := func(candidate *lane.Lane, candidateDensity float64) bool {
			if candidate == nil || !candidate.HasTransverseLaneAdjacency() || candidateDensity >= current {
				return false
			}
			return v.distance > v.randomFraction*(c.TransverseSpreadFromStartOfLaneFraction*cur.Length())
		}
		type option struct {
			lane    *lane.Lane
			density float64
			side    LaneChangeSide
		}
		options := []option{{left, leftDensity, LaneChangeLeft}, {right, rightDensity, LaneChangeRight}}
		if m.ctx.Rand().Float64() > 0.5 {
			slices.Reverse(options)
		}
		for _, o := range options {
			if test(o.lane, o.density) {
				return laneChangeRecommendation{level: transversingLaneChange, side: o.side, lane: o.lane}
			}
		}
		res.level = stayOnCurrentLaneRetrySoon
		return res
	}

	switch {
	case left == nil && right == nil:
		return res
	case right == nil:
		return laneChangeRecommendation{level: normalLaneChange, side: LaneChangeLeft, lane: left}
	case left == nil:
		return laneChangeRecommendation{level: normalLaneChange, side: LaneChangeRight, lane: right}
	case leftDensity < rightDensity:
		return laneChangeRecommendation{level: normalLaneChange, side: LaneChangeLeft, lane: left}
	case rightDensity < leftDensity:
		return laneChangeRecommendation{level: normalLaneChange, side: LaneChangeRight, lane: right}
	default:
		if m.ctx.Rand().Float64() < 0.5 {
			return laneChangeRecommendation{level: normalLaneChange, side: LaneChangeLeft, lane: left}
		}
		return laneChangeRecommendation{level: normalLaneChange, side: LaneChangeRight, lane: right}
	}
}

// canVehicleLaneChangeToFitOnChosenLane 检查车辆在目标车道上是否放得下
// 参数：chosenDistance-目标车道上的开始位置，delta-变道长度，behind/ahead-目标车道上的前后车辆（可为nil）
func (m *VehicleManager) canVehicleLaneChangeToFitOnChosenLane(
	v *Vehicle, chosen *lane.Lane, chosenDistance, delta float64, behind, ahead *Vehicle,
) laneChangeFitReport {
	if v.speed == 0 {
		return laneChangeFitReport{}
	}
	report := laneChangeFitReport{true, true, true, true}
	duration := delta / v.speed
	minNext := GetMinimumDistanceToObstacle(v.randomFraction, m.config().MinimumDistanceToNextVehicleRange)
	if behind != nil {
		if (chosenDistance-behind.distance)-v.radius-behind.radius < 0 {
			report.clearOfVehicleBehind = false
		}
	}
	if chosenDistance-2*v.radius-minNext < 0 {
		report.clearOfLaneStart = false
	}
	if ahead != nil {
		now := (ahead.distance - chosenDistance) - v.radius - ahead.radius - minNext
		if now < 0 || now+(ahead.speed-v.speed)*duration < 0 {
			report.clearOfVehicleAhead = false
		}
	}
	if (chosen.Length()-chosenDistance-v.radius)-delta < 0 {
		report.clearOfLaneEnd = false
	}
	return report
}

// findNearbyVehiclesOnLaneRelativeToDistance 在车道上查找distance前后的车辆
// 返回：链表异常时ok为false
func (m *VehicleManager) findNearbyVehiclesOnLaneRelativeToDistance(
	l *lane.Lane, distance float64,
) (behind, ahead entity.VehicleHandle, ok bool) {
	h := l.TailVehicle
	for i := 0; m.vehicles.Valid(h); i++ {
		if i >= maxNearbySearchIterations {
			return entity.VehicleHandle{}, entity.VehicleHandle{}, false
		}
		v := m.get(h)
		if v.lane != l {
			break
		}
		if v.distance <= distance {
			behind = h
		} else {
			ahead = h
			break
		}
		h = v.next
		if h == l.TailVehicle {
			return entity.VehicleHandle{}, entity.VehicleHandle{}, false
		}
	}
	return behind, ahead, true
}

// findNearbyVehiclesOnLaneRelativeToVehicle 查找车辆在本车道上的前后车辆
// 返回：链表异常时ok为false
func (m *VehicleManager) findNearbyVehiclesOnLaneRelativeToVehicle(
	v *Vehicle,
) (behind, ahead entity.VehicleHandle, ok bool) {
	l := v.lane
	if next := m.get(v.next); next != nil && next.lane == l {
		ahead = v.next
	}
	if l.TailVehicle == v.handle {
		return behind, ahead, true
	}
	h := l.TailVehicle
	for i := 0; m.vehicles.Valid(h); i++ {
		if i >= maxNearbySearchIterations {
			return entity.VehicleHandle{}, entity.VehicleHandle{}, false
		}
		o := m.get(h)
		if o.lane != l {
			return entity.VehicleHandle{}, entity.VehicleHandle{}, false
		}
		if o.next == v.handle {
			return h, ahead, true
		}
		if o.next == h {
			return entity.VehicleHandle{}, entity.VehicleHandle{}, false
		}
		h = o.next
	}
	return entity.VehicleHandle{}, entity.VehicleHandle{}, false
}

// maxDistanceBetweenLanes 两条车道起点之间与终点之间距离的较大值
func maxDistanceBetweenLanes(a, b *lane.Lane) float64 {
	return math.Max(geometry.Distance2D(a.BeginPoint(), b.BeginPoint()), geometry.Distance2D(a.EndPoint(), b.EndPoint()))
}

// tryStartingNewLaneChange 尝试开始一次新的变道
// 算法说明：
// 1. 变道中、禁止变道、车道不允许变道、已无法在出口停下、车道有汇入或分流时不变道
// 2. 倒计时未到时只有横向相邻车道会尝试
// 3. 选择目标车道，投影得到目标车道上的开始位置，变道长度 = max(速度*耗时, 车长*最小比例)
// 4. 检查目标车道的前后车辆与空间，检查当前车道的前后车辆，任何一项失败都按重试时间重试
// 5. 将车辆瞬移到目标车道，开始变道过程
func (m *VehicleManager) tryStartingNewLaneChange(v *Vehicle) {
	cur := v.lane
	if v.lc.inProgress || v.lc.blockAll || !cur.IsLaneChangingLane() || v.cantStop ||
		len(cur.SplittingLanes()) > 0 || len(cur.MergingLanes()) > 0 {
		return
	}
	if !v.isTimeToAttemptLaneChange() && !cur.HasTransverseLaneAdjacency() {
		return
	}
	c := m.config()

	rec := m.chooseLaneForLaneChange(v)
	switch rec.level {
	case stayOnCurrentLane:
		m.setLaneChangeCountdownAtLeast(v, countdownRetry)
		return
	case stayOnCurrentLaneRetrySoon:
		m.setLaneChangeCountdownAtLeast(v, countdownRetrySoon)
		return
	}
	retry := func() { m.setLaneChangeCountdownAtLeast(v, countdownRetry) }

	if len(v.laneChangeNext) >= c.LaneChange.MaxNextVehicles {
		log.Warnf("%v has a full list of lane change next vehicles, skip lane change", v)
		retry()
		return
	}

	chosen := rec.lane
	posCurrent := cur.GetPositionByS(v.distance)
	chosenDistance := chosen.ProjectToLane(posCurrent)
	posChosen := chosen.GetPositionByS(chosenDistance)
	distanceBetweenLanes := geometry.Distance2D(posCurrent, posChosen)
	if distanceBetweenLanes > c.LaneChange.SearchDistanceScale*maxDistanceBetweenLanes(cur, chosen) {
		log.Errorf("closest location on chosen lane %v is too far from %v", chosen, v)
		return
	}

	maxChosenDistance := chosen.Length() - v.radius
	if maxChosenDistance <= 0 {
		log.Errorf("lane %v is too short for %v", chosen, v)
		retry()
		return
	}
	if chosenDistance >= maxChosenDistance {
		retry()
		return
	}
	duration := c.LaneChange.BaseSecondsToExecute + c.LaneChange.AdditionalSecondsPerVehicleLength*(2*v.radius)
	delta := math.Max(v.speed*duration, 2*v.radius*c.LaneChange.MinDistanceVehicleLengthScale)
	end := chosenDistance + delta
	if end > maxChosenDistance {
		retry()
		return
	}

	chosenBehind, chosenAhead, ok := m.findNearbyVehiclesOnLaneRelativeToDistance(chosen, chosenDistance)
	if !ok {
		retry()
		return
	}
	cb, ca := m.get(chosenBehind), m.get(chosenAhead)
	if (ca != nil && ca.lc.inProgress) || (cb != nil && cb.lc.inProgress) {
		retry()
		return
	}
	if !m.canVehicleLaneChangeToFitOnChosenLane(v, chosen, chosenDistance, delta, cb, ca).isClear() {
		retry()
		return
	}

	currentBehind, currentAhead, ok := m.findNearbyVehiclesOnLaneRelativeToVehicle(v)
	if !ok {
		retry()
		return
	}
	curB, curA := m.get(currentBehind), m.get(currentAhead)
	if curB != nil && len(curB.laneChangeNext) >= c.LaneChange.MaxNextVehicles {
		log.Warnf("%v behind %v has a full list of lane change next vehicles, skip lane change", curB, v)
		retry()
		return
	}
	if (curA != nil && curA.lc.inProgress) || (curB != nil && curB.lc.inProgress) {
		retry()
		return
	}

	yawInitial := v.direction
	if err := m.teleportVehicleToAnotherLane(
		v, chosen, chosenDistance, chosenBehind, chosenAhead, currentBehind, currentAhead,
	); err != nil {
		retry()
		return
	}
	if !v.next.IsSet() {
		v.next = chosen.FindNearestTailVehicleOnNextLanes(m, posChosen, lane.TailRegular)
	}
	if !m.beginLaneChangeProgression(
		v, rec.side, cur, chosen, chosenDistance, end, distanceBetweenLanes, yawInitial, currentBehind, currentAhead,
	) {
		log.Errorf("lane change progression failed, %v has changed lanes instantly", v)
	}
	if rec.level == transversingLaneChange {
		v.lc.blockAll = true
	}
	v.updatePositionFromLane()
}

// beginLaneChangeProgression 开始变道过程
// 功能：原车道后车以本车为额外前车，本车以原车道前车为额外前车，在原车道上登记变道幽灵尾车并更新变道计数
func (m *VehicleManager) beginLaneChangeProgression(
	v *Vehicle, side LaneChangeSide, initial, final *lane.Lane,
	begin, end, distanceBetweenLanes, yawInitial float64,
	initialBehind, initialAhead entity.VehicleHandle,
) bool {
	if v.lc.inProgress || side == LaneChangeNone {
		return false
	}
	lc := &v.lc
	lc.distanceBetweenLanes = distanceBetweenLanes
	lc.initialBehind = initialBehind
	lc.initialAhead = initialAhead
	if b := m.get(initialBehind); b != nil {
		m.addLaneChangeNextVehicle(b, v.handle)
	}
	if initialAhead.IsSet() {
		m.addLaneChangeNextVehicle(v, initialAhead)
	}
	lc.initialLane = initial
	lc.finalLane = final
	lc.side = side
	lc.finalBegin = begin
	lc.finalEnd = end
	lc.yawInitial = yawInitial
	lc.inProgress = true
	v.setTurnSignals(side == LaneChangeLeft, side == LaneChangeRight)

	ghost := m.get(initial.GhostTailVehicleFromLaneChange)
	if ghost == nil || ghost.distance > v.distance {
		initial.GhostTailVehicleFromLaneChange = v.handle
	}
	initial.NumVehiclesLaneChangingOffOfLane++
	final.NumVehiclesLaneChangingOntoLane++
	return true
}

// endLaneChangeProgression 结束变道过程，撤销开始变道时的全部登记
func (m *VehicleManager) endLaneChangeProgression(v *Vehicle) {
	lc := &v.lc
	v.setTurnSignals(false, false)
	if lc.initialAhead.IsSet() {
		v.laneChangeNext = removeHandle(v.laneChangeNext, lc.initialAhead)
	}
	if b := m.get(lc.initialBehind); b != nil {
		b.laneChangeNext = removeHandle(b.laneChangeNext, v.handle)
	}
	for _, h := range lc.otherBehind {
		if b := m.get(h); b != nil {
			b.laneChangeNext = removeHandle(b.laneChangeNext, v.handle)
		}
	}
	if lc.initialLane != nil {
		if lc.initialLane.GhostTailVehicleFromLaneChange == v.handle {
			lc.initialLane.GhostTailVehicleFromLaneChange = entity.VehicleHandle{}
		}
		lc.initialLane.NumVehiclesLaneChangingOffOfLane--
	}
	if lc.finalLane != nil {
		lc.finalLane.NumVehiclesLaneChangingOntoLane--
	}
	*lc = laneChange{
		countdown:            lc.countdown,
		countdownInitialized: lc.countdownInitialized,
		blockAll:             lc.blockAll,
		otherBehind:          make([]entity.VehicleHandle, 0),
	}
}

// addOtherLaneChangeNextVehicleForVehicleBehind 变道中的车辆登记一辆新的后车
// 说明：后车以本车为额外前车，本车记录该后车以便结束变道时撤销
func (m *VehicleManager) addOtherLaneChangeNextVehicleForVehicleBehind(v, behind *Vehicle) bool {
	if !v.lc.inProgress {
		return true
	}
	c := m.config()
	if len(v.lc.otherBehind) >= c.LaneChange.MaxNextVehicles ||
		behind.handle == v.lc.initialBehind ||
		slices.Contains(v.lc.otherBehind, behind.handle) {
		return false
	}
	v.lc.otherBehind = append(v.lc.otherBehind, behind.handle)
	m.addLaneChangeNextVehicle(behind, v.handle)
	return true
}

// addLaneChangeNextVehicle 登记变道产生的额外前车，列表已满时记录错误
func (m *VehicleManager) addLaneChangeNextVehicle(v *Vehicle, next entity.VehicleHandle) {
	if len(v.laneChangeNext) >= m.config().LaneChange.MaxNextVehicles {
		log.Errorf("%v has a full list of lane change next vehicles, can't add %v", v, next)
		return
	}
	if !slices.Contains(v.laneChangeNext, next) {
		v.laneChangeNext = append(v.laneChangeNext, next)
	}
}
