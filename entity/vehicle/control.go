package vehicle

import (
	"math"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils"
)

const (
	brakeLightBaseSeconds      = 1.   // 刹车灯最短点亮时间
	brakeLightRandomSeconds    = 0.25 // 刹车灯点亮时间的随机部分
	brakeLightThresholdRandom  = 0.05 // 刹车灯检测阈值的随机部分
	throttleFastReleaseLevel   = 0.25 // 油门超过该值时刹车灯快速熄灭
	throttleFastReleaseScale   = 4.   // 快速熄灭的倍数
	stoppedBrakeSpeedTolerance = 5.   // 视为停止的速度容差（厘米/秒）
	speedNearlyEqualTolerance  = 1.   // 速度已达目标的容差（厘米/秒）
	brakeLightSmallNumber      = 1e-8
)

// positionAlongContinuousLanes 沿当前车道与下一车道连续插值坐标与朝向
// 说明：超出当前车道后在下一车道上继续，没有下一车道时停在当前车道终点
func positionAlongContinuousLanes(cur, next *lane.Lane, s float64) (geometry.Point, float64) {
	if s <= cur.Length() || next == nil {
		return cur.GetPositionAndDirectionByS(math.Min(s, cur.Length()))
	}
	return next.GetPositionAndDirectionByS(math.Min(s-cur.Length(), next.Length()))
}

// speedLimitOf 本帧经过混合与扰动后的限速
func (m *VehicleManager) speedLimitOf(v *Vehicle, noise float64) float64 {
	c := m.config()
	limit := GetSpeedLimitAlongLane(
		v.lane.Length(), v.lane.SpeedLimit(), v.lane.AverageNextLanesSpeedLimit(),
		v.distance, v.speed, c.SpeedLimitBlendTime,
	)
	return VarySpeedLimit(limit, c.SpeedLimitVariancePct, c.SpeedVariancePct, v.randomFraction, noise)
}

// stopAtLaneExit 车道出口停车判断，并维护无法停车的预约
// 返回：停车判断结果（CantStopAtLaneExit为更新后的值）
func (m *VehicleManager) stopAtLaneExit(v *Vehicle) StopDecision {
	decision := ShouldStopAtLaneExit(
		m, v.lane, v.nextLane, v.distance, v.radius, v.speed, v.spaceTaken, v.cantStop,
		m.ctx.RuntimeConfig().All.Intersection.StandardTrafficPrepareToStopSeconds,
	)
	if decision.RequestDifferentNextLane {
		v.preference = NextLaneDifferent
	}
	if decision.CantStopAtLaneExit {
		m.setCantStop(v)
	}
	// 刚决定无法停车，随后又发现必须停车（空间不足或失去下一车道）
	if decision.MustStop && v.cantStop {
		m.unsetCantStop(v)
		decision.CantStopAtLaneExit = false
	}
	// 决定无法停车后实际上在出口前停下了
	if v.speed < stoppedSpeedThreshold && !decision.FrontBeyondLaneEnd && v.cantStop {
		m.unsetCantStop(v)
		decision.CantStopAtLaneExit = false
	}
	return decision
}

// targetSpeedOf 计算目标速度并按转弯夹角减速
func (m *VehicleManager) targetSpeedOf(v *Vehicle, limit float64, decision StopDecision, turnAngle float64) float64 {
	c := m.config()
	stopAt := GetDistanceAlongLaneToStopAt(v.lane.Length(), v.radius, v.randomFraction, c.StoppingDistanceRange)
	brakeFrom := GetDistanceAlongLaneToBrakeFrom(
		v.lane.Length(), v.radius, v.randomFraction, limit, c.StopSignBrakingTime, c.StoppingDistanceRange,
	)
	target := CalculateTargetSpeed(
		limit, v.speed, v.randomFraction,
		v.distanceToNext, v.timeToCollision, v.distanceToCollision,
		v.distance, stopAt, brakeFrom, decision.MustStop, c,
	)
	return target * TurnSpeedFactor(turnAngle, c.TurnSpeedScale)
}

// updateVehicle 单车控制与移动
func (m *VehicleManager) updateVehicle(v *Vehicle, dt float64) {
	if v.externallyDriven {
		m.updateExternallyDrivenVehicle(v, dt)
	} else {
		m.updateSimpleVehicle(v, dt)
	}
}

// updateSimpleVehicle 运动学车辆的控制与移动
// 算法说明：
// 1. 由噪声得到横向偏移与扰动后的限速，判断是否需要在车道出口停车并维护预约
// 2. 计算目标速度，按扰动后的加速度/减速度逼近目标速度，大幅减速时点亮刹车灯
// 3. 前进距离不超过 max(到前车距离 - 最小障碍物距离, 0)，并同步缩小到前车的距离
// 4. 停车时车头越过出口则压住下一车道并截断在车道终点，否则到达终点时驶入下一车道
func (m *VehicleManager) updateSimpleVehicle(v *Vehicle, dt float64) {
	c := m.config()
	noise := m.noise.CalculateNoiseValue(v.noiseInput, c.NoisePeriod)
	v.lateralOffset = noise * c.LateralOffsetMax

	limit := m.speedLimitOf(v, noise)
	decision := m.stopAtLaneExit(v)

	lookAhead := math.Max(c.SpeedControlMinLookAheadDistance, c.SpeedControlLaneLookAheadTime*v.speed)
	_, targetDirection := positionAlongContinuousLanes(v.lane, v.nextLane, v.distance+lookAhead)
	target := m.targetSpeedOf(v, limit, decision, utils.NormalizeAngle(targetDirection-v.direction))
	v.targetSpeed = target
	m.setReadyToUseNextIntersectionLane(v, decision.NoRoom)

	if math.Abs(v.speed-target) > speedNearlyEqualTolerance {
		if target > v.speed {
			acc := c.Acceleration * (1 + c.AccelerationVariancePct*(v.randomFraction*2-1))
			v.speed = math.Min(target, v.speed+dt*acc)
			v.brakeLightHysteresis -= dt
		} else {
			dec := c.Deceleration * (1 + c.DecelerationVariancePct*(v.randomFraction*2-1))
			if v.speed-target > c.SpeedDeltaBrakingThreshold {
				v.brakeLightHysteresis = brakeLightBaseSeconds + v.randomFraction*brakeLightRandomSeconds
			}
			v.speed = math.Max(target, v.speed-dt*dec)
		}
	}
	m.updateBrakeLights(v)

	maxDelta := math.Max(v.distanceToNext-c.MinimumDistanceToObstacleRange.Min, 0)
	delta := math.Min(dt*v.speed, maxDelta)
	v.distance += delta
	v.noiseInput += delta
	v.distanceToNext = math.Max(v.distanceToNext-delta, 0)

	stoppingOverExit := decision.MustStop && decision.FrontBeyondLaneEnd
	if stoppingOverExit {
		if v.nextLane != nil {
			v.nextLane.IsStoppedVehicleInPreviousLaneOverlappingThisLane = true
		}
		if v.distance >= v.lane.Length() {
			v.distance = v.lane.Length()
		}
	} else if v.distance >= v.lane.Length() {
		if v.nextLane != nil {
			if m.moveVehicleToNextLane(v) {
				log.Debugf("%v is stuck behind the tail vehicle of its new lane", v)
			}
		} else {
			v.distance = v.lane.Length()
		}
	}
	v.control = entity.ControlOutput{Brake: lo.Ternary(v.brakeLights, 1., 0.)}
	v.updatePositionFromLane()
}

// updateExternallyDrivenVehicle 由外部运动模块驱动的车辆，只输出油门、刹车与转向
// 算法说明：
// 1. 沿车道前视得到速度追踪点与转向追踪点，转向追踪点叠加前视位置的横向偏移与变道偏移
// 2. 目标速度按速度追踪点相对车头的夹角减速
// 3. 速度PID输出为正时作为油门，为负时乘以刹车倍数作为刹车，绝对值小于滑行阈值时滑行
// 4. 转向PID以追踪点相对车头的夹角（按最大转向角归一化）为误差，正值向左
func (m *VehicleManager) updateExternallyDrivenVehicle(v *Vehicle, dt float64) {
	c := m.config()
	noise := m.noise.CalculateNoiseValue(v.noiseInput, c.NoisePeriod)

	speedLookAhead := math.Max(c.SpeedControlMinLookAheadDistance, c.SpeedControlLaneLookAheadTime*v.speed)
	_, speedTargetDirection := positionAlongContinuousLanes(v.lane, v.nextLane, v.distance+speedLookAhead)

	steeringLookAhead := math.Max(c.SteeringControlMinLookAheadDistance, c.SteeringControlLaneLookAheadTime*v.speed)
	steeringS := v.distance + steeringLookAhead
	steeringNoise := m.noise.CalculateNoiseValue(v.noiseInput+steeringLookAhead, c.NoisePeriod)
	steeringOffset := c.LateralOffsetMax * steeringNoise
	var steeringTarget geometry.Point
	if v.lc.inProgress && steeringS <= v.lane.Length() {
		steeringTarget = v.lane.GetOffsetPositionByS(steeringS, steeringOffset+v.laneChangeLateralOffset(steeringS))
	} else {
		pos, dir := positionAlongContinuousLanes(v.lane, v.nextLane, steeringS)
		steeringTarget = pos.Add(utils.RightFromAngle(dir).Scale(steeringOffset))
	}

	limit := m.speedLimitOf(v, noise)
	decision := m.stopAtLaneExit(v)
	if decision.MustStop && decision.FrontBeyondLaneEnd && v.nextLane != nil {
		v.nextLane.IsStoppedVehicleInPreviousLaneOverlappingThisLane = true
	}
	target := m.targetSpeedOf(v, limit, decision, utils.NormalizeAngle(speedTargetDirection-v.direction))
	v.targetSpeed = target
	m.setReadyToUseNextIntersectionLane(v, decision.NoRoom)

	out := entity.ControlOutput{ApplySteering: true}
	throttleOrBrake := lo.Clamp(v.speedPID.Tick(target, v.speed, dt, c.SpeedPID), -1, 1)
	if throttleOrBrake > c.SpeedCoastThreshold {
		out.Throttle = throttleOrBrake
	} else if throttleOrBrake < -c.SpeedCoastThreshold {
		out.Brake = math.Abs(throttleOrBrake) * c.SpeedPIDBrakeMultiplier
	}
	if utils.IsNearlyZero(out.Throttle) &&
		math.Abs(target) <= stoppedBrakeSpeedTolerance && math.Abs(v.speed) <= stoppedBrakeSpeedTolerance {
		out.Brake = 1
	}

	threshold := brakeLightSmallNumber + brakeLightThresholdRandom*v.randomFraction
	switch {
	case out.Brake > threshold:
		v.brakeLightHysteresis = brakeLightBaseSeconds + v.randomFraction*brakeLightRandomSeconds
	case out.Throttle > throttleFastReleaseLevel:
		v.brakeLightHysteresis -= dt * throttleFastReleaseScale
	default:
		v.brakeLightHysteresis -= dt
	}
	m.updateBrakeLights(v)

	toTarget := steeringTarget.Sub(v.position)
	deltaAngle := utils.NormalizeAngle(toTarget.Angle2D() - v.direction)
	normalized := deltaAngle / (c.MaxSteeringAngle * math.Pi / 180)
	out.Steering = lo.Clamp(v.steeringPID.Tick(0, -normalized, dt, c.SteeringPID), -1, 1)
	v.control = out
}

func (m *VehicleManager) updateBrakeLights(v *Vehicle) {
	if v.brakeLightHysteresis > brakeLightSmallNumber {
		v.brakeLights = true
	} else {
		v.brakeLights = false
		v.brakeLightHysteresis = 0
	}
}
