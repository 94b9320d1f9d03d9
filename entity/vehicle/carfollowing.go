package vehicle

import (
	"math"

	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/ojrac/opensimplex-go"
	"github.com/samber/lo"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"
)

const (
	noiseSeedOffset = 0.5 // 噪声第二维的固定取值
)

// StopDecision 车道出口停车判断结果
type StopDecision struct {
	MustStop                 bool // 必须在车道出口停下
	RequestDifferentNextLane bool // 请求重新选择下一车道
	CantStopAtLaneExit       bool // 已无法在车道出口停下（跨帧保持）
	FrontBeyondLaneEnd       bool // 车头已越过车道终点
	NoNextLane               bool // 没有可驶入的下一车道
	NoRoom                   bool // 路口后方车道没有足够空间
}

// Noise 平滑噪声
// 功能：基于OpenSimplex噪声生成[-1,1]的平滑随机值，用于速度与横向偏移的自然扰动
type Noise struct {
	noise opensimplex.Noise
}

// NewNoise 创建噪声发生器
func NewNoise(seed int64) *Noise {
	return &Noise{noise: opensimplex.New(seed)}
}

// CalculateNoiseValue 计算噪声值
// 参数：input-单调递增的噪声输入（车辆累计行驶距离），period-噪声周期
// 返回：[-1,1]的噪声值
func (n *Noise) CalculateNoiseValue(input, period float64) float64 {
	if period <= 0 {
		return 0
	}
	return lo.Clamp(n.noise.Eval2(input/period, noiseSeedOffset), -1, 1)
}

// GetSpeedLimitAlongLane 沿车道混合限速
// 功能：在剩余行驶时间小于blendTime秒时，从本车道限速线性过渡到后继车道限速
// 参数：length-车道长度，limit-本车道限速，nextLimit-后继车道平均限速，distance-车道上的距离，speed-速度，blendTime-混合时间
// 算法说明：
// 1. 剩余时间 t = (length - distance) / speed，速度为0时视为无穷大
// 2. 混合比例 = 1 - clamp(t / blendTime, 0, 1)
// 3. 返回 lerp(limit, nextLimit, 混合比例)
func GetSpeedLimitAlongLane(length, limit, nextLimit, distance, speed, blendTime float64) float64 {
	timeLeft := mathutil.INF
	if speed > 0 {
		timeLeft = (length - distance) / speed
	}
	scale := 1.
	if blendTime > 0 {
		scale = 1 - lo.Clamp(timeLeft/blendTime, 0, 1)
	} else if timeLeft > 0 {
		scale = 0
	}
	return utils.Lerp(limit, nextLimit, scale)
}

// VarySpeedLimit 按车辆偏好与噪声调整限速
// 功能：limit*(1-(limitVariance*rf+speedVariance*noise))，rf固定的车辆让它总是偏快或偏慢
func VarySpeedLimit(limit, limitVariancePct, speedVariancePct, randomFraction, noise float64) float64 {
	return limit * (1 - (limitVariancePct*randomFraction + speedVariancePct*noise))
}

// GetDistanceAlongLaneToStopAt 车道出口停车位置
func GetDistanceAlongLaneToStopAt(length, radius, randomFraction float64, stoppingDistance config.Range) float64 {
	return length - radius - stoppingDistance.Lerp(randomFraction)
}

// GetDistanceAlongLaneToBrakeFrom 车道出口开始制动的位置，不晚于停车位置
func GetDistanceAlongLaneToBrakeFrom(
	length, radius, randomFraction, speedLimit, brakingTime float64, stoppingDistance config.Range,
) float64 {
	return math.Min(
		length-radius-brakingTime*speedLimit,
		GetDistanceAlongLaneToStopAt(length, radius, randomFraction, stoppingDistance),
	)
}

// GetObstacleAvoidanceBrakingTime 避障制动时间
func GetObstacleAvoidanceBrakingTime(randomFraction float64, brakingTime config.Range) float64 {
	return brakingTime.Lerp(randomFraction)
}

// GetMinimumDistanceToObstacle 到前车或障碍物的最小距离
func GetMinimumDistanceToObstacle(randomFraction float64, minDistance config.Range) float64 {
	return minDistance.Lerp(randomFraction)
}

// GetIdealDistanceToObstacle 理想跟车距离，速度乘理想车头时距，不小于最小距离
func GetIdealDistanceToObstacle(speed, randomFraction float64, idealTime config.Range, minDistance float64) float64 {
	return math.Max(idealTime.Lerp(randomFraction)*speed, minDistance)
}

// GetSpaceTakenByVehicleOnLane 车辆在车道上占用的空间：车长加最小跟车距离
func GetSpaceTakenByVehicleOnLane(radius, randomFraction float64, minNextDistance config.Range) float64 {
	return 2*radius + minNextDistance.Lerp(randomFraction)
}

// GetObstacleAvoidanceBrakingSpeedFactor 避让制动速度系数
// 功能：距离在[minDistance,brakingDistance]之间时按幂曲线从0升到1
func GetObstacleAvoidanceBrakingSpeedFactor(distance, minDistance, brakingDistance, power float64) float64 {
	return math.Pow(lo.Clamp(utils.GetRangePct(minDistance, brakingDistance, distance), 0, 1), power)
}

// GetStopSignBrakingSpeedFactor 车道出口停车速度系数
// 功能：从brakeFrom到stopAt按幂曲线从1降到0
func GetStopSignBrakingSpeedFactor(stopAt, brakeFrom, distance, power float64) float64 {
	return math.Pow(1-lo.Clamp(utils.GetRangePct(brakeFrom, stopAt, distance), 0, 1), power)
}

// CalculateTargetSpeed 计算目标速度
// 参数：limit-调整后的限速，speed-当前速度，randomFraction-车辆随机系数，
// distanceToNext-到前车的距离，timeToCollision/distanceToCollision-到最近障碍物的碰撞时间与距离，
// distance-车道上的距离，stopAt/brakeFrom-出口停车与制动位置，stopAtExit-是否需要在出口停车，c-车辆配置
// 算法说明：
// 1. 前车距离小于理想距离时，按幂曲线（默认3次）降低目标速度
// 2. 碰撞时间小于制动时间时，按避障幂曲线（默认0.5次）降低目标速度
// 3. 需要停车且越过制动位置时，按停车幂曲线（默认0.5次）降低目标速度
// 4. 多个原因取最小值，结果不小于0
func CalculateTargetSpeed(
	limit, speed, randomFraction float64,
	distanceToNext, timeToCollision, distanceToCollision float64,
	distance, stopAt, brakeFrom float64, stopAtExit bool,
	c *config.Vehicle,
) float64 {
	target := limit

	minNext := GetMinimumDistanceToObstacle(randomFraction, c.MinimumDistanceToNextVehicleRange)
	ideal := GetIdealDistanceToObstacle(speed, randomFraction, c.IdealTimeToNextVehicleRange, minNext)
	if distanceToNext < ideal {
		target = math.Min(target, limit*GetObstacleAvoidanceBrakingSpeedFactor(
			distanceToNext, minNext, ideal, c.NextVehicleAvoidanceBrakingPower,
		))
	}

	brakingTime := GetObstacleAvoidanceBrakingTime(randomFraction, c.ObstacleAvoidanceBrakingTimeRange)
	if timeToCollision < brakingTime {
		minObstacle := GetMinimumDistanceToObstacle(randomFraction, c.MinimumDistanceToObstacleRange)
		target = math.Min(target, limit*GetObstacleAvoidanceBrakingSpeedFactor(
			distanceToCollision, minObstacle, brakingTime*limit, c.ObstacleAvoidanceBrakingPower,
		))
	}

	if stopAtExit && distance >= brakeFrom {
		target = math.Min(target, limit*GetStopSignBrakingSpeedFactor(
			stopAt, brakeFrom, distance, c.StopSignBrakingPower,
		))
	}
	return math.Max(target, 0)
}

// ShouldStopAtLaneExit 判断车辆是否需要在车道出口停车
// 参数：chain-车辆链视图，cur-当前车道，next-下一车道（可为nil），distance-车道上的距离，radius-车辆半径，
// speed-速度，spaceTaken-车辆占用空间，cantStop-上一帧是否已无法停车，prepareToStopSeconds-关闭前的准备时间
// 算法说明：
// 1. 没有下一车道或下一车道是死路时必须停车
// 2. 下一车道是路口内车道时，检查路口后方车道是否有足够的空间，不足则停车并在尚未接近出口时请求换一条车道
// 3. 下一车道关闭或即将关闭且车辆仍能停下时停车；即将关闭时按剩余时间判断能否在关闭前通过
// 说明：cantStop一旦为true就保持，直到车辆驶入下一车道或放弃该车道
func ShouldStopAtLaneExit(
	chain entity.IVehicleChain, cur, next *lane.Lane,
	distance, radius, speed, spaceTaken float64, cantStop bool, prepareToStopSeconds float64,
) StopDecision {
	res := StopDecision{CantStopAtLaneExit: cantStop}
	front := distance + radius
	left := cur.Length() - front
	res.FrontBeyondLaneEnd = left < 0

	if next == nil || len(next.NextLanes()) == 0 {
		res.NoNextLane = true
		res.MustStop = true
		return res
	}

	if next.IsIntersectionLane() {
		taken := math.Max(next.Length()-next.SpaceAvailable, 0)
		post := next.NextLanes()[0].SpaceAvailableFromStartOfLaneForVehicle(chain, true, false)
		if post-taken < spaceTaken {
			res.RequestDifferentNextLane = distance < cur.Length()-3*radius
			res.NoRoom = true
			res.MustStop = true
			return res
		}
	}

	if !res.CantStopAtLaneExit && (!next.IsOpen || next.IsAboutToClose) {
		if !next.IsOpen {
			res.CantStopAtLaneExit = res.FrontBeyondLaneEnd
		} else {
			seconds := next.FractionUntilClosed * prepareToStopSeconds
			speedUntilClose := mathutil.INF
			if seconds > 0 {
				speedUntilClose = left / seconds
			}
			res.CantStopAtLaneExit = speed > speedUntilClose || res.FrontBeyondLaneEnd
		}
		res.MustStop = !res.CantStopAtLaneExit
		return res
	}
	return res
}

// TimeToCollision 两个圆形运动体的碰撞时间
// 参数：agentPos/agentVel-本体位置与速度，agentRadius-本体半径，obsPos/obsVel/obsRadius-障碍物
// 返回：已重叠返回0，不会碰撞返回mathutil.INF
// 算法说明：求 |Δp - Δv·τ| = R 的最小非负根
func TimeToCollision(
	agentPos, agentVel geometry.Point, agentRadius float64,
	obsPos, obsVel geometry.Point, obsRadius float64,
) float64 {
	r := agentRadius + obsRadius
	dp := obsPos.Sub(agentPos)
	c := dp.SquareLength2D() - r*r
	if c < 0 {
		return 0
	}
	dv := agentVel.Sub(obsVel)
	a := dv.SquareLength2D()
	b := dp.Dot2D(dv)
	disc := b*b - a*c
	if disc <= 0 || a <= 0 {
		return mathutil.INF
	}
	tau := (b - math.Sqrt(disc)) / a
	if tau < 0 {
		return mathutil.INF
	}
	return tau
}

// TurnSpeedFactor 转弯减速系数，夹角从0到π/2时从1降到turnSpeedScale
func TurnSpeedFactor(angle, turnSpeedScale float64) float64 {
	return utils.MapRangeClamped(0, math.Pi/2, 1, turnSpeedScale, math.Abs(angle))
}
