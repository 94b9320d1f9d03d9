package vehicle

import (
	"math"
	"testing"

	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/stretchr/testify/assert"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"
)

// 单车道上前方静止车辆：跟驰车辆的目标速度低于限速，并随距离减小单调降到0
func TestTargetSpeedBehindStoppedVehicle(t *testing.T) {
	c := config.Default().Vehicle
	const limit, speed, rf = 1000., 500., 0.5
	minNext := GetMinimumDistanceToObstacle(rf, c.MinimumDistanceToNextVehicleRange)

	last := math.Inf(1)
	for _, d := range []float64{800, 600, 400, 300, minNext, 100, 0} {
		target := CalculateTargetSpeed(limit, speed, rf, d, mathutil.INF, mathutil.INF, 300, 1000, 1000, false, &c)
		assert.Less(t, target, limit, "distance to next %v", d)
		assert.LessOrEqual(t, target, last, "distance to next %v", d)
		last = target
	}
	assert.Zero(t, last)

	// 两车中心距离200、半径均为100时已经接触
	assert.Zero(t, CalculateTargetSpeed(limit, speed, rf, math.Max(500-300-200, 0), mathutil.INF, mathutil.INF, 300, 1000, 1000, false, &c))
	// 没有前车时按限速行驶
	assert.InDelta(t, limit, CalculateTargetSpeed(limit, speed, rf, mathutil.INF, mathutil.INF, mathutil.INF, 300, 1000, 1000, false, &c), 1e-9)
}

func TestTargetSpeedStopAtLaneExit(t *testing.T) {
	c := config.Default().Vehicle
	const limit = 1000.
	stopAt, brakeFrom := 900., 500.
	before := CalculateTargetSpeed(limit, limit, 0, mathutil.INF, mathutil.INF, mathutil.INF, 400, stopAt, brakeFrom, true, &c)
	assert.InDelta(t, limit, before, 1e-9)
	mid := CalculateTargetSpeed(limit, limit, 0, mathutil.INF, mathutil.INF, mathutil.INF, 700, stopAt, brakeFrom, true, &c)
	assert.Less(t, mid, limit)
	assert.Greater(t, mid, 0.)
	at := CalculateTargetSpeed(limit, limit, 0, mathutil.INF, mathutil.INF, mathutil.INF, stopAt, stopAt, brakeFrom, true, &c)
	assert.Zero(t, at)
}

func TestGetSpeedLimitAlongLane(t *testing.T) {
	tests := []struct {
		name     string
		distance float64
		speed    float64
		want     float64
	}{
		{"far from lane end", 0, 100, 1000},
		{"half way through blend", 900, 100, 750},
		{"at lane end", 1000, 100, 500},
		{"stopped", 900, 0, 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, GetSpeedLimitAlongLane(1000, 1000, 500, tt.distance, tt.speed, 2), 1e-9)
		})
	}

	// 混合随距离单调
	last := math.Inf(1)
	for d := 0.; d <= 1000; d += 50 {
		v := GetSpeedLimitAlongLane(1000, 1000, 500, d, 100, 2)
		assert.LessOrEqual(t, v, last)
		last = v
	}
}

func TestTimeToCollision(t *testing.T) {
	origin := geometry.Point{}
	ahead := geometry.Point{X: 1000}
	forward := geometry.Point{X: 100}

	assert.InDelta(t, 9, TimeToCollision(origin, forward, 50, ahead, geometry.Point{}, 50), 1e-9)
	// 已重叠
	assert.Zero(t, TimeToCollision(origin, forward, 50, geometry.Point{X: 60}, geometry.Point{}, 50))
	// 远离
	assert.Equal(t, mathutil.INF, TimeToCollision(origin, geometry.Point{X: -100}, 50, ahead, geometry.Point{}, 50))
	// 相对静止
	assert.Equal(t, mathutil.INF, TimeToCollision(origin, forward, 50, ahead, forward, 50))
	// 横向错开
	assert.Equal(t, mathutil.INF, TimeToCollision(origin, forward, 50, geometry.Point{X: 1000, Y: 500}, geometry.Point{}, 50))
}

func TestTurnSpeedFactor(t *testing.T) {
	assert.InDelta(t, 1, TurnSpeedFactor(0, 0.5), 1e-9)
	assert.InDelta(t, 0.75, TurnSpeedFactor(-math.Pi/4, 0.5), 1e-9)
	assert.InDelta(t, 0.5, TurnSpeedFactor(math.Pi, 0.5), 1e-9)
}

func TestNoise(t *testing.T) {
	a, b := NewNoise(7), NewNoise(7)
	for x := 0.; x < 100000; x += 3333 {
		v := a.CalculateNoiseValue(x, 20000)
		assert.GreaterOrEqual(t, v, -1.)
		assert.LessOrEqual(t, v, 1.)
		assert.Equal(t, v, b.CalculateNoiseValue(x, 20000))
	}
	assert.Zero(t, a.CalculateNoiseValue(100, 0))
}

func TestPIDController(t *testing.T) {
	var p PIDController
	assert.InDelta(t, 6, p.Tick(10, 4, 0.5, config.PIDParams{P: 1}), 1e-9)

	var i PIDController
	params := config.PIDParams{I: 1, IntegralWindow: 1}
	assert.InDelta(t, 3, i.Tick(10, 4, 0.5, params), 1e-9)
	assert.InDelta(t, 4.5, i.Tick(10, 4, 0.5, params), 1e-9)
	i.ResetErrorIntegral()
	assert.InDelta(t, 3, i.Tick(10, 4, 0.5, params), 1e-9)

	var d PIDController
	assert.InDelta(t, 6, d.Tick(10, 4, 0.5, config.PIDParams{D: 1}), 1e-9)
	assert.InDelta(t, 0, d.Tick(10, 4, 0.5, config.PIDParams{D: 1}), 1e-9)
}

func TestSpaceTakenAndStopDistances(t *testing.T) {
	r := config.Range{Min: 100, Max: 300}
	assert.InDelta(t, 400, GetSpaceTakenByVehicleOnLane(100, 0.5, r), 1e-9)
	assert.InDelta(t, 700, GetDistanceAlongLaneToStopAt(1000, 100, 0.5, r), 1e-9)
	// 制动位置不晚于停车位置
	assert.InDelta(t, 700, GetDistanceAlongLaneToBrakeFrom(1000, 100, 0.5, 10, 4, r), 1e-9)
	assert.InDelta(t, 500, GetDistanceAlongLaneToBrakeFrom(1000, 100, 0.5, 100, 4, r), 1e-9)
}
