package obstacle_test

import (
	"testing"

	"git.fiblab.net/general/common/v2/geometry"
	"git.fiblab.net/general/common/v2/mathutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/masstraffic-sim/clock"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/obstacle"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/vehicle"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/input"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/randengine"
)

type testContext struct {
	config   *config.RuntimeConfig
	rand     *randengine.Engine
	vehicles *vehicle.VehicleManager
	obstacle *obstacle.ObstacleManager
}

func (c *testContext) Clock() *clock.Clock                        { return nil }
func (c *testContext) RuntimeConfig() *config.RuntimeConfig       { return c.config }
func (c *testContext) Rand() *randengine.Engine                   { return c.rand }
func (c *testContext) VehicleManager() entity.IVehicleManager     { return c.vehicles }
func (c *testContext) ObstacleManager() entity.IObstacleManager   { return c.obstacle }
func (c *testContext) PedestrianSource() entity.IPedestrianSource { return nil }

func setup(t *testing.T, vehicles []input.Vehicle) (*testContext, *lane.LaneManager) {
	t.Helper()
	ctx := &testContext{config: config.NewRuntimeConfig(config.Default()), rand: randengine.New(1, 0)}
	lm := lane.NewManager(ctx)
	lm.Init([]input.Lane{{
		ID:         0,
		Points:     []input.Point{{X: 0, Y: 0}, {X: 10000, Y: 0}},
		Tags:       []string{"traffic"},
		SpeedLimit: 1000,
	}})
	ctx.vehicles = vehicle.NewManager(ctx, lm)
	ctx.obstacle = obstacle.NewManager(ctx, lm)
	ctx.vehicles.Init(vehicles)
	require.Equal(t, len(vehicles), ctx.vehicles.Len())
	return ctx, lm
}

// 车辆前方200处有半径50的障碍物
func TestObstacleAheadOfVehicle(t *testing.T) {
	ctx, lm := setup(t, []input.Vehicle{{Lane: 0, Distance: 1000, Radius: 100, Speed: 500}})
	om := ctx.obstacle
	om.Init([]input.Obstacle{
		{ID: 1, Position: input.Point{X: 1200, Y: 0}, Radius: 50},
		{ID: 2, Position: input.Point{X: 500, Y: 0}, Radius: 50},
		{ID: 3, Position: input.Point{X: 5000, Y: 50000}, Radius: 50},
	})
	om.Update()

	h := lm.Get(0).TailVehicle
	assert.Equal(t, []entity.ObstacleID{1}, om.ObstaclesOf(h))

	ctx.vehicles.UpdateDistances()
	v := ctx.vehicles.Get(h)
	assert.Less(t, v.TimeToCollision(), mathutil.INF)
	assert.InDelta(t, 50, v.DistanceToCollision(), 1e-6)

	state, ok := om.State(1)
	require.True(t, ok)
	assert.InDelta(t, 50, state.Radius, 1e-9)
	_, ok = om.State(99)
	assert.False(t, ok)
}

func TestObstacleBufferedChanges(t *testing.T) {
	ctx, lm := setup(t, []input.Vehicle{{Lane: 0, Distance: 1000, Radius: 100, Speed: 500}})
	om := ctx.obstacle
	h := lm.Get(0).TailVehicle

	om.Add(obstacle.AddRequest{ID: 7, Position: geometry.Point{X: 2000}, Radius: 50})
	om.Update()
	assert.Empty(t, om.ObstaclesOf(h))

	om.Prepare()
	om.Update()
	assert.Equal(t, []entity.ObstacleID{7}, om.ObstaclesOf(h))

	om.Add(obstacle.AddRequest{ID: 3, Position: geometry.Point{X: 3000}, Radius: 50})
	om.Prepare()
	om.Update()
	assert.Equal(t, []entity.ObstacleID{3, 7}, om.ObstaclesOf(h))

	// 移到车辆后方后不再需要避让
	om.SetState(7, geometry.Point{X: 200}, geometry.Point{})
	om.Remove(3)
	om.Prepare()
	om.Update()
	assert.Empty(t, om.ObstaclesOf(h))
	assert.Equal(t, 1, om.Len())
	assert.InDelta(t, 200, om.Get(7).Position().X, 1e-9)
	_, err := om.GetOrError(3)
	assert.Error(t, err)
}

// 车辆本身作为障碍物时跟随车辆位置，由其后车避让
func TestVehicleObstacle(t *testing.T) {
	ctx, lm := setup(t, []input.Vehicle{
		{Lane: 0, Distance: 1000, Radius: 100, Speed: 500},
		{Lane: 0, Distance: 3000, Radius: 100, Speed: 500},
	})
	om := ctx.obstacle
	behind := lm.Get(0).TailVehicle
	front := ctx.vehicles.Get(behind).Next()

	om.Add(obstacle.AddRequest{ID: 1, Radius: 100, Vehicle: front})
	om.Prepare()
	om.Update()
	assert.InDelta(t, 3000, om.Get(1).Position().X, 1e-6)
	assert.Equal(t, []entity.ObstacleID{1}, om.ObstaclesOf(behind))
	assert.Empty(t, om.ObstaclesOf(front))
}
