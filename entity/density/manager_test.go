package density_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/masstraffic-sim/clock"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/density"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/vehicle"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/input"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/randengine"
)

type testContext struct {
	config *config.RuntimeConfig
	rand   *randengine.Engine
	vm     *vehicle.VehicleManager
}

func (c *testContext) Clock() *clock.Clock                        { return nil }
func (c *testContext) RuntimeConfig() *config.RuntimeConfig       { return c.config }
func (c *testContext) Rand() *randengine.Engine                   { return c.rand }
func (c *testContext) ObstacleManager() entity.IObstacleManager   { return nil }
func (c *testContext) PedestrianSource() entity.IPedestrianSource { return nil }
func (c *testContext) VehicleManager() entity.IVehicleManager {
	if c.vm == nil {
		return nil
	}
	return c.vm
}

func pts(xy ...float64) []input.Point {
	ps := make([]input.Point, 0, len(xy)/2)
	for i := 0; i+1 < len(xy); i += 2 {
		ps = append(ps, input.Point{X: xy[i], Y: xy[i+1]})
	}
	return ps
}

const (
	busyLane    = 0 // 远离观察者的拥挤车道
	emptyLane   = 1 // 远离观察者的空车道
	nearbyLane  = 2 // 观察者附近的拥挤车道
	partlyEmpty = 3 // 远离观察者的另一条空车道
)

func testNetwork() []input.Lane {
	return []input.Lane{
		{ID: busyLane, Points: pts(100000, 0, 110000, 0), Tags: []string{"traffic"}, MaxDensity: 0.2},
		{ID: emptyLane, Points: pts(0, 200000, 10000, 200000), Tags: []string{"traffic"}},
		{ID: nearbyLane, Points: pts(0, 0, 10000, 0), Tags: []string{"traffic"}, MaxDensity: 0.2},
		{ID: partlyEmpty, Points: pts(0, -200000, 10000, -200000), Tags: []string{"traffic"}},
	}
}

func newTestDensity(t *testing.T, modify func(c *config.Config)) (*density.DensityManager, *vehicle.VehicleManager, *lane.LaneManager) {
	t.Helper()
	c := config.Default()
	c.Density.NumPartitions = 1
	if modify != nil {
		modify(&c)
	}
	ctx := &testContext{config: config.NewRuntimeConfig(c), rand: randengine.New(1, 0)}
	lm := lane.NewManager(ctx)
	lm.Init(testNetwork())
	ctx.vm = vehicle.NewManager(ctx, lm)
	return density.NewManager(ctx, lm), ctx.vm, lm
}

func fill(t *testing.T, vm *vehicle.VehicleManager, laneID int32, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := vm.Spawn(vehicle.SpawnRequest{Lane: laneID, Distance: 300 + float64(i)*450, Radius: 100})
		require.NoError(t, err)
	}
}

// chainOf 按尾车到头车的顺序返回车道上的车辆距离
func chainOf(vm *vehicle.VehicleManager, l *lane.Lane) []float64 {
	res := make([]float64, 0)
	l.ForEachVehicleOnLane(vm, func(h entity.VehicleHandle) bool {
		res = append(res, vm.DistanceAlongLane(h))
		return true
	})
	return res
}

func assertChainConsistent(t *testing.T, vm *vehicle.VehicleManager, lm *lane.LaneManager) {
	t.Helper()
	total := 0
	for _, l := range lm.TrafficLanes() {
		chain := chainOf(vm, l)
		assert.Len(t, chain, int(l.NumVehiclesOnLane), "%v", l)
		assert.IsNonDecreasing(t, chain, "%v", l)
		assert.LessOrEqual(t, l.SpaceAvailable, l.Length())
		total += len(chain)
	}
	assert.Equal(t, vm.Len(), total)
}

func TestTransferFromBusiestLane(t *testing.T) {
	m, vm, lm := newTestDensity(t, nil)
	fill(t, vm, busyLane, 20)
	vm.LinkVehicles()
	vm.UpdateDistances()
	busy, empty := lm.Get(busyLane), lm.Get(emptyLane)
	require.Greater(t, busy.BasicDensity()-busy.MaxDensity(), 0.)

	require.True(t, m.Update(0))
	stats := m.LastStats()
	assert.Equal(t, 1, stats.NumBusiestLanes)
	assert.Equal(t, 2, stats.NumLeastBusiestLanes)
	assert.Positive(t, stats.NumTransferred)
	assert.Equal(t, int32(20-stats.NumTransferred), busy.NumVehiclesOnLane)
	assert.Equal(t, int32(stats.NumTransferred), empty.NumVehiclesOnLane+lm.Get(partlyEmpty).NumVehiclesOnLane)
	assertChainConsistent(t, vm, lm)
	assert.Equal(t, 4, stats.NumLanes)
	assert.Positive(t, stats.MaxFunctionalDensity)
}

func TestTransferKeepsOrderOnOccupiedLane(t *testing.T) {
	m, vm, lm := newTestDensity(t, func(c *config.Config) {
		c.Density.NumLeastBusiestLanesToTransferTo = 1
	})
	fill(t, vm, busyLane, 20)
	fill(t, vm, emptyLane, 1)
	fill(t, vm, partlyEmpty, 5)
	vm.LinkVehicles()
	vm.UpdateDistances()

	// 只保留功能密度最低的车道作为目标
	require.True(t, m.Update(0))
	stats := m.LastStats()
	assert.Equal(t, 1, stats.NumLeastBusiestLanes)
	assert.Positive(t, stats.NumTransferred)
	assert.Equal(t, int32(1+stats.NumTransferred), lm.Get(emptyLane).NumVehiclesOnLane)
	assert.Equal(t, int32(5), lm.Get(partlyEmpty).NumVehiclesOnLane)
	assertChainConsistent(t, vm, lm)
}

func TestVisibleVehiclesAreNotTransferred(t *testing.T) {
	m, vm, lm := newTestDensity(t, func(c *config.Config) {
		c.Density.BusiestLaneDistanceToViewerRange = config.Range{Min: 0, Max: 1e12}
	})
	fill(t, vm, nearbyLane, 20)
	vm.LinkVehicles()
	vm.UpdateDistances()

	require.True(t, m.Update(0))
	stats := m.LastStats()
	assert.Equal(t, 1, stats.NumBusiestLanes)
	assert.Zero(t, stats.NumTransferred)
	assert.Equal(t, int32(20), lm.Get(nearbyLane).NumVehiclesOnLane)
}

func TestMinTransferDistance(t *testing.T) {
	m, vm, lm := newTestDensity(t, func(c *config.Config) {
		c.Density.MinTransferDistance = 1e9
	})
	fill(t, vm, busyLane, 20)
	vm.LinkVehicles()
	vm.UpdateDistances()

	require.True(t, m.Update(0))
	assert.Zero(t, m.LastStats().NumTransferred)
	assert.Equal(t, int32(20), lm.Get(busyLane).NumVehiclesOnLane)
}

func TestPartitionsAndTrunkPhase(t *testing.T) {
	m, vm, _ := newTestDensity(t, func(c *config.Config) {
		c.Density.NumPartitions = 3
		c.Density.IntervalFrames = 2
	})
	assert.False(t, m.Update(0), "no vehicles")
	fill(t, vm, busyLane, 1)
	vm.LinkVehicles()

	assert.False(t, m.Update(1), "off cadence")
	want := []int{2, 2, 0}
	for i, n := range want {
		require.True(t, m.Update(int32(2*i)))
		stats := m.LastStats()
		assert.Equal(t, i, stats.Partition)
		assert.Equal(t, n, stats.NumLanes)
		assert.False(t, stats.TrunkLanesPhase)
	}
	assert.Equal(t, 0, m.PartitionIndex())
	assert.True(t, m.TrunkLanesPhase())

	// 干道阶段没有干道可选
	require.True(t, m.Update(6))
	assert.Zero(t, m.LastStats().NumBusiestLanes)
	assert.Zero(t, m.LastStats().NumLeastBusiestLanes)
}

func TestDisabled(t *testing.T) {
	m, vm, _ := newTestDensity(t, func(c *config.Config) {
		c.Density.Enabled = false
	})
	fill(t, vm, busyLane, 1)
	vm.LinkVehicles()
	assert.False(t, m.Update(0))
}
