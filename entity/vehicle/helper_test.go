package vehicle

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/masstraffic-sim/clock"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/input"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/randengine"
)

type testContext struct {
	config *config.RuntimeConfig
	rand   *randengine.Engine
}

func (c *testContext) Clock() *clock.Clock                        { return nil }
func (c *testContext) RuntimeConfig() *config.RuntimeConfig       { return c.config }
func (c *testContext) Rand() *randengine.Engine                   { return c.rand }
func (c *testContext) VehicleManager() entity.IVehicleManager     { return nil }
func (c *testContext) ObstacleManager() entity.IObstacleManager   { return nil }
func (c *testContext) PedestrianSource() entity.IPedestrianSource { return nil }

func pts(xy ...float64) []input.Point {
	ps := make([]input.Point, 0, len(xy)/2)
	for i := 0; i+1 < len(xy); i += 2 {
		ps = append(ps, input.Point{X: xy[i], Y: xy[i+1]})
	}
	return ps
}

func ptr(v int32) *int32 { return &v }

// testNetwork 0 -> 1 -> 2 沿+X的直路；10与11为平行的可变道车道，11在10的左侧，分别接12与13
func testNetwork() []input.Lane {
	return []input.Lane{
		{ID: 0, Points: pts(0, 0, 10000, 0), Tags: []string{"traffic"}, SpeedLimit: 2000, Next: []int32{1}},
		{ID: 1, Points: pts(10000, 0, 20000, 0), Tags: []string{"traffic"}, SpeedLimit: 2000, Next: []int32{2}},
		{ID: 2, Points: pts(20000, 0, 30000, 0), Tags: []string{"traffic"}, SpeedLimit: 2000},
		{ID: 10, Points: pts(0, -5000, 10000, -5000), Tags: []string{"traffic", "lane_changing"}, SpeedLimit: 2000, Left: ptr(11), Next: []int32{12}},
		{ID: 11, Points: pts(0, -4650, 10000, -4650), Tags: []string{"traffic", "lane_changing"}, SpeedLimit: 2000, Right: ptr(10), Next: []int32{13}},
		{ID: 12, Points: pts(10000, -5000, 20000, -5000), Tags: []string{"traffic"}, SpeedLimit: 2000},
		{ID: 13, Points: pts(10000, -4650, 20000, -4650), Tags: []string{"traffic"}, SpeedLimit: 2000},
	}
}

func newTestManager(t *testing.T, c config.Config) (*VehicleManager, *lane.LaneManager) {
	t.Helper()
	ctx := &testContext{config: config.NewRuntimeConfig(c), rand: randengine.New(1, 0)}
	lm := lane.NewManager(ctx)
	lm.Init(testNetwork())
	m := NewManager(ctx, lm)
	return m, lm
}

func spawn(t *testing.T, m *VehicleManager, laneID int32, distance, speed float64) *Vehicle {
	t.Helper()
	h, err := m.Spawn(SpawnRequest{Lane: laneID, Distance: distance, Radius: 100, Speed: speed})
	require.NoError(t, err)
	return m.Get(h)
}
