package vehicle

import (
	"testing"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/input"
)

func TestInitLinksVehicles(t *testing.T) {
	m, lm := newTestManager(t, config.Default())
	m.Init([]input.Vehicle{
		{Lane: 0, Distance: 3000, Radius: 100, Speed: 500},
		{Lane: 0, Distance: 500, Radius: 100, Speed: 500},
		{Lane: 0, Distance: 1000, Radius: 100, Speed: 500},
		{Lane: 1, Distance: 200, Radius: 100, Speed: 500},
		{Lane: 99, Distance: 200, Radius: 100},
	})
	require.Equal(t, 4, m.Len())

	l0, l1 := lm.Get(0), lm.Get(1)
	tail := m.Get(l0.TailVehicle)
	assert.InDelta(t, 500, tail.Distance(), 1e-9)
	second := m.Get(tail.Next())
	assert.InDelta(t, 1000, second.Distance(), 1e-9)
	front := m.Get(second.Next())
	assert.InDelta(t, 3000, front.Distance(), 1e-9)
	// 车道最前方的车辆以后继车道的尾车为前车
	assert.Equal(t, l1.TailVehicle, front.Next())

	assert.Equal(t, int32(3), l0.NumVehiclesOnLane)
	spent := tail.spaceTaken + second.spaceTaken + front.spaceTaken
	assert.InDelta(t, l0.Length()-spent, l0.SpaceAvailable, 1e-6)
	// 唯一后继车道在生成时即被选择
	assert.Equal(t, l1, tail.NextLane())
	assert.Equal(t, int32(3), l1.NumVehiclesApproachingLane)

	assert.InDelta(t, 300, tail.DistanceToNext(), 1e-6)
	assert.InDelta(t, 1800, second.DistanceToNext(), 1e-6)
}

func TestInitSpeedPending(t *testing.T) {
	m, _ := newTestManager(t, config.Default())
	m.Init([]input.Vehicle{{Lane: 0, Distance: 500, Radius: 100, Speed: -1}})
	v := m.Vehicles()[0]
	assert.False(t, v.isInitialSpeedPending)
	assert.Greater(t, v.Speed(), 0.)
}

func TestSpawnIntoLinkedChain(t *testing.T) {
	m, lm := newTestManager(t, config.Default())
	m.Init([]input.Vehicle{
		{Lane: 0, Distance: 1000, Radius: 100},
		{Lane: 0, Distance: 5000, Radius: 100},
	})
	l0 := lm.Get(0)
	oldTail := l0.TailVehicle

	_, err := m.Spawn(SpawnRequest{Lane: 0, Distance: 1050, Radius: 100})
	assert.ErrorIs(t, err, ErrNoSpace)
	_, err = m.Spawn(SpawnRequest{Lane: 3, Distance: 0, Radius: 100})
	assert.Error(t, err)

	h, err := m.Spawn(SpawnRequest{Lane: 0, Distance: 3000, Radius: 100})
	require.NoError(t, err)
	assert.Equal(t, h, m.Get(oldTail).Next())

	h2, err := m.Spawn(SpawnRequest{Lane: 0, Distance: 100, Radius: 100})
	require.NoError(t, err)
	assert.Equal(t, h2, l0.TailVehicle)
	assert.Equal(t, oldTail, m.Get(h2).Next())
	assert.Equal(t, int32(4), l0.NumVehiclesOnLane)
}

func TestDespawnRepairsChain(t *testing.T) {
	m, lm := newTestManager(t, config.Default())
	m.Init([]input.Vehicle{
		{Lane: 0, Distance: 500, Radius: 100},
		{Lane: 0, Distance: 1000, Radius: 100},
		{Lane: 0, Distance: 3000, Radius: 100},
	})
	l0, l1 := lm.Get(0), lm.Get(1)
	tail := m.Get(l0.TailVehicle)
	middle := tail.Next()
	front := m.Get(middle).Next()

	m.Remove(middle)
	assert.Equal(t, 3, m.Len())
	m.Prepare()
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, front, tail.Next())
	assert.Equal(t, int32(2), l0.NumVehiclesOnLane)
	assert.Equal(t, int32(2), l1.NumVehiclesApproachingLane)

	require.NoError(t, m.Despawn(l0.TailVehicle))
	assert.Equal(t, front, l0.TailVehicle)
	require.NoError(t, m.Despawn(front))
	assert.False(t, l0.TailVehicle.IsSet())
	assert.InDelta(t, l0.Length(), l0.SpaceAvailable, 1e-9)
	assert.Zero(t, l1.NumVehiclesApproachingLane)
	assert.ErrorIs(t, m.Despawn(front), ErrInvalidHandle)
}

// 车辆驶过车道终点后，车道空间与计数在两条车道之间守恒
func TestMoveVehicleToNextLane(t *testing.T) {
	c := config.Default()
	c.Vehicle.LaneChange.Enabled = false
	m, lm := newTestManager(t, c)
	m.Init([]input.Vehicle{{Lane: 0, Distance: 9500, Radius: 100, Speed: 1500}})
	v := m.Vehicles()[0]
	l0, l1, l2 := lm.Get(0), lm.Get(1), lm.Get(2)

	for i := 0; i < 30 && v.Lane() == l0; i++ {
		m.UpdateDistances()
		m.Update(0.1)
	}
	require.Equal(t, l1, v.Lane())
	assert.Equal(t, l0, v.prevLane)
	assert.False(t, l0.TailVehicle.IsSet())
	assert.Equal(t, v.Handle(), l1.TailVehicle)
	assert.Zero(t, l0.NumVehiclesOnLane)
	assert.Equal(t, int32(1), l1.NumVehiclesOnLane)
	assert.InDelta(t, l0.Length(), l0.SpaceAvailable, 1e-9)
	assert.InDelta(t, l1.Length()-v.spaceTaken, l1.SpaceAvailable, 1e-9)
	assert.Zero(t, l1.NumVehiclesApproachingLane)
	assert.Equal(t, l2, v.NextLane())
	assert.Equal(t, int32(1), l2.NumVehiclesApproachingLane)
	assert.Less(t, v.Distance(), 1000.)
	assert.InDelta(t, 10000+v.Distance(), v.Position().X, 1)
}

// 死路尽头的车辆停在车道终点之前
func TestVehicleStopsAtDeadEnd(t *testing.T) {
	c := config.Default()
	c.Vehicle.LaneChange.Enabled = false
	m, lm := newTestManager(t, c)
	m.Init([]input.Vehicle{{Lane: 2, Distance: 7000, Radius: 100, Speed: 1000}})
	v := m.Vehicles()[0]
	for i := 0; i < 600; i++ {
		m.UpdateDistances()
		m.Update(0.1)
	}
	assert.Equal(t, lm.Get(2), v.Lane())
	assert.Less(t, v.Distance(), lm.Get(2).Length())
	assert.InDelta(t, 0, v.Speed(), 1)
}

func TestTeleport(t *testing.T) {
	m, lm := newTestManager(t, config.Default())
	m.Init([]input.Vehicle{
		{Lane: 10, Distance: 1000, Radius: 100},
		{Lane: 10, Distance: 3000, Radius: 100},
		{Lane: 11, Distance: 6000, Radius: 100},
	})
	l10, l11 := lm.Get(10), lm.Get(11)
	behind := l10.TailVehicle
	v := m.Get(m.Get(behind).Next())
	occupied := l11.SpaceAvailable
	ahead := l11.TailVehicle

	// 目标车道有尾车却不提供前后车辆
	err := m.Teleport(v.Handle(), 11, 3000, entity.VehicleHandle{}, entity.VehicleHandle{}, behind, entity.VehicleHandle{})
	assert.ErrorIs(t, err, ErrChainInconsistent)
	assert.Equal(t, l10, v.Lane())

	require.NoError(t, m.Teleport(v.Handle(), 11, 3000, entity.VehicleHandle{}, ahead, behind, entity.VehicleHandle{}))
	assert.Equal(t, l11, v.Lane())
	assert.Equal(t, v.Handle(), l11.TailVehicle)
	assert.Equal(t, ahead, v.Next())
	assert.False(t, m.Get(behind).Next().IsSet())
	assert.Equal(t, int32(1), l10.NumVehiclesOnLane)
	assert.Equal(t, int32(2), l11.NumVehiclesOnLane)
	assert.InDelta(t, occupied-v.spaceTaken, l11.SpaceAvailable, 1e-9)
	assert.InDelta(t, -4650, v.Position().Y, 1e-6)
	assert.InDelta(t, 6000-3000-200, v.DistanceToNext(), 1e-6)
	assert.Error(t, m.Teleport(v.Handle(), 99, 0, entity.VehicleHandle{}, entity.VehicleHandle{}, entity.VehicleHandle{}, entity.VehicleHandle{}))
}

func TestExternallyDrivenVehicle(t *testing.T) {
	c := config.Default()
	c.Vehicle.LaneChange.Enabled = false
	m, lm := newTestManager(t, c)
	h, err := m.Spawn(SpawnRequest{Lane: 0, Distance: 1000, Radius: 100, ExternallyDriven: true})
	require.NoError(t, err)
	m.LinkVehicles()
	m.UpdateDistances()
	m.Update(0.1)

	v := m.Get(h)
	out := v.Control()
	assert.True(t, out.ApplySteering)
	assert.Greater(t, out.Throttle, 0.)
	assert.Zero(t, out.Brake)
	// 位置不由仿真推进
	assert.InDelta(t, 1000, v.Distance(), 1e-9)

	require.NoError(t, m.SetPhysicalState(h, geometry.Point{X: 1500, Y: 20}, geometry.Point{X: 300}))
	assert.InDelta(t, 1500, v.Distance(), 1e-9)
	assert.InDelta(t, 300, v.Speed(), 1e-9)

	require.NoError(t, m.SetPhysicalState(h, geometry.Point{X: 10001}, geometry.Point{X: 300}))
	assert.Equal(t, lm.Get(1), v.Lane())
	assert.ErrorIs(t, m.SetPhysicalState(entity.VehicleHandle{}, geometry.Point{}, geometry.Point{}), ErrInvalidHandle)
}
