package lane_test

import (
	"testing"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/masstraffic-sim/clock"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/container"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/input"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/randengine"
)

type testContext struct {
	config *config.RuntimeConfig
}

func (c *testContext) Clock() *clock.Clock                        { return nil }
func (c *testContext) RuntimeConfig() *config.RuntimeConfig       { return c.config }
func (c *testContext) Rand() *randengine.Engine                   { return nil }
func (c *testContext) VehicleManager() entity.IVehicleManager     { return nil }
func (c *testContext) ObstacleManager() entity.IObstacleManager   { return nil }
func (c *testContext) PedestrianSource() entity.IPedestrianSource { return nil }

type testVehicle struct {
	lane     int32
	distance float64
	radius   float64
	next     entity.VehicleHandle
}

// testChain 基于Arena的车辆链
type testChain struct {
	vehicles *container.Arena[testVehicle]
}

func newTestChain() *testChain {
	return &testChain{vehicles: container.NewArena[testVehicle]()}
}

func (c *testChain) add(lane int32, distance float64) entity.VehicleHandle {
	return c.vehicles.Alloc(&testVehicle{lane: lane, distance: distance, radius: 100})
}

func (c *testChain) link(hs ...entity.VehicleHandle) {
	for i := 0; i+1 < len(hs); i++ {
		v, _ := c.vehicles.Get(hs[i])
		v.next = hs[i+1]
	}
}

func (c *testChain) Valid(h entity.VehicleHandle) bool { return c.vehicles.Valid(h) }
func (c *testChain) LaneOf(h entity.VehicleHandle) int32 {
	if v, ok := c.vehicles.Get(h); ok {
		return v.lane
	}
	return entity.NoLane
}
func (c *testChain) NextOf(h entity.VehicleHandle) entity.VehicleHandle {
	v, _ := c.vehicles.Get(h)
	return v.next
}
func (c *testChain) DistanceAlongLane(h entity.VehicleHandle) float64 {
	v, _ := c.vehicles.Get(h)
	return v.distance
}
func (c *testChain) Radius(h entity.VehicleHandle) float64 {
	v, _ := c.vehicles.Get(h)
	return v.radius
}
func (c *testChain) Position(h entity.VehicleHandle) geometry.Point {
	v, _ := c.vehicles.Get(h)
	return geometry.Point{X: v.distance}
}

func pts(xy ...float64) []input.Point {
	ps := make([]input.Point, 0, len(xy)/2)
	for i := 0; i+1 < len(xy); i += 2 {
		ps = append(ps, input.Point{X: xy[i], Y: xy[i+1]})
	}
	return ps
}

// newTestManager 构造测试路网
// 0 -> {1(左转,路口), 4(直行,路口)}，1 -> 2，4 -> 5，3为人行横道，6没有交通标签
func newTestManager(t *testing.T) *lane.LaneManager {
	t.Helper()
	ctx := &testContext{config: config.NewRuntimeConfig(config.Default())}
	m := lane.NewManager(ctx)
	m.Init([]input.Lane{
		{ID: 0, Points: pts(0, 0, 1000, 0), Tags: []string{"traffic"}, SpeedLimit: 1000, Next: []int32{1, 4, 3}},
		{ID: 1, Points: pts(1000, 0, 1500, 0, 1500, 500), Tags: []string{"traffic", "intersection"}, SpeedLimit: 500, Next: []int32{2}},
		{ID: 2, Points: pts(1500, 500, 1500, 1500), Tags: []string{"traffic"}, SpeedLimit: 1500},
		{ID: 3, Points: pts(900, -300, 900, 300), Tags: []string{"crosswalk"}},
		{ID: 4, Points: pts(1000, 0, 2000, 0), Tags: []string{"traffic", "intersection"}, SpeedLimit: 700, Next: []int32{5}},
		{ID: 5, Points: pts(2000, 0, 3000, 0), Tags: []string{"traffic"}, SpeedLimit: 1000},
		{ID: 6, Points: pts(0, 100, 10, 100)},
	})
	return m
}

func TestLaneManagerInit(t *testing.T) {
	m := newTestManager(t)
	l0, l1, l2, l4 := m.Get(0), m.Get(1), m.Get(2), m.Get(4)

	// 人行横道不作为后继
	assert.Equal(t, []*lane.Lane{l1, l4}, l0.NextLanes())
	assert.InDelta(t, 600, l0.AverageNextLanesSpeedLimit(), 1e-9)
	assert.Zero(t, l2.AverageNextLanesSpeedLimit())
	assert.Equal(t, []*lane.Lane{l4}, l1.SplittingLanes())
	assert.Equal(t, []*lane.Lane{l1}, l4.SplittingLanes())
	assert.Equal(t, []*lane.Lane{l0}, l1.PrevLanes())

	assert.True(t, l1.TurnsLeft())
	assert.False(t, l1.TurnsRight())
	assert.False(t, l4.TurnsLeft() || l4.TurnsRight())
	assert.False(t, l1.IsRightMostLane())
	assert.True(t, l4.IsRightMostLane())

	assert.True(t, l2.IsDownstreamFromIntersection())
	assert.True(t, m.Get(5).IsDownstreamFromIntersection())
	assert.False(t, l0.IsDownstreamFromIntersection())

	assert.InDelta(t, 1000., l1.Length(), 1e-9)
	assert.True(t, l0.IsOpen)
	assert.Equal(t, l0.Length(), l0.SpaceAvailable)
	assert.Len(t, m.TrafficLanes(), 5)
	assert.Len(t, m.Crosswalks(), 1)
}

func TestLaneManagerLookup(t *testing.T) {
	m := newTestManager(t)
	_, ok := m.Lookup(3)
	assert.True(t, ok)
	_, ok = m.Lookup(6)
	assert.False(t, ok)
	_, ok = m.Lookup(100)
	assert.False(t, ok)
	_, ok = m.Lookup(-1)
	assert.False(t, ok)
	_, err := m.GetOrError(100)
	assert.Error(t, err)
	assert.Panics(t, func() { m.Get(100) })
}

func TestLaneGeometry(t *testing.T) {
	m := newTestManager(t)
	l1 := m.Get(1)
	p := l1.GetPositionByS(750)
	assert.InDelta(t, 1500, p.X, 1e-9)
	assert.InDelta(t, 250, p.Y, 1e-9)
	assert.InDelta(t, 600., l1.ProjectToLane(geometry.Point{X: 1600, Y: 100}), 1e-9)
	// 向右偏移：前进方向为+Y时右侧为+X
	q := l1.GetOffsetPositionByS(750, 10)
	assert.InDelta(t, 1510, q.X, 1e-9)
	assert.True(t, l1.Bound().Contains([2]float64{1500, 250}))
}

func TestOccupancy(t *testing.T) {
	m := newTestManager(t)
	a, b := m.Get(0), m.Get(5)
	a.AddVehicleOccupancy(300)
	assert.Equal(t, int32(1), a.NumVehiclesOnLane)
	assert.InDelta(t, 700, a.SpaceAvailable, 1e-9)
	assert.InDelta(t, 0.3, a.BasicDensity(), 1e-9)
	assert.InDelta(t, 0.3, a.FunctionalDensity(), 1e-9)

	// 转移：A增加footprint，B减少footprint
	a.RemoveVehicleOccupancy(300)
	b.AddVehicleOccupancy(300)
	assert.InDelta(t, a.Length(), a.SpaceAvailable, 1e-9)
	assert.InDelta(t, b.Length()-300, b.SpaceAvailable, 1e-9)

	// 超额归还时截断到车道长度
	a.AddVehicleOccupancy(100)
	a.RemoveVehicleOccupancy(500)
	assert.Equal(t, a.Length(), a.SpaceAvailable)
	assert.Equal(t, int32(0), a.NumVehiclesOnLane)

	// 允许为负
	for i := 0; i < 5; i++ {
		b.AddVehicleOccupancy(300)
	}
	assert.Less(t, b.SpaceAvailable, 0.)
	assert.Greater(t, b.BasicDensity(), 1.)
	for _, l := range m.Lanes() {
		assert.LessOrEqual(t, l.SpaceAvailable, l.Length())
	}
}

func TestClearVehiclesIdempotent(t *testing.T) {
	m := newTestManager(t)
	chain := newTestChain()
	l := m.Get(0)
	l.AddVehicleOccupancy(200)
	l.NumVehiclesApproachingLane = 2
	l.NumReservedVehiclesOnLane = 1
	l.NumVehiclesLaneChangingOntoLane = 1
	l.TailVehicle = chain.add(0, 100)
	l.GhostTailVehicleFromMergingLane = chain.add(0, 200)
	l.UpdateDownstreamFlowDensity(0.5)

	l.ClearVehicles()
	once := *l
	l.ClearVehicles()
	assert.Equal(t, once, *l)
	assert.Equal(t, l.Length(), l.SpaceAvailable)
	assert.Zero(t, l.NumVehiclesOnLane)
	assert.Zero(t, l.NumVehiclesApproachingLane)
	assert.False(t, l.TailVehicle.IsSet())
	assert.False(t, l.GhostTailVehicleFromMergingLane.IsSet())
	assert.Zero(t, l.DownstreamFlowDensity())
}

func TestForEachVehicleOnLane(t *testing.T) {
	m := newTestManager(t)
	chain := newTestChain()
	l := m.Get(0)
	a, b, c := chain.add(0, 100), chain.add(0, 400), chain.add(0, 800)
	d := chain.add(1, 50)
	chain.link(a, b, c, d)
	l.TailVehicle = a

	visited := []entity.VehicleHandle{}
	ok := l.ForEachVehicleOnLane(chain, func(h entity.VehicleHandle) bool {
		visited = append(visited, h)
		return true
	})
	assert.True(t, ok)
	assert.Equal(t, []entity.VehicleHandle{a, b, c}, visited)

	// 访问函数返回false时停止
	count := 0
	l.ForEachVehicleOnLane(chain, func(entity.VehicleHandle) bool {
		count++
		return count < 2
	})
	assert.Equal(t, 2, count)

	// 环路回到尾车时停止
	chain.link(c, a)
	visited = visited[:0]
	assert.True(t, l.ForEachVehicleOnLane(chain, func(h entity.VehicleHandle) bool {
		visited = append(visited, h)
		return true
	}))
	assert.Len(t, visited, 3)

	// 自环视为链表异常
	chain.link(b, b)
	assert.False(t, l.ForEachVehicleOnLane(chain, func(entity.VehicleHandle) bool { return true }))
}

func TestFindNearestVehiclesInLane(t *testing.T) {
	m := newTestManager(t)
	chain := newTestChain()
	l := m.Get(0)

	prev, next := l.FindNearestVehiclesInLane(chain, 500)
	assert.False(t, prev.IsSet())
	assert.False(t, next.IsSet())

	a, b, c := chain.add(0, 100), chain.add(0, 400), chain.add(0, 800)
	d := chain.add(1, 50)
	chain.link(a, b, c, d)
	l.TailVehicle = a

	tests := []struct {
		distance   float64
		prev, next entity.VehicleHandle
	}{
		{50, entity.VehicleHandle{}, a},
		{100, entity.VehicleHandle{}, a},
		{300, a, b},
		{400, a, b},
		{500, b, c},
		{900, c, entity.VehicleHandle{}},
	}
	for _, tt := range tests {
		prev, next := l.FindNearestVehiclesInLane(chain, tt.distance)
		assert.Equal(t, tt.prev, prev, "distance %v", tt.distance)
		assert.Equal(t, tt.next, next, "distance %v", tt.distance)
	}

	chain.link(b, b)
	prev, next = l.FindNearestVehiclesInLane(chain, 900)
	assert.Equal(t, b, prev)
	assert.False(t, next.IsSet())
}

func TestFindNearestTailVehicleOnNextLanes(t *testing.T) {
	m := newTestManager(t)
	chain := newTestChain()
	l1, l4 := m.Get(1), m.Get(4)
	near, far := chain.add(4, 1100), chain.add(1, 1400)
	l1.TailVehicle = far
	l4.GhostTailVehicleFromLaneChange = near

	pos := geometry.Point{X: 1000}
	assert.Equal(t, near, m.Get(0).FindNearestTailVehicleOnNextLanes(chain, pos, lane.TailAny))
	assert.Equal(t, far, m.Get(0).FindNearestTailVehicleOnNextLanes(chain, pos, lane.TailRegular))
	assert.False(t, m.Get(0).FindNearestTailVehicleOnNextLanes(chain, pos, lane.TailMergingLaneGhost).IsSet())
}

func TestSpaceAvailableFromStartOfLane(t *testing.T) {
	m := newTestManager(t)
	chain := newTestChain()
	l := m.Get(0)
	l.AddVehicleOccupancy(300)
	ghost := chain.add(5, 250)
	l.TailVehicle = chain.add(0, 600)
	l.GhostTailVehicleFromLaneChange = ghost

	// 没有变道车辆时只看剩余空间
	assert.InDelta(t, 700, l.SpaceAvailableFromStartOfLaneForVehicle(chain, true, true), 1e-9)

	l.NumVehiclesLaneChangingOffOfLane = 1
	assert.InDelta(t, 500, l.SpaceAvailableFromStartOfLaneForVehicle(chain, false, false), 1e-9)
	assert.InDelta(t, 150, l.SpaceAvailableFromStartOfLaneForVehicle(chain, true, false), 1e-9)
}

func TestDownstreamFlowDensity(t *testing.T) {
	m := newTestManager(t)
	order := lo.Map(m.DownstreamOrder(), func(l *lane.Lane, _ int) int32 { return l.ID() })
	require.Len(t, order, 5)
	index := func(id int32) int { return lo.IndexOf(order, id) }
	assert.Less(t, index(2), index(1))
	assert.Less(t, index(1), index(0))
	assert.Less(t, index(5), index(4))
	assert.Less(t, index(4), index(0))

	m.Get(5).AddVehicleOccupancy(500)
	m.Get(0).AddVehicleOccupancy(400)
	m.UpdateDownstreamFlowDensities()
	// 没有后继的车道保持原值，不取本车道功能密度
	assert.InDelta(t, 0.5, m.Get(5).FunctionalDensity(), 1e-9)
	assert.Zero(t, m.Get(5).DownstreamFlowDensity())
	assert.Zero(t, m.Get(2).DownstreamFlowDensity())
	// 路口内车道不参与计算
	assert.Zero(t, m.Get(4).DownstreamFlowDensity())
	// 越过路口内车道取(0+0)/2，再与本车道功能密度0.4按0.5混合
	assert.InDelta(t, 0.2, m.Get(0).DownstreamFlowDensity(), 1e-9)

	m.UpdateDownstreamFlowDensities()
	assert.InDelta(t, 0.2, m.Get(0).DownstreamFlowDensity(), 1e-9)
	assert.Zero(t, m.Get(5).DownstreamFlowDensity())

	m.ClearVehicles()
	assert.Zero(t, m.Get(0).DownstreamFlowDensity())
}
