package junction

import (
	"math"
	"testing"

	"git.fiblab.net/general/common/v2/geometry"
	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/masstraffic-sim/clock"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity"
	"github.com/tsinghua-fib-lab/masstraffic-sim/entity/lane"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/config"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/input"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/randengine"
)

type testContext struct {
	config      *config.RuntimeConfig
	pedestrians *StaticPedestrianSource
}

func (c *testContext) Clock() *clock.Clock                      { return nil }
func (c *testContext) RuntimeConfig() *config.RuntimeConfig     { return c.config }
func (c *testContext) Rand() *randengine.Engine                 { return nil }
func (c *testContext) VehicleManager() entity.IVehicleManager   { return nil }
func (c *testContext) ObstacleManager() entity.IObstacleManager { return nil }
func (c *testContext) PedestrianSource() entity.IPedestrianSource {
	if c.pedestrians == nil {
		return nil
	}
	return c.pedestrians
}

const (
	testRadius     = 1000. // 路口中心到进口的距离
	testLaneOffset = 300.  // 车道中心线到道路轴线的距离
	testRoadLength = 2000.
)

// sideSpec 测试路口的一个进口方向
type sideSpec struct {
	angle     float64 // 从路口中心指向进口的方向（度）
	light     bool
	trunk     bool
	crosswalk bool
}

// testIntersection 右侧通行的测试路口
// 说明：每个进口有一条驶入道路，驶向其他每个出口各有一条路口内车道；extraExits只有驶出道路，构成隐藏方向
type testIntersection struct {
	lanes []input.Lane
	def   input.Intersection

	turns      map[[2]int]int32 // (进口输入下标, 出口下标) -> 路口内车道
	feeders    []int32          // 各进口的驶入道路
	crosswalks []int32
	waiting    []int32
}

func unitOf(deg float64) geometry.Point {
	rad := deg * math.Pi / 180
	return geometry.Point{X: math.Cos(rad), Y: math.Sin(rad)}
}

func rightOf(dir geometry.Point) geometry.Point {
	return geometry.Point{X: dir.Y, Y: -dir.X}
}

func inputLine(ps ...geometry.Point) []input.Point {
	return lo.Map(ps, func(p geometry.Point, _ int) input.Point {
		return input.Point{X: p.X, Y: p.Y}
	})
}

func pts(xy ...float64) []input.Point {
	res := make([]input.Point, 0, len(xy)/2)
	for i := 0; i+1 < len(xy); i += 2 {
		res = append(res, input.Point{X: xy[i], Y: xy[i+1]})
	}
	return res
}

func newTestIntersection(sides []sideSpec, extraExits ...float64) *testIntersection {
	ti := &testIntersection{
		def:   input.Intersection{ID: 7},
		turns: make(map[[2]int]int32),
	}
	var nextID int32
	alloc := func(l input.Lane) int32 {
		l.ID = nextID
		nextID++
		ti.lanes = append(ti.lanes, l)
		return l.ID
	}

	exits := append(lo.Map(sides, func(s sideSpec, _ int) float64 { return s.angle }), extraExits...)
	exitPoints := make([]geometry.Point, len(exits))
	exitLanes := make([]int32, len(exits))
	for m, angle := range exits {
		u := unitOf(angle)
		p := u.Scale(testRadius).Add(rightOf(u).Scale(testLaneOffset))
		exitPoints[m] = p
		exitLanes[m] = alloc(input.Lane{
			Points: inputLine(p, p.Add(u.Scale(testRoadLength))),
			Tags:   []string{"traffic"},
		})
	}

	for k, s := range sides {
		u := unitOf(s.angle)
		d := u.Scale(-1)
		entry := u.Scale(testRadius).Add(rightOf(d).Scale(testLaneOffset))
		side := input.IntersectionSide{HasTrafficLight: s.light}
		for m := range exits {
			if m == k {
				continue
			}
			um := unitOf(exits[m])
			id := alloc(input.Lane{
				Points: inputLine(
					entry,
					entry.Add(d.Scale(200)),
					exitPoints[m].Sub(um.Scale(200)),
					exitPoints[m],
				),
				Tags: []string{"traffic", "intersection"},
				Next: []int32{exitLanes[m]},
			})
			ti.turns[[2]int{k, m}] = id
			side.Lanes = append(side.Lanes, id)
		}
		tags := []string{"traffic"}
		if s.trunk {
			tags = append(tags, "trunk")
		}
		ti.feeders = append(ti.feeders, alloc(input.Lane{
			Points: inputLine(entry.Add(u.Scale(testRoadLength)), entry),
			Tags:   tags,
			Next:   side.Lanes,
		}))
		if s.crosswalk {
			c := u.Scale(testRadius+150)
			r := rightOf(d)
			cw := alloc(input.Lane{
				Points: inputLine(c.Sub(r.Scale(700)), c.Add(r.Scale(700))),
				Tags:   []string{"crosswalk"},
			})
			w := alloc(input.Lane{
				Points: inputLine(c.Add(r.Scale(800)), c.Add(r.Scale(900))),
				Tags:   []string{"crosswalk"},
			})
			side.Crosswalks = []int32{cw}
			side.CrosswalkWaiting = []int32{w}
			ti.crosswalks = append(ti.crosswalks, cw)
			ti.waiting = append(ti.waiting, w)
		}
		ti.def.Sides = append(ti.def.Sides, side)
	}
	return ti
}

// fourWay 南、西、北、东四个进口，按输入顺序打乱以检查排序
func fourWay(light, crosswalk bool) []sideSpec {
	return []sideSpec{
		{angle: 90, light: light, crosswalk: crosswalk},
		{angle: 0, light: light, crosswalk: crosswalk},
		{angle: -90, light: light, crosswalk: crosswalk},
		{angle: 180, light: light, crosswalk: crosswalk},
	}
}

func newTestContext(modify func(c *config.Config)) *testContext {
	c := config.Default()
	if modify != nil {
		modify(&c)
	}
	return &testContext{
		config:      config.NewRuntimeConfig(c),
		pedestrians: NewStaticPedestrianSource(nil),
	}
}

func buildTestJunction(t *testing.T, ctx *testContext, ti *testIntersection) (*Junction, *lane.LaneManager) {
	t.Helper()
	lm := lane.NewManager(ctx)
	lm.Init(ti.lanes)
	j, err := Build(ctx, ti.def, lm)
	require.NoError(t, err)
	return j, lm
}

// intersectionLanes 路口的全部路口内车道
func intersectionLanes(j *Junction) []*lane.Lane {
	res := make([]*lane.Lane, 0)
	for _, s := range j.sides {
		res = append(res, s.Lanes...)
	}
	return res
}

// conflictingPairs 集合中相互冲突的车道对
func conflictingPairs(lanes []*lane.Lane) [][2]*lane.Lane {
	res := make([][2]*lane.Lane, 0)
	for i := range lanes {
		for k := i + 1; k < len(lanes); k++ {
			if LanesConflict(lanes[i], lanes[k]) {
				res = append(res, [2]*lane.Lane{lanes[i], lanes[k]})
			}
		}
	}
	return res
}

// setPeriodForTest 直接设置当前相位并开放
func setPeriodForTest(j *Junction, index int, remaining float64) {
	j.currentPeriodIndex = index
	j.periodTimeRemaining = remaining
	j.lastVehicleLanesAction = LanesActionNone
	j.lastPedestrianLanesAction = LanesActionNone
	j.ApplyLanesActionToCurrentPeriod(LanesActionOpen, LanesActionHardClose, true)
}
