package input

import (
	"errors"
	"fmt"
)

// ErrInvalidInput 输入数据校验失败
var ErrInvalidInput = errors.New("invalid input")

// Validate 校验输入数据
// 功能：检查车道ID唯一、折线至少两个点、拓扑引用与车辆/路口引用的车道存在
// 返回：全部问题合并后的错误
func (n *Network) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidInput}, args...)...))
	}
	laneIDs := make(map[int32]struct{}, len(n.Lanes))
	for _, l := range n.Lanes {
		if l.ID < 0 {
			bad("lane id %d must not be negative", l.ID)
		}
		if _, ok := laneIDs[l.ID]; ok {
			bad("duplicated lane id %d", l.ID)
		}
		laneIDs[l.ID] = struct{}{}
		if len(l.Points) < 2 {
			bad("lane %d has %d points, need at least 2", l.ID, len(l.Points))
		}
	}
	ref := func(owner string, id int32) {
		if _, ok := laneIDs[id]; !ok {
			bad("%s references unknown lane %d", owner, id)
		}
	}
	for _, l := range n.Lanes {
		owner := fmt.Sprintf("lane %d", l.ID)
		for _, id := range l.Next {
			ref(owner, id)
		}
		if l.Left != nil {
			ref(owner, *l.Left)
		}
		if l.Right != nil {
			ref(owner, *l.Right)
		}
	}
	junctionIDs := make(map[int32]struct{}, len(n.Intersections))
	for _, j := range n.Intersections {
		if _, ok := junctionIDs[j.ID]; ok {
			bad("duplicated intersection id %d", j.ID)
		}
		junctionIDs[j.ID] = struct{}{}
		owner := fmt.Sprintf("intersection %d", j.ID)
		for _, s := range j.Sides {
			for _, ids := range [][]int32{s.Lanes, s.Crosswalks, s.CrosswalkWaiting} {
				for _, id := range ids {
					ref(owner, id)
				}
			}
		}
		for _, id := range append(append([]int32{}, j.HiddenCrosswalks...), j.HiddenCrosswalksWaiting...) {
			ref(owner, id)
		}
	}
	for i, v := range n.Vehicles {
		ref(fmt.Sprintf("vehicle %d", i), v.Lane)
		if v.Radius <= 0 {
			bad("vehicle %d radius must be positive", i)
		}
	}
	obstacleIDs := make(map[int32]struct{}, len(n.Obstacles))
	for _, o := range n.Obstacles {
		if _, ok := obstacleIDs[o.ID]; ok {
			bad("duplicated obstacle id %d", o.ID)
		}
		obstacleIDs[o.ID] = struct{}{}
	}
	for _, p := range n.Pedestrians {
		ref("pedestrians", p.Lane)
	}
	return errors.Join(errs...)
}
