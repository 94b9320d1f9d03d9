package junction

import (
	"sync"

	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/input"
)

type pedestrianCount struct {
	waiting int32
	onLane  int32
}

// StaticPedestrianSource 由外部写入的人行横道行人数量
// 功能：实现entity.IPedestrianSource，保存每条人行横道（或等待区）的等待人数与通行人数
// 说明：读写加锁，路口并行更新时可以安全读取
type StaticPedestrianSource struct {
	mtx    sync.RWMutex
	counts map[int32]pedestrianCount
}

// NewStaticPedestrianSource 根据输入数据创建行人数量来源
func NewStaticPedestrianSource(data []input.Pedestrian) *StaticPedestrianSource {
	s := &StaticPedestrianSource{counts: make(map[int32]pedestrianCount, len(data))}
	for _, p := range data {
		s.counts[p.Lane] = pedestrianCount{waiting: p.Waiting, onLane: p.OnLane}
	}
	return s
}

// Set 设置车道上的等待人数与通行人数
func (s *StaticPedestrianSource) Set(laneID, waiting, onLane int32) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if waiting == 0 && onLane == 0 {
		delete(s.counts, laneID)
		return
	}
	s.counts[laneID] = pedestrianCount{waiting: waiting, onLane: onLane}
}

func (s *StaticPedestrianSource) NumWaiting(laneID int32) int32 {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.counts[laneID].waiting
}

func (s *StaticPedestrianSource) NumOnLane(laneID int32) int32 {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.counts[laneID].onLane
}
