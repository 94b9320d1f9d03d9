package container

import (
	"container/heap"
	"sort"
)

// item 堆元素
type item[T any] struct {
	Value    T
	Priority float64 // 越小越靠近堆顶
	index    int
}

// priorityQueue 最小堆，实现heap.Interface
type priorityQueue[T any] []*item[T]

func (pq priorityQueue[T]) Len() int { return len(pq) }

func (pq priorityQueue[T]) Less(i, j int) bool {
	return pq[i].Priority < pq[j].Priority
}

func (pq priorityQueue[T]) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue[T]) Push(x any) {
	n := len(*pq)
	item := x.(*item[T])
	item.index = n
	*pq = append(*pq, item)
}

func (pq *priorityQueue[T]) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[0 : n-1]
	return item
}

// PriorityQueue 优先队列
// 功能：封装最小堆，支持批量建堆、堆操作以及保留前N个最大优先级元素的有界插入
type PriorityQueue[T any] struct {
	queue priorityQueue[T]
}

// NewPriorityQueue 创建优先队列
func NewPriorityQueue[T any]() *PriorityQueue[T] {
	return &PriorityQueue[T]{queue: make(priorityQueue[T], 0)}
}

// Len 获取当前队列长度
func (q *PriorityQueue[T]) Len() int {
	return len(q.queue)
}

// First 查看堆顶元素（优先级数值最小），不移除
func (q *PriorityQueue[T]) First() T {
	return q.queue[0].Value
}

// FirstPriority 查看堆顶元素的优先级
func (q *PriorityQueue[T]) FirstPriority() float64 {
	return q.queue[0].Priority
}

// Push 追加元素但不维护堆结构，批量追加后需调用Heapify
func (q *PriorityQueue[T]) Push(value T, priority float64) {
	q.queue = append(q.queue, &item[T]{
		Value:    value,
		Priority: priority,
	})
}

// Heapify 重新构建堆
func (q *PriorityQueue[T]) Heapify() {
	heap.Init(&q.queue)
}

// HeapPush 加入元素并维护堆结构
func (q *PriorityQueue[T]) HeapPush(value T, priority float64) {
	heap.Push(&q.queue, &item[T]{
		Value:    value,
		Priority: priority,
	})
}

// HeapPop 弹出优先级数值最小的元素
func (q *PriorityQueue[T]) HeapPop() (value T, priority float64) {
	item := heap.Pop(&q.queue).(*item[T])
	return item.Value, item.Priority
}

// BoundedPush 有界插入，队列中始终只保留优先级最大的capacity个元素
// 功能：用于Top-N选择，堆顶是当前保留集合中最小的元素，新元素不大于堆顶且队列已满时直接丢弃
// 参数：value-元素值，priority-优先级，capacity-容量上限
// 返回：元素是否被保留
func (q *PriorityQueue[T]) BoundedPush(value T, priority float64, capacity int) bool {
	if capacity <= 0 {
		return false
	}
	if q.Len() < capacity {
		q.HeapPush(value, priority)
		return true
	}
	if priority <= q.FirstPriority() {
		return false
	}
	q.queue[0] = &item[T]{Value: value, Priority: priority}
	heap.Fix(&q.queue, 0)
	return true
}

// SortedDesc 按优先级从大到小返回全部元素，不修改队列
func (q *PriorityQueue[T]) SortedDesc() []T {
	items := make([]*item[T], len(q.queue))
	copy(items, q.queue)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Priority > items[j].Priority
	})
	values := make([]T, len(items))
	for i, it := range items {
		values[i] = it.Value
	}
	return values
}
