package container

import "fmt"

// Handle 带代数的对象句柄
// 功能：以下标+代数引用Arena中的对象，对象释放后代数递增，旧句柄自动失效
// 说明：Gen为0表示未设置
type Handle struct {
	Index int32
	Gen   uint32
}

// IsSet 句柄是否被设置
func (h Handle) IsSet() bool {
	return h.Gen != 0
}

func (h Handle) String() string {
	if !h.IsSet() {
		return "none"
	}
	return fmt.Sprintf("%d:%d", h.Index, h.Gen)
}

type arenaSlot[T any] struct {
	value *T
	gen   uint32
}

// Arena 代数句柄对象池
// 功能：连续存储对象指针，释放的槽位进入空闲列表复用
// 说明：非并发安全，调用方需在阶段内串行修改
type Arena[T any] struct {
	slots []arenaSlot[T]
	free  []int32
	n     int
}

// NewArena 创建空对象池
func NewArena[T any]() *Arena[T] {
	return &Arena[T]{
		slots: make([]arenaSlot[T], 0),
		free:  make([]int32, 0),
	}
}

// Alloc 放入对象并返回句柄
func (a *Arena[T]) Alloc(v *T) Handle {
	a.n++
	if len(a.free) > 0 {
		index := a.free[len(a.free)-1]
		a.free = a.free[:len(a.free)-1]
		s := &a.slots[index]
		s.value = v
		return Handle{Index: index, Gen: s.gen}
	}
	a.slots = append(a.slots, arenaSlot[T]{value: v, gen: 1})
	return Handle{Index: int32(len(a.slots) - 1), Gen: 1}
}

// Free 释放句柄对应的对象
// 返回：句柄已失效时返回false
func (a *Arena[T]) Free(h Handle) bool {
	if !a.Valid(h) {
		return false
	}
	s := &a.slots[h.Index]
	s.value = nil
	s.gen++
	if s.gen == 0 {
		// 代数回绕时跳过0，保证未设置的句柄永远无效
		s.gen = 1
	}
	a.free = append(a.free, h.Index)
	a.n--
	return true
}

// Valid 句柄是否指向存活对象
func (a *Arena[T]) Valid(h Handle) bool {
	if !h.IsSet() || h.Index < 0 || int(h.Index) >= len(a.slots) {
		return false
	}
	s := &a.slots[h.Index]
	return s.value != nil && s.gen == h.Gen
}

// Get 根据句柄获取对象
func (a *Arena[T]) Get(h Handle) (*T, bool) {
	if !a.Valid(h) {
		return nil, false
	}
	return a.slots[h.Index].value, true
}

// Len 存活对象数量
func (a *Arena[T]) Len() int {
	return a.n
}

// ForEach 按下标顺序遍历存活对象
func (a *Arena[T]) ForEach(fn func(Handle, *T)) {
	for i := range a.slots {
		s := &a.slots[i]
		if s.value != nil {
			fn(Handle{Index: int32(i), Gen: s.gen}, s.value)
		}
	}
}

// Values 按下标顺序返回存活对象列表
func (a *Arena[T]) Values() []*T {
	values := make([]*T, 0, a.n)
	for i := range a.slots {
		if a.slots[i].value != nil {
			values = append(values, a.slots[i].value)
		}
	}
	return values
}
