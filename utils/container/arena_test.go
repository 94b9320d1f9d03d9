package container_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsinghua-fib-lab/masstraffic-sim/utils/container"
)

type record struct {
	name string
}

func TestArenaAllocFree(t *testing.T) {
	a := container.NewArena[record]()
	h1 := a.Alloc(&record{name: "a"})
	h2 := a.Alloc(&record{name: "b"})
	assert.True(t, h1.IsSet())
	assert.Equal(t, 2, a.Len())

	v, ok := a.Get(h2)
	require.True(t, ok)
	assert.Equal(t, "b", v.name)

	assert.True(t, a.Free(h1))
	assert.False(t, a.Free(h1))
	assert.False(t, a.Valid(h1))
	assert.Equal(t, 1, a.Len())

	// 复用槽位后旧句柄仍然无效
	h3 := a.Alloc(&record{name: "c"})
	assert.Equal(t, h1.Index, h3.Index)
	assert.NotEqual(t, h1.Gen, h3.Gen)
	_, ok = a.Get(h1)
	assert.False(t, ok)
	v, ok = a.Get(h3)
	require.True(t, ok)
	assert.Equal(t, "c", v.name)
}

func TestArenaUnsetHandle(t *testing.T) {
	a := container.NewArena[record]()
	a.Alloc(&record{})
	var h container.Handle
	assert.False(t, h.IsSet())
	assert.False(t, a.Valid(h))
	assert.Equal(t, "none", h.String())
	assert.False(t, a.Valid(container.Handle{Index: 7, Gen: 1}))
}

func TestArenaForEachOrder(t *testing.T) {
	a := container.NewArena[record]()
	hs := []container.Handle{
		a.Alloc(&record{name: "a"}),
		a.Alloc(&record{name: "b"}),
		a.Alloc(&record{name: "c"}),
	}
	a.Free(hs[1])
	names := []string{}
	a.ForEach(func(_ container.Handle, r *record) {
		names = append(names, r.name)
	})
	assert.Equal(t, []string{"a", "c"}, names)
	assert.Len(t, a.Values(), 2)
}
