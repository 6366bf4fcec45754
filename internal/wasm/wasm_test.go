package wasm_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulseengine/wrt-sub004/api"
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
	"github.com/pulseengine/wrt-sub004/internal/memprovider"
	"github.com/pulseengine/wrt-sub004/internal/wasm"
)

func TestMemoryGrowRespectsMax(t *testing.T) {
	p := memprovider.NewStdProvider(4, memprovider.Standard)
	max := uint32(2)
	m, err := wasm.NewMemory(p, 1, max)
	require.NoError(t, err)

	prev, ok := m.Grow(1)
	require.True(t, ok)
	require.Equal(t, uint32(1), prev)
	require.Equal(t, uint32(2), m.PageSize())

	_, ok = m.Grow(1)
	require.False(t, ok)
	require.Equal(t, uint32(2), m.PageSize())
}

func TestMemoryOutOfBoundsStoreTraps(t *testing.T) {
	p := memprovider.NewStdProvider(4, memprovider.Standard)
	m, err := wasm.NewMemory(p, 1, 1)
	require.NoError(t, err)

	require.True(t, m.WriteUint32Le(wasm.MemoryPageSize-4, 1))
	require.False(t, m.WriteUint32Le(wasm.MemoryPageSize-3, 1))
}

func TestTableGrowFillCopy(t *testing.T) {
	tbl := wasm.NewTable(api.ValueTypeFuncRef, 2, nil, 10)
	require.Equal(t, uint32(2), tbl.Size())

	prev, ok := tbl.Grow(3, api.FuncRef(7))
	require.True(t, ok)
	require.Equal(t, uint32(2), prev)
	require.Equal(t, uint32(5), tbl.Size())

	require.NoError(t, tbl.Fill(0, api.FuncRef(9), 2))
	v, err := tbl.Get(0)
	require.NoError(t, err)
	require.Equal(t, uint32(9), v.RefIndex())
}

func TestGlobalImmutableSetFails(t *testing.T) {
	g := wasm.NewGlobal(api.ValueTypeI32, false, api.I32(1))
	require.Error(t, g.Set(api.I32(2)))

	m := wasm.NewGlobal(api.ValueTypeI32, true, api.I32(1))
	require.NoError(t, m.Set(api.I32(2)))
	require.Equal(t, int32(2), m.Get().I32())
}

func TestResourceTableOwnBorrowDrop(t *testing.T) {
	rt := wasm.NewResourceTable(8)
	h, err := rt.New(1, 42, nil)
	require.NoError(t, err)

	rep, ok := rt.Rep(h)
	require.True(t, ok)
	require.Equal(t, uint32(42), rep)

	require.NoError(t, rt.Borrow(h))
	_, _, err = rt.Drop(h)
	require.True(t, errors.Is(err, coreerr.ErrBorrowsOutstanding))

	require.NoError(t, rt.EndBorrow(h))
	_, _, err = rt.Drop(h)
	require.NoError(t, err)

	_, ok = rt.Rep(h)
	require.False(t, ok)
}

func TestModuleValidateCatchesOutOfRangeExport(t *testing.T) {
	m := &wasm.Module{
		Exports: []wasm.Export{{Name: "f", Type: api.ExternTypeFunc, Index: 5}},
	}
	require.True(t, errors.Is(m.Validate(), coreerr.ErrIndexOutOfRange))
}
