package wasm

import (
	"github.com/pulseengine/wrt-sub004/internal/concurrency"
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
	"github.com/pulseengine/wrt-sub004/internal/memprovider"
	"github.com/pulseengine/wrt-sub004/internal/safemem"
)

const (
	MemoryPageSize        = uint32(65536)
	MemoryPageSizeInBits  = 16
	MemoryMaxPages        = uint32(65536)
)

// Memory is the runtime entity backing §3 "Memory" / §4.3 memory
// instructions. Every access goes through a safemem.SafeMemoryHandler, so
// bounds-checking and checksum verification are enforced once, centrally.
type Memory struct {
	handler     *safemem.SafeMemoryHandler
	minPages    uint32
	maxPages    uint32
	curPages    uint32
	// atomics lazily builds the single AtomicMemory view shared by every
	// memory.atomic.* instruction against this Memory, so a Memory that
	// never executes one never pays for its mutex/waiter map, and any
	// engines sharing this Memory's handle observe the same WaitMap for
	// notify/wait pairing.
	atomics *concurrency.Lazy[*concurrency.AtomicMemory]
}

// NewMemory allocates a Memory with minPages already committed, bounded by
// maxPages (clamped to MemoryMaxPages, and further clamped by the store-wide
// max_pages_per_memory configuration option).
func NewMemory(p memprovider.Provider, minPages, maxPages uint32) (*Memory, error) {
	if maxPages > MemoryMaxPages {
		maxPages = MemoryMaxPages
	}
	if minPages > maxPages {
		return nil, coreerr.ErrCapacityExceeded
	}
	h, err := p.Allocate(minPages * MemoryPageSize)
	if err != nil {
		return nil, err
	}
	handler := safemem.NewSafeMemoryHandler(p, h, minPages*MemoryPageSize)
	return &Memory{
		handler:  handler,
		minPages: minPages,
		maxPages: maxPages,
		curPages: minPages,
		atomics: concurrency.NewLazy(func() (*concurrency.AtomicMemory, error) {
			return concurrency.NewAtomicMemory(handler), nil
		}),
	}, nil
}

func (m *Memory) PageSize() uint32   { return m.curPages }
func (m *Memory) SizeBytes() uint32  { return m.curPages * MemoryPageSize }
func (m *Memory) Handler() *safemem.SafeMemoryHandler { return m.handler }

// Atomics returns the AtomicMemory view over this Memory's handler,
// constructing it on first use.
func (m *Memory) Atomics() *concurrency.AtomicMemory {
	a, _ := m.atomics.Get() // init never errors
	return a
}

// Grow implements memory.grow: returns the previous page count, or
// MemoryGrowFailed (represented by the caller checking the second return)
// if delta would exceed the declared maximum.
func (m *Memory) Grow(deltaPages uint32) (previous uint32, ok bool) {
	newPages := m.curPages + deltaPages
	if deltaPages > 0 && (newPages < m.curPages || newPages > m.maxPages) {
		return m.curPages, false
	}
	if deltaPages == 0 {
		return m.curPages, true
	}
	if err := m.handler.Grow(newPages * MemoryPageSize); err != nil {
		return m.curPages, false
	}
	previous = m.curPages
	m.curPages = newPages
	return previous, true
}

func (m *Memory) ReadByte(offset uint32) (byte, bool) {
	v, err := m.handler.LoadU8(offset)
	return v, err == nil
}

func (m *Memory) ReadUint32Le(offset uint32) (uint32, bool) {
	v, err := m.handler.LoadU32(offset)
	return v, err == nil
}

func (m *Memory) ReadUint64Le(offset uint32) (uint64, bool) {
	v, err := m.handler.LoadU64(offset)
	return v, err == nil
}

func (m *Memory) Read(offset, byteCount uint32) ([]byte, bool) {
	b, err := m.handler.Read(offset, byteCount)
	return b, err == nil
}

func (m *Memory) WriteByte(offset uint32, v byte) bool {
	return m.handler.StoreU8(offset, v) == nil
}

func (m *Memory) WriteUint32Le(offset, v uint32) bool {
	return m.handler.StoreU32(offset, v) == nil
}

func (m *Memory) WriteUint64Le(offset uint32, v uint64) bool {
	return m.handler.StoreU64(offset, v) == nil
}

func (m *Memory) Write(offset uint32, v []byte) bool {
	return m.handler.Write(offset, v) == nil
}

// Copy implements memory.copy: moves n bytes from srcOffset to dstOffset
// within the same memory, correctly handling overlap.
func (m *Memory) Copy(dstOffset, srcOffset, n uint32) error {
	if n == 0 {
		return nil
	}
	data, err := m.handler.Read(srcOffset, n)
	if err != nil {
		return coreerr.ErrOutOfBounds
	}
	if err := m.handler.Write(dstOffset, data); err != nil {
		return coreerr.ErrOutOfBounds
	}
	return nil
}

// Fill implements memory.fill: writes n copies of v starting at offset.
func (m *Memory) Fill(offset uint32, v byte, n uint32) error {
	if n == 0 {
		return nil
	}
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = v
	}
	if err := m.handler.Write(offset, buf); err != nil {
		return coreerr.ErrOutOfBounds
	}
	return nil
}

// Init implements memory.init: copies n bytes from a (possibly already
// data.drop'ped) DataSegment's remaining bytes into memory.
func (m *Memory) Init(dstOffset uint32, seg *DataInstance, srcOffset, n uint32) error {
	if uint64(srcOffset)+uint64(n) > uint64(len(seg.Bytes)) {
		return coreerr.ErrOutOfBounds
	}
	if err := m.handler.Write(dstOffset, seg.Bytes[srcOffset:srcOffset+n]); err != nil {
		return coreerr.ErrOutOfBounds
	}
	return nil
}

// DataInstance is the runtime view of a DataSegment: Bytes is emptied (not
// merely marked) by data.drop so subsequent memory.init traps rather than
// silently reading stale content.
type DataInstance struct {
	Bytes   []byte
	Dropped bool
}

func (d *DataInstance) Drop() {
	d.Bytes = nil
	d.Dropped = true
}
