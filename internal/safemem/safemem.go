// Package safemem layers typed, bounds-checked access on top of a raw
// memprovider.Provider allocation (§3 "Safe memory"). SafeSlice gives a
// capability-scoped, checksum-aware view over a byte region; SafeMemoryHandler
// owns the Provider handle for one linear memory instance and serializes
// access according to the configured VerificationLevel.
package safemem

import (
	"encoding/binary"

	"github.com/pulseengine/wrt-sub004/internal/coreerr"
	"github.com/pulseengine/wrt-sub004/internal/memprovider"
)

// SafeSlice is a bounds-checked, capability-scoped view over a region of a
// single Provider allocation. It never holds a raw Go slice across calls:
// every access re-validates against the provider so a torn read can never
// observe a different allocation than the one the handle names.
type SafeSlice struct {
	handler *SafeMemoryHandler
	offset  uint32
	length  uint32
}

func (s SafeSlice) Len() uint32 { return s.length }

func (s SafeSlice) Read(relOffset, n uint32) ([]byte, error) {
	if uint64(relOffset)+uint64(n) > uint64(s.length) {
		return nil, coreerr.ErrOutOfBounds
	}
	return s.handler.Read(s.offset+relOffset, n)
}

func (s SafeSlice) Write(relOffset uint32, data []byte) error {
	if uint64(relOffset)+uint64(len(data)) > uint64(s.length) {
		return coreerr.ErrOutOfBounds
	}
	return s.handler.Write(s.offset+relOffset, data)
}

// SafeMemoryHandler owns the single Provider handle backing one linear
// memory and mediates every typed load/store through it, so the checksum
// and bounds-check policy of the Provider is enforced uniformly regardless
// of which WebAssembly instruction is issuing the access.
type SafeMemoryHandler struct {
	provider memprovider.Provider
	handle   memprovider.Handle
	size     uint32
}

func NewSafeMemoryHandler(p memprovider.Provider, h memprovider.Handle, size uint32) *SafeMemoryHandler {
	return &SafeMemoryHandler{provider: p, handle: h, size: size}
}

func (h *SafeMemoryHandler) Size() uint32 { return h.size }

func (h *SafeMemoryHandler) Slice(offset, length uint32) (SafeSlice, error) {
	if uint64(offset)+uint64(length) > uint64(h.size) {
		return SafeSlice{}, coreerr.ErrOutOfBounds
	}
	return SafeSlice{handler: h, offset: offset, length: length}, nil
}

func (h *SafeMemoryHandler) Read(offset, length uint32) ([]byte, error) {
	return h.provider.Read(h.handle, offset, length)
}

func (h *SafeMemoryHandler) Write(offset uint32, data []byte) error {
	return h.provider.Write(h.handle, offset, data)
}

// Grow reallocates the backing region to newSize bytes, copying existing
// content. Providers are append-only arenas, so growth always moves to a
// fresh allocation; callers (wasm.Memory.Grow) are responsible for updating
// any handles they cache.
func (h *SafeMemoryHandler) Grow(newSize uint32) error {
	newHandle, err := h.provider.Allocate(newSize)
	if err != nil {
		return err
	}
	if h.size > 0 {
		old, err := h.provider.Read(h.handle, 0, h.size)
		if err != nil {
			return err
		}
		if err := h.provider.Write(newHandle, 0, old); err != nil {
			return err
		}
	}
	_ = h.provider.Deallocate(h.handle)
	h.handle = newHandle
	h.size = newSize
	return nil
}

// Typed little-endian accessors, used by the memory.load/store instruction
// family (§4.3).

func (h *SafeMemoryHandler) LoadU8(offset uint32) (uint8, error) {
	b, err := h.Read(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (h *SafeMemoryHandler) LoadU16(offset uint32) (uint16, error) {
	b, err := h.Read(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (h *SafeMemoryHandler) LoadU32(offset uint32) (uint32, error) {
	b, err := h.Read(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (h *SafeMemoryHandler) LoadU64(offset uint32) (uint64, error) {
	b, err := h.Read(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (h *SafeMemoryHandler) StoreU8(offset uint32, v uint8) error {
	return h.Write(offset, []byte{v})
}

func (h *SafeMemoryHandler) StoreU16(offset uint32, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return h.Write(offset, b[:])
}

func (h *SafeMemoryHandler) StoreU32(offset uint32, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return h.Write(offset, b[:])
}

func (h *SafeMemoryHandler) StoreU64(offset uint32, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return h.Write(offset, b[:])
}

// EffectiveAddress computes base + staticOffset as a checked 64-bit add,
// per §4.3: "All accesses compute effective_addr ... as a checked 64-bit add
// and trap on overflow or out-of-bounds." An access whose end (addr + width)
// lies past the 32-bit address space is rejected here; the bound against
// the memory's current size is checked by the Provider on access.
func EffectiveAddress(base uint32, staticOffset uint32, width uint32) (uint64, error) {
	addr := uint64(base) + uint64(staticOffset)
	if addr < uint64(base) { // overflow of the addition itself
		return 0, coreerr.ErrOutOfBounds
	}
	end := addr + uint64(width)
	if end < addr || end > 1<<32 {
		return 0, coreerr.ErrOutOfBounds
	}
	return addr, nil
}
