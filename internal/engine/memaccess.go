package engine

import (
	"github.com/pulseengine/wrt-sub004/api"
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
	"github.com/pulseengine/wrt-sub004/internal/ir"
	"github.com/pulseengine/wrt-sub004/internal/safemem"
	"github.com/pulseengine/wrt-sub004/internal/wasm"
)

// memAccess executes one load or store instruction against the instance's
// sole (MVP-scope) linear memory. Every effective address is computed as a
// checked 64-bit add (§4.3 "All accesses compute effective_addr ... and trap
// on overflow or out-of-bounds"); the width-specific accessor never receives
// an address it did not already validate.
func (e *Engine) memAccess(inst *wasm.Instance, in ir.Instruction) error {
	if len(inst.Memories) == 0 {
		return coreerr.ErrIndexOutOfRange
	}
	h := inst.Memories[0].Handler()

	if isMemStoreOp(in.Op) {
		return e.memStore(h, in)
	}
	return e.memLoad(h, in)
}

func (e *Engine) memLoad(h *safemem.SafeMemoryHandler, in ir.Instruction) error {
	addrVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	width := loadWidth(in.Op)
	addr, err := safemem.EffectiveAddress(addrVal.U32(), in.Mem.Offset, width)
	if err != nil {
		return err
	}
	off := uint32(addr)

	switch in.Op {
	case ir.OpI32Load:
		v, err := h.LoadU32(off)
		if err != nil {
			return err
		}
		return e.values.Push(api.U32(v))
	case ir.OpI64Load:
		v, err := h.LoadU64(off)
		if err != nil {
			return err
		}
		return e.values.Push(api.U64(v))
	case ir.OpF32Load:
		v, err := h.LoadU32(off)
		if err != nil {
			return err
		}
		return e.values.Push(api.FromRaw(api.ValueTypeF32, uint64(v), 0))
	case ir.OpF64Load:
		v, err := h.LoadU64(off)
		if err != nil {
			return err
		}
		return e.values.Push(api.FromRaw(api.ValueTypeF64, v, 0))
	case ir.OpI32Load8S:
		v, err := h.LoadU8(off)
		if err != nil {
			return err
		}
		return e.values.Push(api.I32(int32(int8(v))))
	case ir.OpI32Load8U:
		v, err := h.LoadU8(off)
		if err != nil {
			return err
		}
		return e.values.Push(api.U32(uint32(v)))
	case ir.OpI32Load16S:
		v, err := h.LoadU16(off)
		if err != nil {
			return err
		}
		return e.values.Push(api.I32(int32(int16(v))))
	case ir.OpI32Load16U:
		v, err := h.LoadU16(off)
		if err != nil {
			return err
		}
		return e.values.Push(api.U32(uint32(v)))
	case ir.OpI64Load8S:
		v, err := h.LoadU8(off)
		if err != nil {
			return err
		}
		return e.values.Push(api.I64(int64(int8(v))))
	case ir.OpI64Load8U:
		v, err := h.LoadU8(off)
		if err != nil {
			return err
		}
		return e.values.Push(api.U64(uint64(v)))
	case ir.OpI64Load16S:
		v, err := h.LoadU16(off)
		if err != nil {
			return err
		}
		return e.values.Push(api.I64(int64(int16(v))))
	case ir.OpI64Load16U:
		v, err := h.LoadU16(off)
		if err != nil {
			return err
		}
		return e.values.Push(api.U64(uint64(v)))
	case ir.OpI64Load32S:
		v, err := h.LoadU32(off)
		if err != nil {
			return err
		}
		return e.values.Push(api.I64(int64(int32(v))))
	case ir.OpI64Load32U:
		v, err := h.LoadU32(off)
		if err != nil {
			return err
		}
		return e.values.Push(api.U64(uint64(v)))
	default:
		return coreerr.ErrUnsupportedFeature
	}
}

func (e *Engine) memStore(h *safemem.SafeMemoryHandler, in ir.Instruction) error {
	val, err := e.values.Pop()
	if err != nil {
		return err
	}
	addrVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	width := storeWidth(in.Op)
	addr, err := safemem.EffectiveAddress(addrVal.U32(), in.Mem.Offset, width)
	if err != nil {
		return err
	}
	off := uint32(addr)

	switch in.Op {
	case ir.OpI32Store:
		return h.StoreU32(off, val.U32())
	case ir.OpI64Store:
		return h.StoreU64(off, val.U64())
	case ir.OpF32Store:
		return h.StoreU32(off, uint32(rawLo(val)))
	case ir.OpF64Store:
		return h.StoreU64(off, rawLo(val))
	case ir.OpI32Store8:
		return h.StoreU8(off, byte(val.U32()))
	case ir.OpI32Store16:
		return h.StoreU16(off, uint16(val.U32()))
	case ir.OpI64Store8:
		return h.StoreU8(off, byte(val.U64()))
	case ir.OpI64Store16:
		return h.StoreU16(off, uint16(val.U64()))
	case ir.OpI64Store32:
		return h.StoreU32(off, uint32(val.U64()))
	default:
		return coreerr.ErrUnsupportedFeature
	}
}

func rawLo(v api.Value) uint64 {
	lo, _ := v.Raw()
	return lo
}

func loadWidth(op ir.Opcode) uint32 {
	switch op {
	case ir.OpI64Load, ir.OpF64Load:
		return 8
	case ir.OpI32Load, ir.OpF32Load, ir.OpI64Load32S, ir.OpI64Load32U:
		return 4
	case ir.OpI32Load16S, ir.OpI32Load16U, ir.OpI64Load16S, ir.OpI64Load16U:
		return 2
	default:
		return 1
	}
}

func storeWidth(op ir.Opcode) uint32 {
	switch op {
	case ir.OpI64Store, ir.OpF64Store:
		return 8
	case ir.OpI32Store, ir.OpF32Store, ir.OpI64Store32:
		return 4
	case ir.OpI32Store16, ir.OpI64Store16:
		return 2
	default:
		return 1
	}
}
