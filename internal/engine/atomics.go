package engine

import (
	"github.com/pulseengine/wrt-sub004/api"
	"github.com/pulseengine/wrt-sub004/internal/concurrency"
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
	"github.com/pulseengine/wrt-sub004/internal/ir"
	"github.com/pulseengine/wrt-sub004/internal/safemem"
	"github.com/pulseengine/wrt-sub004/internal/wasm"
)

// atomicAccess executes one Wasm-threads atomic instruction against the
// instance's sole (MVP-scope) linear memory, computing the effective
// address the same checked way memAccess does for plain loads/stores. The
// AtomicMemory backing the access is shared by every Engine touching this
// Memory (internal/wasm.Memory.Atomics), so a notify issued from one
// Engine wakes a wait registered from another.
func (e *Engine) atomicAccess(inst *wasm.Instance, in ir.Instruction) error {
	if len(inst.Memories) == 0 {
		return coreerr.ErrIndexOutOfRange
	}
	a := inst.Memories[0].Atomics()

	switch in.Op {
	case ir.OpAtomicFence:
		return nil // one linear memory per instance: already sequentially consistent

	case ir.OpAtomicNotify:
		return e.atomicNotify(a, in)
	case ir.OpI32AtomicWait:
		return e.atomicWait32(a, in)

	case ir.OpI32AtomicLoad:
		return e.atomicLoad32(a, in)
	case ir.OpI64AtomicLoad:
		return e.atomicLoad64(a, in)
	case ir.OpI32AtomicStore:
		return e.atomicStore32(a, in)
	case ir.OpI64AtomicStore:
		return e.atomicStore64(a, in)

	case ir.OpI32AtomicRmwAdd, ir.OpI32AtomicRmwSub, ir.OpI32AtomicRmwAnd,
		ir.OpI32AtomicRmwOr, ir.OpI32AtomicRmwXor, ir.OpI32AtomicRmwXchg:
		return e.atomicRmw32(a, in)
	case ir.OpI64AtomicRmwAdd, ir.OpI64AtomicRmwSub, ir.OpI64AtomicRmwAnd,
		ir.OpI64AtomicRmwOr, ir.OpI64AtomicRmwXor, ir.OpI64AtomicRmwXchg:
		return e.atomicRmw64(a, in)
	case ir.OpI32AtomicRmwCmpxchg:
		return e.atomicCmpxchg32(a, in)
	case ir.OpI64AtomicRmwCmpxchg:
		return e.atomicCmpxchg64(a, in)

	default:
		return coreerr.ErrUnsupportedFeature
	}
}

func (e *Engine) atomicNotify(a *concurrency.AtomicMemory, in ir.Instruction) error {
	countVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	addrVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	addr, err := safemem.EffectiveAddress(addrVal.U32(), in.Mem.Offset, 4)
	if err != nil {
		return err
	}
	n, err := a.Notify(uint32(addr), countVal.U32())
	if err != nil {
		return err
	}
	return e.values.Push(api.U32(n))
}

// atomicWait32 implements i32.atomic.wait. The timeout immediate (relative
// nanoseconds, or -1 for unbounded) is popped for stack-shape correctness
// but not honored: when the value matches, Wait32 blocks the goroutine
// running this dispatch loop until a Notify or an atomic store/RMW at addr
// wakes it, however long that takes.
func (e *Engine) atomicWait32(a *concurrency.AtomicMemory, in ir.Instruction) error {
	timeoutVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	_ = timeoutVal
	expectedVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	addrVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	addr, err := safemem.EffectiveAddress(addrVal.U32(), in.Mem.Offset, 4)
	if err != nil {
		return err
	}
	result, err := a.Wait32(uint32(addr), expectedVal.U32())
	if err != nil {
		return err
	}
	return e.values.Push(api.I32(int32(result)))
}

func (e *Engine) atomicLoad32(a *concurrency.AtomicMemory, in ir.Instruction) error {
	addrVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	addr, err := safemem.EffectiveAddress(addrVal.U32(), in.Mem.Offset, 4)
	if err != nil {
		return err
	}
	v, err := a.Load32(uint32(addr))
	if err != nil {
		return err
	}
	return e.values.Push(api.U32(v))
}

func (e *Engine) atomicLoad64(a *concurrency.AtomicMemory, in ir.Instruction) error {
	addrVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	addr, err := safemem.EffectiveAddress(addrVal.U32(), in.Mem.Offset, 8)
	if err != nil {
		return err
	}
	v, err := a.Load64(uint32(addr))
	if err != nil {
		return err
	}
	return e.values.Push(api.U64(v))
}

func (e *Engine) atomicStore32(a *concurrency.AtomicMemory, in ir.Instruction) error {
	val, err := e.values.Pop()
	if err != nil {
		return err
	}
	addrVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	addr, err := safemem.EffectiveAddress(addrVal.U32(), in.Mem.Offset, 4)
	if err != nil {
		return err
	}
	return a.Store32(uint32(addr), val.U32())
}

func (e *Engine) atomicStore64(a *concurrency.AtomicMemory, in ir.Instruction) error {
	val, err := e.values.Pop()
	if err != nil {
		return err
	}
	addrVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	addr, err := safemem.EffectiveAddress(addrVal.U32(), in.Mem.Offset, 8)
	if err != nil {
		return err
	}
	return a.Store64(uint32(addr), val.U64())
}

func rmw32Op(op ir.Opcode, operand uint32) func(uint32) uint32 {
	switch op {
	case ir.OpI32AtomicRmwAdd:
		return func(old uint32) uint32 { return old + operand }
	case ir.OpI32AtomicRmwSub:
		return func(old uint32) uint32 { return old - operand }
	case ir.OpI32AtomicRmwAnd:
		return func(old uint32) uint32 { return old & operand }
	case ir.OpI32AtomicRmwOr:
		return func(old uint32) uint32 { return old | operand }
	case ir.OpI32AtomicRmwXor:
		return func(old uint32) uint32 { return old ^ operand }
	default: // OpI32AtomicRmwXchg
		return func(uint32) uint32 { return operand }
	}
}

func rmw64Op(op ir.Opcode, operand uint64) func(uint64) uint64 {
	switch op {
	case ir.OpI64AtomicRmwAdd:
		return func(old uint64) uint64 { return old + operand }
	case ir.OpI64AtomicRmwSub:
		return func(old uint64) uint64 { return old - operand }
	case ir.OpI64AtomicRmwAnd:
		return func(old uint64) uint64 { return old & operand }
	case ir.OpI64AtomicRmwOr:
		return func(old uint64) uint64 { return old | operand }
	case ir.OpI64AtomicRmwXor:
		return func(old uint64) uint64 { return old ^ operand }
	default: // OpI64AtomicRmwXchg
		return func(uint64) uint64 { return operand }
	}
}

func (e *Engine) atomicRmw32(a *concurrency.AtomicMemory, in ir.Instruction) error {
	operandVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	addrVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	addr, err := safemem.EffectiveAddress(addrVal.U32(), in.Mem.Offset, 4)
	if err != nil {
		return err
	}
	old, err := a.RMW32(uint32(addr), rmw32Op(in.Op, operandVal.U32()))
	if err != nil {
		return err
	}
	return e.values.Push(api.U32(old))
}

func (e *Engine) atomicRmw64(a *concurrency.AtomicMemory, in ir.Instruction) error {
	operandVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	addrVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	addr, err := safemem.EffectiveAddress(addrVal.U32(), in.Mem.Offset, 8)
	if err != nil {
		return err
	}
	old, err := a.RMW64(uint32(addr), rmw64Op(in.Op, operandVal.U64()))
	if err != nil {
		return err
	}
	return e.values.Push(api.U64(old))
}

func (e *Engine) atomicCmpxchg32(a *concurrency.AtomicMemory, in ir.Instruction) error {
	replacementVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	expectedVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	addrVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	addr, err := safemem.EffectiveAddress(addrVal.U32(), in.Mem.Offset, 4)
	if err != nil {
		return err
	}
	old, err := a.CmpXchg32(uint32(addr), expectedVal.U32(), replacementVal.U32())
	if err != nil {
		return err
	}
	return e.values.Push(api.U32(old))
}

func (e *Engine) atomicCmpxchg64(a *concurrency.AtomicMemory, in ir.Instruction) error {
	replacementVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	expectedVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	addrVal, err := e.values.Pop()
	if err != nil {
		return err
	}
	addr, err := safemem.EffectiveAddress(addrVal.U32(), in.Mem.Offset, 8)
	if err != nil {
		return err
	}
	old, err := a.CmpXchg64(uint32(addr), expectedVal.U64(), replacementVal.U64())
	if err != nil {
		return err
	}
	return e.values.Push(api.U64(old))
}
