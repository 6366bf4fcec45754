package engine

import (
	"math"

	"github.com/pulseengine/wrt-sub004/api"
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
	"github.com/pulseengine/wrt-sub004/internal/ir"
)

func isNumericOp(op ir.Opcode) bool {
	switch op {
	case ir.OpI32Eqz, ir.OpI32Eq, ir.OpI32Ne, ir.OpI32LtS, ir.OpI32LtU, ir.OpI32GtS, ir.OpI32GtU,
		ir.OpI32LeS, ir.OpI32LeU, ir.OpI32GeS, ir.OpI32GeU,
		ir.OpI64Eqz, ir.OpI64Eq, ir.OpI64Ne, ir.OpI64LtS, ir.OpI64LtU, ir.OpI64GtS, ir.OpI64GtU,
		ir.OpI64LeS, ir.OpI64LeU, ir.OpI64GeS, ir.OpI64GeU,
		ir.OpI32Add, ir.OpI32Sub, ir.OpI32Mul, ir.OpI32DivS, ir.OpI32DivU, ir.OpI32RemS, ir.OpI32RemU,
		ir.OpI32And, ir.OpI32Or, ir.OpI32Xor, ir.OpI32Shl, ir.OpI32ShrS, ir.OpI32ShrU,
		ir.OpI64Add, ir.OpI64Sub, ir.OpI64Mul, ir.OpI64DivS, ir.OpI64DivU, ir.OpI64RemS, ir.OpI64RemU,
		ir.OpI64And, ir.OpI64Or, ir.OpI64Xor, ir.OpI64Shl, ir.OpI64ShrS, ir.OpI64ShrU,
		ir.OpF32Add, ir.OpF32Sub, ir.OpF32Mul, ir.OpF32Div,
		ir.OpF64Add, ir.OpF64Sub, ir.OpF64Mul, ir.OpF64Div:
		return true
	}
	return false
}

// numeric executes the pure-stack arithmetic/comparison opcodes. Integer
// division and remainder trap on divide-by-zero; signed division also traps
// on the overflow case (MinInt / -1), while signed remainder of MinInt by -1
// yields 0, per §4.2's trap table.
func (e *Engine) numeric(op ir.Opcode) error {
	switch op {
	case ir.OpI32Eqz:
		a, err := e.values.Pop()
		if err != nil {
			return err
		}
		return e.pushBool(a.I32() == 0)
	case ir.OpI64Eqz:
		a, err := e.values.Pop()
		if err != nil {
			return err
		}
		return e.pushBool(a.I64() == 0)
	}

	b, err := e.values.Pop()
	if err != nil {
		return err
	}
	a, err := e.values.Pop()
	if err != nil {
		return err
	}

	switch op {
	case ir.OpI32Eq:
		return e.pushBool(a.I32() == b.I32())
	case ir.OpI32Ne:
		return e.pushBool(a.I32() != b.I32())
	case ir.OpI32LtS:
		return e.pushBool(a.I32() < b.I32())
	case ir.OpI32LtU:
		return e.pushBool(a.U32() < b.U32())
	case ir.OpI32GtS:
		return e.pushBool(a.I32() > b.I32())
	case ir.OpI32GtU:
		return e.pushBool(a.U32() > b.U32())
	case ir.OpI32LeS:
		return e.pushBool(a.I32() <= b.I32())
	case ir.OpI32LeU:
		return e.pushBool(a.U32() <= b.U32())
	case ir.OpI32GeS:
		return e.pushBool(a.I32() >= b.I32())
	case ir.OpI32GeU:
		return e.pushBool(a.U32() >= b.U32())

	case ir.OpI64Eq:
		return e.pushBool(a.I64() == b.I64())
	case ir.OpI64Ne:
		return e.pushBool(a.I64() != b.I64())
	case ir.OpI64LtS:
		return e.pushBool(a.I64() < b.I64())
	case ir.OpI64LtU:
		return e.pushBool(a.U64() < b.U64())
	case ir.OpI64GtS:
		return e.pushBool(a.I64() > b.I64())
	case ir.OpI64GtU:
		return e.pushBool(a.U64() > b.U64())
	case ir.OpI64LeS:
		return e.pushBool(a.I64() <= b.I64())
	case ir.OpI64LeU:
		return e.pushBool(a.U64() <= b.U64())
	case ir.OpI64GeS:
		return e.pushBool(a.I64() >= b.I64())
	case ir.OpI64GeU:
		return e.pushBool(a.U64() >= b.U64())

	case ir.OpI32Add:
		return e.values.Push(api.I32(a.I32() + b.I32()))
	case ir.OpI32Sub:
		return e.values.Push(api.I32(a.I32() - b.I32()))
	case ir.OpI32Mul:
		return e.values.Push(api.I32(a.I32() * b.I32()))
	case ir.OpI32DivS:
		if b.I32() == 0 {
			return coreerr.ErrIntegerDivByZero
		}
		if a.I32() == math.MinInt32 && b.I32() == -1 {
			return coreerr.ErrIntegerOverflow
		}
		return e.values.Push(api.I32(a.I32() / b.I32()))
	case ir.OpI32DivU:
		if b.U32() == 0 {
			return coreerr.ErrIntegerDivByZero
		}
		return e.values.Push(api.U32(a.U32() / b.U32()))
	case ir.OpI32RemS:
		if b.I32() == 0 {
			return coreerr.ErrIntegerDivByZero
		}
		if a.I32() == math.MinInt32 && b.I32() == -1 {
			return e.values.Push(api.I32(0))
		}
		return e.values.Push(api.I32(a.I32() % b.I32()))
	case ir.OpI32RemU:
		if b.U32() == 0 {
			return coreerr.ErrIntegerDivByZero
		}
		return e.values.Push(api.U32(a.U32() % b.U32()))
	case ir.OpI32And:
		return e.values.Push(api.U32(a.U32() & b.U32()))
	case ir.OpI32Or:
		return e.values.Push(api.U32(a.U32() | b.U32()))
	case ir.OpI32Xor:
		return e.values.Push(api.U32(a.U32() ^ b.U32()))
	case ir.OpI32Shl:
		return e.values.Push(api.U32(a.U32() << (b.U32() & 31)))
	case ir.OpI32ShrS:
		return e.values.Push(api.I32(a.I32() >> (b.U32() & 31)))
	case ir.OpI32ShrU:
		return e.values.Push(api.U32(a.U32() >> (b.U32() & 31)))

	case ir.OpI64Add:
		return e.values.Push(api.I64(a.I64() + b.I64()))
	case ir.OpI64Sub:
		return e.values.Push(api.I64(a.I64() - b.I64()))
	case ir.OpI64Mul:
		return e.values.Push(api.I64(a.I64() * b.I64()))
	case ir.OpI64DivS:
		if b.I64() == 0 {
			return coreerr.ErrIntegerDivByZero
		}
		if a.I64() == math.MinInt64 && b.I64() == -1 {
			return coreerr.ErrIntegerOverflow
		}
		return e.values.Push(api.I64(a.I64() / b.I64()))
	case ir.OpI64DivU:
		if b.U64() == 0 {
			return coreerr.ErrIntegerDivByZero
		}
		return e.values.Push(api.U64(a.U64() / b.U64()))
	case ir.OpI64RemS:
		if b.I64() == 0 {
			return coreerr.ErrIntegerDivByZero
		}
		if a.I64() == math.MinInt64 && b.I64() == -1 {
			return e.values.Push(api.I64(0))
		}
		return e.values.Push(api.I64(a.I64() % b.I64()))
	case ir.OpI64RemU:
		if b.U64() == 0 {
			return coreerr.ErrIntegerDivByZero
		}
		return e.values.Push(api.U64(a.U64() % b.U64()))
	case ir.OpI64And:
		return e.values.Push(api.U64(a.U64() & b.U64()))
	case ir.OpI64Or:
		return e.values.Push(api.U64(a.U64() | b.U64()))
	case ir.OpI64Xor:
		return e.values.Push(api.U64(a.U64() ^ b.U64()))
	case ir.OpI64Shl:
		return e.values.Push(api.U64(a.U64() << (b.U64() & 63)))
	case ir.OpI64ShrS:
		return e.values.Push(api.I64(a.I64() >> (b.U64() & 63)))
	case ir.OpI64ShrU:
		return e.values.Push(api.U64(a.U64() >> (b.U64() & 63)))

	case ir.OpF32Add:
		return e.values.Push(api.F32(a.F32() + b.F32()))
	case ir.OpF32Sub:
		return e.values.Push(api.F32(a.F32() - b.F32()))
	case ir.OpF32Mul:
		return e.values.Push(api.F32(a.F32() * b.F32()))
	case ir.OpF32Div:
		return e.values.Push(api.F32(a.F32() / b.F32()))

	case ir.OpF64Add:
		return e.values.Push(api.F64(a.F64() + b.F64()))
	case ir.OpF64Sub:
		return e.values.Push(api.F64(a.F64() - b.F64()))
	case ir.OpF64Mul:
		return e.values.Push(api.F64(a.F64() * b.F64()))
	case ir.OpF64Div:
		return e.values.Push(api.F64(a.F64() / b.F64()))
	}
	return coreerr.ErrUnsupportedFeature
}

func (e *Engine) pushBool(v bool) error {
	if v {
		return e.values.Push(api.I32(1))
	}
	return e.values.Push(api.I32(0))
}
