package ir

import (
	"encoding/binary"

	"github.com/pulseengine/wrt-sub004/api"
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
)

type reader struct {
	buf []byte
	pos int
}

func (r *reader) u8() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, coreerr.New(coreerr.Decode, coreerr.CodeIndexOutOfRange, "truncated instruction stream")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) uleb32() (uint32, error) {
	var result uint32
	var shift uint
	for {
		b, err := r.u8()
		if err != nil {
			return 0, err
		}
		result |= uint32(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, coreerr.New(coreerr.Decode, coreerr.CodeIndexOutOfRange, "leb128 overflow")
		}
	}
}

func (r *reader) sleb32() (int32, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.u8()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 32 && (b&0x40) != 0 {
		result |= -1 << shift
	}
	return int32(result), nil
}

func (r *reader) sleb64() (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.u8()
		if err != nil {
			return 0, err
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && (b&0x40) != 0 {
		result |= -1 << shift
	}
	return result, nil
}

func (r *reader) f32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, coreerr.New(coreerr.Decode, coreerr.CodeIndexOutOfRange, "truncated f32 immediate")
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *reader) f64() (uint64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, coreerr.New(coreerr.Decode, coreerr.CodeIndexOutOfRange, "truncated f64 immediate")
	}
	v := binary.LittleEndian.Uint64(r.buf[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

type opener struct {
	instrIndex int
}

// Decode turns a raw function body (as produced by the out-of-scope
// decoder/validator) into a flat instruction stream with control-flow
// targets pre-resolved: every block/loop/if records the index of its
// matching end, and if additionally records its matching else. The decoder
// trusts that the input was already validated (§4.2 "A Module ... is
// immutable, shareable ... and self-validates"); Decode itself still bounds
// every read against the buffer so truncated input is a Decode error, never
// a panic.
func Decode(body []byte) ([]Instruction, error) {
	r := &reader{buf: body}
	var out []Instruction
	var stack []opener

	for r.pos < len(r.buf) {
		opByte, err := r.u8()
		if err != nil {
			return nil, err
		}
		var instr Instruction

		switch opByte {
		case 0xfc:
			sub, err := r.uleb32()
			if err != nil {
				return nil, err
			}
			if err := decodeMisc(r, sub, &instr); err != nil {
				return nil, err
			}
		case 0xfe:
			sub, err := r.uleb32()
			if err != nil {
				return nil, err
			}
			if err := decodeAtomic(r, sub, &instr); err != nil {
				return nil, err
			}
		default:
			instr.Op = Opcode(opByte)
			if err := decodeOne(r, Opcode(opByte), &instr); err != nil {
				return nil, err
			}
		}

		switch instr.Op {
		case OpBlock, OpIf, OpLoop:
			stack = append(stack, opener{instrIndex: len(out)})
		case OpElse:
			if len(stack) == 0 {
				return nil, coreerr.New(coreerr.Decode, coreerr.CodeIndexOutOfRange, "else without matching if")
			}
			top := stack[len(stack)-1]
			out[top.instrIndex].ElseAt = len(out)
		case OpEnd:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				out[top.instrIndex].EndAt = len(out)
			}
		}

		out = append(out, instr)
	}
	if len(stack) != 0 {
		return nil, coreerr.New(coreerr.Decode, coreerr.CodeIndexOutOfRange, "unterminated block")
	}
	return out, nil
}

func decodeOne(r *reader, op Opcode, instr *Instruction) error {
	switch op {
	case OpBlock, OpLoop, OpIf:
		bt, err := r.sleb32()
		if err != nil {
			return err
		}
		switch {
		case bt == -64: // 0x40 empty block type, sleb32-decoded
			instr.Block = BlockType{TypeIndex: -1}
		case bt < 0:
			instr.Block = BlockType{HasValueType: true, ValueType: api.ValueType(bt & 0x7f), TypeIndex: -1}
		default:
			instr.Block = BlockType{TypeIndex: bt}
		}
	case OpBr, OpBrIf:
		d, err := r.uleb32()
		if err != nil {
			return err
		}
		instr.BrDepth = d
	case OpBrTable:
		n, err := r.uleb32()
		if err != nil {
			return err
		}
		targets := make([]uint32, 0, n+1)
		for i := uint32(0); i < n; i++ {
			d, err := r.uleb32()
			if err != nil {
				return err
			}
			targets = append(targets, d)
		}
		def, err := r.uleb32()
		if err != nil {
			return err
		}
		instr.BrTable = append(targets, def)
	case OpCall, OpLocalGet, OpLocalSet, OpLocalTee, OpGlobalGet, OpGlobalSet, OpTableGet, OpTableSet:
		idx, err := r.uleb32()
		if err != nil {
			return err
		}
		instr.Index = idx
	case OpCallIndirect:
		ti, err := r.uleb32()
		if err != nil {
			return err
		}
		tbl, err := r.uleb32()
		if err != nil {
			return err
		}
		instr.TypeIndex, instr.TableIndex = ti, tbl
	case OpI32Const:
		v, err := r.sleb32()
		if err != nil {
			return err
		}
		instr.ConstI32 = v
	case OpI64Const:
		v, err := r.sleb64()
		if err != nil {
			return err
		}
		instr.ConstI64 = v
	case OpF32Const:
		v, err := r.f32()
		if err != nil {
			return err
		}
		instr.ConstF32 = v
	case OpF64Const:
		v, err := r.f64()
		if err != nil {
			return err
		}
		instr.ConstF64 = v
	default:
		if isMemOp(op) {
			align, err := r.uleb32()
			if err != nil {
				return err
			}
			offset, err := r.uleb32()
			if err != nil {
				return err
			}
			instr.Mem = MemArg{Align: align, Offset: offset}
		}
		// Unreachable, nop, end, else, drop, select, arithmetic/comparison
		// opcodes and memory.size/grow (reserved byte consumed below) carry
		// no further immediate.
		if op == OpMemorySize || op == OpMemoryGrow {
			if _, err := r.u8(); err != nil { // reserved byte, must be 0x00
				return err
			}
		}
	}
	return nil
}

func decodeMisc(r *reader, sub uint32, instr *Instruction) error {
	switch sub {
	case 0: // i32.trunc_sat_f32_s
		instr.Op = OpI32TruncSatF32S
	case 1:
		instr.Op = OpI32TruncSatF32U
	case 2:
		instr.Op = OpI32TruncSatF64S
	case 3:
		instr.Op = OpI32TruncSatF64U
	case 4:
		instr.Op = OpI64TruncSatF32S
	case 5:
		instr.Op = OpI64TruncSatF32U
	case 6:
		instr.Op = OpI64TruncSatF64S
	case 7:
		instr.Op = OpI64TruncSatF64U
	case 8: // memory.init
		instr.Op = OpMemoryInit
		idx, err := r.uleb32()
		if err != nil {
			return err
		}
		instr.SegIndex = idx
		if _, err := r.u8(); err != nil { // reserved memory index byte
			return err
		}
	case 9: // data.drop
		instr.Op = OpDataDrop
		idx, err := r.uleb32()
		if err != nil {
			return err
		}
		instr.SegIndex = idx
	case 10: // memory.copy
		instr.Op = OpMemoryCopy
		if _, err := r.u8(); err != nil {
			return err
		}
		if _, err := r.u8(); err != nil {
			return err
		}
	case 11: // memory.fill
		instr.Op = OpMemoryFill
		if _, err := r.u8(); err != nil {
			return err
		}
	case 12: // table.init
		instr.Op = OpTableInit
		segIdx, err := r.uleb32()
		if err != nil {
			return err
		}
		tblIdx, err := r.uleb32()
		if err != nil {
			return err
		}
		instr.SegIndex, instr.TableIndex = segIdx, tblIdx
	case 13: // elem.drop
		instr.Op = OpElemDrop
		idx, err := r.uleb32()
		if err != nil {
			return err
		}
		instr.SegIndex = idx
	case 14: // table.copy
		instr.Op = OpTableCopy
		dst, err := r.uleb32()
		if err != nil {
			return err
		}
		src, err := r.uleb32()
		if err != nil {
			return err
		}
		instr.TableIndex, instr.Index = dst, src
	case 15: // table.grow
		instr.Op = OpTableGrow
		idx, err := r.uleb32()
		if err != nil {
			return err
		}
		instr.Index = idx
	case 16: // table.size
		instr.Op = OpTableSize
		idx, err := r.uleb32()
		if err != nil {
			return err
		}
		instr.Index = idx
	case 17: // table.fill
		instr.Op = OpTableFill
		idx, err := r.uleb32()
		if err != nil {
			return err
		}
		instr.Index = idx
	default:
		return coreerr.New(coreerr.Decode, coreerr.CodeUnsupportedFeature, "unsupported 0xfc sub-opcode")
	}
	return nil
}

// decodeAtomic maps a 0xFE atomic sub-opcode onto one of the synthetic
// atomic Opcodes, using the threads proposal's own sub-opcode numbering so
// the subset we do support stays byte-compatible with it. Every recognized
// form except atomic.fence carries a memarg immediate, identically to a
// plain load/store; fence carries only the reserved byte. Sub-opcodes for
// the partial-width (8/16-bit) atomic loads/stores/RMWs are deliberately
// not recognized here (this core's AtomicMemory only implements the main
// 32/64-bit widths) and fall through to the same unsupported-feature error
// decodeMisc returns for an unrecognized 0xfc sub-opcode.
func decodeAtomic(r *reader, sub uint32, instr *Instruction) error {
	switch sub {
	case 0x00:
		instr.Op = OpAtomicNotify
	case 0x01:
		instr.Op = OpI32AtomicWait
	case 0x03:
		instr.Op = OpAtomicFence
	case 0x10:
		instr.Op = OpI32AtomicLoad
	case 0x11:
		instr.Op = OpI64AtomicLoad
	case 0x17:
		instr.Op = OpI32AtomicStore
	case 0x18:
		instr.Op = OpI64AtomicStore
	case 0x1e:
		instr.Op = OpI32AtomicRmwAdd
	case 0x1f:
		instr.Op = OpI64AtomicRmwAdd
	case 0x25:
		instr.Op = OpI32AtomicRmwSub
	case 0x26:
		instr.Op = OpI64AtomicRmwSub
	case 0x2c:
		instr.Op = OpI32AtomicRmwAnd
	case 0x2d:
		instr.Op = OpI64AtomicRmwAnd
	case 0x33:
		instr.Op = OpI32AtomicRmwOr
	case 0x34:
		instr.Op = OpI64AtomicRmwOr
	case 0x3a:
		instr.Op = OpI32AtomicRmwXor
	case 0x3b:
		instr.Op = OpI64AtomicRmwXor
	case 0x41:
		instr.Op = OpI32AtomicRmwXchg
	case 0x42:
		instr.Op = OpI64AtomicRmwXchg
	case 0x48:
		instr.Op = OpI32AtomicRmwCmpxchg
	case 0x49:
		instr.Op = OpI64AtomicRmwCmpxchg
	default:
		return coreerr.New(coreerr.Decode, coreerr.CodeUnsupportedFeature, "unsupported 0xfe atomic sub-opcode")
	}
	if instr.Op == OpAtomicFence {
		_, err := r.u8() // reserved byte, must be 0x00
		return err
	}
	align, err := r.uleb32()
	if err != nil {
		return err
	}
	offset, err := r.uleb32()
	if err != nil {
		return err
	}
	instr.Mem = MemArg{Align: align, Offset: offset}
	return nil
}

func isMemOp(op Opcode) bool {
	switch op {
	case OpI32Load, OpI64Load, OpF32Load, OpF64Load,
		OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U,
		OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U,
		OpI32Store, OpI64Store, OpF32Store, OpF64Store,
		OpI32Store8, OpI32Store16, OpI64Store8, OpI64Store16, OpI64Store32:
		return true
	default:
		return false
	}
}
