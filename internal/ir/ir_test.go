package ir_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulseengine/wrt-sub004/internal/ir"
)

// leb128 helpers for building raw bodies in tests.
func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			out = append(out, b)
			break
		}
	}
	return out
}

func sleb32(v int32) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

func TestDecodeAddAndReturn(t *testing.T) {
	// local.get 0; local.get 1; i32.add; end
	body := []byte{0x20, 0x00, 0x20, 0x01, byte(ir.OpI32Add), byte(ir.OpEnd)}
	instrs, err := ir.Decode(body)
	require.NoError(t, err)
	require.Len(t, instrs, 4)
	require.Equal(t, ir.OpLocalGet, instrs[0].Op)
	require.Equal(t, uint32(0), instrs[0].Index)
	require.Equal(t, ir.OpLocalGet, instrs[1].Op)
	require.Equal(t, uint32(1), instrs[1].Index)
	require.Equal(t, ir.OpI32Add, instrs[2].Op)
	require.Equal(t, ir.OpEnd, instrs[3].Op)
}

func TestDecodeI32ConstNegative(t *testing.T) {
	body := append([]byte{byte(ir.OpI32Const)}, sleb32(-1)...)
	body = append(body, byte(ir.OpEnd))
	instrs, err := ir.Decode(body)
	require.NoError(t, err)
	require.Equal(t, int32(-1), instrs[0].ConstI32)
}

func TestDecodeBlockResolvesEndAt(t *testing.T) {
	// block (empty) ; nop ; end ; end
	body := []byte{byte(ir.OpBlock), 0x40, byte(ir.OpNop), byte(ir.OpEnd), byte(ir.OpEnd)}
	instrs, err := ir.Decode(body)
	require.NoError(t, err)
	require.Len(t, instrs, 4)
	require.Equal(t, 2, instrs[0].EndAt)
}

func TestDecodeIfElseResolvesElseAndEnd(t *testing.T) {
	// if (empty) ; nop ; else ; nop ; end
	body := []byte{
		byte(ir.OpIf), 0x40,
		byte(ir.OpNop),
		byte(ir.OpElse),
		byte(ir.OpNop),
		byte(ir.OpEnd),
	}
	instrs, err := ir.Decode(body)
	require.NoError(t, err)
	require.Equal(t, 2, instrs[0].ElseAt)
	require.Equal(t, 4, instrs[0].EndAt)
}

func TestDecodeBrTable(t *testing.T) {
	body := append([]byte{byte(ir.OpBrTable)}, uleb(2)...)
	body = append(body, uleb(0)...)
	body = append(body, uleb(1)...)
	body = append(body, uleb(2)...) // default
	instrs, err := ir.Decode(body)
	require.NoError(t, err)
	require.Equal(t, []uint32{0, 1, 2}, instrs[0].BrTable)
}

func TestDecodeMemArg(t *testing.T) {
	body := append([]byte{byte(ir.OpI32Load)}, uleb(2)...)
	body = append(body, uleb(16)...)
	instrs, err := ir.Decode(body)
	require.NoError(t, err)
	require.Equal(t, uint32(2), instrs[0].Mem.Align)
	require.Equal(t, uint32(16), instrs[0].Mem.Offset)
}

func TestDecodeMemoryGrowConsumesReservedByte(t *testing.T) {
	body := []byte{byte(ir.OpMemoryGrow), 0x00, byte(ir.OpEnd)}
	instrs, err := ir.Decode(body)
	require.NoError(t, err)
	require.Len(t, instrs, 2)
	require.Equal(t, ir.OpMemoryGrow, instrs[0].Op)
}

func TestDecodeBulkMemoryPrefix(t *testing.T) {
	// memory.copy: 0xfc 0x0a <dst_mem=0> <src_mem=0>
	body := []byte{0xfc, 0x0a, 0x00, 0x00}
	instrs, err := ir.Decode(body)
	require.NoError(t, err)
	require.Equal(t, ir.OpMemoryCopy, instrs[0].Op)
}

func TestDecodeTruncatedStreamErrors(t *testing.T) {
	body := []byte{byte(ir.OpI32Const)} // missing immediate
	_, err := ir.Decode(body)
	require.Error(t, err)
}

func TestDecodeUnterminatedBlockErrors(t *testing.T) {
	body := []byte{byte(ir.OpBlock), 0x40, byte(ir.OpNop)}
	_, err := ir.Decode(body)
	require.Error(t, err)
}

func TestDecodeAtomicPrefix(t *testing.T) {
	// i32.atomic.rmw.add: 0xfe 0x1e <align=2> <offset=0>
	body := []byte{0xfe, 0x1e, 0x02, 0x00}
	instrs, err := ir.Decode(body)
	require.NoError(t, err)
	require.Equal(t, ir.OpI32AtomicRmwAdd, instrs[0].Op)
	require.Equal(t, uint32(2), instrs[0].Mem.Align)
	require.True(t, ir.IsAtomicOp(instrs[0].Op))
}

func TestDecodeAtomicFenceConsumesReservedByte(t *testing.T) {
	body := []byte{0xfe, 0x03, 0x00, byte(ir.OpEnd)}
	instrs, err := ir.Decode(body)
	require.NoError(t, err)
	require.Len(t, instrs, 2)
	require.Equal(t, ir.OpAtomicFence, instrs[0].Op)
}

func TestDecodeAtomicUnsupportedSubOpcodeErrors(t *testing.T) {
	body := []byte{0xfe, 0x12, 0x00, 0x00} // i32.atomic.load8_u, partial-width, unsupported
	_, err := ir.Decode(body)
	require.Error(t, err)
}

func TestIsAtomicOpFalseForOrdinaryOpcode(t *testing.T) {
	require.False(t, ir.IsAtomicOp(ir.OpI32Add))
}

func TestCostTableDefaults(t *testing.T) {
	ct := ir.DefaultCostTable()
	require.Equal(t, uint32(8), ct.CostOf(ir.OpCallIndirect))
	require.Equal(t, uint32(1), ct.CostOf(ir.OpI32Add))
}
