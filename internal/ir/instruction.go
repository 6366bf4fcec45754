package ir

import "github.com/pulseengine/wrt-sub004/api"

// BlockType describes the arity of a block/loop/if's signature. Only the
// empty and single-value-type forms are modeled here (the common case);
// a full multi-value block type is represented via TypeIndex into the
// owning Module's type section.
type BlockType struct {
	ValueType api.ValueType // meaningful when HasValueType
	HasValueType bool
	TypeIndex  int32 // -1 when not a type-index form
}

// MemArg is the alignment-hint/offset immediate shared by every load/store.
type MemArg struct {
	Align  uint32 // log2 of the alignment hint, per the binary format
	Offset uint32
}

// Instruction is one decoded opcode plus its immediates. The zero value of
// each unused Imm field is never inspected; Op alone determines which field
// is valid, exactly as in the binary encoding.
type Instruction struct {
	Op Opcode

	// Control-flow immediates.
	Block     BlockType
	BrDepth   uint32
	BrTable   []uint32 // label depths; last entry is the default
	ElseAt    int       // index, in the decoded stream, of the matching else (if any)
	EndAt     int       // index, in the decoded stream, of the matching end

	// Local/global/table index immediates.
	Index uint32

	// call_indirect additionally needs the table to probe and the callee
	// signature to check structurally (§4.3).
	TypeIndex  uint32
	TableIndex uint32

	// Memory/table bulk-op immediates.
	Mem      MemArg
	SegIndex uint32 // data/elem segment index for *.init / *.drop

	// Constants.
	ConstI32 int32
	ConstI64 int64
	ConstF32 uint32 // bit pattern
	ConstF64 uint64 // bit pattern
}

// CostTable maps each Opcode to its fuel cost (§3 "Fuel", §4.2). Memory ops
// scale with access width; call_indirect adds a lookup surcharge. Entries
// absent from the table default to 1, per spec.
type CostTable map[Opcode]uint32

// DefaultCostTable is the baseline fuel_cost_table configuration default
// (§6 "fuel_cost_table").
func DefaultCostTable() CostTable {
	t := CostTable{
		OpCallIndirect: 8,
		OpCall:         4,
		OpMemoryGrow:   16,
		OpMemoryCopy:   4,
		OpMemoryFill:   4,
		OpMemoryInit:   4,
		OpTableCopy:    4,
		OpTableInit:    4,
		OpTableGrow:    4,

		OpI64Load: 2, OpI64Store: 2,
		OpF64Load: 2, OpF64Store: 2,

		OpAtomicNotify:  2,
		OpI32AtomicWait: 4,
		OpI64AtomicLoad: 2, OpI64AtomicStore: 2,
		OpI64AtomicRmwAdd: 2, OpI64AtomicRmwSub: 2, OpI64AtomicRmwAnd: 2,
		OpI64AtomicRmwOr: 2, OpI64AtomicRmwXor: 2, OpI64AtomicRmwXchg: 2,
		OpI32AtomicRmwCmpxchg: 2, OpI64AtomicRmwCmpxchg: 3,
	}
	return t
}

// CostTableFromOverrides builds a CostTable starting from DefaultCostTable
// and applying overrides keyed by raw opcode value, for the §6
// "fuel_cost_table (opaque struct, per-opcode u32)" configuration option
// loaded from TOML by internal/rtconfig (a TOML table has string keys; the
// loader parses each key as the opcode's numeric value before calling
// this).
func CostTableFromOverrides(overrides map[Opcode]uint32) CostTable {
	t := DefaultCostTable()
	for op, cost := range overrides {
		t[op] = cost
	}
	return t
}

// CostOf returns the fuel cost of op, defaulting to 1 when not present.
func (t CostTable) CostOf(op Opcode) uint32 {
	if c, ok := t[op]; ok {
		return c
	}
	return 1
}
