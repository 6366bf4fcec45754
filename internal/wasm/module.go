// Package wasm is the module/instance data model (§3 "Module", "Instance"):
// an immutable, shareable, self-validated decoded image and its mutable
// per-instantiation realization. It is the L2/L3 layer of the dependency
// DAG — it depends on api and memprovider/safemem, but nothing above it.
package wasm

import "github.com/pulseengine/wrt-sub004/api"

// Index is a position within one of a module's index spaces (types,
// functions, tables, memories, globals).
type Index = uint32

// FunctionType is a function signature: ordered parameter and result types.
type FunctionType struct {
	Params  []api.ValueType
	Results []api.ValueType
}

func (t *FunctionType) Equal(o *FunctionType) bool {
	if len(t.Params) != len(o.Params) || len(t.Results) != len(o.Results) {
		return false
	}
	for i := range t.Params {
		if t.Params[i] != o.Params[i] {
			return false
		}
	}
	for i := range t.Results {
		if t.Results[i] != o.Results[i] {
			return false
		}
	}
	return true
}

// Limits describes the min/max bound shared by table and memory
// declarations.
type Limits struct {
	Min uint32
	Max *uint32 // nil means unbounded (up to the engine's configured ceiling)
}

// Code is a function body: a type index, the raw instruction stream (as
// produced by the out-of-scope decoder) and the local-variable layout
// beyond the declared parameters.
type Code struct {
	TypeIndex  Index
	LocalTypes []api.ValueType
	Body       []byte
}

// GlobalType declares a global's value type and mutability.
type GlobalType struct {
	ValType api.ValueType
	Mutable bool
}

// TableType declares a table's element type and size limits.
type TableType struct {
	ElemType api.ValueType // ValueTypeFuncRef or ValueTypeExternRef
	Limits   Limits
}

// ConstExpr is a decoded initializer expression (global.get, const, ref.null,
// ref.func); the decoder guarantees it reduces to exactly one value of the
// expected type.
type ConstExpr struct {
	Opcode byte
	Value  api.Value
	// GlobalIndex is meaningful when Opcode selects global.get.
	GlobalIndex Index
}

// ElementSegmentMode distinguishes active/passive/declarative element
// segments.
type ElementSegmentMode byte

const (
	ElementModeActive ElementSegmentMode = iota
	ElementModePassive
	ElementModeDeclarative
)

// ElementSegment is a vector of function/extern references with an optional
// active placement into a table.
type ElementSegment struct {
	Mode       ElementSegmentMode
	TableIndex Index
	Offset     ConstExpr
	Init       []ConstExpr // one const-expr (typically ref.func) per element
	Type       api.ValueType
}

// DataSegmentMode distinguishes active/passive data segments.
type DataSegmentMode byte

const (
	DataModeActive DataSegmentMode = iota
	DataModePassive
)

// DataSegment is a vector of bytes with an optional active placement into a
// memory.
type DataSegment struct {
	Mode        DataSegmentMode
	MemoryIndex Index
	Offset      ConstExpr
	Init        []byte
}

// Import names an external dependency the linker must resolve.
type Import struct {
	Module, Name string
	Type         api.ExternType
	// DescIndex indexes into the space matching Type: Types for func,
	// globalTypes... etc. stored inline below for simplicity.
	FuncTypeIndex Index
	TableType     TableType
	MemoryLimits  Limits
	GlobalType    GlobalType
}

// Export exposes an internal index under a public name.
type Export struct {
	Name  string
	Type  api.ExternType
	Index Index
}

// Module is the immutable decoded image (§3 "Module"). All indices
// referenced from within it are invariant-checked to be in range by the
// decoder before it reaches the core; the core re-validates only what the
// linker needs to resolve (§4.6).
type Module struct {
	Types       []FunctionType
	Imports     []Import
	Functions   []Code // index space: imported functions occupy no slot here; see FuncTypeIndices
	FuncTypeIdx []Index  // type index per locally-defined function, index-aligned with Functions
	Tables      []TableType
	Memories    []Limits
	Globals     []GlobalType
	GlobalInit  []ConstExpr
	Elements    []ElementSegment
	Data        []DataSegment
	Exports     []Export
	Start       *Index
	// NumImportedFunctions/.../Globals let callers translate an index-space
	// position into "imported" vs "local", matching the Wasm convention that
	// imports occupy the low indices of each space.
	NumImportedFunctions int
	NumImportedTables    int
	NumImportedMemories  int
	NumImportedGlobals   int
}

// TypeOf returns the signature of the function at the given index-space
// position (imports first, then locally defined functions).
func (m *Module) TypeOf(funcIdx Index) (*FunctionType, error) {
	if int(funcIdx) < m.NumImportedFunctions {
		imp := m.Imports[funcIdx]
		return &m.Types[imp.FuncTypeIndex], nil
	}
	local := int(funcIdx) - m.NumImportedFunctions
	if local < 0 || local >= len(m.FuncTypeIdx) {
		return nil, errIndexOutOfRange
	}
	return &m.Types[m.FuncTypeIdx[local]], nil
}

// Validate re-checks the invariants the core relies on: every index used by
// exports/elements/data/start falls inside its index space, and every
// function type index is in range. The binary/text decoders are expected to
// have already enforced this; Validate is the core's own defense-in-depth
// check before instantiation.
func (m *Module) Validate() error {
	numFuncs := m.NumImportedFunctions + len(m.Functions)
	numTables := m.NumImportedTables + len(m.Tables)
	numMems := m.NumImportedMemories + len(m.Memories)
	numGlobals := m.NumImportedGlobals + len(m.Globals)

	for _, idx := range m.FuncTypeIdx {
		if int(idx) >= len(m.Types) {
			return errIndexOutOfRange
		}
	}
	for _, exp := range m.Exports {
		var bound int
		switch exp.Type {
		case api.ExternTypeFunc:
			bound = numFuncs
		case api.ExternTypeTable:
			bound = numTables
		case api.ExternTypeMemory:
			bound = numMems
		case api.ExternTypeGlobal:
			bound = numGlobals
		}
		if int(exp.Index) >= bound {
			return errIndexOutOfRange
		}
	}
	if m.Start != nil && int(*m.Start) >= numFuncs {
		return errIndexOutOfRange
	}
	for _, el := range m.Elements {
		if el.Mode == ElementModeActive && int(el.TableIndex) >= numTables {
			return errIndexOutOfRange
		}
	}
	for _, d := range m.Data {
		if d.Mode == DataModeActive && int(d.MemoryIndex) >= numMems {
			return errIndexOutOfRange
		}
	}
	return nil
}
