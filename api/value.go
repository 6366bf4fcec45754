// Package api defines the public value and type vocabulary shared by
// embedders and the core: the WebAssembly numeric/reference value model
// (§3 "Value") and the ValueType/ExternType constants used throughout the
// module image. Mirrors the shape of wazero's api.ValueType family,
// generalized to a tagged union so v128 and reference values carry their
// payload directly instead of as a raw uint64.
package api

import (
	"fmt"
	"math"

	"github.com/pulseengine/wrt-sub004/internal/bound"
)

// ValueType describes a numeric or reference type. Encoding matches the
// WebAssembly binary format's valtype byte where one exists.
type ValueType byte

const (
	ValueTypeI32       ValueType = 0x7f
	ValueTypeI64       ValueType = 0x7e
	ValueTypeF32       ValueType = 0x7d
	ValueTypeF64       ValueType = 0x7c
	ValueTypeV128      ValueType = 0x7b
	ValueTypeFuncRef   ValueType = 0x70
	ValueTypeExternRef ValueType = 0x6f
)

func (t ValueType) String() string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncRef:
		return "funcref"
	case ValueTypeExternRef:
		return "externref"
	default:
		return fmt.Sprintf("unknown(%#x)", byte(t))
	}
}

// ExternType classifies imports and exports.
type ExternType byte

const (
	ExternTypeFunc ExternType = iota
	ExternTypeTable
	ExternTypeMemory
	ExternTypeGlobal
)

// RefNull is the distinguished null reference value, used for both FuncRef
// and ExternRef per §3.
const RefNull uint64 = 0xffffffffffffffff

// Value is the tagged union described in §3: exactly one of the typed
// fields is meaningful, selected by Type. Values are logically copied on
// every stack push/pop (the Go struct value itself is also copied, which is
// what "Copy at the language level but logically move on stack ops" means in
// an idiomatic Go rendering).
type Value struct {
	Type ValueType
	// lo holds i32 (zero-extended), i64, f32 (bit pattern, zero-extended),
	// f64 (bit pattern), FuncRef/ExternRef indices, or the low 64 bits of a
	// v128.
	lo uint64
	// hi holds the high 64 bits of a v128; unused otherwise.
	hi uint64
}

// Default returns the zero value for a ValueType per WebAssembly §4.2:
// numeric zero, or RefNull for reference types.
func Default(t ValueType) Value {
	switch t {
	case ValueTypeFuncRef, ValueTypeExternRef:
		return Value{Type: t, lo: RefNull}
	default:
		return Value{Type: t}
	}
}

func I32(v int32) Value  { return Value{Type: ValueTypeI32, lo: uint64(uint32(v))} }
func U32(v uint32) Value { return Value{Type: ValueTypeI32, lo: uint64(v)} }
func I64(v int64) Value  { return Value{Type: ValueTypeI64, lo: uint64(v)} }
func U64(v uint64) Value { return Value{Type: ValueTypeI64, lo: v} }
func F32(v float32) Value {
	return Value{Type: ValueTypeF32, lo: uint64(math.Float32bits(v))}
}
func F64(v float64) Value { return Value{Type: ValueTypeF64, lo: math.Float64bits(v)} }
func V128(lo, hi uint64) Value {
	return Value{Type: ValueTypeV128, lo: lo, hi: hi}
}
func FuncRef(index uint32) Value {
	return Value{Type: ValueTypeFuncRef, lo: uint64(index)}
}
func ExternRef(index uint32) Value {
	return Value{Type: ValueTypeExternRef, lo: uint64(index)}
}
func NullFuncRef() Value   { return Default(ValueTypeFuncRef) }
func NullExternRef() Value { return Default(ValueTypeExternRef) }

func (v Value) I32() int32     { return int32(uint32(v.lo)) }
func (v Value) U32() uint32    { return uint32(v.lo) }
func (v Value) I64() int64     { return int64(v.lo) }
func (v Value) U64() uint64    { return v.lo }
func (v Value) F32() float32   { return math.Float32frombits(uint32(v.lo)) }
func (v Value) F64() float64   { return math.Float64frombits(v.lo) }
func (v Value) V128() (lo, hi uint64) { return v.lo, v.hi }
func (v Value) RefIndex() uint32      { return uint32(v.lo) }
func (v Value) IsNullRef() bool {
	return (v.Type == ValueTypeFuncRef || v.Type == ValueTypeExternRef) && v.lo == RefNull
}

// Raw returns the low/high 64-bit lanes backing the value, for use by code
// (the stackless engine's value stack, the canonical ABI) that needs a
// type-erased representation without losing bit-exactness. NaN payloads are
// preserved exactly: no canonicalization happens here, only at arithmetic
// operators (§3 "canonical NaN propagation").
func (v Value) Raw() (lo, hi uint64) { return v.lo, v.hi }

// FromRaw reconstructs a Value of the given type from raw lanes, the inverse
// of Raw.
func FromRaw(t ValueType, lo, hi uint64) Value { return Value{Type: t, lo: lo, hi: hi} }

// Equal implements the equality relation from §3: bit-exact for numerics
// (so a NaN equals a NaN with the same bit pattern, unlike IEEE-754 ==),
// index equality for references.
func (v Value) Equal(o Value) bool {
	if v.Type != o.Type {
		return false
	}
	return v.lo == o.lo && v.hi == o.hi
}

// Checksum folds a Value into a running checksum, used by checksummed
// containers (§4.1) holding Values (e.g. a checksummed global cell).
func (v Value) Checksum() uint32 {
	var buf [17]byte
	buf[0] = byte(v.Type)
	putU64(buf[1:9], v.lo)
	putU64(buf[9:17], v.hi)
	return bound.Checksum(buf[:])
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
