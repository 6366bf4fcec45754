// Package component is the L4 Canonical ABI and Component linker (§4.5,
// §4.6): lift/lower of Component Model values across a memory boundary, and
// the per-instance resource table that mediates own/borrow handles crossing
// between components. It sits above internal/wasm and internal/engine —
// nothing below it knows a "component" exists, it is purely a value-encoding
// and bookkeeping layer driven by already-instantiated Instances.
package component

import "github.com/pulseengine/wrt-sub004/internal/coreerr"

// Kind enumerates the Component Model value types the canonical ABI knows
// how to lift and lower (§4.5 "Types supported").
type Kind byte

const (
	KindBool Kind = iota
	KindS8
	KindU8
	KindS16
	KindU16
	KindS32
	KindU32
	KindS64
	KindU64
	KindF32
	KindF64
	KindChar
	KindString
	KindList
	KindRecord
	KindVariant
	KindTuple
	KindFlags
	KindEnum
	KindOption
	KindResult
	KindOwn
	KindBorrow
	KindStream
	KindFuture
	KindErrorContext
)

// Field is one named member of a record.
type Field struct {
	Name string
	Type Type
}

// Case is one labeled arm of a variant, with an optional payload type (nil
// means the case carries no value, matching `option`'s "none" and a bare
// `enum`-style case).
type Case struct {
	Name string
	Type *Type
}

// Type describes one Component Model value type. Composite kinds populate
// only the fields relevant to them; the zero value of the others is unused.
type Type struct {
	Kind Kind

	Elem *Type // list, option, stream, future

	Fields []Field // record
	Cases  []Case  // variant, enum (Type nil on every case), result (2 synthetic cases)
	Tuple  []Type  // tuple
	Flags  []string

	ResourceTypeID uint32 // own, borrow
}

// Record, Tuple, Variant, Flags, Enum, Option, Result, Own, Borrow, List,
// String are small constructors so callers build Type values declaratively
// instead of hand-filling the struct.

func Primitive(k Kind) Type { return Type{Kind: k} }

func List(elem Type) Type { return Type{Kind: KindList, Elem: &elem} }

func StringType() Type { return Type{Kind: KindString} }

func Record(fields ...Field) Type { return Type{Kind: KindRecord, Fields: fields} }

func TupleOf(types ...Type) Type { return Type{Kind: KindTuple, Tuple: types} }

func Variant(cases ...Case) Type { return Type{Kind: KindVariant, Cases: cases} }

func FlagsOf(names ...string) Type { return Type{Kind: KindFlags, Flags: names} }

func EnumOf(names ...string) Type {
	cases := make([]Case, len(names))
	for i, n := range names {
		cases[i] = Case{Name: n}
	}
	return Type{Kind: KindEnum, Cases: cases}
}

func OptionOf(elem Type) Type { return Type{Kind: KindOption, Elem: &elem} }

// ResultOf builds a `result<ok, err>` type. Either side may be nil, matching
// `result<_>`/`result<_, _>`'s optional payloads.
func ResultOf(ok, errT *Type) Type {
	return Type{Kind: KindResult, Cases: []Case{{Name: "ok", Type: ok}, {Name: "err", Type: errT}}}
}

func Own(typeID uint32) Type { return Type{Kind: KindOwn, ResourceTypeID: typeID} }

func Borrow(typeID uint32) Type { return Type{Kind: KindBorrow, ResourceTypeID: typeID} }

func StreamOf(elem Type) Type { return Type{Kind: KindStream, Elem: &elem} }

func FutureOf(elem Type) Type { return Type{Kind: KindFuture, Elem: &elem} }

func ErrorContext() Type { return Type{Kind: KindErrorContext} }

// discriminantWidth returns the byte width of a discriminant covering n
// cases, per the canonical ABI rule: the smallest of 1/2/4 bytes that can
// represent every case index.
func discriminantWidth(n int) uint32 {
	switch {
	case n <= 1<<8:
		return 1
	case n <= 1<<16:
		return 2
	default:
		return 4
	}
}

func alignUp(offset, align uint32) uint32 {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) &^ (align - 1)
}

// Size returns a type's flat byte size in linear memory (§4.5 "each type has
// a fixed size_in_bytes and alignment").
func Size(t Type) (uint32, error) {
	switch t.Kind {
	case KindBool, KindS8, KindU8:
		return 1, nil
	case KindS16, KindU16:
		return 2, nil
	case KindS32, KindU32, KindF32, KindChar:
		return 4, nil
	case KindS64, KindU64, KindF64:
		return 8, nil
	case KindString, KindList:
		return 8, nil // ptr + len, both u32
	case KindOwn, KindBorrow, KindStream, KindFuture, KindErrorContext:
		return 4, nil // a single handle
	case KindRecord:
		var offset uint32
		var maxAlign uint32 = 1
		for _, f := range t.Fields {
			a, err := Align(f.Type)
			if err != nil {
				return 0, err
			}
			s, err := Size(f.Type)
			if err != nil {
				return 0, err
			}
			offset = alignUp(offset, a) + s
			if a > maxAlign {
				maxAlign = a
			}
		}
		return alignUp(offset, maxAlign), nil
	case KindTuple:
		var offset uint32
		var maxAlign uint32 = 1
		for _, f := range t.Tuple {
			a, err := Align(f)
			if err != nil {
				return 0, err
			}
			s, err := Size(f)
			if err != nil {
				return 0, err
			}
			offset = alignUp(offset, a) + s
			if a > maxAlign {
				maxAlign = a
			}
		}
		return alignUp(offset, maxAlign), nil
	case KindVariant, KindResult:
		discWidth := discriminantWidth(len(t.Cases))
		var maxPayload, maxAlign uint32 = 0, 1
		for _, c := range t.Cases {
			if c.Type == nil {
				continue
			}
			s, err := Size(*c.Type)
			if err != nil {
				return 0, err
			}
			a, err := Align(*c.Type)
			if err != nil {
				return 0, err
			}
			if s > maxPayload {
				maxPayload = s
			}
			if a > maxAlign {
				maxAlign = a
			}
		}
		total := alignUp(discWidth, maxAlign) + maxPayload
		return alignUp(total, maxAlign), nil
	case KindEnum:
		return discriminantWidth(len(t.Cases)), nil
	case KindOption:
		inner := Type{Kind: KindVariant, Cases: []Case{{Name: "none"}, {Name: "some", Type: t.Elem}}}
		return Size(inner)
	case KindFlags:
		return uint32((len(t.Flags)+31)/32) * 4, nil
	default:
		return 0, coreerr.ErrUnsupportedFeature
	}
}

// Align returns a type's required alignment in bytes.
func Align(t Type) (uint32, error) {
	switch t.Kind {
	case KindBool, KindS8, KindU8:
		return 1, nil
	case KindS16, KindU16:
		return 2, nil
	case KindS32, KindU32, KindF32, KindChar, KindString, KindList,
		KindOwn, KindBorrow, KindStream, KindFuture, KindErrorContext:
		return 4, nil
	case KindS64, KindU64, KindF64:
		return 8, nil
	case KindRecord:
		var maxAlign uint32 = 1
		for _, f := range t.Fields {
			a, err := Align(f.Type)
			if err != nil {
				return 0, err
			}
			if a > maxAlign {
				maxAlign = a
			}
		}
		return maxAlign, nil
	case KindTuple:
		var maxAlign uint32 = 1
		for _, f := range t.Tuple {
			a, err := Align(f)
			if err != nil {
				return 0, err
			}
			if a > maxAlign {
				maxAlign = a
			}
		}
		return maxAlign, nil
	case KindVariant, KindResult:
		maxAlign := discriminantWidth(len(t.Cases))
		for _, c := range t.Cases {
			if c.Type == nil {
				continue
			}
			a, err := Align(*c.Type)
			if err != nil {
				return 0, err
			}
			if a > maxAlign {
				maxAlign = a
			}
		}
		return maxAlign, nil
	case KindEnum:
		return discriminantWidth(len(t.Cases)), nil
	case KindOption:
		inner := Type{Kind: KindVariant, Cases: []Case{{Name: "none"}, {Name: "some", Type: t.Elem}}}
		return Align(inner)
	case KindFlags:
		return 4, nil
	default:
		return 0, coreerr.ErrUnsupportedFeature
	}
}
