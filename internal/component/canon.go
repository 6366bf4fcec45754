package component

import (
	"math"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/pulseengine/wrt-sub004/internal/coreerr"
	"github.com/pulseengine/wrt-sub004/internal/wasm"
)

// StringEncoding selects the byte encoding negotiated for `string` values via
// canonical options (§4.5 "also UTF-16 LE and Latin-1 negotiated via
// canonical options").
type StringEncoding byte

const (
	EncodingUTF8 StringEncoding = iota
	EncodingUTF16LE
	EncodingLatin1
)

// Realloc is the guest-exported `cabi_realloc(old_ptr, old_size, align,
// new_size) -> new_ptr` function every component with dynamically-sized
// canonical ABI values must export. Lowering a string/list/variant with a
// growing payload calls through this closure; the linker supplies it bound
// to a live engine invocation.
type Realloc func(oldPtr, oldSize, align, newSize uint32) (uint32, error)

// Options bundles the per-call canonical ABI configuration: which memory and
// realloc export to use, and which string encoding was negotiated (§4.5
// "Contract").
type Options struct {
	Memory   *wasm.Memory
	Realloc  Realloc
	Encoding StringEncoding
}

// LiftContext carries everything a lift needs: the canonical options and the
// resource store a lifted own/borrow handle resolves against.
type LiftContext struct {
	Options Options
	Store   *ResourceStore
}

// LowerContext is LiftContext's mirror for the write direction.
type LowerContext struct {
	Options Options
	Store   *ResourceStore
}

// RecordValue is the lifted/lowered form of a `record`: one entry per
// Type.Fields, in declaration order.
type RecordValue struct{ Values []any }

// VariantValue is the lifted/lowered form of a `variant`: the selected case
// index into Type.Cases, and its payload (nil if that case carries none).
type VariantValue struct {
	CaseIndex uint32
	Payload   any
}

// FlagsValue is a bitset, index-aligned with Type.Flags.
type FlagsValue []bool

// OptionValue is `option<T>` lifted as a presence flag plus payload.
type OptionValue struct {
	Present bool
	Value   any
}

// ResultValue is `result<ok, err>` lifted as a success flag plus the payload
// for whichever side is present.
type ResultValue struct {
	OK    bool
	Value any
}

// OwnValue and BorrowValue carry a resolved resource handle; Lift on an
// own/borrow type returns one of these so callers can feed it straight to
// ResourceStore without a second handle lookup.
type OwnValue struct{ Handle wasm.ResourceHandle }
type BorrowValue struct{ Handle wasm.ResourceHandle }

// HandleValue is the lifted form of stream/future/error-context: these are
// handle-based and excluded from the round-trip invariant (§8 "excluding
// stream/future which are handle-based"), so lift/lower just moves the u32
// handle value itself.
type HandleValue uint32

// Lift reads a value of Component Model type t out of memory at addr,
// per §4.5's `lift(type, memory, addr) -> Value` contract.
func Lift(ctx *LiftContext, t Type, addr uint32) (any, error) {
	mem := ctx.Options.Memory
	switch t.Kind {
	case KindBool:
		b, ok := mem.ReadByte(addr)
		if !ok {
			return nil, coreerr.ErrOutOfBounds
		}
		return b != 0, nil
	case KindS8:
		b, ok := mem.ReadByte(addr)
		if !ok {
			return nil, coreerr.ErrOutOfBounds
		}
		return int8(b), nil
	case KindU8:
		b, ok := mem.ReadByte(addr)
		if !ok {
			return nil, coreerr.ErrOutOfBounds
		}
		return b, nil
	case KindS16:
		v, ok := read16(mem, addr)
		if !ok {
			return nil, coreerr.ErrOutOfBounds
		}
		return int16(v), nil
	case KindU16:
		v, ok := read16(mem, addr)
		if !ok {
			return nil, coreerr.ErrOutOfBounds
		}
		return v, nil
	case KindS32:
		v, ok := mem.ReadUint32Le(addr)
		if !ok {
			return nil, coreerr.ErrOutOfBounds
		}
		return int32(v), nil
	case KindU32:
		v, ok := mem.ReadUint32Le(addr)
		if !ok {
			return nil, coreerr.ErrOutOfBounds
		}
		return v, nil
	case KindChar:
		v, ok := mem.ReadUint32Le(addr)
		if !ok {
			return nil, coreerr.ErrOutOfBounds
		}
		return rune(v), nil
	case KindS64:
		v, ok := mem.ReadUint64Le(addr)
		if !ok {
			return nil, coreerr.ErrOutOfBounds
		}
		return int64(v), nil
	case KindU64:
		v, ok := mem.ReadUint64Le(addr)
		if !ok {
			return nil, coreerr.ErrOutOfBounds
		}
		return v, nil
	case KindF32:
		v, ok := mem.ReadUint32Le(addr)
		if !ok {
			return nil, coreerr.ErrOutOfBounds
		}
		return math.Float32frombits(v), nil
	case KindF64:
		v, ok := mem.ReadUint64Le(addr)
		if !ok {
			return nil, coreerr.ErrOutOfBounds
		}
		return math.Float64frombits(v), nil
	case KindString:
		ptr, length, ok := readPtrLen(mem, addr)
		if !ok {
			return nil, coreerr.ErrOutOfBounds
		}
		return LiftString(ctx, ptr, length)
	case KindList:
		ptr, length, ok := readPtrLen(mem, addr)
		if !ok {
			return nil, coreerr.ErrOutOfBounds
		}
		return liftListAt(ctx, *t.Elem, ptr, length)
	case KindRecord:
		return liftRecord(ctx, t, addr)
	case KindTuple:
		return liftTuple(ctx, t, addr)
	case KindVariant:
		return liftVariant(ctx, t, addr)
	case KindResult:
		v, err := liftVariant(ctx, t, addr)
		if err != nil {
			return nil, err
		}
		vv := v.(VariantValue)
		return ResultValue{OK: vv.CaseIndex == 0, Value: vv.Payload}, nil
	case KindEnum:
		idx, err := readDiscriminant(mem, addr, len(t.Cases))
		if err != nil {
			return nil, err
		}
		return idx, nil
	case KindOption:
		inner := Type{Kind: KindVariant, Cases: []Case{{Name: "none"}, {Name: "some", Type: t.Elem}}}
		v, err := liftVariant(ctx, inner, addr)
		if err != nil {
			return nil, err
		}
		vv := v.(VariantValue)
		return OptionValue{Present: vv.CaseIndex == 1, Value: vv.Payload}, nil
	case KindFlags:
		return liftFlags(mem, t, addr)
	case KindOwn:
		h, ok := mem.ReadUint32Le(addr)
		if !ok {
			return nil, coreerr.ErrOutOfBounds
		}
		return OwnValue{Handle: wasm.DecodeHandle(h)}, nil
	case KindBorrow:
		h, ok := mem.ReadUint32Le(addr)
		if !ok {
			return nil, coreerr.ErrOutOfBounds
		}
		return BorrowValue{Handle: wasm.DecodeHandle(h)}, nil
	case KindStream, KindFuture, KindErrorContext:
		h, ok := mem.ReadUint32Le(addr)
		if !ok {
			return nil, coreerr.ErrOutOfBounds
		}
		return HandleValue(h), nil
	default:
		return nil, coreerr.ErrUnsupportedFeature
	}
}

// Lower writes value v of Component Model type t into memory at addr,
// per §4.5's `lower(type, memory, addr, value) -> ()` contract.
func Lower(ctx *LowerContext, t Type, addr uint32, v any) error {
	mem := ctx.Options.Memory
	switch t.Kind {
	case KindBool:
		b := byte(0)
		if v.(bool) {
			b = 1
		}
		if !mem.WriteByte(addr, b) {
			return coreerr.ErrOutOfBounds
		}
		return nil
	case KindS8:
		if !mem.WriteByte(addr, byte(v.(int8))) {
			return coreerr.ErrOutOfBounds
		}
		return nil
	case KindU8:
		if !mem.WriteByte(addr, v.(uint8)) {
			return coreerr.ErrOutOfBounds
		}
		return nil
	case KindS16:
		return write16(mem, addr, uint16(v.(int16)))
	case KindU16:
		return write16(mem, addr, v.(uint16))
	case KindS32:
		if !mem.WriteUint32Le(addr, uint32(v.(int32))) {
			return coreerr.ErrOutOfBounds
		}
		return nil
	case KindU32:
		if !mem.WriteUint32Le(addr, v.(uint32)) {
			return coreerr.ErrOutOfBounds
		}
		return nil
	case KindChar:
		if !mem.WriteUint32Le(addr, uint32(v.(rune))) {
			return coreerr.ErrOutOfBounds
		}
		return nil
	case KindS64:
		if !mem.WriteUint64Le(addr, uint64(v.(int64))) {
			return coreerr.ErrOutOfBounds
		}
		return nil
	case KindU64:
		if !mem.WriteUint64Le(addr, v.(uint64)) {
			return coreerr.ErrOutOfBounds
		}
		return nil
	case KindF32:
		if !mem.WriteUint32Le(addr, math.Float32bits(v.(float32))) {
			return coreerr.ErrOutOfBounds
		}
		return nil
	case KindF64:
		if !mem.WriteUint64Le(addr, math.Float64bits(v.(float64))) {
			return coreerr.ErrOutOfBounds
		}
		return nil
	case KindString:
		ptr, length, err := LowerString(ctx, v.(string))
		if err != nil {
			return err
		}
		return writePtrLen(mem, addr, ptr, length)
	case KindList:
		elems := v.([]any)
		ptr, length, err := lowerListAt(ctx, *t.Elem, elems)
		if err != nil {
			return err
		}
		return writePtrLen(mem, addr, ptr, length)
	case KindRecord:
		return lowerRecord(ctx, t, addr, v.(RecordValue))
	case KindTuple:
		return lowerTuple(ctx, t, addr, v.([]any))
	case KindVariant:
		return lowerVariant(ctx, t, addr, v.(VariantValue))
	case KindResult:
		rv := v.(ResultValue)
		idx := uint32(1)
		if rv.OK {
			idx = 0
		}
		return lowerVariant(ctx, t, addr, VariantValue{CaseIndex: idx, Payload: rv.Value})
	case KindEnum:
		return writeDiscriminant(mem, addr, v.(uint32), len(t.Cases))
	case KindOption:
		ov := v.(OptionValue)
		inner := Type{Kind: KindVariant, Cases: []Case{{Name: "none"}, {Name: "some", Type: t.Elem}}}
		idx := uint32(0)
		if ov.Present {
			idx = 1
		}
		return lowerVariant(ctx, inner, addr, VariantValue{CaseIndex: idx, Payload: ov.Value})
	case KindFlags:
		return lowerFlags(mem, t, addr, v.(FlagsValue))
	case KindOwn:
		return writeHandle(mem, addr, v.(OwnValue).Handle)
	case KindBorrow:
		return writeHandle(mem, addr, v.(BorrowValue).Handle)
	case KindStream, KindFuture, KindErrorContext:
		if !mem.WriteUint32Le(addr, uint32(v.(HandleValue))) {
			return coreerr.ErrOutOfBounds
		}
		return nil
	default:
		return coreerr.ErrUnsupportedFeature
	}
}

func liftRecord(ctx *LiftContext, t Type, addr uint32) (any, error) {
	values := make([]any, len(t.Fields))
	var offset uint32
	for i, f := range t.Fields {
		a, err := Align(f.Type)
		if err != nil {
			return nil, err
		}
		offset = alignUp(offset, a)
		v, err := Lift(ctx, f.Type, addr+offset)
		if err != nil {
			return nil, err
		}
		values[i] = v
		s, err := Size(f.Type)
		if err != nil {
			return nil, err
		}
		offset += s
	}
	return RecordValue{Values: values}, nil
}

func lowerRecord(ctx *LowerContext, t Type, addr uint32, rv RecordValue) error {
	var offset uint32
	for i, f := range t.Fields {
		a, err := Align(f.Type)
		if err != nil {
			return err
		}
		offset = alignUp(offset, a)
		if err := Lower(ctx, f.Type, addr+offset, rv.Values[i]); err != nil {
			return err
		}
		s, err := Size(f.Type)
		if err != nil {
			return err
		}
		offset += s
	}
	return nil
}

func liftTuple(ctx *LiftContext, t Type, addr uint32) (any, error) {
	values := make([]any, len(t.Tuple))
	var offset uint32
	for i, elemT := range t.Tuple {
		a, err := Align(elemT)
		if err != nil {
			return nil, err
		}
		offset = alignUp(offset, a)
		v, err := Lift(ctx, elemT, addr+offset)
		if err != nil {
			return nil, err
		}
		values[i] = v
		s, err := Size(elemT)
		if err != nil {
			return nil, err
		}
		offset += s
	}
	return values, nil
}

func lowerTuple(ctx *LowerContext, t Type, addr uint32, values []any) error {
	var offset uint32
	for i, elemT := range t.Tuple {
		a, err := Align(elemT)
		if err != nil {
			return err
		}
		offset = alignUp(offset, a)
		if err := Lower(ctx, elemT, addr+offset, values[i]); err != nil {
			return err
		}
		s, err := Size(elemT)
		if err != nil {
			return err
		}
		offset += s
	}
	return nil
}

func liftVariant(ctx *LiftContext, t Type, addr uint32) (any, error) {
	mem := ctx.Options.Memory
	idx, err := readDiscriminant(mem, addr, len(t.Cases))
	if err != nil {
		return nil, err
	}
	c := t.Cases[idx]
	if c.Type == nil {
		return VariantValue{CaseIndex: idx}, nil
	}
	discWidth := discriminantWidth(len(t.Cases))
	maxAlign, err := Align(t)
	if err != nil {
		return nil, err
	}
	payloadOffset := alignUp(discWidth, maxAlign)
	v, err := Lift(ctx, *c.Type, addr+payloadOffset)
	if err != nil {
		return nil, err
	}
	return VariantValue{CaseIndex: idx, Payload: v}, nil
}

func lowerVariant(ctx *LowerContext, t Type, addr uint32, vv VariantValue) error {
	mem := ctx.Options.Memory
	if int(vv.CaseIndex) >= len(t.Cases) {
		return coreerr.ErrDiscriminantOutOfRange
	}
	if err := writeDiscriminant(mem, addr, vv.CaseIndex, len(t.Cases)); err != nil {
		return err
	}
	c := t.Cases[vv.CaseIndex]
	if c.Type == nil {
		return nil
	}
	discWidth := discriminantWidth(len(t.Cases))
	maxAlign, err := Align(t)
	if err != nil {
		return err
	}
	payloadOffset := alignUp(discWidth, maxAlign)
	return Lower(ctx, *c.Type, addr+payloadOffset, vv.Payload)
}

func liftFlags(mem *wasm.Memory, t Type, addr uint32) (any, error) {
	words := (len(t.Flags) + 31) / 32
	out := make(FlagsValue, len(t.Flags))
	for w := 0; w < words; w++ {
		bits, ok := mem.ReadUint32Le(addr + uint32(w)*4)
		if !ok {
			return nil, coreerr.ErrOutOfBounds
		}
		for b := 0; b < 32; b++ {
			i := w*32 + b
			if i >= len(t.Flags) {
				break
			}
			out[i] = bits&(1<<uint(b)) != 0
		}
	}
	return out, nil
}

func lowerFlags(mem *wasm.Memory, t Type, addr uint32, fv FlagsValue) error {
	words := (len(t.Flags) + 31) / 32
	for w := 0; w < words; w++ {
		var bits uint32
		for b := 0; b < 32; b++ {
			i := w*32 + b
			if i >= len(fv) {
				break
			}
			if fv[i] {
				bits |= 1 << uint(b)
			}
		}
		if !mem.WriteUint32Le(addr+uint32(w)*4, bits) {
			return coreerr.ErrOutOfBounds
		}
	}
	return nil
}

func readDiscriminant(mem *wasm.Memory, addr uint32, numCases int) (uint32, error) {
	var v uint32
	switch discriminantWidth(numCases) {
	case 1:
		b, ok := mem.ReadByte(addr)
		if !ok {
			return 0, coreerr.ErrOutOfBounds
		}
		v = uint32(b)
	case 2:
		u, ok := read16(mem, addr)
		if !ok {
			return 0, coreerr.ErrOutOfBounds
		}
		v = uint32(u)
	default:
		u, ok := mem.ReadUint32Le(addr)
		if !ok {
			return 0, coreerr.ErrOutOfBounds
		}
		v = u
	}
	if int(v) >= numCases {
		return 0, coreerr.ErrDiscriminantOutOfRange
	}
	return v, nil
}

func writeDiscriminant(mem *wasm.Memory, addr uint32, v uint32, numCases int) error {
	if int(v) >= numCases {
		return coreerr.ErrDiscriminantOutOfRange
	}
	switch discriminantWidth(numCases) {
	case 1:
		if !mem.WriteByte(addr, byte(v)) {
			return coreerr.ErrOutOfBounds
		}
	case 2:
		if err := write16(mem, addr, uint16(v)); err != nil {
			return err
		}
	default:
		if !mem.WriteUint32Le(addr, v) {
			return coreerr.ErrOutOfBounds
		}
	}
	return nil
}

// LiftString reads a `string` value from ptr/len, decoding per the
// negotiated canonical option encoding (§4.5 "string (UTF-8 by default; also
// UTF-16 LE and Latin-1 negotiated via canonical options)").
func LiftString(ctx *LiftContext, ptr, length uint32) (string, error) {
	data, ok := ctx.Options.Memory.Read(ptr, length)
	if !ok {
		return "", coreerr.ErrOutOfBounds
	}
	switch ctx.Options.Encoding {
	case EncodingUTF8:
		if !utf8.Valid(data) {
			return "", coreerr.ErrMalformedString
		}
		return string(data), nil
	case EncodingLatin1:
		runes := make([]rune, len(data))
		for i, b := range data {
			runes[i] = rune(b)
		}
		return string(runes), nil
	case EncodingUTF16LE:
		if len(data)%2 != 0 {
			return "", coreerr.ErrMalformedString
		}
		units := make([]uint16, len(data)/2)
		for i := range units {
			units[i] = uint16(data[2*i]) | uint16(data[2*i+1])<<8
		}
		return string(utf16.Decode(units)), nil
	default:
		return "", coreerr.ErrUnsupportedFeature
	}
}

// LowerString allocates (via Realloc) and writes a `string` value, returning
// its ptr/len pair.
func LowerString(ctx *LowerContext, s string) (ptr, length uint32, err error) {
	var data []byte
	switch ctx.Options.Encoding {
	case EncodingUTF8:
		data = []byte(s)
	case EncodingLatin1:
		data = make([]byte, 0, len(s))
		for _, r := range s {
			if r > 0xff {
				return 0, 0, coreerr.ErrMalformedString
			}
			data = append(data, byte(r))
		}
	case EncodingUTF16LE:
		units := utf16.Encode([]rune(s))
		data = make([]byte, len(units)*2)
		for i, u := range units {
			data[2*i] = byte(u)
			data[2*i+1] = byte(u >> 8)
		}
	default:
		return 0, 0, coreerr.ErrUnsupportedFeature
	}
	length = uint32(len(data))
	if length == 0 {
		return 0, 0, nil
	}
	if ctx.Options.Realloc == nil {
		return 0, 0, coreerr.ErrUnsupportedFeature
	}
	ptr, err = ctx.Options.Realloc(0, 0, 1, length)
	if err != nil {
		return 0, 0, err
	}
	if !ctx.Options.Memory.Write(ptr, data) {
		return 0, 0, coreerr.ErrOutOfBounds
	}
	return ptr, length, nil
}

func liftListAt(ctx *LiftContext, elem Type, ptr, length uint32) ([]any, error) {
	elemSize, err := Size(elem)
	if err != nil {
		return nil, err
	}
	out := make([]any, length)
	for i := uint32(0); i < length; i++ {
		v, err := Lift(ctx, elem, ptr+i*elemSize)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func lowerListAt(ctx *LowerContext, elem Type, elems []any) (ptr, length uint32, err error) {
	length = uint32(len(elems))
	if length == 0 {
		return 0, 0, nil
	}
	elemSize, err := Size(elem)
	if err != nil {
		return 0, 0, err
	}
	elemAlign, err := Align(elem)
	if err != nil {
		return 0, 0, err
	}
	if ctx.Options.Realloc == nil {
		return 0, 0, coreerr.ErrUnsupportedFeature
	}
	ptr, err = ctx.Options.Realloc(0, 0, elemAlign, length*elemSize)
	if err != nil {
		return 0, 0, err
	}
	for i, v := range elems {
		if err := Lower(ctx, elem, ptr+uint32(i)*elemSize, v); err != nil {
			return 0, 0, err
		}
	}
	return ptr, length, nil
}

func readPtrLen(mem *wasm.Memory, addr uint32) (ptr, length uint32, ok bool) {
	ptr, ok = mem.ReadUint32Le(addr)
	if !ok {
		return 0, 0, false
	}
	length, ok = mem.ReadUint32Le(addr + 4)
	return ptr, length, ok
}

func writePtrLen(mem *wasm.Memory, addr, ptr, length uint32) error {
	if !mem.WriteUint32Le(addr, ptr) {
		return coreerr.ErrOutOfBounds
	}
	if !mem.WriteUint32Le(addr+4, length) {
		return coreerr.ErrOutOfBounds
	}
	return nil
}

func read16(mem *wasm.Memory, addr uint32) (uint16, bool) {
	b, ok := mem.Read(addr, 2)
	if !ok {
		return 0, false
	}
	return uint16(b[0]) | uint16(b[1])<<8, true
}

func write16(mem *wasm.Memory, addr uint32, v uint16) error {
	if !mem.Write(addr, []byte{byte(v), byte(v >> 8)}) {
		return coreerr.ErrOutOfBounds
	}
	return nil
}

func writeHandle(mem *wasm.Memory, addr uint32, h wasm.ResourceHandle) error {
	if !mem.WriteUint32Le(addr, wasm.EncodeHandle(h)) {
		return coreerr.ErrOutOfBounds
	}
	return nil
}
