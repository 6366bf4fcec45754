package component_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulseengine/wrt-sub004/internal/component"
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
	"github.com/pulseengine/wrt-sub004/internal/memprovider"
	"github.com/pulseengine/wrt-sub004/internal/wasm"
)

func newMemory(t *testing.T) *wasm.Memory {
	t.Helper()
	p := memprovider.NewStdProvider(4, memprovider.Standard)
	mem, err := wasm.NewMemory(p, 2, 2)
	require.NoError(t, err)
	return mem
}

// bumpRealloc is a trivial cabi_realloc: a monotonically increasing
// bump-pointer allocator over the test memory, enough to exercise
// string/list lowering without needing a real guest export.
func bumpRealloc(mem *wasm.Memory) component.Realloc {
	next := uint32(8)
	return func(oldPtr, oldSize, align, newSize uint32) (uint32, error) {
		if newSize == 0 {
			return 0, nil
		}
		if align > 1 {
			next = (next + align - 1) &^ (align - 1)
		}
		ptr := next
		next += newSize
		return ptr, nil
	}
}

func lowerCtx(t *testing.T, mem *wasm.Memory) *component.LowerContext {
	t.Helper()
	return &component.LowerContext{
		Options: component.Options{Memory: mem, Realloc: bumpRealloc(mem), Encoding: component.EncodingUTF8},
		Store:   component.NewResourceStore(16),
	}
}

func liftCtx(mem *wasm.Memory, store *component.ResourceStore) *component.LiftContext {
	return &component.LiftContext{
		Options: component.Options{Memory: mem, Encoding: component.EncodingUTF8},
		Store:   store,
	}
}

// roundTrip exercises §8's universal invariant: lift(t, m, lower(t, m, a,
// v)) at address a equals v.
func roundTrip(t *testing.T, typ component.Type, v any) any {
	t.Helper()
	mem := newMemory(t)
	lctx := lowerCtx(t, mem)
	require.NoError(t, component.Lower(lctx, typ, 1024, v))
	ictx := liftCtx(mem, lctx.Store)
	got, err := component.Lift(ictx, typ, 1024)
	require.NoError(t, err)
	return got
}

func TestRoundTripPrimitives(t *testing.T) {
	require.Equal(t, true, roundTrip(t, component.Primitive(component.KindBool), true))
	require.Equal(t, int32(-7), roundTrip(t, component.Primitive(component.KindS32), int32(-7)))
	require.Equal(t, uint64(1<<40), roundTrip(t, component.Primitive(component.KindU64), uint64(1<<40)))
	require.Equal(t, float32(3.5), roundTrip(t, component.Primitive(component.KindF32), float32(3.5)))
	require.Equal(t, float64(-1.25), roundTrip(t, component.Primitive(component.KindF64), float64(-1.25)))
	require.Equal(t, 'é', roundTrip(t, component.Primitive(component.KindChar), 'é'))
}

// TestRoundTripStringUTF8 exercises §8 scenario 5: a component echoing
// "héllo" (5 code points, 6 UTF-8 bytes) byte-identically.
func TestRoundTripStringUTF8(t *testing.T) {
	got := roundTrip(t, component.StringType(), "héllo")
	require.Equal(t, "héllo", got)
}

func TestRoundTripStringUTF16LE(t *testing.T) {
	mem := newMemory(t)
	lctx := lowerCtx(t, mem)
	lctx.Options.Encoding = component.EncodingUTF16LE
	require.NoError(t, component.Lower(lctx, component.StringType(), 1024, "héllo"))

	ictx := liftCtx(mem, lctx.Store)
	ictx.Options.Encoding = component.EncodingUTF16LE
	got, err := component.Lift(ictx, component.StringType(), 1024)
	require.NoError(t, err)
	require.Equal(t, "héllo", got)
}

func TestLiftStringMalformedUTF8Fails(t *testing.T) {
	mem := newMemory(t)
	require.True(t, mem.Write(1024, []byte{0xff, 0xfe}))
	ictx := liftCtx(mem, component.NewResourceStore(16))
	_, err := component.LiftString(ictx, 1024, 2)
	require.Error(t, err)
}

func TestRoundTripList(t *testing.T) {
	listType := component.List(component.Primitive(component.KindU32))
	got := roundTrip(t, listType, []any{uint32(1), uint32(2), uint32(3)})
	require.Equal(t, []any{uint32(1), uint32(2), uint32(3)}, got)
}

func TestRoundTripRecord(t *testing.T) {
	recType := component.Record(
		component.Field{Name: "x", Type: component.Primitive(component.KindS32)},
		component.Field{Name: "y", Type: component.Primitive(component.KindS64)},
	)
	got := roundTrip(t, recType, component.RecordValue{Values: []any{int32(5), int64(-9)}})
	require.Equal(t, component.RecordValue{Values: []any{int32(5), int64(-9)}}, got)
}

func TestRoundTripTuple(t *testing.T) {
	tupType := component.TupleOf(component.Primitive(component.KindBool), component.Primitive(component.KindU8))
	got := roundTrip(t, tupType, []any{true, uint8(200)})
	require.Equal(t, []any{true, uint8(200)}, got)
}

func TestRoundTripVariant(t *testing.T) {
	f32 := component.Primitive(component.KindF32)
	u32 := component.Primitive(component.KindU32)
	variantType := component.Variant(
		component.Case{Name: "a", Type: &f32},
		component.Case{Name: "b", Type: &u32},
		component.Case{Name: "c"},
	)
	got := roundTrip(t, variantType, component.VariantValue{CaseIndex: 1, Payload: uint32(42)})
	require.Equal(t, component.VariantValue{CaseIndex: 1, Payload: uint32(42)}, got)

	got2 := roundTrip(t, variantType, component.VariantValue{CaseIndex: 2})
	require.Equal(t, component.VariantValue{CaseIndex: 2}, got2)
}

func TestRoundTripOption(t *testing.T) {
	optType := component.OptionOf(component.Primitive(component.KindS32))
	some := roundTrip(t, optType, component.OptionValue{Present: true, Value: int32(9)})
	require.Equal(t, component.OptionValue{Present: true, Value: int32(9)}, some)

	none := roundTrip(t, optType, component.OptionValue{Present: false})
	require.Equal(t, component.OptionValue{Present: false}, none)
}

func TestRoundTripResult(t *testing.T) {
	ok := component.Primitive(component.KindU32)
	errT := component.Primitive(component.KindU8)
	resultType := component.ResultOf(&ok, &errT)

	good := roundTrip(t, resultType, component.ResultValue{OK: true, Value: uint32(1)})
	require.Equal(t, component.ResultValue{OK: true, Value: uint32(1)}, good)

	bad := roundTrip(t, resultType, component.ResultValue{OK: false, Value: uint8(3)})
	require.Equal(t, component.ResultValue{OK: false, Value: uint8(3)}, bad)
}

func TestRoundTripEnum(t *testing.T) {
	enumType := component.EnumOf("red", "green", "blue")
	got := roundTrip(t, enumType, uint32(2))
	require.Equal(t, uint32(2), got)
}

func TestRoundTripFlags(t *testing.T) {
	flagsType := component.FlagsOf("read", "write", "exec")
	got := roundTrip(t, flagsType, component.FlagsValue{true, false, true})
	require.Equal(t, component.FlagsValue{true, false, true}, got)
}

func TestVariantDiscriminantOutOfRangeTraps(t *testing.T) {
	mem := newMemory(t)
	lctx := lowerCtx(t, mem)
	v := component.Primitive(component.KindU32)
	variantType := component.Variant(component.Case{Name: "a", Type: &v})
	err := component.Lower(lctx, variantType, 1024, component.VariantValue{CaseIndex: 7})
	require.ErrorIs(t, err, coreerr.ErrDiscriminantOutOfRange)
}

func TestResourceOwnLifecycle(t *testing.T) {
	store := component.NewResourceStore(8)
	var destroyed []uint32
	store.RegisterDestructor(1, func(rep uint32) { destroyed = append(destroyed, rep) })

	h, err := component.ResourceNew(store, 1, 77)
	require.NoError(t, err)

	rep, err := component.ResourceRep(store, 1, h)
	require.NoError(t, err)
	require.Equal(t, uint32(77), rep)

	require.NoError(t, component.ResourceDrop(store, 1, h))
	require.Equal(t, []uint32{77}, destroyed)

	_, err = component.ResourceRep(store, 1, h)
	require.Error(t, err)
}

func TestLiftOwnTransfersWithoutRunningDestructor(t *testing.T) {
	store := component.NewResourceStore(8)
	ran := false
	store.RegisterDestructor(2, func(uint32) { ran = true })

	h, err := component.ResourceNew(store, 2, 5)
	require.NoError(t, err)

	mem := newMemory(t)
	ictx := liftCtx(mem, store)
	rep, err := component.LiftOwn(ictx, 2, component.OwnValue{Handle: h})
	require.NoError(t, err)
	require.Equal(t, uint32(5), rep)
	require.False(t, ran, "lifting own must not run the destructor; ownership only moved")
}

func TestBorrowBlocksDropUntilEnded(t *testing.T) {
	store := component.NewResourceStore(8)
	h, err := component.ResourceNew(store, 3, 1)
	require.NoError(t, err)

	mem := newMemory(t)
	ictx := liftCtx(mem, store)
	_, err = component.LiftBorrow(ictx, 3, component.BorrowValue{Handle: h})
	require.NoError(t, err)

	require.Error(t, component.ResourceDrop(store, 3, h))

	require.NoError(t, component.EndLiftBorrow(ictx, 3, component.BorrowValue{Handle: h}))
	require.NoError(t, component.ResourceDrop(store, 3, h))
}
