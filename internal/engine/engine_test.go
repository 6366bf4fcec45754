package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulseengine/wrt-sub004/api"
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
	"github.com/pulseengine/wrt-sub004/internal/engine"
	"github.com/pulseengine/wrt-sub004/internal/ir"
	"github.com/pulseengine/wrt-sub004/internal/memprovider"
	"github.com/pulseengine/wrt-sub004/internal/wasm"
)

func newInstance(t *testing.T, sig wasm.FunctionType, body []byte) *wasm.Instance {
	t.Helper()
	mod := &wasm.Module{Types: []wasm.FunctionType{sig}}
	fn := &wasm.FuncInstance{Type: &mod.Types[0], Body: body, TypeIndex: 0}
	return &wasm.Instance{
		Module:    mod,
		Functions: []*wasm.FuncInstance{fn},
	}
}

func withMemory(t *testing.T, inst *wasm.Instance, pages uint32) *wasm.Instance {
	t.Helper()
	p := memprovider.NewStdProvider(4, memprovider.Standard)
	mem, err := wasm.NewMemory(p, pages, pages)
	require.NoError(t, err)
	inst.Memories = []*wasm.Memory{mem}
	return inst
}

func TestInvokeAddAndReturn(t *testing.T) {
	sig := wasm.FunctionType{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}
	body := []byte{0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b} // local.get 0; local.get 1; i32.add; end
	inst := newInstance(t, sig, body)

	e := engine.New(wasm.NewStore(4), engine.DefaultConfig())
	out := e.Invoke(inst, 0, []api.Value{api.I32(5), api.I32(3)}, 1000)

	require.Equal(t, engine.OutcomeReturned, out.Kind)
	require.Len(t, out.Results, 1)
	require.Equal(t, int32(8), out.Results[0].I32())
}

func TestInvokeDivisionByZeroTraps(t *testing.T) {
	sig := wasm.FunctionType{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}
	body := []byte{0x20, 0x00, 0x20, 0x01, 0x6d, 0x0b} // local.get 0; local.get 1; i32.div_s; end
	inst := newInstance(t, sig, body)

	e := engine.New(wasm.NewStore(4), engine.DefaultConfig())
	out := e.Invoke(inst, 0, []api.Value{api.I32(7), api.I32(0)}, 1000)

	require.Equal(t, engine.OutcomeTrapped, out.Kind)
	require.ErrorIs(t, out.Trap, coreerr.ErrIntegerDivByZero)
}

func TestInvokeFuelBoundedLoopSuspendsResumesAndCancels(t *testing.T) {
	sig := wasm.FunctionType{}
	// loop (empty); br 0; end; end
	body := []byte{0x03, 0x40, 0x0c, 0x00, 0x0b, 0x0b}
	inst := newInstance(t, sig, body)

	e := engine.New(wasm.NewStore(4), engine.DefaultConfig())
	out := e.Invoke(inst, 0, nil, 128)
	require.Equal(t, engine.OutcomeSuspended, out.Kind)

	out2 := e.Resume(out.Token, nil, 128, inst)
	require.Equal(t, engine.OutcomeSuspended, out2.Kind)

	e.Cancel(out2.Token)
}

func TestMemoryStoreOutOfBoundsTraps(t *testing.T) {
	sig := wasm.FunctionType{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}}
	body := []byte{0x20, 0x00, 0x20, 0x01, 0x36, 0x02, 0x00, 0x0b} // local.get 0; local.get 1; i32.store align=2 offset=0; end
	inst := withMemory(t, newInstance(t, sig, body), 1)

	e := engine.New(wasm.NewStore(4), engine.DefaultConfig())
	out := e.Invoke(inst, 0, []api.Value{api.I32(65532), api.I32(0)}, 1000)
	require.Equal(t, engine.OutcomeReturned, out.Kind)

	out2 := e.Invoke(inst, 0, []api.Value{api.I32(65533), api.I32(0)}, 1000)
	require.Equal(t, engine.OutcomeTrapped, out2.Kind)
	require.ErrorIs(t, out2.Trap, coreerr.ErrOutOfBounds)
}

func TestInvokeArityMismatchTraps(t *testing.T) {
	sig := wasm.FunctionType{Params: []api.ValueType{api.ValueTypeI32}}
	inst := newInstance(t, sig, []byte{0x0b})

	e := engine.New(wasm.NewStore(4), engine.DefaultConfig())
	out := e.Invoke(inst, 0, nil, 100)
	require.Equal(t, engine.OutcomeTrapped, out.Kind)
	require.ErrorIs(t, out.Trap, coreerr.ErrTypeMismatch)
}

func TestHostCallOutcomeAndResume(t *testing.T) {
	addType := wasm.FunctionType{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}
	mod := &wasm.Module{Types: []wasm.FunctionType{addType}}
	hostFn := &wasm.FuncInstance{Type: &mod.Types[0], IsHostFunc: true, HostImportID: 42}
	// caller: local.get 0; call 0 (the host func); end
	callerBody := []byte{0x20, 0x00, 0x10, 0x00, 0x0b}
	callerFn := &wasm.FuncInstance{Type: &mod.Types[0], Body: callerBody, TypeIndex: 0}
	inst := &wasm.Instance{Module: mod, Functions: []*wasm.FuncInstance{hostFn, callerFn}}

	e := engine.New(wasm.NewStore(4), engine.DefaultConfig())
	out := e.Invoke(inst, 1, []api.Value{api.I32(9)}, 1000)
	require.Equal(t, engine.OutcomeHostCall, out.Kind)
	require.Equal(t, uint64(42), out.HostCall.ImportID)
	require.Equal(t, int32(9), out.HostCall.Args[0].I32())

	out2 := e.Resume(out.Token, []api.Value{api.I32(99)}, 1000, inst)
	require.Equal(t, engine.OutcomeReturned, out2.Kind)
	require.Equal(t, int32(99), out2.Results[0].I32())
}

// cfiInstance builds a caller whose sole table slot holds a callee declared
// against Types[1], an emptyType struct identical to Types[0], then
// call_indirect's against Types[0] — structurally equal, nominally distinct.
func cfiInstance(t *testing.T) *wasm.Instance {
	t.Helper()
	emptyType := wasm.FunctionType{}
	mod := &wasm.Module{Types: []wasm.FunctionType{emptyType, emptyType}}
	callee := &wasm.FuncInstance{Type: &mod.Types[1], TypeIndex: 1, Body: []byte{0x0b}}
	// i32.const 0; call_indirect type_index=0 table_index=0; end
	callerBody := []byte{byte(ir.OpI32Const), 0x00, byte(ir.OpCallIndirect), 0x00, 0x00, 0x0b}
	caller := &wasm.FuncInstance{Type: &mod.Types[0], TypeIndex: 0, Body: callerBody}

	tbl := wasm.NewTable(api.ValueTypeFuncRef, 1, nil, 1)
	require.NoError(t, tbl.Set(0, api.FuncRef(0)))

	return &wasm.Instance{
		Module:    mod,
		Functions: []*wasm.FuncInstance{callee, caller},
		Tables:    []*wasm.Table{tbl},
	}
}

func TestCallIndirectWithCFIDisabledAllowsNominalMismatch(t *testing.T) {
	inst := cfiInstance(t)
	e := engine.New(wasm.NewStore(4), engine.DefaultConfig())
	out := e.Invoke(inst, 1, nil, 1000)
	require.Equal(t, engine.OutcomeReturned, out.Kind)
}

func TestCallIndirectWithCFIEnabledTrapsNominalMismatch(t *testing.T) {
	inst := cfiInstance(t)
	cfg := engine.DefaultConfig()
	cfg.CFIEnabled = true
	e := engine.New(wasm.NewStore(4), cfg)
	out := e.Invoke(inst, 1, nil, 1000)
	require.Equal(t, engine.OutcomeTrapped, out.Kind)
	require.ErrorIs(t, out.Trap, coreerr.ErrCfiViolation)
}

func TestCallIndirectWithCFIEnabledAllowsNominalMatch(t *testing.T) {
	inst := cfiInstance(t)
	// rewrite the callee to nominally agree with the call site's type index.
	inst.Functions[0].TypeIndex = 0
	cfg := engine.DefaultConfig()
	cfg.CFIEnabled = true
	e := engine.New(wasm.NewStore(4), cfg)
	out := e.Invoke(inst, 1, nil, 1000)
	require.Equal(t, engine.OutcomeReturned, out.Kind)
}

func TestResumeWithStaleTokenErrorsDistinctFromCFI(t *testing.T) {
	sig := wasm.FunctionType{}
	inst := newInstance(t, sig, []byte{0x0b})
	e := engine.New(wasm.NewStore(4), engine.DefaultConfig())
	out := e.Invoke(inst, 0, nil, 1000)
	require.Equal(t, engine.OutcomeReturned, out.Kind)

	out2 := e.Resume(engine.ResumeToken{}, nil, 1000, inst)
	require.Equal(t, engine.OutcomeTrapped, out2.Kind)
	require.ErrorIs(t, out2.Trap, coreerr.ErrStaleResumeToken)
	require.NotErrorIs(t, out2.Trap, coreerr.ErrCfiViolation)
}
