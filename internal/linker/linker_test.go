package linker_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulseengine/wrt-sub004/api"
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
	"github.com/pulseengine/wrt-sub004/internal/engine"
	"github.com/pulseengine/wrt-sub004/internal/hostbridge"
	"github.com/pulseengine/wrt-sub004/internal/linker"
	"github.com/pulseengine/wrt-sub004/internal/memprovider"
	"github.com/pulseengine/wrt-sub004/internal/wasm"
)

func addOneSig() wasm.FunctionType {
	return wasm.FunctionType{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}
}

// TestInstantiateExportsMemoryAndRunsStart covers §4.6 steps 2-4: a local
// memory is allocated, an active data segment is copied into it, and the
// declared start function runs before instantiation returns.
func TestInstantiateExportsMemoryAndRunsStart(t *testing.T) {
	sig := wasm.FunctionType{}
	// start body: i32.const 0; i32.const 65; i32.store8 align=0 offset=0; end
	startBody := []byte{0x41, 0x00, 0x41, 0xc1, 0x00, 0x3a, 0x00, 0x00, 0x0b}
	startIdx := wasm.Index(0)

	mod := &wasm.Module{
		Types:     []wasm.FunctionType{sig},
		Functions: []wasm.Code{{TypeIndex: 0, Body: startBody}},
		Memories:  []wasm.Limits{{Min: 1, Max: nil}},
		Start:     &startIdx,
		Exports:   []wasm.Export{{Name: "mem", Type: api.ExternTypeMemory, Index: 0}},
	}

	provider := memprovider.NewStdProvider(4, memprovider.Standard)
	e := engine.New(wasm.NewStore(4), engine.DefaultConfig())

	inst, err := linker.Instantiate(mod, linker.Imports{}, linker.Options{
		Provider:  provider,
		StartFuel: 1000,
		Engine:    e,
	})
	require.NoError(t, err)

	mem, err := inst.ExportedMemory("mem")
	require.NoError(t, err)
	b, ok := mem.ReadByte(0)
	require.True(t, ok)
	require.Equal(t, byte(65), b)
}

// TestInstantiateResolvesHostImport covers §4.6 step 1 against a host
// Registry entry.
func TestInstantiateResolvesHostImport(t *testing.T) {
	sig := addOneSig()
	reg := hostbridge.NewRegistry(4)
	reg.Register("env", "double", sig, func(_ *wasm.Instance, args []api.Value) ([]api.Value, error) {
		return []api.Value{api.I32(args[0].I32() * 2)}, nil
	})

	mod := &wasm.Module{
		Types:                []wasm.FunctionType{sig},
		Imports:              []wasm.Import{{Module: "env", Name: "double", Type: api.ExternTypeFunc, FuncTypeIndex: 0}},
		NumImportedFunctions: 1,
		Exports:              []wasm.Export{{Name: "double", Type: api.ExternTypeFunc, Index: 0}},
	}

	inst, err := linker.Instantiate(mod, linker.Imports{Host: reg}, linker.Options{
		Provider: memprovider.NewStdProvider(4, memprovider.Standard),
	})
	require.NoError(t, err)

	fn, err := inst.ExportedFunction("double")
	require.NoError(t, err)
	require.True(t, fn.IsHostFunc)
}

// TestInstantiateMissingImportFails covers the "mismatches abort
// instantiation" half of §4.6 step 1.
func TestInstantiateMissingImportFails(t *testing.T) {
	sig := addOneSig()
	mod := &wasm.Module{
		Types:                []wasm.FunctionType{sig},
		Imports:              []wasm.Import{{Module: "env", Name: "missing", Type: api.ExternTypeFunc, FuncTypeIndex: 0}},
		NumImportedFunctions: 1,
	}

	_, err := linker.Instantiate(mod, linker.Imports{Host: hostbridge.NewRegistry(4)}, linker.Options{
		Provider: memprovider.NewStdProvider(4, memprovider.Standard),
	})
	require.True(t, errors.Is(err, coreerr.ErrImportNotFound))
}

// TestInstantiateAcrossComponents covers cross-component wiring: instance A
// exports a memory that instance B imports under its own module name.
func TestInstantiateAcrossComponents(t *testing.T) {
	memMod := &wasm.Module{
		Memories: []wasm.Limits{{Min: 1}},
		Exports:  []wasm.Export{{Name: "mem", Type: api.ExternTypeMemory, Index: 0}},
	}
	provider := memprovider.NewStdProvider(4, memprovider.Standard)
	memInst, err := linker.Instantiate(memMod, linker.Imports{}, linker.Options{Provider: provider})
	require.NoError(t, err)

	consumerMod := &wasm.Module{
		Imports:             []wasm.Import{{Module: "memory-provider", Name: "mem", Type: api.ExternTypeMemory}},
		NumImportedMemories: 1,
	}
	consumerInst, err := linker.Instantiate(consumerMod, linker.Imports{
		Instances: map[string]*wasm.Instance{"memory-provider": memInst},
	}, linker.Options{Provider: provider})
	require.NoError(t, err)
	require.Len(t, consumerInst.Memories, 1)
	require.Same(t, memInst.Memories[0], consumerInst.Memories[0])
}
