// Package linker is the Component Model linker (§4.6): it resolves a
// decoded Module's imports against a host Registry and/or the exports of
// already-instantiated Instances, allocates the Instance's own
// memories/tables/globals against a capability-scoped Provider, copies
// active data/element segments, and runs the start function (if declared)
// through a caller-supplied Engine and fuel budget.
//
// Grounded structurally on wazero's store.go resolveImports/buildInstance
// split (internal/wasm in the teacher pack): imports are resolved first,
// by (module, name) against either a host module or a sibling instance's
// export table, with a structural type check before anything is
// allocated; only after every import resolves does the linker allocate
// local memories/tables/globals and copy segments.
package linker

import (
	"github.com/pulseengine/wrt-sub004/api"
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
	"github.com/pulseengine/wrt-sub004/internal/engine"
	"github.com/pulseengine/wrt-sub004/internal/hostbridge"
	"github.com/pulseengine/wrt-sub004/internal/memprovider"
	"github.com/pulseengine/wrt-sub004/internal/obslog"
	"github.com/pulseengine/wrt-sub004/internal/wasm"

	pkgerrors "github.com/pkg/errors"
)

// Invoker runs the start function during instantiation. *engine.Engine
// satisfies this directly; it is abstracted here only so linker's own
// tests can stub it without constructing a real Engine.
type Invoker interface {
	Invoke(inst *wasm.Instance, funcIdx uint32, args []api.Value, fuel uint64) engine.Outcome
}

// Imports is everything the linker may resolve a Module's declared imports
// against: a host function registry, shared across a Store, and the
// already-instantiated sibling instances addressable by module name
// (§4.6 "Resolves each import by (namespace, name) to either a host entry
// or an export of another instance").
type Imports struct {
	Host      *hostbridge.Registry
	Instances map[string]*wasm.Instance
}

// Options bounds and configures one instantiation.
type Options struct {
	Provider              memprovider.Provider
	MaxTablesPerInstance  int
	MaxPagesPerMemory     uint32
	ResourceTableCapacity int
	StartFuel             uint64
	Engine                Invoker // nil skips running the start function
	Log                   obslog.Logger
}

// Instantiate implements §4.6's five-step protocol and returns the
// resulting Instance, whose exports map names to typed handles.
func Instantiate(mod *wasm.Module, imports Imports, opts Options) (*wasm.Instance, error) {
	if err := mod.Validate(); err != nil {
		return nil, pkgerrors.Wrap(err, "module validation failed before instantiation")
	}

	impFuncs, impTables, impMems, impGlobals, err := resolveImports(mod, imports)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "import resolution failed")
	}

	tables, err := instantiateTables(mod, opts)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "table allocation failed")
	}
	memories, err := instantiateMemories(mod, opts)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "memory allocation failed")
	}
	globals, err := instantiateGlobals(mod, impGlobals)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "global initialization failed")
	}

	allTables := append(append([]*wasm.Table{}, impTables...), tables...)
	allMemories := append(append([]*wasm.Memory{}, impMems...), memories...)
	allGlobals := append(append([]*wasm.Global{}, impGlobals...), globals...)
	allFuncs := append(append([]*wasm.FuncInstance{}, impFuncs...), localFuncInstances(mod)...)

	if err := copyDataSegments(mod, allMemories); err != nil {
		return nil, pkgerrors.Wrap(err, "active data segment copy failed")
	}
	elemInstances, err := initElementSegments(mod, allTables)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "active element segment init failed")
	}
	dataInstances := buildDataInstances(mod)

	resCap := opts.ResourceTableCapacity
	if resCap <= 0 {
		resCap = 256
	}

	inst := &wasm.Instance{
		Module:           mod,
		Functions:        allFuncs,
		Tables:           allTables,
		Memories:         allMemories,
		Globals:          allGlobals,
		DataInstances:    dataInstances,
		ElementInstances: elemInstances,
		Exports:          make(map[string]wasm.Export, len(mod.Exports)),
		Resources:        wasm.NewResourceTable(resCap),
	}
	for _, exp := range mod.Exports {
		inst.Exports[exp.Name] = exp
	}

	if mod.Start != nil {
		if opts.Engine == nil {
			return nil, coreerr.New(coreerr.Link, coreerr.CodeImportNotFound, "start function declared but no engine supplied")
		}
		outcome := opts.Engine.Invoke(inst, *mod.Start, nil, opts.StartFuel)
		if outcome.Kind == engine.OutcomeTrapped {
			if opts.Log != nil {
				opts.Log.Errorw("start function trapped", "error", outcome.Trap)
			}
			return nil, pkgerrors.Wrap(outcome.Trap, "start function trapped")
		}
	}

	if opts.Log != nil {
		opts.Log.Infow("instance linked",
			"exports", len(inst.Exports),
			"memories", len(inst.Memories),
			"tables", len(inst.Tables),
		)
	}
	return inst, nil
}

func resolveImports(mod *wasm.Module, imports Imports) (funcs []*wasm.FuncInstance, tables []*wasm.Table, mems []*wasm.Memory, globals []*wasm.Global, err error) {
	for _, imp := range mod.Imports {
		switch imp.Type {
		case api.ExternTypeFunc:
			fi, rerr := resolveFuncImport(mod, imp, imports)
			if rerr != nil {
				return nil, nil, nil, nil, rerr
			}
			funcs = append(funcs, fi)
		case api.ExternTypeTable:
			t, rerr := resolveTableImport(imp, imports)
			if rerr != nil {
				return nil, nil, nil, nil, rerr
			}
			tables = append(tables, t)
		case api.ExternTypeMemory:
			m, rerr := resolveMemoryImport(imp, imports)
			if rerr != nil {
				return nil, nil, nil, nil, rerr
			}
			mems = append(mems, m)
		case api.ExternTypeGlobal:
			g, rerr := resolveGlobalImport(imp, imports)
			if rerr != nil {
				return nil, nil, nil, nil, rerr
			}
			globals = append(globals, g)
		}
	}
	return funcs, tables, mems, globals, nil
}

func resolveFuncImport(mod *wasm.Module, imp wasm.Import, imports Imports) (*wasm.FuncInstance, error) {
	want := &mod.Types[imp.FuncTypeIndex]
	if sibling, ok := imports.Instances[imp.Module]; ok {
		fn, ferr := sibling.ExportedFunction(imp.Name)
		if ferr != nil {
			return nil, pkgerrors.Wrapf(coreerr.ErrImportNotFound, "%s.%s", imp.Module, imp.Name)
		}
		if !fn.Type.Equal(want) {
			return nil, pkgerrors.Wrapf(coreerr.ErrTypeMismatch, "%s.%s", imp.Module, imp.Name)
		}
		return fn, nil
	}
	if imports.Host != nil {
		sig, id, ok := imports.Host.Lookup(imp.Module, imp.Name)
		if ok {
			if !sig.Equal(want) {
				return nil, pkgerrors.Wrapf(coreerr.ErrTypeMismatch, "%s.%s", imp.Module, imp.Name)
			}
			return &wasm.FuncInstance{Type: want, ModuleName: imp.Module, Name: imp.Name, IsHostFunc: true, HostImportID: id}, nil
		}
	}
	return nil, pkgerrors.Wrapf(coreerr.ErrImportNotFound, "%s.%s", imp.Module, imp.Name)
}

func resolveTableImport(imp wasm.Import, imports Imports) (*wasm.Table, error) {
	sibling, ok := imports.Instances[imp.Module]
	if !ok {
		return nil, pkgerrors.Wrapf(coreerr.ErrImportNotFound, "%s.%s", imp.Module, imp.Name)
	}
	t, err := sibling.ExportedTable(imp.Name)
	if err != nil {
		return nil, pkgerrors.Wrapf(coreerr.ErrImportNotFound, "%s.%s", imp.Module, imp.Name)
	}
	return t, nil
}

func resolveMemoryImport(imp wasm.Import, imports Imports) (*wasm.Memory, error) {
	sibling, ok := imports.Instances[imp.Module]
	if !ok {
		return nil, pkgerrors.Wrapf(coreerr.ErrImportNotFound, "%s.%s", imp.Module, imp.Name)
	}
	m, err := sibling.ExportedMemory(imp.Name)
	if err != nil {
		return nil, pkgerrors.Wrapf(coreerr.ErrImportNotFound, "%s.%s", imp.Module, imp.Name)
	}
	return m, nil
}

func resolveGlobalImport(imp wasm.Import, imports Imports) (*wasm.Global, error) {
	sibling, ok := imports.Instances[imp.Module]
	if !ok {
		return nil, pkgerrors.Wrapf(coreerr.ErrImportNotFound, "%s.%s", imp.Module, imp.Name)
	}
	g, err := sibling.ExportedGlobal(imp.Name)
	if err != nil {
		return nil, pkgerrors.Wrapf(coreerr.ErrImportNotFound, "%s.%s", imp.Module, imp.Name)
	}
	if g.Type != imp.GlobalType.ValType || g.Mutable != imp.GlobalType.Mutable {
		return nil, pkgerrors.Wrapf(coreerr.ErrTypeMismatch, "%s.%s", imp.Module, imp.Name)
	}
	return g, nil
}

func instantiateTables(mod *wasm.Module, opts Options) ([]*wasm.Table, error) {
	maxTables := opts.MaxTablesPerInstance
	if maxTables <= 0 {
		maxTables = 1
	}
	if len(mod.Tables) > maxTables {
		return nil, coreerr.ErrCapacityExceeded
	}
	out := make([]*wasm.Table, len(mod.Tables))
	for i, tt := range mod.Tables {
		out[i] = wasm.NewTable(tt.ElemType, tt.Limits.Min, tt.Limits.Max, tableHardCap(tt))
	}
	return out, nil
}

func tableHardCap(tt wasm.TableType) uint32 {
	if tt.Limits.Max != nil {
		return *tt.Limits.Max
	}
	return 1 << 20
}

func instantiateMemories(mod *wasm.Module, opts Options) ([]*wasm.Memory, error) {
	out := make([]*wasm.Memory, len(mod.Memories))
	maxPages := opts.MaxPagesPerMemory
	if maxPages == 0 {
		maxPages = wasm.MemoryMaxPages
	}
	for i, lim := range mod.Memories {
		maxP := maxPages
		if lim.Max != nil && *lim.Max < maxP {
			maxP = *lim.Max
		}
		m, err := wasm.NewMemory(opts.Provider, lim.Min, maxP)
		if err != nil {
			return nil, err
		}
		out[i] = m
	}
	return out, nil
}

func instantiateGlobals(mod *wasm.Module, impGlobals []*wasm.Global) ([]*wasm.Global, error) {
	out := make([]*wasm.Global, len(mod.GlobalInit))
	for i, gt := range mod.Globals {
		init, err := evalConstExpr(mod.GlobalInit[i], impGlobals)
		if err != nil {
			return nil, err
		}
		out[i] = wasm.NewGlobal(gt.ValType, gt.Mutable, init)
	}
	return out, nil
}

// evalConstExpr resolves a decoded initializer expression (§3 "ConstExpr")
// against the already-resolved imported globals (a const-expr may only
// reference an imported, immutable global, per the Wasm spec).
func evalConstExpr(c wasm.ConstExpr, impGlobals []*wasm.Global) (api.Value, error) {
	const opGlobalGet = 0x23
	if c.Opcode == opGlobalGet {
		if int(c.GlobalIndex) >= len(impGlobals) {
			return api.Value{}, coreerr.ErrIndexOutOfRange
		}
		return impGlobals[c.GlobalIndex].Get(), nil
	}
	return c.Value, nil
}

func localFuncInstances(mod *wasm.Module) []*wasm.FuncInstance {
	out := make([]*wasm.FuncInstance, len(mod.Functions))
	for i, code := range mod.Functions {
		out[i] = &wasm.FuncInstance{
			Type:       &mod.Types[code.TypeIndex],
			Body:       code.Body,
			LocalTypes: code.LocalTypes,
			TypeIndex:  code.TypeIndex,
		}
	}
	return out
}

func copyDataSegments(mod *wasm.Module, memories []*wasm.Memory) error {
	for _, d := range mod.Data {
		if d.Mode != wasm.DataModeActive {
			continue
		}
		if int(d.MemoryIndex) >= len(memories) {
			return coreerr.ErrIndexOutOfRange
		}
		off, err := evalConstExpr(d.Offset, nil)
		if err != nil {
			return err
		}
		if !memories[d.MemoryIndex].Write(off.U32(), d.Init) {
			return coreerr.ErrOutOfBounds
		}
	}
	return nil
}

func initElementSegments(mod *wasm.Module, tables []*wasm.Table) ([]*wasm.ElementInstance, error) {
	out := make([]*wasm.ElementInstance, len(mod.Elements))
	for i, el := range mod.Elements {
		refs := make([]api.Value, len(el.Init))
		for j, ce := range el.Init {
			v, err := evalConstExpr(ce, nil)
			if err != nil {
				return nil, err
			}
			refs[j] = v
		}
		out[i] = &wasm.ElementInstance{Refs: refs}
		if el.Mode != wasm.ElementModeActive {
			continue
		}
		if int(el.TableIndex) >= len(tables) {
			return nil, coreerr.ErrIndexOutOfRange
		}
		off, err := evalConstExpr(el.Offset, nil)
		if err != nil {
			return nil, err
		}
		if err := tables[el.TableIndex].Init(off.U32(), out[i], 0, uint32(len(refs))); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func buildDataInstances(mod *wasm.Module) []*wasm.DataInstance {
	out := make([]*wasm.DataInstance, len(mod.Data))
	for i, d := range mod.Data {
		b := make([]byte, len(d.Init))
		copy(b, d.Init)
		out[i] = &wasm.DataInstance{Bytes: b}
	}
	return out
}
