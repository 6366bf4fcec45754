package wasm

import (
	"github.com/pulseengine/wrt-sub004/api"
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
)

// Instance is the mutable realization of a Module bound to concrete
// Memory/Table/Global/imported-extern references (§3 "Instance"). Created by
// the linker, destroyed when its owning Store is dropped.
type Instance struct {
	Module *Module
	Name   string

	Functions []*FuncInstance // full index space: imports first, then local
	Tables    []*Table
	Memories  []*Memory
	Globals   []*Global

	DataInstances    []*DataInstance
	ElementInstances []*ElementInstance

	Exports map[string]Export

	Resources *ResourceTable

	closed bool
}

func (i *Instance) Closed() bool { return i.closed }

// Close releases every Memory/Table this instance owns. Idempotent.
func (i *Instance) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	i.Tables = nil
	i.Memories = nil
	return nil
}

func (i *Instance) ExportedFunction(name string) (*FuncInstance, error) {
	exp, ok := i.Exports[name]
	if !ok || exp.Type != api.ExternTypeFunc {
		return nil, coreerr.ErrImportNotFound
	}
	return i.Functions[exp.Index], nil
}

func (i *Instance) ExportedMemory(name string) (*Memory, error) {
	exp, ok := i.Exports[name]
	if !ok || exp.Type != api.ExternTypeMemory {
		return nil, coreerr.ErrImportNotFound
	}
	return i.Memories[exp.Index], nil
}

func (i *Instance) ExportedGlobal(name string) (*Global, error) {
	exp, ok := i.Exports[name]
	if !ok || exp.Type != api.ExternTypeGlobal {
		return nil, coreerr.ErrImportNotFound
	}
	return i.Globals[exp.Index], nil
}

func (i *Instance) ExportedTable(name string) (*Table, error) {
	exp, ok := i.Exports[name]
	if !ok || exp.Type != api.ExternTypeTable {
		return nil, coreerr.ErrImportNotFound
	}
	return i.Tables[exp.Index], nil
}

// Store is the top-level arena owning every Instance for one runtime
// session (§3 "Store" ownership summary). Destroying the Store releases
// every Instance, which in turn releases every Memory/Table it owns.
type Store struct {
	instances    map[string]*Instance
	maxInstances int
}

func NewStore(maxInstances int) *Store {
	return &Store{instances: make(map[string]*Instance), maxInstances: maxInstances}
}

func (s *Store) Register(name string, inst *Instance) error {
	if len(s.instances) >= s.maxInstances {
		return coreerr.ErrCapacityExceeded
	}
	s.instances[name] = inst
	return nil
}

func (s *Store) Lookup(name string) (*Instance, bool) {
	inst, ok := s.instances[name]
	return inst, ok
}

func (s *Store) Unregister(name string) {
	delete(s.instances, name)
}

// Close tears down every instance currently registered.
func (s *Store) Close() error {
	var firstErr error
	for name, inst := range s.instances {
		if err := inst.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(s.instances, name)
	}
	return firstErr
}
