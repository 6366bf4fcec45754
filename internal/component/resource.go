package component

import (
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
	"github.com/pulseengine/wrt-sub004/internal/telemetry"
	"github.com/pulseengine/wrt-sub004/internal/wasm"
)

// ResourceStore is the component-level keeper of one wasm.ResourceTable per
// resource typeID, plus the typeID -> destructor registry the core's
// ResourceTable deliberately does not keep itself (§4.6 "Resource table";
// see DESIGN.md "Resource destructor ownership"). One ResourceStore is
// shared by every Instance belonging to the same component instantiation.
type ResourceStore struct {
	tables        map[uint32]*wasm.ResourceTable
	destructors   map[uint32]func(rep uint32)
	tableCapacity int

	// Metrics, when non-nil, receives the live-handle count across every
	// typeID's table after each New/Drop (SPEC_FULL.md §3 "DOMAIN STACK").
	Metrics *telemetry.Metrics
}

func NewResourceStore(tableCapacity int) *ResourceStore {
	return &ResourceStore{
		tables:        make(map[uint32]*wasm.ResourceTable),
		destructors:   make(map[uint32]func(rep uint32)),
		tableCapacity: tableCapacity,
	}
}

// observeSize recomputes the live-handle count across every typeID's table
// and reports it to Metrics.ResourceTableSize, if configured.
func (s *ResourceStore) observeSize() {
	if s.Metrics == nil {
		return
	}
	total := 0
	for _, t := range s.tables {
		total += t.Size()
	}
	s.Metrics.ResourceTableSize.Set(float64(total))
}

// Table lazily creates the per-type resource table on first use.
func (s *ResourceStore) Table(typeID uint32) *wasm.ResourceTable {
	t, ok := s.tables[typeID]
	if !ok {
		t = wasm.NewResourceTable(s.tableCapacity)
		s.tables[typeID] = t
	}
	return t
}

// RegisterDestructor binds typeID's destructor, invoked by ResourceDrop once
// the last Own handle referencing a representation is dropped.
func (s *ResourceStore) RegisterDestructor(typeID uint32, fn func(rep uint32)) {
	s.destructors[typeID] = fn
}

// LiftOwn transfers ownership of a resource out of the table: the handle is
// dropped without running its destructor, since ownership (not existence) is
// what lift is moving to the callee (§4.6 "own crosses with ownership
// transfer").
func LiftOwn(ctx *LiftContext, typeID uint32, ov OwnValue) (rep uint32, err error) {
	table := ctx.Store.Table(typeID)
	rep, ok := table.Rep(ov.Handle)
	if !ok {
		return 0, coreerr.ErrInvalidHandle
	}
	if _, _, err := table.Drop(ov.Handle); err != nil {
		return 0, err
	}
	ctx.Store.observeSize()
	return rep, nil
}

// LiftBorrow resolves a handle to its representation and marks it borrowed
// for the duration of the call; EndLiftBorrow must be called exactly once to
// release it, even on a trapping unwind.
func LiftBorrow(ctx *LiftContext, typeID uint32, bv BorrowValue) (rep uint32, err error) {
	table := ctx.Store.Table(typeID)
	rep, ok := table.Rep(bv.Handle)
	if !ok {
		return 0, coreerr.ErrInvalidHandle
	}
	if err := table.Borrow(bv.Handle); err != nil {
		return 0, err
	}
	return rep, nil
}

func EndLiftBorrow(ctx *LiftContext, typeID uint32, bv BorrowValue) error {
	return ctx.Store.Table(typeID).EndBorrow(bv.Handle)
}

// LowerOwn creates a fresh Own handle for rep, bound to typeID's registered
// destructor (if any).
func LowerOwn(ctx *LowerContext, typeID, rep uint32) (OwnValue, error) {
	h, err := ctx.Store.Table(typeID).New(typeID, rep, ctx.Store.destructors[typeID])
	if err != nil {
		return OwnValue{}, err
	}
	ctx.Store.observeSize()
	return OwnValue{Handle: h}, nil
}

// LowerBorrow marks an existing handle borrowed for the callee's duration.
func LowerBorrow(ctx *LowerContext, typeID uint32, h wasm.ResourceHandle) (BorrowValue, error) {
	if err := ctx.Store.Table(typeID).Borrow(h); err != nil {
		return BorrowValue{}, err
	}
	return BorrowValue{Handle: h}, nil
}

func EndLowerBorrow(ctx *LowerContext, typeID uint32, bv BorrowValue) error {
	return ctx.Store.Table(typeID).EndBorrow(bv.Handle)
}

// ResourceNew implements canon resource.new: creates an owned handle from a
// host representation value (§4.6).
func ResourceNew(store *ResourceStore, typeID, rep uint32) (wasm.ResourceHandle, error) {
	h, err := store.Table(typeID).New(typeID, rep, store.destructors[typeID])
	if err != nil {
		return wasm.ResourceHandle{}, err
	}
	store.observeSize()
	return h, nil
}

// ResourceDrop implements canon resource.drop: destroys h and, if one is
// owed, runs typeID's registered destructor on the freed representation.
func ResourceDrop(store *ResourceStore, typeID uint32, h wasm.ResourceHandle) error {
	rep, needsDtor, err := store.Table(typeID).Drop(h)
	if err != nil {
		return err
	}
	store.observeSize()
	if needsDtor {
		if dtor := store.destructors[typeID]; dtor != nil {
			dtor(rep)
		}
	}
	return nil
}

// ResourceRep implements canon resource.rep: returns the representation
// behind a still-live handle.
func ResourceRep(store *ResourceStore, typeID uint32, h wasm.ResourceHandle) (uint32, error) {
	rep, ok := store.Table(typeID).Rep(h)
	if !ok {
		return 0, coreerr.ErrInvalidHandle
	}
	return rep, nil
}
