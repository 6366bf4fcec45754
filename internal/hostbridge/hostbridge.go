// Package hostbridge is the L5 import/export surface between the core and
// the embedding host (§4.7): host functions register under a (namespace,
// name) pair with a declared signature and an invocation closure, and every
// call through the bridge is counted against a reentrancy cap so an
// unbounded host<->Wasm call cycle traps instead of exhausting the host
// stack.
package hostbridge

import (
	"fmt"

	pkgerrors "github.com/pkg/errors"

	"github.com/pulseengine/wrt-sub004/api"
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
	"github.com/pulseengine/wrt-sub004/internal/telemetry"
	"github.com/pulseengine/wrt-sub004/internal/wasm"
)

// Func is a host-side implementation of an imported function. It receives
// the calling Instance (so a host function can itself call back into the
// engine, per §8 scenario 6) and the lifted/raw argument tuple, and returns
// either results or a trap.
type Func func(caller *wasm.Instance, args []api.Value) ([]api.Value, error)

type entry struct {
	sig  wasm.FunctionType
	fn   Func
	id   uint64
}

// Registry is the (namespace, name) -> Func table shared by every Instance
// linked against it. One Registry is typically shared across an entire
// Store (§4.7 "Contract").
type Registry struct {
	entries map[string]*entry
	byIDMap map[uint64]*entry
	nextID  uint64

	maxReentryDepth int
	depth           int

	// Metrics, when non-nil, tracks the current reentrancy depth
	// (SPEC_FULL.md §3 "DOMAIN STACK"). Never required for correctness.
	Metrics *telemetry.Metrics
}

const defaultMaxReentryDepth = 64

func NewRegistry(maxReentryDepth int) *Registry {
	if maxReentryDepth <= 0 {
		maxReentryDepth = defaultMaxReentryDepth
	}
	return &Registry{
		entries:         make(map[string]*entry),
		byIDMap:         make(map[uint64]*entry),
		maxReentryDepth: maxReentryDepth,
	}
}

func key(namespace, name string) string { return namespace + "\x00" + name }

// Register adds a host function under (namespace, name). Re-registering the
// same pair replaces the previous entry, matching wazero's builder-style
// "last registration wins" idiom for host module construction.
func (r *Registry) Register(namespace, name string, sig wasm.FunctionType, fn Func) {
	r.nextID++
	e := &entry{sig: sig, fn: fn, id: r.nextID}
	r.entries[key(namespace, name)] = e
	r.byIDMap[e.id] = e
}

// Lookup resolves a (namespace, name) import to its declared signature and a
// HostImportID the linker stamps onto the resulting FuncInstance so the
// engine's HostCallRequest can name it without holding a live closure
// reference on the hot path.
func (r *Registry) Lookup(namespace, name string) (sig wasm.FunctionType, id uint64, ok bool) {
	e, found := r.entries[key(namespace, name)]
	if !found {
		return wasm.FunctionType{}, 0, false
	}
	return e.sig, e.id, true
}

// Invoke calls the host function identified by id, enforcing the reentrancy
// cap from the 5th nested call downward (§8 scenario 6: "With
// max_reentry_depth = 4 ... the 5th entry returns Trapped(StackOverflow)").
func (r *Registry) Invoke(caller *wasm.Instance, id uint64, args []api.Value) ([]api.Value, error) {
	if r.depth >= r.maxReentryDepth {
		return nil, coreerr.ErrStackOverflow
	}
	e := r.byIDMap[id]
	if e == nil {
		return nil, pkgerrors.Wrap(coreerr.ErrImportNotFound, fmt.Sprintf("host import id %d", id))
	}
	r.depth++
	if r.Metrics != nil {
		r.Metrics.ReentryDepthCurrent.Set(float64(r.depth))
	}
	defer func() {
		r.depth--
		if r.Metrics != nil {
			r.Metrics.ReentryDepthCurrent.Set(float64(r.depth))
		}
	}()
	results, err := e.fn(caller, args)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// Depth reports the current reentrancy depth, for diagnostics.
func (r *Registry) Depth() int { return r.depth }
