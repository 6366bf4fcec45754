// Package memprovider implements capability-scoped byte stores (§4.1). A
// Handle minted by one Provider can never be satisfied by another: each
// Provider stamps its handles with its own identity, so cross-arena
// confusion is a checked error rather than undefined behavior.
package memprovider

import (
	"sync"

	"github.com/pulseengine/wrt-sub004/internal/bound"
	"github.com/pulseengine/wrt-sub004/internal/concurrency"
	"github.com/pulseengine/wrt-sub004/internal/coreerr"
	"github.com/pulseengine/wrt-sub004/internal/telemetry"
)

// VerificationLevel controls how aggressively checksums are recomputed and
// verified on every access.
type VerificationLevel byte

const (
	Off VerificationLevel = iota
	Minimal
	Standard
	Full
	Critical
)

// Handle is an opaque allocation reference, scoped to the Provider that
// minted it.
type Handle struct {
	providerID uint64
	slot       uint32
	generation uint32
}

// Provider is the capability-scoped memory store trait (§4.1).
type Provider interface {
	Allocate(length uint32) (Handle, error)
	Deallocate(h Handle) error
	Read(h Handle, offset, length uint32) ([]byte, error)
	Write(h Handle, offset uint32, data []byte) error
	Size() uint32
	VerificationLevel() VerificationLevel
}

var nextProviderID uint64
var providerIDMu sync.Mutex

func allocProviderID() uint64 {
	providerIDMu.Lock()
	defer providerIDMu.Unlock()
	nextProviderID++
	return nextProviderID
}

type slot struct {
	data       []byte
	checksum   uint32
	generation uint32
	inUse      bool
}

// providerState is every field a Provider mutates per-allocation, held
// behind one internal/concurrency.Guarded so no method can access slots,
// arena or used without holding its lock (generalizing the ad hoc
// lock/mutate/unlock triple this package used to repeat per method into a
// single reusable type).
type providerState struct {
	slots *bound.Vector[slot]
	arena []byte
	used  uint32
}

type baseProvider struct {
	id    uint64
	state *concurrency.Guarded[providerState]
	// critical, when the configured level is Critical, is held for the
	// full duration of one Write call (read-modify-checksum-write) so a
	// concurrent Read can never observe new data paired with a stale
	// checksum or vice versa. It wraps state's own lock rather than
	// replacing it: "exclusive for one whole operation" is a coarser unit
	// of work than the per-field access state.With grants.
	critical sync.Mutex
	level    VerificationLevel

	// metrics, when non-nil, counts Full/Critical checksum mismatches
	// detected on Read (SPEC_FULL.md §3 "DOMAIN STACK").
	metrics *telemetry.Metrics
}

// SetMetrics attaches a telemetry.Metrics bundle for integrity-failure
// counting; nil (the default) disables the counter entirely. Promoted onto
// both NoStdProvider and StdProvider through baseProvider embedding.
func (p *baseProvider) SetMetrics(m *telemetry.Metrics) { p.metrics = m }

// NoStdProvider uses a fixed-size internal arena with a slot allocator; it
// never calls into the host allocator after construction, matching the
// "no general-purpose allocation" constraint for embedded targets.
type NoStdProvider struct {
	baseProvider
}

// NewNoStdProvider creates a provider backed by an internal arena of
// capacity N bytes and room for maxSlots concurrent allocations.
func NewNoStdProvider(capacityBytes int, maxSlots int, level VerificationLevel) *NoStdProvider {
	return &NoStdProvider{baseProvider{
		id:    allocProviderID(),
		level: level,
		state: concurrency.NewGuarded(providerState{
			slots: bound.NewVector[slot](maxSlots),
			arena: make([]byte, capacityBytes),
		}),
	}}
}

// StdProvider uses the host allocator directly; intended for non-embedded
// (std) deployments where per-allocation heap usage is acceptable.
type StdProvider struct {
	baseProvider
}

func NewStdProvider(maxSlots int, level VerificationLevel) *StdProvider {
	return &StdProvider{baseProvider{
		id:    allocProviderID(),
		level: level,
		state: concurrency.NewGuarded(providerState{
			slots: bound.NewVector[slot](maxSlots),
		}),
	}}
}

func (p *baseProvider) VerificationLevel() VerificationLevel { return p.level }

func (p *baseProvider) Size() uint32 {
	var used uint32
	p.state.With(func(s *providerState) { used = s.used })
	return used
}

func (p *NoStdProvider) Allocate(length uint32) (Handle, error) {
	var h Handle
	var err error
	p.state.With(func(s *providerState) {
		if s.used+length > uint32(len(s.arena)) {
			err = coreerr.ErrCapacityExceeded
			return
		}
		data := s.arena[s.used : s.used+length : s.used+length]
		s.used += length
		h, err = p.insertSlot(s, data)
	})
	return h, err
}

func (p *StdProvider) Allocate(length uint32) (Handle, error) {
	var h Handle
	var err error
	p.state.With(func(s *providerState) {
		data := make([]byte, length)
		s.used += length
		h, err = p.insertSlot(s, data)
	})
	return h, err
}

// insertSlot must be called from inside a state.With closure.
func (p *baseProvider) insertSlot(s *providerState, data []byte) (Handle, error) {
	sl := slot{data: data, inUse: true}
	if p.level >= Standard {
		sl.checksum = bound.Checksum(data)
	}
	idx := s.slots.Len()
	if err := s.slots.Push(sl); err != nil {
		return Handle{}, err
	}
	got, _ := s.slots.Get(idx)
	return Handle{providerID: p.id, slot: uint32(idx), generation: got.generation}, nil
}

// lookup must be called from inside a state.With closure.
func (p *baseProvider) lookup(s *providerState, h Handle) (*slot, error) {
	if h.providerID != p.id {
		return nil, coreerr.ErrInvalidHandle
	}
	if int(h.slot) >= s.slots.Len() {
		return nil, coreerr.ErrOutOfBounds
	}
	sl, err := s.slots.Get(int(h.slot))
	if err != nil {
		return nil, err
	}
	if !sl.inUse || sl.generation != h.generation {
		return nil, coreerr.ErrInvalidHandle
	}
	return &sl, nil
}

func (p *baseProvider) Deallocate(h Handle) error {
	var outErr error
	p.state.With(func(s *providerState) {
		if h.providerID != p.id || int(h.slot) >= s.slots.Len() {
			outErr = coreerr.ErrInvalidHandle
			return
		}
		sl, err := s.slots.Get(int(h.slot))
		if err != nil {
			outErr = err
			return
		}
		sl.inUse = false
		sl.generation++
		sl.data = nil
		outErr = s.slots.Set(int(h.slot), sl)
	})
	return outErr
}

func (p *baseProvider) Read(h Handle, offset, length uint32) ([]byte, error) {
	var out []byte
	var outErr error
	p.state.With(func(s *providerState) {
		sl, err := p.lookup(s, h)
		if err != nil {
			outErr = err
			return
		}
		if uint64(offset)+uint64(length) > uint64(len(sl.data)) {
			outErr = coreerr.ErrOutOfBounds
			return
		}
		buf := make([]byte, length)
		copy(buf, sl.data[offset:offset+length])
		checksumOK := true
		if p.level >= Full {
			checksumOK = bound.Checksum(sl.data) == sl.checksum
		}
		if !checksumOK {
			if p.metrics != nil {
				p.metrics.IntegrityFailures.Inc()
			}
			outErr = coreerr.ErrIntegrityFailure
			return
		}
		out = buf
	})
	return out, outErr
}

func (p *baseProvider) Write(h Handle, offset uint32, data []byte) error {
	if p.level >= Critical {
		p.critical.Lock()
		defer p.critical.Unlock()
	}
	var outErr error
	p.state.With(func(s *providerState) {
		sl, err := p.lookup(s, h)
		if err != nil {
			outErr = err
			return
		}
		if uint64(offset)+uint64(len(data)) > uint64(len(sl.data)) {
			outErr = coreerr.ErrOutOfBounds
			return
		}
		copy(sl.data[offset:], data)
		if p.level >= Standard {
			sl.checksum = bound.Checksum(sl.data)
		}
		outErr = s.slots.Set(int(h.slot), *sl)
	})
	return outErr
}
