// Package corert is the embedder-facing entry point: a fluent
// RuntimeConfig builder in wazero's own idiom (config.go's
// With*-returns-a-clone pattern), wiring together the Store, the
// Component linker, the host bridge registry, and the observability/
// telemetry surfaces (§2.2, §2.3, §3 "DOMAIN STACK") into one
// construction path so an embedder never has to hand-assemble the L0-L5
// layers itself.
package corert

import (
	"github.com/pulseengine/wrt-sub004/internal/engine"
	"github.com/pulseengine/wrt-sub004/internal/hostbridge"
	"github.com/pulseengine/wrt-sub004/internal/ir"
	"github.com/pulseengine/wrt-sub004/internal/ircache"
	"github.com/pulseengine/wrt-sub004/internal/linker"
	"github.com/pulseengine/wrt-sub004/internal/memprovider"
	"github.com/pulseengine/wrt-sub004/internal/obslog"
	"github.com/pulseengine/wrt-sub004/internal/rtconfig"
	"github.com/pulseengine/wrt-sub004/internal/telemetry"
	"github.com/pulseengine/wrt-sub004/internal/wasm"
)

// RuntimeConfig controls runtime-wide behavior shared by every Store built
// from it, mirroring wazero's own RuntimeConfig (config.go): an immutable
// value, cloned and mutated field-by-field on every With* call so the
// zero-value caller never observes a config another goroutine is still
// building.
type RuntimeConfig struct {
	maxPagesPerMemory    uint32
	maxTablesPerInstance int
	maxInstancesPerStore int
	maxReentryDepth      int
	maxCallDepth         int
	maxValueStackDepth   int
	verification         memprovider.VerificationLevel
	cfiEnabled           bool
	costTable            ir.CostTable
	log                  obslog.Logger
	metrics              *telemetry.Metrics
}

// NewRuntimeConfig returns a RuntimeConfig seeded with §6's stated
// defaults.
func NewRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		maxPagesPerMemory:    65536,
		maxTablesPerInstance: 1,
		maxInstancesPerStore: 1024,
		maxReentryDepth:      64,
		maxCallDepth:         1024,
		maxValueStackDepth:   64 * 1024,
		verification:         memprovider.Standard,
		costTable:            ir.DefaultCostTable(),
		log:                  obslog.Nop(),
	}
}

// FromTOMLFile builds a RuntimeConfig from an on-disk §6 configuration
// file via internal/rtconfig, for driver-style deployments that configure
// the runtime out of process (§2.3).
func FromTOMLFile(path string) (*RuntimeConfig, error) {
	f, err := rtconfig.Load(path)
	if err != nil {
		return nil, err
	}
	level, err := rtconfig.ParseVerificationLevel(f.VerificationLevel)
	if err != nil {
		return nil, err
	}
	c := NewRuntimeConfig()
	c.maxPagesPerMemory = f.MaxPagesPerMemory
	c.maxTablesPerInstance = f.MaxTablesPerInstance
	c.maxInstancesPerStore = f.MaxInstancesPerStore
	c.maxReentryDepth = f.MaxReentryDepth
	c.maxCallDepth = f.MaxCallDepth
	c.maxValueStackDepth = f.MaxValueStackDepth
	c.verification = level
	c.cfiEnabled = f.CfiEnabled
	if len(f.FuelCostTable) > 0 {
		overrides, err := rtconfig.CostTableOverrides(f.FuelCostTable)
		if err != nil {
			return nil, err
		}
		c.costTable = overrides
	}
	return c, nil
}

func (c *RuntimeConfig) clone() *RuntimeConfig {
	cp := *c
	return &cp
}

// WithMaxPagesPerMemory caps every Memory's declared maximum (default 65536).
func (c *RuntimeConfig) WithMaxPagesPerMemory(n uint32) *RuntimeConfig {
	ret := c.clone()
	ret.maxPagesPerMemory = n
	return ret
}

// WithMaxTablesPerInstance caps Tables allocated per Instance (default 1).
func (c *RuntimeConfig) WithMaxTablesPerInstance(n int) *RuntimeConfig {
	ret := c.clone()
	ret.maxTablesPerInstance = n
	return ret
}

// WithMaxInstancesPerStore caps concurrently-registered Instances (default 1024).
func (c *RuntimeConfig) WithMaxInstancesPerStore(n int) *RuntimeConfig {
	ret := c.clone()
	ret.maxInstancesPerStore = n
	return ret
}

// WithMaxReentryDepth caps host<->Wasm reentrancy (default 64, §4.7, §8 scenario 6).
func (c *RuntimeConfig) WithMaxReentryDepth(n int) *RuntimeConfig {
	ret := c.clone()
	ret.maxReentryDepth = n
	return ret
}

// WithMaxValueStackDepth caps the engine's shared value stack (default 64Ki values).
func (c *RuntimeConfig) WithMaxValueStackDepth(n int) *RuntimeConfig {
	ret := c.clone()
	ret.maxValueStackDepth = n
	return ret
}

// WithVerificationLevel records a memprovider verification level in the
// config (default Standard). NewRuntime does not apply it: every allocation
// uses the level of the Provider passed to NewRuntime.
func (c *RuntimeConfig) WithVerificationLevel(l memprovider.VerificationLevel) *RuntimeConfig {
	ret := c.clone()
	ret.verification = l
	return ret
}

// WithCfiEnabled toggles control-flow-integrity checking on call/call_indirect.
func (c *RuntimeConfig) WithCfiEnabled(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.cfiEnabled = enabled
	return ret
}

// WithFuelCostTable overrides the per-opcode fuel cost table.
func (c *RuntimeConfig) WithFuelCostTable(t ir.CostTable) *RuntimeConfig {
	ret := c.clone()
	ret.costTable = t
	return ret
}

// WithLogger attaches a structured Logger (default a no-op Logger); pass
// obslog.NewProduction() or obslog.NewZap(yourZapLogger) for real output.
func (c *RuntimeConfig) WithLogger(l obslog.Logger) *RuntimeConfig {
	ret := c.clone()
	ret.log = l
	return ret
}

// WithMetrics attaches a telemetry.Metrics bundle the engine increments at
// fuel/trap/suspension boundaries (default none).
func (c *RuntimeConfig) WithMetrics(m *telemetry.Metrics) *RuntimeConfig {
	ret := c.clone()
	ret.metrics = m
	return ret
}

// Runtime is the top-level embedding handle: one Store, one host bridge
// Registry, and a factory for per-invocation Engines, all sized from one
// RuntimeConfig. A Runtime is not safe for concurrent Instantiate/NewEngine
// calls from multiple goroutines any more than wazero's own Runtime is
// during compilation; concurrent Engine use across already-built Engines is
// fine (§5 "different engines run independently").
type Runtime struct {
	cfg    *RuntimeConfig
	store  *wasm.Store
	host   *hostbridge.Registry
	cache  *ircache.Cache
	prov   memprovider.Provider
}

// NewRuntime builds a Store and host Registry sized per cfg, backed by the
// given Provider (e.g. memprovider.NewNoStdProvider for embedded targets,
// memprovider.NewStdProvider otherwise).
func NewRuntime(cfg *RuntimeConfig, provider memprovider.Provider) *Runtime {
	if cfg == nil {
		cfg = NewRuntimeConfig()
	}
	host := hostbridge.NewRegistry(cfg.maxReentryDepth)
	host.Metrics = cfg.metrics
	if cfg.metrics != nil {
		if mp, ok := provider.(interface {
			SetMetrics(*telemetry.Metrics)
		}); ok {
			mp.SetMetrics(cfg.metrics)
		}
	}
	return &Runtime{
		cfg:   cfg,
		store: wasm.NewStore(cfg.maxInstancesPerStore),
		host:  host,
		cache: ircache.New(256),
		prov:  provider,
	}
}

// Store exposes the underlying Store, e.g. for Close at shutdown.
func (r *Runtime) Store() *wasm.Store { return r.store }

// HostBridge exposes the registry so embedders can Register host functions
// before instantiating any module.
func (r *Runtime) HostBridge() *hostbridge.Registry { return r.host }

// NewEngine builds one Engine sized from the Runtime's RuntimeConfig,
// sharing the Runtime's decode cache (§4.4 "Cache policy": one cache per
// Store, shared read-only across every Engine instantiated from it).
func (r *Runtime) NewEngine() *engine.Engine {
	return engine.New(r.store, engine.Config{
		MaxValueStack: r.cfg.maxValueStackDepth,
		MaxFrameStack: r.cfg.maxCallDepth,
		MaxLabelStack: r.cfg.maxCallDepth,
		CostTable:     r.cfg.costTable,
		Decoded:       r.cache,
		Metrics:       r.cfg.metrics,
		CFIEnabled:    r.cfg.cfiEnabled,
	})
}

// Logger exposes the configured obslog.Logger, e.g. for the linker.
func (r *Runtime) Logger() obslog.Logger { return r.cfg.log }

// Provider exposes the configured memprovider.Provider, e.g. for the linker.
func (r *Runtime) Provider() memprovider.Provider { return r.prov }

// MaxPagesPerMemory exposes the configured per-memory page ceiling.
func (r *Runtime) MaxPagesPerMemory() uint32 { return r.cfg.maxPagesPerMemory }

// MaxTablesPerInstance exposes the configured per-instance table ceiling.
func (r *Runtime) MaxTablesPerInstance() int { return r.cfg.maxTablesPerInstance }

// Instantiate runs the Component linker (§4.6) against mod, resolving
// imports against the Runtime's own host Registry plus any sibling
// Instances passed in siblings, registers the result in the Runtime's
// Store under name, and runs the start function (if declared) through a
// freshly built Engine.
func (r *Runtime) Instantiate(name string, mod *wasm.Module, siblings map[string]*wasm.Instance, startFuel uint64) (*wasm.Instance, error) {
	inst, err := linker.Instantiate(mod, linker.Imports{
		Host:      r.host,
		Instances: siblings,
	}, linker.Options{
		Provider:              r.prov,
		MaxTablesPerInstance:  r.cfg.maxTablesPerInstance,
		MaxPagesPerMemory:     r.cfg.maxPagesPerMemory,
		ResourceTableCapacity: 256,
		StartFuel:             startFuel,
		Engine:                r.NewEngine(),
		Log:                   r.cfg.log,
	})
	if err != nil {
		return nil, err
	}
	if name != "" {
		if err := r.store.Register(name, inst); err != nil {
			return nil, err
		}
	}
	if r.cfg.metrics != nil {
		r.cfg.metrics.ActiveInstances.Inc()
	}
	return inst, nil
}
